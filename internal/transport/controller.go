// Package transport owns the websocket connection of a live analysis
// session: connecting, decoding inbound frames into store mutations,
// sending confirmations, and tearing down on completion, cancellation or
// inactivity.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/caseflow/internal/session"
)

// State is the connection lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultIdleTimeout is how long a run may go without user activity before
// the watchdog cancels it.
const DefaultIdleTimeout = 10 * time.Minute

// Controller attaches a session's websocket stream to the state store.
// One controller serves one session at a time; Connect supersedes any
// previous connection.
type Controller struct {
	store  *session.Store
	dialer *websocket.Dialer
	base   *url.URL
	idle   time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	// gen invalidates reader and watchdog goroutines from superseded
	// connections.
	gen int
}

// New creates a Controller for the given server base URL (http or https;
// the websocket scheme is derived). idleTimeout <= 0 uses DefaultIdleTimeout.
func New(store *session.Store, baseURL string, idleTimeout time.Duration) (*Controller, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Controller{
		store:  store,
		dialer: websocket.DefaultDialer,
		base:   base,
		idle:   idleTimeout,
		logger: slog.Default(),
	}, nil
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) sessionURL(sessionID string) string {
	u := *c.base
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + sessionID
	return u.String()
}

// Connect dials the session's stream and starts the read loop and the
// inactivity watchdog. Any previous connection is superseded: its goroutines
// detach and its socket is closed.
func (c *Controller) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("missing session id")
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.store.SetConnecting(true)
	c.store.TouchActivity()

	wsURL := c.sessionURL(sessionID)
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateClosed
		}
		c.mu.Unlock()
		c.store.SetConnecting(false)
		return fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Superseded while dialing.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.store.SetConnecting(false)
	c.store.AddNotice("session stream connected, waiting for agent output")
	c.logger.Debug("session stream open", "session_id", sessionID, "url", wsURL)

	go c.readLoop(conn, gen, sessionID)
	go c.watchdog(ctx, gen)
	return nil
}

// readLoop decodes inbound frames into store mutations until the socket
// closes or the run finishes.
func (c *Controller) readLoop(conn *websocket.Conn, gen int, sessionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.detachGen(gen) {
				c.logger.Warn("session stream closed by server", "session_id", sessionID, "error", err)
				c.store.Disconnected()
			}
			return
		}
		if !c.current(gen) {
			return
		}

		ev, notice, err := session.ParseMessage(data)
		if err != nil {
			c.logger.Warn("undecodable frame", "session_id", sessionID, "error", err)
			c.store.AddNotice(fmt.Sprintf("received message: %s", data))
			continue
		}

		switch {
		case ev != nil:
			if completed := c.store.ApplyAgent(*ev); completed {
				c.logger.Info("analysis complete", "session_id", sessionID)
				c.detachGen(gen)
				return
			}
		case notice != nil:
			if terminated := c.store.ApplyNotice(*notice); terminated {
				c.logger.Info("analysis terminated by server", "session_id", sessionID)
				c.detachGen(gen)
				return
			}
		}
	}
}

// watchdog cancels the run when no user activity is recorded for the idle
// window. It is disarmed once the run reaches the terminal stage: a finished
// analysis on screen never times out.
func (c *Controller) watchdog(ctx context.Context, gen int) {
	ticker := time.NewTicker(c.idle / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !c.current(gen) {
			return
		}

		snap := c.store.Snapshot()
		if !snap.Running && !snap.Connecting {
			return
		}
		if snap.CurrentStage == c.store.Sequence().Terminal() {
			return
		}
		if snap.LastActivity.IsZero() {
			continue
		}
		if time.Since(snap.LastActivity) < c.idle {
			continue
		}

		c.logger.Info("run idle past timeout, cancelling", "idle", c.idle)
		if c.detachGen(gen) {
			c.store.CancelRun(session.ReasonTimeout)
		}
		return
	}
}

// SendConfirmation confirms a result in the store and pushes the
// confirmation frame to the server. It fails when the stream is not open.
func (c *Controller) SendConfirmation(resultID string) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return fmt.Errorf("session stream is not open")
	}

	r, err := c.store.Confirm(resultID)
	if err != nil {
		return err
	}
	c.store.TouchActivity()

	msg := session.NewConfirmation(r.ID, r.Stage, r.Payload)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending confirmation: %w", err)
	}
	return nil
}

// Cancel tears the connection down and resets run state as a user cancel.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.store.CancelRun(session.ReasonUser)
}

// Close drops the connection without touching run state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
}

func (c *Controller) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// detachGen ends gen's connection if it is still the live generation and
// reports whether it was. The generation is bumped so the reader and the
// watchdog both stand down without double-reporting the close.
func (c *Controller) detachGen(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	return true
}
