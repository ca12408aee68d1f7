// Package sim is an offline stand-in for the analysis server: the same REST
// and websocket surface, driven by a script instead of a model pipeline.
// It exists for demos and end-to-end tests of the client without a backend.
package sim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/caseflow/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type simSession struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`

	results []session.AgentResult
}

// Server simulates the analysis backend.
type Server struct {
	script Script
	pace   time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	documents map[string]session.Document
	sessions  map[string]*simSession
}

// NewServer creates a simulator playing the given script. pace is the delay
// between emissions; zero means as fast as possible.
func NewServer(script Script, pace time.Duration) *Server {
	if len(script) == 0 {
		script = DefaultScript()
	}
	return &Server{
		script:    script,
		pace:      pace,
		logger:    slog.Default(),
		documents: make(map[string]session.Document),
		sessions:  make(map[string]*simSession),
	}
}

// Handler returns the simulator's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/api/uploads", s.handleUpload)
	r.Post("/api/sessions", s.handleCreateSession)
	r.Get("/api/sessions", s.handleListSessions)
	r.Get("/api/sessions/{sessionID}", s.handleGetSession)
	r.Get("/api/sessions/{sessionID}/results", s.handleSessionResults)
	r.Get("/ws/{sessionID}", s.handleStream)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		http.Error(w, "reading upload", http.StatusInternalServerError)
		return
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))

	s.mu.Lock()
	for _, existing := range s.documents {
		if existing.Checksum == checksum {
			s.mu.Unlock()
			s.logger.Info("duplicate upload reused", "id", existing.ID, "name", existing.OriginalName)
			writeJSON(w, http.StatusOK, map[string]any{
				"document":     existing,
				"is_duplicate": true,
			})
			return
		}
	}
	doc := session.Document{
		ID:           uuid.NewString(),
		OriginalName: header.Filename,
		Checksum:     checksum,
		Size:         size,
		Status:       "uploaded",
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	s.documents[doc.ID] = doc
	s.mu.Unlock()

	s.logger.Info("document uploaded", "id", doc.ID, "name", doc.OriginalName, "size", size)
	writeJSON(w, http.StatusCreated, map[string]any{
		"document":     doc,
		"is_duplicate": false,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DocumentID == "" {
		http.Error(w, "missing document_id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, ok := s.documents[body.DocumentID]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}
	sess := &simSession{
		ID:         uuid.NewString(),
		DocumentID: body.DocumentID,
		Status:     "pending",
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "id", sess.ID, "document_id", sess.DocumentID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	sessions := make([]*simSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	var results []session.AgentResult
	if ok {
		results = append(results, sess.results...)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.Status = "running"
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	confirms := make(chan string, 4)
	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		defer close(confirms)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			var msg struct {
				Type  string `json:"type"`
				Stage string `json:"stage"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "confirm_agent" {
				select {
				case confirms <- msg.Stage:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		defer conn.Close()
		if err := s.play(ctx, conn, sess, confirms); err != nil {
			return err
		}
		s.mu.Lock()
		sess.Status = "completed"
		s.mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		s.logger.Warn("session stream ended", "session_id", sessionID, "error", err)
	}
}

// play emits the script's frames on the socket, pausing at confirmation
// gates until the client acknowledges the stage.
func (s *Server) play(ctx context.Context, conn *websocket.Conn, sess *simSession, confirms <-chan string) error {
	for _, step := range s.script {
		if err := s.pause(ctx); err != nil {
			return err
		}

		if step.System {
			frame := map[string]any{
				"type":    "system_message",
				"content": step.Content,
			}
			if step.Stage != "" {
				frame["stage"] = step.Stage
			}
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("writing system frame: %w", err)
			}
			continue
		}

		for _, chunk := range step.Chunks {
			frame := map[string]any{
				"type":         "agent_message",
				"sender":       step.Sender,
				"stage":        step.Stage,
				"content":      chunk,
				"is_streaming": true,
			}
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("writing chunk: %w", err)
			}
			if err := s.pause(ctx); err != nil {
				return err
			}
		}

		frame := map[string]any{
			"type":         "agent_message",
			"sender":       step.Sender,
			"stage":        step.Stage,
			"content":      step.Content,
			"progress":     step.Progress,
			"is_streaming": len(step.Chunks) > 0,
		}
		if step.Payload != nil {
			frame["payload"] = step.Payload
		}
		if step.NeedsConfirmation {
			frame["needs_confirmation"] = true
		}
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}
		s.recordResult(sess, step)

		if step.WaitConfirm {
			select {
			case stage, ok := <-confirms:
				if !ok {
					return fmt.Errorf("client left before confirming %s", step.Stage)
				}
				s.logger.Debug("stage confirmed", "session_id", sess.ID, "stage", stage)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (s *Server) recordResult(sess *simSession, step Step) {
	var payload *session.Payload
	if step.Payload != nil {
		if raw, err := json.Marshal(step.Payload); err == nil {
			var fields map[string]any
			if json.Unmarshal(raw, &fields) == nil {
				payload = &session.Payload{Kind: session.PayloadRaw, Raw: fields}
			}
		}
	}
	now := time.Now().UTC()
	s.mu.Lock()
	sess.results = append(sess.results, session.AgentResult{
		ID:        uuid.NewString(),
		Sender:    step.Sender,
		Stage:     step.Stage,
		Content:   step.Content,
		Payload:   payload,
		Progress:  step.Progress,
		Timestamp: now,
		StartedAt: now,
	})
	s.mu.Unlock()
}

func (s *Server) pause(ctx context.Context) error {
	if s.pace <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.pace):
		return nil
	}
}
