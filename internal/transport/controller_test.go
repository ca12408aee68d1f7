package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/caseflow/internal/session"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// recordingHistory counts archive writes.
type recordingHistory struct {
	records int
}

func (h *recordingHistory) Record(string, session.DocumentHistoryEntry) error {
	h.records++
	return nil
}

func (h *recordingHistory) Get(string) ([]session.DocumentHistoryEntry, error) { return nil, nil }
func (h *recordingHistory) Clear(string) error                                 { return nil }
func (h *recordingHistory) ClearAll() error                                    { return nil }

// serveFrames starts a test server that upgrades /ws/ requests and sends
// the given frames. Outbound client frames are forwarded on the returned
// channel.
func serveFrames(t *testing.T, frames []string) (*httptest.Server, <-chan []byte) {
	t.Helper()
	received := make(chan []byte, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				received <- data
			}
		}()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Keep the socket open; the client closes when the run ends.
		time.Sleep(2 * time.Second)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

// serveFramesThenClose is serveFrames for the unexpected-close case: the
// server drops the socket as soon as its frames are written.
func serveFramesThenClose(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRunningStore(t *testing.T) *session.Store {
	t.Helper()
	s := session.New(session.DefaultSequence(), nil)
	s.AddDocument(session.Document{ID: "d1", OriginalName: "spec.pdf"})
	if err := s.StartRun("d1"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	s.SetSession("sess-1")
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectAppliesFrames(t *testing.T) {
	srv, _ := serveFrames(t, []string{
		`{"type": "agent_message", "sender": "Analyst", "stage": "requirement_analysis", "content": "reqs", "progress": 0.3, "is_streaming": true}`,
		`{"type": "system_message", "content": "moving on", "stage": "test_generation"}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := ctrl.State(); got != StateOpen {
		t.Errorf("state = %v, want open", got)
	}

	waitFor(t, func() bool {
		snap := store.Snapshot()
		return len(snap.Results) == 1 && len(snap.Notices) == 2
	}, "frames not applied to store")

	snap := store.Snapshot()
	if !strings.Contains(snap.Notices[0].Content, "connected") {
		t.Errorf("first notice = %q, want the connect notice", snap.Notices[0].Content)
	}
	if snap.Results[0].Content != "reqs" {
		t.Errorf("result = %+v", snap.Results[0])
	}
	if snap.CurrentStage != session.StageTestGeneration {
		t.Errorf("currentStage = %q", snap.CurrentStage)
	}
}

func TestServerCloseStopsRun(t *testing.T) {
	srv := serveFramesThenClose(t, []string{
		`{"type": "agent_message", "sender": "A", "stage": "requirement_analysis", "content": "partial", "is_streaming": true}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return ctrl.State() == StateClosed }, "connection never closed")
	waitFor(t, func() bool { return !store.Snapshot().Running }, "running flag still set after server close")

	snap := store.Snapshot()
	if snap.Connecting {
		t.Error("connecting flag still set after server close")
	}
	found := false
	for _, n := range snap.Notices {
		if strings.Contains(n.Content, "stream closed") {
			found = true
		}
	}
	if !found {
		t.Errorf("no close notice, notices = %+v", snap.Notices)
	}
	if len(snap.Results) != 1 {
		t.Errorf("partial results dropped: %+v", snap.Results)
	}
}

func TestServerCloseAbortsArchiving(t *testing.T) {
	srv := serveFramesThenClose(t, []string{
		`{"type": "agent_message", "sender": "A", "stage": "requirement_analysis", "content": "partial", "is_streaming": true}`,
	})

	hist := &recordingHistory{}
	store := session.New(session.DefaultSequence(), hist)
	store.AddDocument(session.Document{ID: "d1"})
	if err := store.StartRun("d1"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	store.SetSession("sess-1")

	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return !store.Snapshot().Running }, "running flag still set after server close")

	// Without its document linkage the interrupted run cannot be archived.
	store.ApplyAgent(session.AgentEvent{Sender: "A", Stage: session.StageCompleted, Content: "late"})
	if hist.records != 0 {
		t.Errorf("interrupted run archived %d times", hist.records)
	}
}

func TestMalformedFrameSurfacedAsNotice(t *testing.T) {
	srv, _ := serveFrames(t, []string{
		`{"broken json`,
		`{"type": "agent_message", "sender": "A", "stage": "requirement_analysis", "content": "ok"}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return len(store.Snapshot().Results) == 1 }, "later frames not applied")

	snap := store.Snapshot()
	found := false
	for _, n := range snap.Notices {
		if strings.Contains(n.Content, `{"broken json`) {
			found = true
		}
	}
	if !found {
		t.Errorf("raw payload not surfaced, notices = %+v", snap.Notices)
	}
	if !snap.Running {
		t.Error("malformed frame must not stop the run")
	}
}

func TestCompletionClosesConnection(t *testing.T) {
	srv, _ := serveFrames(t, []string{
		`{"type": "agent_message", "sender": "A", "stage": "completed", "content": "done", "progress": 1.0}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return ctrl.State() == StateClosed }, "connection not closed after completion")

	snap := store.Snapshot()
	if snap.Running {
		t.Error("running flag still set")
	}
	if snap.Progress != 1.0 {
		t.Errorf("progress = %v", snap.Progress)
	}
}

func TestFailureNoticeClosesConnection(t *testing.T) {
	srv, _ := serveFrames(t, []string{
		`{"type": "system_message", "content": "analysis failed: worker crash"}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return ctrl.State() == StateClosed }, "connection not closed after failure notice")

	if snap := store.Snapshot(); snap.Running {
		t.Error("running flag still set after failure")
	}
}

func TestSendConfirmation(t *testing.T) {
	srv, received := serveFrames(t, []string{
		`{"type": "agent_message", "sender": "A", "stage": "test_generation", "content": "plan", "needs_confirmation": true}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return len(store.Snapshot().Results) == 1 }, "result not applied")

	resultID := store.Snapshot().Results[0].ID
	if err := ctrl.SendConfirmation(resultID); err != nil {
		t.Fatalf("SendConfirmation: %v", err)
	}

	select {
	case data := <-received:
		var wire map[string]any
		if err := json.Unmarshal(data, &wire); err != nil {
			t.Fatalf("decoding confirmation: %v", err)
		}
		if wire["type"] != "confirm_agent" || wire["result_id"] != resultID || wire["confirmed"] != true {
			t.Errorf("confirmation frame = %v", wire)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the confirmation")
	}

	if snap := store.Snapshot(); snap.SelectedStage != session.StageReview {
		t.Errorf("selectedStage = %q, want successor", snap.SelectedStage)
	}
}

func TestSendConfirmationRequiresOpenStream(t *testing.T) {
	store := newRunningStore(t)
	ctrl, err := New(store, "http://127.0.0.1:1", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.SendConfirmation("r-1"); err == nil {
		t.Error("confirmation on idle controller should fail")
	}
}

func TestCancelResetsRun(t *testing.T) {
	srv, _ := serveFrames(t, nil)

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctrl.Cancel()

	if got := ctrl.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	snap := store.Snapshot()
	if snap.Running || snap.SessionID != "" {
		t.Errorf("run state not reset: running=%v session=%q", snap.Running, snap.SessionID)
	}
	if len(snap.Notices) != 1 || snap.Notices[0].Content != "analysis cancelled" {
		t.Errorf("notices = %+v", snap.Notices)
	}
}

func TestWatchdogCancelsIdleRun(t *testing.T) {
	srv, _ := serveFrames(t, nil)

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return !store.Snapshot().Running }, "watchdog never fired")

	snap := store.Snapshot()
	found := false
	for _, n := range snap.Notices {
		if strings.Contains(n.Content, "inactivity timeout") {
			found = true
		}
	}
	if !found {
		t.Errorf("no timeout notice, notices = %+v", snap.Notices)
	}
	if ctrl.State() != StateClosed {
		t.Errorf("state = %v, want closed", ctrl.State())
	}
}

func TestWatchdogDisarmedAtTerminalStage(t *testing.T) {
	srv, _ := serveFrames(t, []string{
		`{"type": "agent_message", "sender": "A", "stage": "completed", "content": "done", "progress": 1.0}`,
	})

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, func() bool { return ctrl.State() == StateClosed }, "run did not complete")

	// Give the watchdog several idle windows; the finished view must stay.
	time.Sleep(300 * time.Millisecond)
	snap := store.Snapshot()
	for _, n := range snap.Notices {
		if strings.Contains(n.Content, "inactivity timeout") {
			t.Errorf("watchdog fired after completion: %+v", snap.Notices)
		}
	}
	if snap.Progress != 1.0 {
		t.Errorf("completed view disturbed, progress = %v", snap.Progress)
	}
}

func TestConnectSupersedesPrevious(t *testing.T) {
	srv, _ := serveFrames(t, nil)

	store := newRunningStore(t)
	ctrl, err := New(store, srv.URL, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	if err := ctrl.Connect(context.Background(), "sess-1"); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-2"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := ctrl.State(); got != StateOpen {
		t.Errorf("state = %v, want open", got)
	}
}

func TestSessionURL(t *testing.T) {
	store := session.New(session.DefaultSequence(), nil)
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/s1"},
		{"https://api.example.com", "wss://api.example.com/ws/s1"},
		{"http://localhost:8080/base/", "ws://localhost:8080/base/ws/s1"},
	}
	for _, tt := range tests {
		ctrl, err := New(store, tt.base, time.Minute)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.base, err)
		}
		if got := ctrl.sessionURL("s1"); got != tt.want {
			t.Errorf("sessionURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestConnectDialFailure(t *testing.T) {
	store := newRunningStore(t)
	ctrl, err := New(store, "http://127.0.0.1:1", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "sess-1"); err == nil {
		t.Fatal("Connect to dead address should fail")
	}
	if got := ctrl.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	if store.Snapshot().Connecting {
		t.Error("connecting flag still set after dial failure")
	}
}
