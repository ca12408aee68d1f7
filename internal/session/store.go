package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryCache is the durable per-document archive of completed runs.
// Implemented by history.Cache.
type HistoryCache interface {
	Record(documentID string, entry DocumentHistoryEntry) error
	Get(documentID string) ([]DocumentHistoryEntry, error)
	Clear(documentID string) error
	ClearAll() error
}

// CancelReason distinguishes user-initiated from watchdog-initiated
// teardown; both perform the same reset.
type CancelReason int

const (
	ReasonUser CancelReason = iota
	ReasonTimeout
)

var defaultFailureKeywords = []string{"failed", "failure", "失败"}

// Store is the single owner of all client-side run state: the document
// list, the streamed result list, system notices, stage/progress positions
// and the selection. Every mutation goes through one of its methods; the
// transport and the CLI observe it through Snapshot and Changed.
type Store struct {
	mu    sync.Mutex
	seq   Sequence
	clock Clock
	newID func() string

	history         HistoryCache
	failureKeywords []string

	documents     []Document
	results       []AgentResult
	notices       []SystemMessage
	progress      float64
	currentStage  string
	selectedStage string
	pendingStage  string
	connecting    bool
	running       bool
	sessionID     string
	selectedDoc   string
	activeDoc     string
	savedSession  string
	lastActivity  time.Time

	notify chan struct{}
}

// New creates a Store over the given stage sequence. history may be nil, in
// which case completed runs are not archived.
func New(seq Sequence, history HistoryCache) *Store {
	return NewWithClock(seq, history, realClock{}, uuid.NewString)
}

// NewWithClock creates a Store with a custom clock and id generator
// (for testing).
func NewWithClock(seq Sequence, history HistoryCache, clock Clock, newID func() string) *Store {
	return &Store{
		seq:             seq,
		clock:           clock,
		newID:           newID,
		history:         history,
		failureKeywords: defaultFailureKeywords,
		selectedStage:   seq.First(),
		notify:          make(chan struct{}, 1),
	}
}

// SetFailureKeywords overrides the notice keywords that terminate a run.
func (s *Store) SetFailureKeywords(words []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(words) > 0 {
		s.failureKeywords = words
	}
}

// Sequence returns the configured stage order.
func (s *Store) Sequence() Sequence { return s.seq }

// Changed signals after every mutation. The channel holds at most one
// pending signal; observers drain it and read a fresh Snapshot.
func (s *Store) Changed() <-chan struct{} { return s.notify }

func (s *Store) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Snapshot is a consistent copy of the observable state.
type Snapshot struct {
	Documents     []Document
	Results       []AgentResult
	Notices       []SystemMessage
	Progress      float64
	CurrentStage  string
	SelectedStage string
	PendingStage  string
	Connecting    bool
	Running       bool
	SessionID     string
	SelectedDoc   string
	LastActivity  time.Time
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Documents:     append([]Document(nil), s.documents...),
		Results:       copyResults(s.results),
		Notices:       append([]SystemMessage(nil), s.notices...),
		Progress:      s.progress,
		CurrentStage:  s.currentStage,
		SelectedStage: s.selectedStage,
		PendingStage:  s.pendingStage,
		Connecting:    s.connecting,
		Running:       s.running,
		SessionID:     s.sessionID,
		SelectedDoc:   s.selectedDoc,
		LastActivity:  s.lastActivity,
	}
}

// AddDocument registers an upload descriptor and selects it. Duplicate ids
// are kept once but still grab the selection, matching re-upload behavior.
func (s *Store) AddDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exists := false
	for _, d := range s.documents {
		if d.ID == doc.ID {
			exists = true
			break
		}
	}
	if !exists {
		s.documents = append(s.documents, doc)
	}
	s.selectDocumentLocked(doc.ID)
	s.signal()
}

// RemoveDocument drops a document and its history. If it held the
// selection, the last remaining document is selected instead.
func (s *Store) RemoveDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.documents[:0:0]
	for _, d := range s.documents {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	s.documents = kept

	if s.history != nil {
		if err := s.history.Clear(id); err != nil {
			return fmt.Errorf("clearing history for %s: %w", id, err)
		}
	}

	if s.selectedDoc == id {
		next := ""
		if len(s.documents) > 0 {
			next = s.documents[len(s.documents)-1].ID
		}
		s.selectDocumentLocked(next)
	}
	s.signal()
	return nil
}

// SelectDocument makes a document the viewed one. With no live session its
// most recent history entry (if any) is replayed read-only: results swapped
// in, progress pinned to 1.0 and the terminal stage. With no history and no
// session the view is cleared.
func (s *Store) SelectDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectDocumentLocked(id)
	s.signal()
}

func (s *Store) selectDocumentLocked(id string) {
	s.selectedDoc = id

	if id == "" {
		if s.sessionID == "" && len(s.results) > 0 {
			s.results = nil
			s.progress = 0
			s.currentStage = ""
		}
		return
	}
	if s.running && s.activeDoc == id {
		// A run for this document is starting; leave its state alone.
		return
	}
	if s.sessionID != "" {
		// A live session owns the view.
		return
	}

	var entries []DocumentHistoryEntry
	if s.history != nil {
		entries, _ = s.history.Get(id)
	}
	if len(entries) > 0 {
		latest := entries[0]
		s.results = copyResults(latest.AgentResults)
		s.progress = 1.0
		s.currentStage = s.seq.Terminal()
		s.selectedStage = s.replayStageLocked(latest.AgentResults)
		return
	}
	if !s.running {
		s.results = nil
		s.progress = 0
		s.currentStage = ""
	}
}

// replayStageLocked picks the stage to show for a replayed history entry:
// the current selection if the entry has results for it, otherwise the
// latest stage in pipeline order that does.
func (s *Store) replayStageLocked(results []AgentResult) string {
	available := make(map[string]bool, len(results))
	for _, r := range results {
		available[r.Stage] = true
	}
	if s.selectedStage != "" && available[s.selectedStage] {
		return s.selectedStage
	}
	for i := len(s.seq) - 1; i >= 0; i-- {
		if available[s.seq[i]] {
			return s.seq[i]
		}
	}
	return s.seq.First()
}

// StartRun prepares state for a new analysis of the given document: clears
// prior results and session linkage, raises the running flag and nudges
// progress so the UI shows liveness before the first event arrives.
func (s *Store) StartRun(documentID string) error {
	if documentID == "" {
		return fmt.Errorf("no document selected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeDoc = documentID
	s.savedSession = ""
	s.running = true
	s.connecting = false
	s.sessionID = ""
	s.results = nil
	s.notices = nil
	s.pendingStage = ""
	s.selectedStage = s.seq.First()
	s.currentStage = s.seq.First()
	s.progress = 0.12
	s.signal()
	return nil
}

// RunFailed rolls state back to the pre-start baseline after a
// session-creation failure.
func (s *Store) RunFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.connecting = false
	s.activeDoc = ""
	s.savedSession = ""
	s.progress = 0
	s.currentStage = ""
	s.signal()
}

// SetSession records the session id the transport will attach to.
func (s *Store) SetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
	s.signal()
}

// SetConnecting toggles the connecting indicator.
func (s *Store) SetConnecting(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = v
	s.signal()
}

// AddNotice appends a system message.
func (s *Store) AddNotice(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addNoticeLocked(content)
	s.signal()
}

func (s *Store) addNoticeLocked(content string) {
	s.notices = append(s.notices, SystemMessage{
		ID:        s.newID(),
		Content:   content,
		Timestamp: s.clock.Now(),
	})
}

// TouchActivity refreshes the user-activity timestamp the watchdog watches.
func (s *Store) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.clock.Now()
	s.signal()
}

// ApplyAgent folds an agent event into the result list and advances the
// stage tracker. It reports whether the event completed the run (progress
// reached 1.0 or the terminal stage was reached), in which case results are
// archived into the document history.
func (s *Store) ApplyAgent(ev AgentEvent) (completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = Merge(s.results, ev, s.clock, s.newID)

	res := s.seq.Resolve(s.currentStage, ev.Stage, ev.Streaming, s.selectedStage)
	s.currentStage = res.Stage
	if ev.Progress != nil {
		s.progress = *ev.Progress
	} else {
		s.progress = 0
	}
	if res.AutoAdvance && ev.Stage != s.selectedStage {
		s.selectedStage = ev.Stage
	}
	if s.pendingStage != "" && ev.Stage == s.pendingStage {
		s.pendingStage = ""
	}

	completed = (ev.Progress != nil && *ev.Progress >= 1.0) || ev.Stage == s.seq.Terminal()
	if completed {
		s.connecting = false
		s.running = false
		s.archiveLocked()
	}

	s.lastActivity = s.clock.Now()
	s.signal()
	return completed
}

// archiveLocked snapshots the result list into the document history exactly
// once per session.
func (s *Store) archiveLocked() {
	if s.history == nil || s.activeDoc == "" || s.sessionID == "" {
		return
	}
	if s.savedSession == s.sessionID || len(s.results) == 0 {
		return
	}
	entry := DocumentHistoryEntry{
		SessionID:    s.sessionID,
		Timestamp:    s.clock.Now(),
		AgentResults: copyResults(s.results),
	}
	if err := s.history.Record(s.activeDoc, entry); err == nil {
		s.savedSession = s.sessionID
		s.activeDoc = ""
	}
}

// ApplyNotice appends a system message and applies its stage/progress as a
// discrete update. It reports whether the notice terminated the run, either
// by reaching full progress or by carrying a failure keyword.
func (s *Store) ApplyNotice(n Notice) (terminated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addNoticeLocked(n.Content)

	res := s.seq.Resolve(s.currentStage, n.Stage, false, s.selectedStage)
	s.currentStage = res.Stage
	if n.Progress != nil {
		s.progress = *n.Progress
	} else {
		s.progress = 0
	}

	if n.Progress != nil && *n.Progress >= 1.0 {
		terminated = true
	} else {
		for _, kw := range s.failureKeywords {
			if kw != "" && strings.Contains(n.Content, kw) {
				terminated = true
				break
			}
		}
	}
	if terminated {
		s.running = false
	}

	s.lastActivity = s.clock.Now()
	s.signal()
	return terminated
}

// Confirm marks a result accepted and optimistically advances the selected
// stage to the successor so the next stage shows as pending before any of
// its events arrive. The updated result is returned for the outbound
// confirmation message.
func (s *Store) Confirm(resultID string) (AgentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.results {
		if s.results[i].ID != resultID {
			continue
		}
		s.results[i].Confirmed = true
		s.results[i].NeedsConfirmation = false
		r := s.results[i]

		if next, ok := s.seq.Successor(r.Stage); ok {
			s.selectedStage = next
			s.pendingStage = next
		}
		s.lastActivity = s.clock.Now()
		s.signal()
		return r, nil
	}
	return AgentResult{}, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
}

// SelectStage records a manual stage pick, overriding auto-advance until
// the next qualifying event.
func (s *Store) SelectStage(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedStage = stage
	s.lastActivity = s.clock.Now()
	s.signal()
}

// Disconnected records that the session stream closed from the server side.
// The run stops, the active-document linkage is dropped so no late archive
// can happen, and a notice is appended. Results already received stay on
// screen.
func (s *Store) Disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	s.running = false
	s.activeDoc = ""
	s.savedSession = ""
	s.addNoticeLocked("session stream closed")
	s.signal()
}

// CancelRun resets run state to the pre-run baseline. Histories are left
// intact. The notice distinguishes a watchdog timeout from a user cancel.
func (s *Store) CancelRun(reason CancelReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetRunLocked()
	switch reason {
	case ReasonTimeout:
		s.addNoticeLocked("analysis stopped automatically after inactivity timeout")
	default:
		s.addNoticeLocked("analysis cancelled")
	}
	s.signal()
}

// ClearSession drops the selection and all run state. Histories are kept.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedDoc = ""
	s.resetRunLocked()
	s.addNoticeLocked("session cleared")
	s.signal()
}

func (s *Store) resetRunLocked() {
	s.sessionID = ""
	s.results = nil
	s.notices = nil
	s.progress = 0
	s.currentStage = ""
	s.selectedStage = s.seq.First()
	s.pendingStage = ""
	s.connecting = false
	s.running = false
	s.activeDoc = ""
	s.savedSession = ""
}

// Reset wipes everything including documents and persisted histories.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = nil
	s.resetRunLocked()
	s.signal()
	if s.history != nil {
		if err := s.history.ClearAll(); err != nil {
			return fmt.Errorf("clearing histories: %w", err)
		}
	}
	return nil
}
