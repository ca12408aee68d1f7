// Package session implements the client-side synchronization engine for a
// staged document-analysis pipeline: the entity model for streamed agent
// results, the streaming merge reducer, the stage progression tracker, and
// the state store that ties them together.
package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced result or document does not exist.
var ErrNotFound = errors.New("not found")

// Document is the descriptor returned by the upload collaborator. The engine
// only consumes it; it never inspects document content.
type Document struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	Checksum     string `json:"checksum,omitempty"`
	Size         int64  `json:"size"`
	Status       string `json:"status,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// AgentResult is one unit of output from one pipeline stage. An entry is
// "open" while it is unconfirmed and may still receive streamed chunks; at
// most one open entry exists per (sender, stage) pair. Once Confirmed is set
// the entry is frozen and further events for the pair start a new one.
type AgentResult struct {
	ID                string    `json:"id"`
	Sender            string    `json:"sender"`
	Stage             string    `json:"stage"`
	Content           string    `json:"content"`
	Payload           *Payload  `json:"payload,omitempty"`
	Progress          float64   `json:"progress"`
	Timestamp         time.Time `json:"timestamp"`
	StartedAt         time.Time `json:"startedAt"`
	DurationSeconds   *float64  `json:"durationSeconds"`
	NeedsConfirmation bool      `json:"needsConfirmation"`
	Confirmed         bool      `json:"confirmed"`
}

// Open reports whether the entry can still absorb streamed chunks.
func (r AgentResult) Open() bool { return !r.Confirmed }

// SystemMessage is a timestamped free-text notice. Append-only, never mutated.
type SystemMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentHistoryEntry is a frozen snapshot of a completed session's results,
// keyed by document id in the history cache.
type DocumentHistoryEntry struct {
	SessionID    string        `json:"sessionId"`
	Timestamp    time.Time     `json:"timestamp"`
	AgentResults []AgentResult `json:"agentResults"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
