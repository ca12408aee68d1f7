package session

import (
	"strings"
	"time"
)

// Merge folds one agent event into the result list and returns the new list.
// The input slice is never mutated.
//
// Discrete events always append a new entry. Streaming events merge into the
// most recent open entry for the same (sender, stage) pair, or start one if
// none exists. Merging is idempotent for repeated identical chunks and
// tolerates servers that resend cumulative snapshots instead of deltas.
//
// The containment heuristic cannot distinguish an identical repeat from a
// truncation to a prefix; both collapse to keeping the longer text. This
// mirrors the observed server behavior and is accepted as an approximation.
func Merge(results []AgentResult, ev AgentEvent, clock Clock, newID func() string) []AgentResult {
	if !ev.Streaming {
		return append(copyResults(results), newResult(ev, clock, newID))
	}

	idx := -1
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Sender == ev.Sender && r.Stage == ev.Stage && r.Open() {
			idx = i
			break
		}
	}
	if idx < 0 {
		// First chunk for the pair.
		return append(copyResults(results), newResult(ev, clock, newID))
	}

	next := copyResults(results)
	next[idx] = mergeInto(next[idx], ev, clock.Now())
	return next
}

func newResult(ev AgentEvent, clock Clock, newID func() string) AgentResult {
	now := clock.Now()
	r := AgentResult{
		ID:                newID(),
		Sender:            ev.Sender,
		Stage:             ev.Stage,
		Content:           ev.Content,
		Payload:           ev.Payload,
		Timestamp:         now,
		StartedAt:         now,
		DurationSeconds:   ev.DurationSeconds,
		NeedsConfirmation: ev.NeedsConfirmation,
	}
	if ev.Progress != nil {
		r.Progress = *ev.Progress
	}
	return r
}

func mergeInto(target AgentResult, ev AgentEvent, now time.Time) AgentResult {
	target.Content = mergeContent(target.Content, ev.Content)

	if ev.Payload != nil {
		target.Payload = ev.Payload
	}
	if ev.Progress != nil {
		target.Progress = *ev.Progress
	}
	if ev.DurationSeconds != nil {
		target.DurationSeconds = ev.DurationSeconds
	}

	// Monotonic: once a chunk requests confirmation the flag stays set
	// until the user explicitly confirms.
	target.NeedsConfirmation = target.NeedsConfirmation || ev.NeedsConfirmation

	if target.StartedAt.IsZero() {
		target.StartedAt = target.Timestamp
	}
	target.Timestamp = now
	return target
}

// mergeContent applies the containment policy to the stringified old and new
// content: a superset replaces, a stale subset is dropped, and genuinely
// different chunks concatenate with a newline.
func mergeContent(old, incoming string) string {
	switch {
	case old == "":
		return incoming
	case incoming == "":
		return old
	case incoming == old || strings.Contains(incoming, old):
		return incoming
	case strings.Contains(old, incoming):
		return old
	default:
		return old + "\n" + incoming
	}
}

func copyResults(results []AgentResult) []AgentResult {
	out := make([]AgentResult, len(results))
	copy(out, results)
	return out
}
