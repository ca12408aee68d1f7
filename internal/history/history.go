// Package history persists per-document snapshots of completed analysis
// runs so a finished analysis can be revisited without an active session.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/caseflow/internal/session"
	"github.com/kalambet/caseflow/internal/storage"
)

// MaxEntries caps the retained snapshots per document.
const MaxEntries = 10

// KV is the persistent key-value contract the cache needs.
// Implemented by storage.Store.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Cache stores the whole per-document history map as one JSON value under a
// fixed key, mirroring the browser-local schema it replaces.
type Cache struct {
	kv  KV
	key string
}

// New creates a Cache over the given store.
func New(kv KV) *Cache {
	return &Cache{kv: kv, key: storage.KeyDocumentHistories}
}

func (c *Cache) load() (map[string][]session.DocumentHistoryEntry, error) {
	raw, err := c.kv.Get(c.key)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string][]session.DocumentHistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading histories: %w", err)
	}

	histories := map[string][]session.DocumentHistoryEntry{}
	if err := json.Unmarshal([]byte(raw), &histories); err != nil {
		return nil, fmt.Errorf("decoding histories: %w", err)
	}
	return histories, nil
}

func (c *Cache) persist(histories map[string][]session.DocumentHistoryEntry) error {
	if len(histories) == 0 {
		if err := c.kv.Delete(c.key); err != nil {
			return fmt.Errorf("removing empty histories: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(histories)
	if err != nil {
		return fmt.Errorf("encoding histories: %w", err)
	}
	if err := c.kv.Set(c.key, string(data)); err != nil {
		return fmt.Errorf("writing histories: %w", err)
	}
	return nil
}

// Record stores a completed run snapshot for a document. An entry with the
// same session id replaces the previous one; entries are kept newest first
// and truncated to MaxEntries.
func (c *Cache) Record(documentID string, entry session.DocumentHistoryEntry) error {
	histories, err := c.load()
	if err != nil {
		return err
	}

	existing := histories[documentID]
	next := make([]session.DocumentHistoryEntry, 0, len(existing)+1)
	next = append(next, entry)
	for _, e := range existing {
		if e.SessionID != entry.SessionID {
			next = append(next, e)
		}
	}

	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Timestamp.After(next[j].Timestamp)
	})
	if len(next) > MaxEntries {
		next = next[:MaxEntries]
	}

	histories[documentID] = next
	return c.persist(histories)
}

// Get returns a document's history entries, most recent first. A document
// without history yields an empty slice.
func (c *Cache) Get(documentID string) ([]session.DocumentHistoryEntry, error) {
	histories, err := c.load()
	if err != nil {
		return nil, err
	}
	return histories[documentID], nil
}

// Documents returns the ids of all documents with at least one entry.
func (c *Cache) Documents() ([]string, error) {
	histories, err := c.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(histories))
	for id := range histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear removes all entries for a document. Removing the last document
// removes the stored key entirely rather than keeping an empty map.
func (c *Cache) Clear(documentID string) error {
	histories, err := c.load()
	if err != nil {
		return err
	}
	if _, ok := histories[documentID]; !ok {
		return nil
	}
	delete(histories, documentID)
	return c.persist(histories)
}

// ClearAll drops the whole history map.
func (c *Cache) ClearAll() error {
	if err := c.kv.Delete(c.key); err != nil {
		return fmt.Errorf("removing histories: %w", err)
	}
	return nil
}
