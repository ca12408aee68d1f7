package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/caseflow/internal/session"
	"github.com/kalambet/caseflow/internal/storage"
)

// DocumentStore persists the uploaded-document list and the most recent
// upload so the CLI restores them between invocations.
type DocumentStore struct {
	kv KV
}

// NewDocumentStore creates a DocumentStore over the given store.
func NewDocumentStore(kv KV) *DocumentStore {
	return &DocumentStore{kv: kv}
}

// Save replaces the persisted document list.
func (d *DocumentStore) Save(docs []session.Document) error {
	if len(docs) == 0 {
		if err := d.kv.Delete(storage.KeyUploadedDocuments); err != nil {
			return fmt.Errorf("removing documents: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encoding documents: %w", err)
	}
	if err := d.kv.Set(storage.KeyUploadedDocuments, string(data)); err != nil {
		return fmt.Errorf("writing documents: %w", err)
	}
	return nil
}

// Load returns the persisted document list, empty when nothing is stored.
func (d *DocumentStore) Load() ([]session.Document, error) {
	raw, err := d.kv.Get(storage.KeyUploadedDocuments)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	var docs []session.Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	return docs, nil
}

// Add appends (or replaces) a document and marks it as the last upload.
func (d *DocumentStore) Add(doc session.Document) error {
	docs, err := d.Load()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range docs {
		if existing.ID == doc.ID {
			docs[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append(docs, doc)
	}
	if err := d.Save(docs); err != nil {
		return err
	}
	return d.SetLast(doc.ID)
}

// Remove drops a document from the list. Removing the last upload clears
// that marker too.
func (d *DocumentStore) Remove(id string) error {
	docs, err := d.Load()
	if err != nil {
		return err
	}
	kept := docs[:0:0]
	for _, doc := range docs {
		if doc.ID != id {
			kept = append(kept, doc)
		}
	}
	if err := d.Save(kept); err != nil {
		return err
	}
	if last, err := d.Last(); err == nil && last == id {
		if err := d.kv.Delete(storage.KeyLastUpload); err != nil {
			return fmt.Errorf("clearing last upload: %w", err)
		}
	}
	return nil
}

// SetLast records the most recently uploaded document id.
func (d *DocumentStore) SetLast(id string) error {
	if err := d.kv.Set(storage.KeyLastUpload, id); err != nil {
		return fmt.Errorf("writing last upload: %w", err)
	}
	return nil
}

// Last returns the most recently uploaded document id, or empty when none
// is recorded.
func (d *DocumentStore) Last() (string, error) {
	id, err := d.kv.Get(storage.KeyLastUpload)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last upload: %w", err)
	}
	return id, nil
}
