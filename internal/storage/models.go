package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Fixed keys for the persisted local state. Each value is a JSON document
// whose schema is owned by the writing component.
const (
	// KeyDocumentHistories holds the per-document map of completed run
	// snapshots (history.Cache).
	KeyDocumentHistories = "document_histories"

	// KeyUploadedDocuments holds the list of upload descriptors restored
	// into the document list at startup.
	KeyUploadedDocuments = "uploaded_documents"

	// KeyLastUpload holds the descriptor of the most recent successful
	// upload.
	KeyLastUpload = "last_uploaded_document"
)
