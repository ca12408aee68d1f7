package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/caseflow/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	uploads := 0
	mux.HandleFunc("POST /api/uploads", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		uploads++
		json.NewEncoder(w).Encode(Upload{
			Document: session.Document{
				ID:           "doc-1",
				OriginalName: header.Filename,
				Size:         header.Size,
				Status:       "uploaded",
			},
			Duplicate: uploads > 1,
		})
	})

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["document_id"] == "" {
			http.Error(w, "missing document_id", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Session{ID: "sess-1", DocumentID: body["document_id"], Status: "pending"})
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Session{
			{ID: "sess-2", DocumentID: "doc-2", Status: "running"},
			{ID: "sess-1", DocumentID: "doc-1", Status: "completed"},
		})
	})

	mux.HandleFunc("GET /api/sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{ID: "sess-1", DocumentID: "doc-1", Status: "completed"})
	})

	mux.HandleFunc("GET /api/sessions/sess-1/results", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]session.AgentResult{
			{ID: "r1", Sender: "Analyst", Stage: session.StageReview, Content: "review done"},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUpload(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	up, err := client.Upload(context.Background(), "/tmp/spec.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if up.Document.ID != "doc-1" {
		t.Errorf("doc id = %q", up.Document.ID)
	}
	if up.Document.OriginalName != "spec.pdf" {
		t.Errorf("original name = %q, want base name", up.Document.OriginalName)
	}
	if up.Duplicate {
		t.Error("first upload flagged as duplicate")
	}
}

func TestUploadReportsDuplicate(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	if _, err := client.Upload(context.Background(), "spec.pdf", strings.NewReader("pdf bytes")); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	up, err := client.Upload(context.Background(), "spec.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !up.Duplicate {
		t.Error("repeat upload not flagged as duplicate")
	}
	if up.Document.ID != "doc-1" {
		t.Errorf("doc id = %q, want the original descriptor", up.Document.ID)
	}
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	s, err := client.CreateSession(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID != "sess-1" || s.DocumentID != "doc-1" {
		t.Errorf("session = %+v", s)
	}
}

func TestSessions(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	sessions, err := client.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "sess-2" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestSessionResults(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL)

	results, err := client.SessionResults(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("SessionResults: %v", err)
	}
	if len(results) != 1 || results[0].Stage != session.StageReview {
		t.Errorf("results = %+v", results)
	}
}

func TestServerErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL)
	_, err := client.CreateSession(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "413") || !strings.Contains(err.Error(), "document too large") {
		t.Errorf("error = %v", err)
	}
}

func TestUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	if _, err := client.Sessions(context.Background()); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
