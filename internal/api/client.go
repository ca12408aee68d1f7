// Package api is the HTTP client for the analysis server's REST surface:
// document uploads, session creation and session inspection. The websocket
// stream of a running session lives in the transport package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/caseflow/internal/session"
)

// Session is a server-side analysis session descriptor.
type Session struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// Upload is the server's answer to a document upload: the stored descriptor
// plus whether an identical file (by checksum) was already on the server.
type Upload struct {
	Document  session.Document `json:"document"`
	Duplicate bool             `json:"is_duplicate"`
}

// Client talks to one analysis server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable at %s (%w)", c.baseURL, err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, "GET", path, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, "POST", path, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Upload sends a document to the server and returns its descriptor along
// with the server's duplicate flag.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Upload{}, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Upload{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, fmt.Errorf("finishing upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/uploads", &buf)
	if err != nil {
		return Upload{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Upload{}, fmt.Errorf("server not reachable at %s (%w)", c.baseURL, err)
	}

	var up Upload
	if err := decodeJSON(resp, &up); err != nil {
		return Upload{}, fmt.Errorf("uploading %s: %w", filename, err)
	}
	if up.Document.ID == "" {
		return Upload{}, fmt.Errorf("upload response missing document id")
	}
	return up, nil
}

// CreateSession starts a new analysis session for a document.
func (c *Client) CreateSession(ctx context.Context, documentID string) (Session, error) {
	resp, err := c.post(ctx, "/api/sessions", map[string]string{"document_id": documentID})
	if err != nil {
		return Session{}, err
	}

	var s Session
	if err := decodeJSON(resp, &s); err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	if s.ID == "" {
		return Session{}, fmt.Errorf("session response missing id")
	}
	return s, nil
}

// Sessions lists the server's sessions, most recent first.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	resp, err := c.get(ctx, "/api/sessions")
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := decodeJSON(resp, &sessions); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Session fetches one session's descriptor.
func (c *Client) Session(ctx context.Context, id string) (Session, error) {
	resp, err := c.get(ctx, "/api/sessions/"+id)
	if err != nil {
		return Session{}, err
	}

	var s Session
	if err := decodeJSON(resp, &s); err != nil {
		return Session{}, fmt.Errorf("fetching session %s: %w", id, err)
	}
	return s, nil
}

// SessionResults fetches the accumulated results of a finished or running
// session.
func (c *Client) SessionResults(ctx context.Context, id string) ([]session.AgentResult, error) {
	resp, err := c.get(ctx, "/api/sessions/"+id+"/results")
	if err != nil {
		return nil, err
	}

	var results []session.AgentResult
	if err := decodeJSON(resp, &results); err != nil {
		return nil, fmt.Errorf("fetching results for %s: %w", id, err)
	}
	return results, nil
}
