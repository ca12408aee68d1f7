package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/caseflow/internal/session"
)

// MCPHistory abstracts the document history archive for the MCP layer.
type MCPHistory interface {
	Get(documentID string) ([]session.DocumentHistoryEntry, error)
	Documents() ([]string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *session.Store
	History MCPHistory
}

// NewMCPServer creates an MCP server exposing the local analysis state:
// uploaded documents, archived run histories and the latest results.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"caseflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("caseflow — local archive of document analysis runs: uploaded documents, per-stage agent results and test plans."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents and whether each has archived analysis runs."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("List the archived analysis runs of a document, most recent first."),
			mcp.WithString("document_id", mcp.Description("Document id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 5)")),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("get_latest_results",
			mcp.WithDescription("Return the agent results of a document's most recent archived run, optionally filtered to one pipeline stage."),
			mcp.WithString("document_id", mcp.Description("Document id"), mcp.Required()),
			mcp.WithString("stage", mcp.Description("Optional stage filter (e.g. test_generation, review)")),
		),
		mcpLatestResults(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"caseflow://history",
			"Analysis Histories",
			mcp.WithResourceDescription("All archived analysis runs grouped by document, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		archived, err := deps.History.Documents()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list histories: %v", err)), nil
		}
		hasHistory := make(map[string]bool, len(archived))
		for _, id := range archived {
			hasHistory[id] = true
		}

		type docEntry struct {
			ID           string `json:"id"`
			OriginalName string `json:"original_name"`
			Size         int64  `json:"size"`
			HasHistory   bool   `json:"has_history"`
		}

		snap := deps.Store.Snapshot()
		entries := make([]docEntry, 0, len(snap.Documents))
		for _, d := range snap.Documents {
			entries = append(entries, docEntry{
				ID:           d.ID,
				OriginalName: d.OriginalName,
				Size:         d.Size,
				HasHistory:   hasHistory[d.ID],
			})
			delete(hasHistory, d.ID)
		}
		// Archived documents no longer in the live list are still reachable.
		for id := range hasHistory {
			entries = append(entries, docEntry{ID: id, HasHistory: true})
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}

		entries, err := deps.History.Get(documentID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		if len(entries) > limit {
			entries = entries[:limit]
		}

		type runSummary struct {
			SessionID string `json:"session_id"`
			Timestamp string `json:"timestamp"`
			Results   int    `json:"results"`
			Stages    []string `json:"stages"`
		}

		summaries := make([]runSummary, len(entries))
		for i, e := range entries {
			seen := map[string]bool{}
			var stages []string
			for _, r := range e.AgentResults {
				if !seen[r.Stage] {
					seen[r.Stage] = true
					stages = append(stages, r.Stage)
				}
			}
			summaries[i] = runSummary{
				SessionID: e.SessionID,
				Timestamp: e.Timestamp.Format(time.RFC3339),
				Results:   len(e.AgentResults),
				Stages:    stages,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLatestResults(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		stage := req.GetString("stage", "")

		entries, err := deps.History.Get(documentID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}

		results := entries[0].AgentResults
		if stage != "" {
			filtered := results[:0:0]
			for _, r := range results {
				if r.Stage == stage {
					filtered = append(filtered, r)
				}
			}
			results = filtered
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := deps.History.Documents()
		if err != nil {
			return nil, fmt.Errorf("failed to list histories: %w", err)
		}

		histories := make(map[string][]session.DocumentHistoryEntry, len(ids))
		for _, id := range ids {
			entries, err := deps.History.Get(id)
			if err != nil {
				return nil, fmt.Errorf("failed to load history for %s: %w", id, err)
			}
			histories[id] = entries
		}

		b, err := json.Marshal(histories)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal histories: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
