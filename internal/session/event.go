package session

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// AgentEvent is the decoded form of an inbound "agent_message". Streaming
// events are partial updates expected to be followed by more chunks for the
// same (sender, stage) pair; discrete events stand alone.
type AgentEvent struct {
	Sender            string
	Stage             string
	Content           string
	Payload           *Payload
	Progress          *float64
	DurationSeconds   *float64
	NeedsConfirmation bool
	Streaming         bool
}

// Notice is the decoded form of an inbound "system_message".
type Notice struct {
	Content  string
	Stage    string
	Progress *float64
}

// Confirmation is the outbound "confirm_agent" message acknowledging a
// stage's result.
type Confirmation struct {
	Type      string   `json:"type"`
	Stage     string   `json:"stage"`
	ResultID  string   `json:"result_id"`
	Payload   *Payload `json:"payload"`
	Confirmed bool     `json:"confirmed"`
}

// NewConfirmation builds the wire message for confirming a result.
func NewConfirmation(resultID, stage string, payload *Payload) Confirmation {
	return Confirmation{
		Type:      "confirm_agent",
		Stage:     stage,
		ResultID:  resultID,
		Payload:   payload,
		Confirmed: true,
	}
}

type rawMessage struct {
	Type              string          `json:"type"`
	Sender            string          `json:"sender"`
	Stage             string          `json:"stage"`
	Content           json.RawMessage `json:"content"`
	Payload           json.RawMessage `json:"payload"`
	Progress          *float64        `json:"progress"`
	NeedsConfirmation bool            `json:"needs_confirmation"`
	IsStreaming       bool            `json:"is_streaming"`
	DurationSeconds   *float64        `json:"duration_seconds"`
}

// ParseMessage decodes one inbound transport frame. Exactly one of the
// returned pointers is non-nil for recognized kinds; both are nil for
// unknown kinds, which callers ignore.
func ParseMessage(data []byte) (*AgentEvent, *Notice, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decoding message: %w", err)
	}

	switch raw.Type {
	case "agent_message":
		sender := raw.Sender
		if sender == "" {
			sender = "Agent"
		}
		stage := raw.Stage
		if stage == "" {
			stage = "unknown"
		}
		return &AgentEvent{
			Sender:            sender,
			Stage:             stage,
			Content:           contentText(raw.Content),
			Payload:           decodePayload(stage, raw.Payload),
			Progress:          raw.Progress,
			DurationSeconds:   raw.DurationSeconds,
			NeedsConfirmation: raw.NeedsConfirmation,
			Streaming:         raw.IsStreaming,
		}, nil, nil
	case "system_message":
		return nil, &Notice{
			Content:  contentText(raw.Content),
			Stage:    raw.Stage,
			Progress: raw.Progress,
		}, nil
	default:
		return nil, nil, nil
	}
}

// contentText normalizes an event's content to text: strings pass through,
// numbers and booleans are formatted, anything structured keeps its compact
// JSON form. Merging always operates on this stringified form.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return string(raw)
	}
}

// PayloadKind tags the decoded variant of a structured attachment.
type PayloadKind string

const (
	PayloadTestPlan PayloadKind = "test_plan"
	PayloadReview   PayloadKind = "review"
	PayloadRaw      PayloadKind = "raw"
)

// Payload is the structured attachment of an agent event, decoded by stage.
// Attachments that do not match the stage's declared shape fall back to the
// raw variant so nothing the server sends is lost.
type Payload struct {
	Kind     PayloadKind    `json:"kind"`
	TestPlan *TestPlan      `json:"test_plan,omitempty"`
	Review   *ReviewSummary `json:"review,omitempty"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// TestPlan is the attachment shape of the test-generation, completion and
// terminal stages.
type TestPlan struct {
	Modules []TestModule `json:"modules"`
}

type TestModule struct {
	Name  string     `json:"name"`
	Cases []TestCase `json:"cases"`
}

type TestCase struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Preconditions any    `json:"preconditions,omitempty"`
	Steps         []any  `json:"steps,omitempty"`
	Expected      any    `json:"expected,omitempty"`
	Priority      string `json:"priority,omitempty"`
}

// ReviewSummary is the attachment shape of the review stage. Coverage may
// arrive as a fraction or a percentage; views normalize it.
type ReviewSummary struct {
	Coverage        float64 `json:"coverage"`
	Gaps            []any   `json:"gaps,omitempty"`
	Recommendations []any   `json:"recommendations,omitempty"`
}

func decodePayload(stage string, raw json.RawMessage) *Payload {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	switch stage {
	case StageTestGeneration, StageTestCompletion, StageCompleted:
		var plan TestPlan
		if err := json.Unmarshal(raw, &plan); err == nil && len(plan.Modules) > 0 {
			return &Payload{Kind: PayloadTestPlan, TestPlan: &plan}
		}
	case StageReview:
		var review ReviewSummary
		if err := json.Unmarshal(raw, &review); err == nil {
			return &Payload{Kind: PayloadReview, Review: &review}
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Payload{Kind: PayloadRaw, Raw: map[string]any{"text": string(raw)}}
	}
	return &Payload{Kind: PayloadRaw, Raw: fields}
}
