package sim

import "github.com/kalambet/caseflow/internal/session"

// Step is one scripted emission of a simulated run. Streaming steps send
// each chunk as a cumulative streaming frame before the closing discrete
// frame; WaitConfirm steps block until the client confirms the stage.
type Step struct {
	Sender            string
	Stage             string
	Chunks            []string
	Content           string
	Progress          float64
	Payload           any
	NeedsConfirmation bool
	WaitConfirm       bool
	System            bool
}

// Script is an ordered run scenario.
type Script []Step

// DefaultScript plays a full five-stage analysis with streamed requirement
// extraction, a confirmation gate after test generation, and a terminal
// summary.
func DefaultScript() Script {
	return Script{
		{
			System:  true,
			Stage:   session.StageRequirementAnalysis,
			Content: "analysis started",
		},
		{
			Sender: "Requirement Analyst",
			Stage:  session.StageRequirementAnalysis,
			Chunks: []string{
				"Parsing document structure.",
				"Parsing document structure.\nIdentified 3 functional areas: authentication, checkout, notifications.",
			},
			Content:  "Parsing document structure.\nIdentified 3 functional areas: authentication, checkout, notifications.\nRequirement extraction complete.",
			Progress: 0.3,
		},
		{
			Sender: "Test Designer",
			Stage:  session.StageTestGeneration,
			Chunks: []string{
				"Drafting test cases for authentication.",
			},
			Content:  "Drafting test cases for authentication.\nGenerated 12 cases across 3 modules.",
			Progress: 0.55,
			Payload: map[string]any{
				"modules": []map[string]any{
					{
						"name": "authentication",
						"cases": []map[string]any{
							{"id": "TC-001", "title": "login with valid credentials", "priority": "P0"},
							{"id": "TC-002", "title": "login with expired password", "priority": "P1"},
						},
					},
				},
			},
			NeedsConfirmation: true,
			WaitConfirm:       true,
		},
		{
			Sender:   "Reviewer",
			Stage:    session.StageReview,
			Content:  "Coverage acceptable; two gaps flagged.",
			Progress: 0.75,
			Payload: map[string]any{
				"coverage":        0.82,
				"gaps":            []string{"no negative checkout flow"},
				"recommendations": []string{"add boundary tests for cart size"},
			},
		},
		{
			Sender:   "Test Designer",
			Stage:    session.StageTestCompletion,
			Content:  "Gap cases added; suite finalized.",
			Progress: 0.9,
		},
		{
			Sender:   "Coordinator",
			Stage:    session.StageCompleted,
			Content:  "Analysis complete. 14 test cases ready.",
			Progress: 1.0,
		},
	}
}

// FailingScript plays a run that dies during review.
func FailingScript() Script {
	return Script{
		{
			Sender:   "Requirement Analyst",
			Stage:    session.StageRequirementAnalysis,
			Content:  "Requirement extraction complete.",
			Progress: 0.3,
		},
		{
			System:  true,
			Stage:   session.StageReview,
			Content: "analysis failed: review worker crashed",
		},
	}
}
