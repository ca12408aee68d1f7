package session

import "testing"

func TestSequenceIndex(t *testing.T) {
	seq := DefaultSequence()
	tests := []struct {
		stage string
		want  int
	}{
		{StageRequirementAnalysis, 0},
		{StageTestGeneration, 1},
		{StageReview, 2},
		{StageTestCompletion, 3},
		{StageCompleted, 4},
		{"unknown", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := seq.Index(tt.stage); got != tt.want {
			t.Errorf("Index(%q) = %d, want %d", tt.stage, got, tt.want)
		}
	}
}

func TestSequenceSuccessor(t *testing.T) {
	seq := DefaultSequence()

	next, ok := seq.Successor(StageReview)
	if !ok || next != StageTestCompletion {
		t.Errorf("Successor(review) = %q, %v", next, ok)
	}
	if _, ok := seq.Successor(StageCompleted); ok {
		t.Error("terminal stage should have no successor")
	}
	if _, ok := seq.Successor("unknown"); ok {
		t.Error("unrecognized stage should have no successor")
	}
}

func TestSequenceTerminalAndFirst(t *testing.T) {
	seq := DefaultSequence()
	if seq.Terminal() != StageCompleted {
		t.Errorf("Terminal = %q", seq.Terminal())
	}
	if seq.First() != StageRequirementAnalysis {
		t.Errorf("First = %q", seq.First())
	}

	var empty Sequence
	if empty.Terminal() != "" || empty.First() != "" {
		t.Error("empty sequence should yield empty stages")
	}
}

func TestResolve(t *testing.T) {
	seq := DefaultSequence()
	tests := []struct {
		name      string
		prev      string
		reported  string
		streaming bool
		selected  string
		want      Resolution
	}{
		{
			name:     "forward discrete adopts",
			prev:     StageRequirementAnalysis,
			reported: StageTestGeneration,
			selected: StageRequirementAnalysis,
			want:     Resolution{Stage: StageTestGeneration, AutoAdvance: true},
		},
		{
			name:      "forward streaming adopts",
			prev:      StageRequirementAnalysis,
			reported:  StageTestGeneration,
			streaming: true,
			selected:  StageRequirementAnalysis,
			want:      Resolution{Stage: StageTestGeneration, AutoAdvance: true},
		},
		{
			name:     "equal position adopts",
			prev:     StageReview,
			reported: StageReview,
			selected: StageReview,
			want:     Resolution{Stage: StageReview, AutoAdvance: true},
		},
		{
			name:      "streaming regression ignored",
			prev:      StageReview,
			reported:  StageTestGeneration,
			streaming: true,
			selected:  StageReview,
			want:      Resolution{Stage: StageReview, Regression: true},
		},
		{
			name:     "discrete regression wins",
			prev:     StageReview,
			reported: StageTestGeneration,
			selected: StageReview,
			want:     Resolution{Stage: StageTestGeneration, AutoAdvance: true, Regression: true},
		},
		{
			name:     "unrecognized stage keeps previous",
			prev:     StageReview,
			reported: "unknown",
			selected: StageReview,
			want:     Resolution{Stage: StageReview},
		},
		{
			name:     "empty previous adopts anything known",
			prev:     "",
			reported: StageReview,
			selected: "",
			want:     Resolution{Stage: StageReview, AutoAdvance: true},
		},
		{
			name:     "selection ahead of event suppresses auto-advance",
			prev:     StageTestGeneration,
			reported: StageReview,
			selected: StageTestCompletion,
			want:     Resolution{Stage: StageReview},
		},
		{
			name:     "selection behind event auto-advances",
			prev:     StageTestGeneration,
			reported: StageReview,
			selected: StageTestGeneration,
			want:     Resolution{Stage: StageReview, AutoAdvance: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seq.Resolve(tt.prev, tt.reported, tt.streaming, tt.selected)
			if got != tt.want {
				t.Errorf("Resolve(%q, %q, streaming=%v, selected=%q) = %+v, want %+v",
					tt.prev, tt.reported, tt.streaming, tt.selected, got, tt.want)
			}
		})
	}
}
