package session

// Canonical stage identifiers. Deployments may configure a different
// sequence (with or without the leading intake stage) but it is always a
// strict total order ending in StageCompleted.
const (
	StageLayoutAnalysis      = "layout_analysis"
	StageRequirementAnalysis = "requirement_analysis"
	StageTestGeneration      = "test_generation"
	StageReview              = "review"
	StageTestCompletion      = "test_completion"
	StageCompleted           = "completed"
)

// Sequence is the ordered stage vocabulary for one deployment. The last
// element is the terminal stage.
type Sequence []string

// DefaultSequence returns the five-stage pipeline order.
func DefaultSequence() Sequence {
	return Sequence{
		StageRequirementAnalysis,
		StageTestGeneration,
		StageReview,
		StageTestCompletion,
		StageCompleted,
	}
}

// Index returns the position of stage in the sequence, or -1 for
// unrecognized or empty stages.
func (s Sequence) Index(stage string) int {
	if stage == "" {
		return -1
	}
	for i, name := range s {
		if name == stage {
			return i
		}
	}
	return -1
}

// Terminal returns the last stage of the sequence.
func (s Sequence) Terminal() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// First returns the first stage of the sequence.
func (s Sequence) First() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Successor returns the stage after the given one, and whether one exists.
func (s Sequence) Successor(stage string) (string, bool) {
	i := s.Index(stage)
	if i < 0 || i+1 >= len(s) {
		return "", false
	}
	return s[i+1], true
}

// Resolution is the tracker's verdict on one reported stage update.
type Resolution struct {
	// Stage is what currentStage should become. Regressive streaming
	// chunks and unrecognized stages resolve to the previous stage.
	Stage string
	// AutoAdvance reports whether selectedStage should follow Stage.
	AutoAdvance bool
	// Regression reports that the event pointed at an earlier pipeline
	// position than the one already recorded.
	Regression bool
}

// Resolve applies the regression-guard policy to a reported stage.
//
// Unrecognized stages keep the previous stage (progress still applies).
// A regression on a streaming event is ignored so late partial chunks from
// an earlier stage cannot rewind the view; a regression on a discrete event
// is an explicit server correction and wins. Forward or equal positions are
// adopted. selectedStage follows whenever the adopted stage sits at or past
// the current selection (or nothing is selected yet).
func (s Sequence) Resolve(prev, reported string, streaming bool, selected string) Resolution {
	incoming := s.Index(reported)
	previous := s.Index(prev)

	if incoming == -1 {
		return Resolution{Stage: prev}
	}

	regressing := previous >= 0 && incoming < previous
	if regressing && streaming {
		return Resolution{Stage: prev, Regression: true}
	}
	if regressing {
		return Resolution{Stage: reported, AutoAdvance: true, Regression: true}
	}

	selectedIdx := s.Index(selected)
	return Resolution{
		Stage:       reported,
		AutoAdvance: selectedIdx == -1 || incoming >= selectedIdx,
	}
}
