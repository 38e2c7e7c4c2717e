package models

import "time"

// Scale is the strategy chosen for an edit.
type Scale string

const (
	ScalePatch      Scale = "patch"
	ScaleRegenerate Scale = "regenerate"
)

// ScaleDecision records which rule picked the scale and why.
type ScaleDecision struct {
	Scale           Scale    `json:"scale"`
	Rule            int      `json:"rule"`
	Reason          string   `json:"reason"`
	EstimatedChange *float64 `json:"estimatedChange,omitempty"`
}

// IterationState is a step of the feedback pipeline.
type IterationState string

const (
	StateClassifying   IterationState = "classifying"
	StateClarify       IterationState = "clarify"
	StateScaleDeciding IterationState = "scale_deciding"
	StatePatching      IterationState = "patching"
	StateRegenerating  IterationState = "regenerating"
	StateMerging       IterationState = "merging"
	StateDone          IterationState = "done"
	StateFailed        IterationState = "failed"
)

type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeClarificationNeeded Outcome = "clarification_needed"
	OutcomeFailed              Outcome = "failed"
)

// IterationResult captures the outcome of one feedback iteration.
type IterationResult struct {
	ID               string                `json:"id"`
	Project          string                `json:"project"`
	Feedback         string                `json:"feedback"`
	Outcome          Outcome               `json:"outcome"`
	Strategy         Scale                 `json:"strategy,omitempty"`
	Intent           *Intent               `json:"intent,omitempty"`
	Decision         *ScaleDecision        `json:"decision,omitempty"`
	ChangedArtifacts []ArtifactName        `json:"changedArtifacts"`
	Writes           []ArtifactWriteResult `json:"writes,omitempty"`
	Summary          string                `json:"summary"`
	// Clarification is the question put back to the user when the intent
	// was not confident enough to act on.
	Clarification  string           `json:"clarification,omitempty"`
	FallbackReason string           `json:"fallbackReason,omitempty"`
	Diff           string           `json:"diff,omitempty"`
	CommitHash     string           `json:"commitHash,omitempty"`
	States         []IterationState `json:"states"`
	Err            error            `json:"-"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"startedAt"`
	FinishedAt     time.Time        `json:"finishedAt"`
}

// State returns the last recorded state.
func (r *IterationResult) State() IterationState {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Visited reports whether the pipeline passed through state.
func (r *IterationResult) Visited(state IterationState) bool {
	for _, s := range r.States {
		if s == state {
			return true
		}
	}
	return false
}
