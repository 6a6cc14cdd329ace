package models

import "time"

// Decision is an append-only typed record of a choice made during the
// pipeline. Updates never happen in place: a superseding decision is written
// as a new row and the old row's SupersededBy is set to the new id. A
// decision is "current" while SupersededBy is nil.
type Decision struct {
	ID            string    `json:"id"`
	PipelineRunID *string   `json:"pipeline_run_id,omitempty"`
	Phase         Phase     `json:"phase"`
	Category      string    `json:"category"`
	Key           string    `json:"key"`
	Value         string    `json:"value"`
	Rationale     *string   `json:"rationale,omitempty"`
	SupersededBy  *string   `json:"superseded_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Active reports whether the decision has not been superseded.
func (d *Decision) Active() bool {
	return d.SupersededBy == nil || *d.SupersededBy == ""
}

// Requirement is an append-only requirement record keyed to a run and phase.
type Requirement struct {
	ID            string    `json:"id"`
	PipelineRunID string    `json:"pipeline_run_id"`
	Phase         Phase     `json:"phase"`
	Category      string    `json:"category"`
	Description   string    `json:"description"`
	Priority      string    `json:"priority,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Constraint is an append-only constraint record keyed to a run and phase.
type Constraint struct {
	ID            string    `json:"id"`
	PipelineRunID string    `json:"pipeline_run_id"`
	Phase         Phase     `json:"phase"`
	RuleID        string    `json:"rule_id"`
	Severity      string    `json:"severity"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

// Artifact records an output produced by a phase. Path is opaque — often a
// URI back into the decision store. ContentHash enables change detection.
type Artifact struct {
	ID            string    `json:"id"`
	PipelineRunID string    `json:"pipeline_run_id"`
	Phase         Phase     `json:"phase"`
	Type          string    `json:"type"`
	Path          string    `json:"path"`
	ContentHash   string    `json:"content_hash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TokenUsage is one sub-agent invocation's token accounting, keyed to a run.
type TokenUsage struct {
	ID            string    `json:"id"`
	PipelineRunID string    `json:"pipeline_run_id"`
	Phase         Phase     `json:"phase"`
	Agent         string    `json:"agent"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	CreatedAt     time.Time `json:"created_at"`
}

// ArtifactFilter narrows ListArtifacts queries. Zero values are ignored.
type ArtifactFilter struct {
	PipelineRunID string
	Phase         Phase
	Type          string
	Limit         int
}
