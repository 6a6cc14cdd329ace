// Package models defines the row structs and status enums shared by the
// store layer, the task-graph engine, and the phase orchestrator.
package models

import "time"

// Phase is one step of the pipeline state machine.
type Phase string

// Pipeline phases, in execution order.
const (
	PhaseAnalysis       Phase = "analysis"
	PhasePlanning       Phase = "planning"
	PhaseSolutioning    Phase = "solutioning"
	PhaseImplementation Phase = "implementation"
)

// PhaseSequence is the canonical phase order.
var PhaseSequence = []Phase{PhaseAnalysis, PhasePlanning, PhaseSolutioning, PhaseImplementation}

// IsValid checks whether the phase is a known pipeline phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseAnalysis, PhasePlanning, PhaseSolutioning, PhaseImplementation:
		return true
	default:
		return false
	}
}

// Index returns the position of the phase in PhaseSequence, or -1.
func (p Phase) Index() int {
	for i, ph := range PhaseSequence {
		if ph == p {
			return i
		}
	}
	return -1
}

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

// Pipeline run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// IsValid checks whether the run status is known.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusPaused, RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the run can no longer advance.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusStopped
}

// PipelineRun is one end-to-end execution of the phase state machine.
// Amendment runs reference their parent via ParentRunID; the link is never
// reversed.
type PipelineRun struct {
	ID                 string    `json:"id"`
	Methodology        string    `json:"methodology"`
	CurrentPhase       *Phase    `json:"current_phase,omitempty"`
	Status             RunStatus `json:"status"`
	ConfigSnapshot     string    `json:"config_snapshot,omitempty"`
	TokenUsageSnapshot string    `json:"token_usage_snapshot,omitempty"`
	ParentRunID        *string   `json:"parent_run_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsAmendment reports whether the run inherits decisions from a parent.
func (r *PipelineRun) IsAmendment() bool {
	return r.ParentRunID != nil && *r.ParentRunID != ""
}
