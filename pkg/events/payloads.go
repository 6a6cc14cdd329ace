package events

import "github.com/substrate-run/substrate/pkg/models"

// PipelineStartPayload is the payload for pipeline:start events.
type PipelineStartPayload struct {
	RunID       string `json:"run_id"`
	SessionID   string `json:"session_id,omitempty"` // set once the session exists
	Methodology string `json:"methodology"`
	FromPhase   string `json:"from_phase,omitempty"`
	StopAfter   string `json:"stop_after,omitempty"`
	ParentRunID string `json:"parent_run_id,omitempty"` // set on amendment runs
}

// PipelineCompletePayload is the payload for pipeline:complete events.
type PipelineCompletePayload struct {
	RunID        string  `json:"run_id"`
	Status       string  `json:"status"` // completed, failed, cancelled
	DurationMS   int64   `json:"duration_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Error        string  `json:"error,omitempty"`
}

// HeartbeatPayload is the payload for pipeline:heartbeat events, emitted
// periodically while the engine idles.
type HeartbeatPayload struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id,omitempty"`
	Running   int    `json:"running"`
	Pending   int    `json:"pending"`
}

// PhasePayload is the payload for story:phase events.
type PhasePayload struct {
	RunID  string `json:"run_id"`
	Phase  string `json:"phase"`
	Status string `json:"status"` // started, completed, failed
}

// TaskPayload is the payload for task:started, task:complete and task:failed.
type TaskPayload struct {
	SessionID string  `json:"session_id"`
	TaskID    string  `json:"task_id"`
	Name      string  `json:"name,omitempty"`
	WorkerID  string  `json:"worker_id,omitempty"`
	Agent     string  `json:"agent,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
	Error     string  `json:"error,omitempty"`
	ExitCode  *int    `json:"exit_code,omitempty"`
}

// CostRecordedPayload is the payload for cost:recorded events.
type CostRecordedPayload struct {
	SessionID    string  `json:"session_id"`
	TaskID       string  `json:"task_id,omitempty"`
	Agent        string  `json:"agent,omitempty"`
	Model        string  `json:"model,omitempty"`
	BillingMode  string  `json:"billing_mode"`
	CostUSD      float64 `json:"cost_usd"`
	SavingsUSD   float64 `json:"savings_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// BudgetPayload is the payload for budget:warning and budget:exceeded.
type BudgetPayload struct {
	SessionID string  `json:"session_id"`
	Scope     string  `json:"scope"` // task or session
	TaskID    string  `json:"task_id,omitempty"`
	LimitUSD  float64 `json:"limit_usd"`
	SpentUSD  float64 `json:"spent_usd"`
}

// WorktreePayload is the payload for worktree:* events.
type WorktreePayload struct {
	SessionID        string   `json:"session_id"`
	TaskID           string   `json:"task_id"`
	Branch           string   `json:"branch,omitempty"`
	Path             string   `json:"path,omitempty"`
	TargetBranch     string   `json:"target_branch,omitempty"`
	MergedFiles      []string `json:"merged_files,omitempty"`
	ConflictingFiles []string `json:"conflicting_files,omitempty"`
}

// SnapshotPayload is the payload for status:snapshot events.
type SnapshotPayload struct {
	SessionID string            `json:"session_id"`
	RunID     string            `json:"run_id,omitempty"`
	Status    string            `json:"status"`
	Counts    models.TaskCounts `json:"counts"`
	CostUSD   float64           `json:"cost_usd"`
	Running   []string          `json:"running,omitempty"`
}

// ErrorPayload is the terminal payload for machine-facing error reporting.
type ErrorPayload struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}
