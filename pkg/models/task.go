package models

import "time"

// TaskStatus is the lifecycle status of a single task.
type TaskStatus string

// Task statuses.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusReady     TaskStatus = "ready"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusBlocked   TaskStatus = "blocked"
)

// IsValid checks whether the task status is known.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusQueued, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the task will not execute again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// SatisfiesDependency reports whether a dependency in this status unblocks
// its dependents. Failed and blocked dependencies keep dependents pending.
func (s TaskStatus) SatisfiesDependency() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Task is one unit of work in an implementation session's task graph.
type Task struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"session_id"`
	Name           string      `json:"name"`
	Prompt         string      `json:"prompt"`
	Status         TaskStatus  `json:"status"`
	Agent          string      `json:"agent,omitempty"`
	Model          string      `json:"model,omitempty"`
	BillingMode    BillingMode `json:"billing_mode,omitempty"`
	WorktreePath   string      `json:"worktree_path,omitempty"`
	WorktreeBranch string      `json:"worktree_branch,omitempty"`
	WorkerID       *string     `json:"worker_id,omitempty"`
	BudgetUSD      *float64    `json:"budget_usd,omitempty"`
	CostUSD        float64     `json:"cost_usd"`
	InputTokens    int         `json:"input_tokens"`
	OutputTokens   int         `json:"output_tokens"`
	Result         string      `json:"result,omitempty"`
	Error          string      `json:"error,omitempty"`
	ExitCode       *int        `json:"exit_code,omitempty"`
	RetryCount     int         `json:"retry_count"`
	MaxRetries     int         `json:"max_retries"`
	TaskType       string      `json:"task_type,omitempty"`
	TimeoutMS      int         `json:"timeout_ms,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TaskDependency is one edge of the task DAG. Self-loops are rejected both
// here and by the DB check constraint.
type TaskDependency struct {
	TaskID    string `json:"task_id"`
	DependsOn string `json:"depends_on"`
}

// TaskCounts summarizes a session's tasks by status.
type TaskCounts struct {
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Blocked   int `json:"blocked"`
}

// Total returns the number of tasks across all statuses.
func (c TaskCounts) Total() int {
	return c.Pending + c.Ready + c.Queued + c.Running + c.Completed + c.Failed + c.Cancelled + c.Blocked
}

// AllTerminal reports whether every task is completed, failed, or cancelled.
// Blocked tasks are not terminal: they wait for human intervention.
func (c TaskCounts) AllTerminal() bool {
	return c.Pending == 0 && c.Ready == 0 && c.Queued == 0 && c.Running == 0 && c.Blocked == 0
}
