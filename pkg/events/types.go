// Package events emits the NDJSON event stream: one JSON object per line,
// fire-and-forget. Consumers re-derive state from the database; the stream
// is a progress feed, not a source of truth.
package events

// Canonical event names.
const (
	EventPipelineStart     = "pipeline:start"
	EventPipelineComplete  = "pipeline:complete"
	EventPipelineHeartbeat = "pipeline:heartbeat"

	EventStoryPhase      = "story:phase"
	EventStoryDone       = "story:done"
	EventStoryEscalation = "story:escalation"
	EventStoryWarn       = "story:warn"
	EventStoryLog        = "story:log"
	EventStoryStall      = "story:stall"

	EventStatusSnapshot = "status:snapshot"
	EventCostRecorded   = "cost:recorded"

	EventTaskStarted  = "task:started"
	EventTaskComplete = "task:complete"
	EventTaskFailed   = "task:failed"

	EventBudgetWarning  = "budget:warning"
	EventBudgetExceeded = "budget:exceeded"

	EventWorktreeCreated  = "worktree:created"
	EventWorktreeMerged   = "worktree:merged"
	EventWorktreeConflict = "worktree:conflict"
	EventWorktreeRemoved  = "worktree:removed"

	EventError = "error"
)
