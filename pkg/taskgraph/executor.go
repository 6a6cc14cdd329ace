package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/substrate-run/substrate/pkg/cost"
	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/events"
	"github.com/substrate-run/substrate/pkg/gates"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/queue"
)

// Execute runs one task end to end: worktree, dispatch, gates, merge. It
// owns every DB write for the task, so the task's state transition and its
// cost entry always commit together.
func (e *Engine) Execute(ctx context.Context, task *models.Task) *queue.ExecutionResult {
	log := slog.With("session_id", task.SessionID, "task_id", task.ID)

	workerID := ""
	if task.WorkerID != nil {
		workerID = *task.WorkerID
	}

	wt, err := e.deps.Worktrees.Create(ctx, task.ID, e.opts.BaseBranch)
	if err != nil {
		log.Error("Worktree creation failed", "error", err)
		return e.failOrRetry(task, fmt.Sprintf("worktree creation failed: %v", err), nil, nil)
	}
	e.deps.Emitter.Emit(events.EventWorktreeCreated, events.WorktreePayload{
		SessionID: task.SessionID, TaskID: task.ID, Branch: wt.Branch, Path: wt.Path,
	})

	if err := e.deps.Tasks.MarkRunning(ctx, task.SessionID, task.ID, workerID, wt.Path, wt.Branch); err != nil {
		e.cleanupWorktree(task)
		return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: err}
	}
	e.deps.Emitter.Emit(events.EventTaskStarted, events.TaskPayload{
		SessionID: task.SessionID, TaskID: task.ID, Name: task.Name,
		WorkerID: workerID, Agent: task.Agent,
	})

	agentName, adapter, err := e.deps.Registry.Resolve(task.Agent)
	if err != nil {
		e.cleanupWorktree(task)
		return e.failOrRetry(task, fmt.Sprintf("agent %q is not registered. Run: substrate adapters --health", task.Agent), nil, nil)
	}

	var timeout time.Duration
	if task.TimeoutMS > 0 {
		timeout = time.Duration(task.TimeoutMS) * time.Millisecond
	}
	result, err := e.deps.Dispatcher.Dispatch(ctx, dispatch.Request{
		Agent:    agentName,
		TaskType: task.TaskType,
		Prompt:   task.Prompt,
		Timeout:  timeout,
		Dir:      wt.Path,
	})
	if err != nil {
		e.cleanupWorktree(task)
		if errors.Is(err, dispatch.ErrAgentUnavailable) {
			// Unavailable agents don't burn retries: the task fails
			// terminally with the actionable message.
			return e.failTerminal(task, err.Error(), nil, nil)
		}
		return e.failOrRetry(task, err.Error(), nil, nil)
	}

	model := task.Model
	if model == "" {
		model = adapter.Model
	}
	entry := cost.NewEntry(agentName, adapter.Provider, model,
		models.BillingMode(adapter.BillingMode),
		result.TokenEstimate.Input, result.TokenEstimate.Output)
	if err := cost.CheckBudget(cost.ScopeTask, task.ID, task.BudgetUSD, task.CostUSD+entry.CostUSD); err != nil {
		e.deps.Emitter.Emit(events.EventBudgetWarning, events.BudgetPayload{
			SessionID: task.SessionID, Scope: string(cost.ScopeTask), TaskID: task.ID,
			LimitUSD: *task.BudgetUSD, SpentUSD: task.CostUSD + entry.CostUSD,
		})
	}

	switch result.Status {
	case dispatch.StatusTimeout:
		e.cleanupWorktree(task)
		return e.failOrRetry(task, "sub-agent timed out", nil, entry)
	case dispatch.StatusFailed:
		e.cleanupWorktree(task)
		msg := result.ParseError
		if msg == "" {
			msg = fmt.Sprintf("sub-agent exited %d: %s", result.ExitCode, tail(result.Stderr, 500))
		}
		return e.failOrRetry(task, msg, &result.ExitCode, entry)
	}

	if declaredFailure(result.Parsed) {
		e.cleanupWorktree(task)
		return e.failOrRetry(task, dispatch.ErrAgentReportedFailure.Error(), nil, entry)
	}

	if action := e.runGates(task, result.Parsed); action != gates.ActionProceed {
		switch action {
		case gates.ActionRetry:
			e.cleanupWorktree(task)
			return e.failOrRetry(task, "quality gates requested rework", nil, entry)
		case gates.ActionEscalate:
			e.deps.Emitter.Emit(events.EventStoryEscalation, events.TaskPayload{
				SessionID: task.SessionID, TaskID: task.ID, Name: task.Name,
			})
			e.cleanupWorktree(task)
			return e.block(task, "quality gates escalated for human review", entry)
		}
		// warn: gates are out of retries but the work stands; proceed with
		// the warning on the record.
		e.deps.Emitter.Emit(events.EventStoryWarn, events.TaskPayload{
			SessionID: task.SessionID, TaskID: task.ID, Name: task.Name,
			Error: "quality gates exhausted retries",
		})
	}

	if e.opts.AutoMerge {
		e.mergeMu.Lock()
		merge, err := e.deps.Worktrees.Merge(ctx, task.ID, e.opts.BaseBranch)
		e.mergeMu.Unlock()
		if err != nil {
			e.cleanupWorktree(task)
			return e.failOrRetry(task, fmt.Sprintf("merge failed: %v", err), nil, entry)
		}
		if !merge.Success {
			e.deps.Emitter.Emit(events.EventWorktreeConflict, events.WorktreePayload{
				SessionID: task.SessionID, TaskID: task.ID,
				TargetBranch:     merge.Conflicts.TargetBranch,
				ConflictingFiles: merge.Conflicts.ConflictingFiles,
			})
			// The worktree stays on disk for the human resolving the
			// conflict.
			return e.block(task,
				fmt.Sprintf("merge conflicts in %v", merge.Conflicts.ConflictingFiles), entry)
		}
		e.deps.Emitter.Emit(events.EventWorktreeMerged, events.WorktreePayload{
			SessionID: task.SessionID, TaskID: task.ID,
			TargetBranch: e.opts.BaseBranch, MergedFiles: merge.MergedFiles,
		})
		e.cleanupWorktree(task)
	}

	if err := e.deps.Tasks.CompleteTask(context.Background(), task.SessionID, task.ID, result.Output, entry); err != nil {
		return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: err}
	}
	e.emitCost(task, entry)
	e.deps.Emitter.Emit(events.EventTaskComplete, events.TaskPayload{
		SessionID: task.SessionID, TaskID: task.ID, Name: task.Name,
		WorkerID: workerID, Agent: agentName, CostUSD: entry.CostUSD,
	})
	e.deps.Emitter.Emit(events.EventStoryDone, events.TaskPayload{
		SessionID: task.SessionID, TaskID: task.ID, Name: task.Name,
	})
	return &queue.ExecutionResult{Status: models.TaskStatusCompleted}
}

// runGates evaluates the task's gate pipeline over the parsed output.
func (e *Engine) runGates(task *models.Task, parsed map[string]any) gates.Action {
	if e.deps.Gates == nil || parsed == nil {
		return gates.ActionProceed
	}
	pipeline := e.deps.Gates(task)
	if pipeline == nil {
		return gates.ActionProceed
	}
	result := pipeline.Run(parsed)
	for _, issue := range result.Issues {
		e.deps.Emitter.Emit(events.EventStoryLog, events.TaskPayload{
			SessionID: task.SessionID, TaskID: task.ID,
			Error: fmt.Sprintf("[%s] %s", issue.Gate, issue.Message),
		})
	}
	return result.Action
}

// failOrRetry requeues the task when retries remain, otherwise fails it
// terminally. Uses a background context so terminal writes survive task
// cancellation.
func (e *Engine) failOrRetry(task *models.Task, msg string, exitCode *int, entry *models.CostEntry) *queue.ExecutionResult {
	ctx := context.Background()
	if task.RetryCount < task.MaxRetries {
		if err := e.deps.Tasks.RequeueForRetry(ctx, task.SessionID, task.ID, msg, entry); err != nil {
			return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: err}
		}
		e.emitCost(task, entry)
		slog.Info("Task requeued for retry",
			"task_id", task.ID, "retry", task.RetryCount+1, "max_retries", task.MaxRetries, "reason", msg)
		return &queue.ExecutionResult{Status: models.TaskStatusPending, Error: errors.New(msg)}
	}
	return e.failTerminal(task, msg, exitCode, entry)
}

func (e *Engine) failTerminal(task *models.Task, msg string, exitCode *int, entry *models.CostEntry) *queue.ExecutionResult {
	if err := e.deps.Tasks.FailTaskTerminal(context.Background(), task.SessionID, task.ID, msg, exitCode, entry); err != nil {
		return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: err}
	}
	e.emitCost(task, entry)
	e.deps.Emitter.Emit(events.EventTaskFailed, events.TaskPayload{
		SessionID: task.SessionID, TaskID: task.ID, Name: task.Name,
		Error: msg, ExitCode: exitCode,
	})
	return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: errors.New(msg)}
}

func (e *Engine) block(task *models.Task, msg string, entry *models.CostEntry) *queue.ExecutionResult {
	if err := e.deps.Tasks.BlockTask(context.Background(), task.SessionID, task.ID, msg, entry); err != nil {
		return &queue.ExecutionResult{Status: models.TaskStatusFailed, Error: err}
	}
	e.emitCost(task, entry)
	return &queue.ExecutionResult{Status: models.TaskStatusBlocked, Error: errors.New(msg)}
}

// emitCost reports a persisted cost entry. Called only after the task
// transaction that wrote the entry committed, so every cost:recorded line
// reflects a durable row.
func (e *Engine) emitCost(task *models.Task, entry *models.CostEntry) {
	if entry == nil {
		return
	}
	e.deps.Emitter.Emit(events.EventCostRecorded, events.CostRecordedPayload{
		SessionID: task.SessionID, TaskID: task.ID, Agent: entry.Agent,
		Model: entry.Model, BillingMode: string(entry.BillingMode),
		CostUSD: entry.CostUSD, SavingsUSD: entry.SavingsUSD,
		InputTokens: entry.TokensIn, OutputTokens: entry.TokensOut,
	})
}

func (e *Engine) cleanupWorktree(task *models.Task) {
	if err := e.deps.Worktrees.Cleanup(context.Background(), task.ID); err != nil {
		slog.Warn("Worktree cleanup failed", "task_id", task.ID, "error", err)
		return
	}
	e.deps.Emitter.Emit(events.EventWorktreeRemoved, events.WorktreePayload{
		SessionID: task.SessionID, TaskID: task.ID,
	})
}

// declaredFailure reports whether the structured output carries
// result: failed.
func declaredFailure(parsed map[string]any) bool {
	if parsed == nil {
		return false
	}
	v, ok := parsed["result"].(string)
	return ok && v == "failed"
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
