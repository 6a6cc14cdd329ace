package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/substrate-run/substrate/pkg/config"
	"github.com/substrate-run/substrate/pkg/cost"
	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/events"
	"github.com/substrate-run/substrate/pkg/gates"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/queue"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/worktree"
)

// PipelineFactory builds the post-task gate pipeline for one task. A nil
// factory (or nil pipeline) skips gating.
type PipelineFactory func(task *models.Task) *gates.Pipeline

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	Tasks      *services.TaskService
	Sessions   *services.SessionService
	Signals    *services.SignalService
	Dispatcher *dispatch.Dispatcher
	Registry   *config.AgentRegistry
	Worktrees  *worktree.Manager
	Emitter    *events.Emitter
	Gates      PipelineFactory
}

// EngineOptions tunes the tick loop.
type EngineOptions struct {
	MaxConcurrency    int
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	DefaultTimeout    time.Duration
	AutoMerge         bool
	BaseBranch        string
}

// Summary is the engine's terminal report for one session.
type Summary struct {
	SessionID      string               `json:"session_id"`
	Status         models.SessionStatus `json:"status"`
	Counts         models.TaskCounts    `json:"counts"`
	TotalCostUSD   float64              `json:"total_cost_usd"`
	BudgetExceeded bool                 `json:"budget_exceeded"`
	Duration       time.Duration        `json:"duration"`
}

// Engine executes one session's task DAG in topological waves. It is the
// queue.TaskExecutor: each worker slot calls back into Execute, which owns
// every DB write for its task.
type Engine struct {
	deps EngineDeps
	opts EngineOptions
	pool *queue.WorkerPool

	sessionID string

	// Static dependent counts for ready-set ordering.
	dependents map[string]int

	// Base-branch merges are single-writer.
	mergeMu sync.Mutex

	paused         bool
	cancelled      bool
	budgetExceeded bool
}

// NewEngine creates an engine for one session.
func NewEngine(deps EngineDeps, opts EngineOptions, sessionID string) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 500 * time.Millisecond
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	e := &Engine{
		deps:       deps,
		opts:       opts,
		sessionID:  sessionID,
		dependents: make(map[string]int),
	}
	e.pool = queue.NewWorkerPool(opts.MaxConcurrency, opts.DefaultTimeout, e)
	return e
}

// Run drives the tick loop until every task is terminal, the session is
// cancelled, or ctx expires. It returns the terminal summary.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	log := slog.With("session_id", e.sessionID)

	deps, err := e.deps.Tasks.ListDependencies(ctx, e.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task dependencies: %w", err)
	}
	for _, d := range deps {
		e.dependents[d.DependsOn]++
	}

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	lastBeat := time.Now()

	for {
		if err := e.consumeSignals(ctx); err != nil {
			log.Warn("Signal processing failed", "error", err)
		}
		if e.cancelled {
			return e.finishCancelled(ctx, started)
		}

		if err := e.enforceSessionBudget(ctx); err != nil {
			return nil, err
		}

		counts, err := e.deps.Tasks.Counts(ctx, e.sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to count tasks: %w", err)
		}
		if counts.AllTerminal() && e.pool.InFlight() == 0 {
			return e.finish(ctx, started, counts)
		}
		// Budget exceeded: once in-flight work has drained, nothing more
		// will ever dispatch.
		if e.budgetExceeded && counts.Running == 0 && counts.Queued == 0 && e.pool.InFlight() == 0 {
			e.pool.Stop()
			if err := e.deps.Sessions.SetStatus(ctx, e.sessionID, models.SessionStatusFailed); err != nil {
				return nil, err
			}
			return e.summarize(ctx, started, models.SessionStatusFailed, counts)
		}

		if counts.Running == 0 && counts.Queued == 0 && e.pool.InFlight() == 0 && !e.paused {
			stalled, err := e.detectStall(ctx, counts)
			if err != nil {
				return nil, err
			}
			if stalled {
				if counts.Blocked > 0 {
					// Human intervention required; park the session.
					e.deps.Emitter.Emit(events.EventStoryStall, events.SnapshotPayload{
						SessionID: e.sessionID,
						Status:    string(models.SessionStatusPaused),
						Counts:    counts,
					})
					return e.finishBlocked(ctx, started, counts)
				}
				// Pending tasks whose dependencies failed can never run.
				return e.finish(ctx, started, counts)
			}
		}

		if !e.paused && !e.budgetExceeded {
			if err := e.dispatchReady(ctx); err != nil {
				log.Warn("Dispatch failed", "error", err)
			}
		}

		if time.Since(lastBeat) >= e.opts.HeartbeatInterval {
			e.deps.Emitter.Emit(events.EventPipelineHeartbeat, events.HeartbeatPayload{
				SessionID: e.sessionID,
				Running:   counts.Running,
				Pending:   counts.Pending,
			})
			lastBeat = time.Now()
		}

		select {
		case <-ctx.Done():
			// Mark the session interrupted so recovery finds it on restart.
			_ = e.deps.Sessions.SetStatus(context.Background(), e.sessionID, models.SessionStatusInterrupted)
			e.pool.CancelAll()
			e.pool.Stop()
			return nil, ctx.Err()
		case c := <-e.pool.Completions():
			if c.Result != nil && c.Result.Error != nil {
				log.Debug("Task execution finished with error",
					"task_id", c.Task.ID, "status", c.Result.Status, "error", c.Result.Error)
			}
		case <-ticker.C:
		}
	}
}

// dispatchReady drains the ready set into free worker slots, ordered by
// (fewer remaining dependents, task id).
func (e *Engine) dispatchReady(ctx context.Context) error {
	if e.pool.AvailableSlots() == 0 {
		return nil
	}
	ready, err := e.deps.Tasks.ListReadyTasks(ctx, e.sessionID)
	if err != nil {
		return err
	}
	sort.SliceStable(ready, func(i, j int) bool {
		di, dj := e.dependents[ready[i].ID], e.dependents[ready[j].ID]
		if di != dj {
			return di < dj
		}
		return ready[i].ID < ready[j].ID
	})

	for _, task := range ready {
		if _, err := e.pool.Submit(ctx, task); err != nil {
			if errors.Is(err, queue.ErrNoSlots) {
				return nil
			}
			if errors.Is(err, queue.ErrTaskAlreadyRunning) {
				continue
			}
			return err
		}
	}
	return nil
}

// detectStall reports whether no further task can ever become ready: nothing
// is running and every remaining pending task has a failed or blocked
// dependency upstream.
func (e *Engine) detectStall(ctx context.Context, counts models.TaskCounts) (bool, error) {
	if counts.Pending == 0 {
		return counts.Blocked > 0, nil
	}
	ready, err := e.deps.Tasks.ListReadyTasks(ctx, e.sessionID)
	if err != nil {
		return false, err
	}
	return len(ready) == 0, nil
}

// consumeSignals applies queued pause/resume/cancel signals in order.
func (e *Engine) consumeSignals(ctx context.Context) error {
	signals, err := e.deps.Signals.Consume(ctx, e.sessionID)
	if err != nil {
		return err
	}
	for _, sig := range signals {
		switch sig.Signal {
		case models.SignalPause:
			if !e.paused {
				e.paused = true
				slog.Info("Session paused", "session_id", e.sessionID)
				_ = e.deps.Sessions.SetStatus(ctx, e.sessionID, models.SessionStatusPaused)
			}
		case models.SignalResume:
			if e.paused {
				e.paused = false
				slog.Info("Session resumed", "session_id", e.sessionID)
				_ = e.deps.Sessions.SetStatus(ctx, e.sessionID, models.SessionStatusActive)
			}
		case models.SignalCancel:
			e.cancelled = true
			slog.Info("Session cancelled", "session_id", e.sessionID)
		}
	}
	return nil
}

// enforceSessionBudget latches budget-exceeded once total cost reaches the
// session cap. In-flight tasks drain; nothing new dispatches.
func (e *Engine) enforceSessionBudget(ctx context.Context) error {
	if e.budgetExceeded {
		return nil
	}
	session, err := e.deps.Sessions.GetSession(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := cost.CheckBudget(cost.ScopeSession, e.sessionID, session.BudgetUSD, session.TotalCostUSD); err != nil {
		e.budgetExceeded = true
		e.deps.Emitter.Emit(events.EventBudgetExceeded, events.BudgetPayload{
			SessionID: e.sessionID,
			Scope:     string(cost.ScopeSession),
			LimitUSD:  *session.BudgetUSD,
			SpentUSD:  session.TotalCostUSD,
		})
		slog.Warn("Session budget exceeded, draining in-flight tasks",
			"session_id", e.sessionID, "limit", *session.BudgetUSD, "spent", session.TotalCostUSD)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, started time.Time, counts models.TaskCounts) (*Summary, error) {
	e.pool.Stop()

	status := models.SessionStatusComplete
	if counts.Failed > 0 {
		status = models.SessionStatusFailed
	}
	if err := e.deps.Sessions.SetStatus(ctx, e.sessionID, status); err != nil {
		return nil, err
	}
	return e.summarize(ctx, started, status, counts)
}

func (e *Engine) finishBlocked(ctx context.Context, started time.Time, counts models.TaskCounts) (*Summary, error) {
	e.pool.Stop()
	if err := e.deps.Sessions.SetStatus(ctx, e.sessionID, models.SessionStatusPaused); err != nil {
		return nil, err
	}
	return e.summarize(ctx, started, models.SessionStatusPaused, counts)
}

// finishCancelled terminates in-flight workers (SIGTERM, then SIGKILL after
// the dispatcher's grace window), cancels remaining non-terminal tasks, and
// fails the session.
func (e *Engine) finishCancelled(ctx context.Context, started time.Time) (*Summary, error) {
	e.pool.CancelAll()
	e.pool.Stop()

	tasks, err := e.deps.Tasks.ListTasks(ctx, e.sessionID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			if err := e.deps.Tasks.CancelTask(ctx, e.sessionID, t.ID); err != nil {
				slog.Warn("Failed to cancel task", "task_id", t.ID, "error", err)
			}
		}
	}
	if err := e.deps.Sessions.SetStatus(ctx, e.sessionID, models.SessionStatusFailed); err != nil {
		return nil, err
	}
	counts, err := e.deps.Tasks.Counts(ctx, e.sessionID)
	if err != nil {
		return nil, err
	}
	return e.summarize(ctx, started, models.SessionStatusFailed, counts)
}

func (e *Engine) summarize(ctx context.Context, started time.Time, status models.SessionStatus, counts models.TaskCounts) (*Summary, error) {
	session, err := e.deps.Sessions.GetSession(ctx, e.sessionID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		SessionID:      e.sessionID,
		Status:         status,
		Counts:         counts,
		TotalCostUSD:   session.TotalCostUSD,
		BudgetExceeded: e.budgetExceeded,
		Duration:       time.Since(started),
	}
	e.deps.Emitter.Emit(events.EventStatusSnapshot, events.SnapshotPayload{
		SessionID: e.sessionID,
		Status:    string(status),
		Counts:    counts,
		CostUSD:   session.TotalCostUSD,
	})
	return summary, nil
}
