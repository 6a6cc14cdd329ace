package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/substrate-run/substrate/pkg/models"
)

// Worker owns one task execution: spawned, running, exited. The underlying
// sub-agent process lifecycle (TERM-then-KILL on cancel) is handled by the
// dispatcher; Terminate here just cancels the worker's context.
type Worker struct {
	id       string
	executor TaskExecutor
	timeout  time.Duration

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
	cancel         context.CancelFunc
}

// NewWorker creates an idle worker.
func NewWorker(id string, executor TaskExecutor, timeout time.Duration) *Worker {
	return &Worker{
		id:           id,
		executor:     executor,
		timeout:      timeout,
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Health returns the worker's current state.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// Terminate cancels the worker's in-flight execution, if any. The dispatcher
// sends the child SIGTERM, then SIGKILL after its grace window.
func (w *Worker) Terminate() {
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// execute runs one task to completion, synthesizing a safe result when the
// executor returns nil or the context expired underneath it.
func (w *Worker) execute(ctx context.Context, task *models.Task) *ExecutionResult {
	timeout := w.timeout
	if task.TimeoutMS > 0 {
		timeout = time.Duration(task.TimeoutMS) * time.Millisecond
	}

	taskCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	w.setWorking(task.ID, cancel)
	defer w.setIdle()

	// The executor needs the claiming worker's id for the DB transition.
	workerID := w.id
	task.WorkerID = &workerID

	log := slog.With("worker_id", w.id, "task_id", task.ID, "session_id", task.SessionID)
	log.Info("Worker picked up task")

	result := w.executor.Execute(taskCtx, task)

	if result == nil {
		switch {
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{
				Status: models.TaskStatusFailed,
				Error:  fmt.Errorf("task timed out after %v", timeout),
			}
		case errors.Is(taskCtx.Err(), context.Canceled):
			result = &ExecutionResult{
				Status: models.TaskStatusCancelled,
				Error:  context.Canceled,
			}
		default:
			result = &ExecutionResult{
				Status: models.TaskStatusFailed,
				Error:  fmt.Errorf("executor returned nil result"),
			}
		}
	}

	log.Info("Worker finished task", "status", result.Status)
	return result
}

func (w *Worker) setWorking(taskID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerStatusWorking
	w.currentTaskID = taskID
	w.cancel = cancel
	w.lastActivity = time.Now()
}

func (w *Worker) setIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerStatusIdle
	w.currentTaskID = ""
	w.cancel = nil
	w.tasksProcessed++
	w.lastActivity = time.Now()
}
