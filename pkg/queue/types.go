// Package queue runs ready tasks on a bounded pool of worker slots. Each
// worker owns one task execution at a time; cross-worker coordination goes
// through the database, never shared memory.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/substrate-run/substrate/pkg/models"
)

var (
	// ErrNoSlots indicates every worker slot is busy.
	ErrNoSlots = errors.New("no worker slots available")

	// ErrPoolStopped indicates the pool is no longer accepting work.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrTaskAlreadyRunning indicates the task is already held by a worker.
	ErrTaskAlreadyRunning = errors.New("task already running")
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// ExecutionResult is the terminal outcome of one task execution.
type ExecutionResult struct {
	Status models.TaskStatus
	Error  error
}

// TaskExecutor runs one task to completion. Implementations own all DB
// writes for the task; the pool only tracks slots and delivers completions.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task) *ExecutionResult
}

// Completion is delivered on the pool's completion channel when a worker
// finishes.
type Completion struct {
	Task     *models.Task
	WorkerID string
	Result   *ExecutionResult
}

// WorkerHealth is a snapshot of one worker's state.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"`
	TasksProcessed int          `json:"tasks_processed"`
	LastActivity   time.Time    `json:"last_activity"`
}

// PoolHealth is a snapshot of the pool.
type PoolHealth struct {
	MaxConcurrency int            `json:"max_concurrency"`
	ActiveWorkers  int            `json:"active_workers"`
	InFlightTasks  []string       `json:"in_flight_tasks,omitempty"`
	Workers        []WorkerHealth `json:"workers"`
}
