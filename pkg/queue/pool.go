package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/substrate-run/substrate/pkg/models"
)

// WorkerPool assigns ready tasks to a bounded set of worker slots. Submit is
// non-blocking: when every slot is busy it returns ErrNoSlots and the caller
// retries on a later tick.
type WorkerPool struct {
	executor TaskExecutor
	workers  []*Worker

	completions chan Completion

	mu      sync.Mutex
	byTask  map[string]*Worker
	busy    map[*Worker]bool
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a pool with maxConcurrency worker slots.
// defaultTimeout bounds tasks that carry no timeout of their own.
func NewWorkerPool(maxConcurrency int, defaultTimeout time.Duration, executor TaskExecutor) *WorkerPool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	p := &WorkerPool{
		executor:    executor,
		workers:     make([]*Worker, maxConcurrency),
		completions: make(chan Completion, maxConcurrency),
		byTask:      make(map[string]*Worker),
		busy:        make(map[*Worker]bool),
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(fmt.Sprintf("worker-%d", i), executor, defaultTimeout)
	}
	return p
}

// Completions delivers finished executions. One entry per successful Submit.
func (p *WorkerPool) Completions() <-chan Completion {
	return p.completions
}

// AvailableSlots returns how many workers are idle.
func (p *WorkerPool) AvailableSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers) - len(p.busy)
}

// InFlight returns the number of running executions.
func (p *WorkerPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// Submit hands a task to an idle worker. The worker runs the executor in its
// own goroutine and delivers a Completion when done.
func (p *WorkerPool) Submit(ctx context.Context, task *models.Task) (string, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return "", ErrPoolStopped
	}
	if _, running := p.byTask[task.ID]; running {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, task.ID)
	}
	var worker *Worker
	for _, w := range p.workers {
		if !p.busy[w] {
			worker = w
			break
		}
	}
	if worker == nil {
		p.mu.Unlock()
		return "", ErrNoSlots
	}
	p.byTask[task.ID] = worker
	p.busy[worker] = true
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		result := worker.execute(ctx, task)

		p.mu.Lock()
		delete(p.byTask, task.ID)
		delete(p.busy, worker)
		p.mu.Unlock()

		p.completions <- Completion{Task: task, WorkerID: worker.ID(), Result: result}
	}()

	return worker.ID(), nil
}

// CancelTask terminates the worker running the task, if any. Returns true
// when a worker was found.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.Lock()
	worker, ok := p.byTask[taskID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	worker.Terminate()
	return true
}

// CancelAll terminates every in-flight execution.
func (p *WorkerPool) CancelAll() {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.byTask))
	for _, w := range p.byTask {
		workers = append(workers, w)
	}
	p.mu.Unlock()
	for _, w := range workers {
		w.Terminate()
	}
}

// Stop refuses new work and waits for in-flight executions to finish. The
// caller decides whether to CancelAll first (hard stop) or let tasks drain.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	inFlight := len(p.busy)
	p.mu.Unlock()

	if inFlight > 0 {
		slog.Info("Waiting for in-flight tasks to complete", "count", inFlight)
	}
	p.wg.Wait()
	close(p.completions)
	slog.Info("Worker pool stopped")
}

// Health returns a snapshot of the pool and its workers.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.Lock()
	inFlight := make([]string, 0, len(p.byTask))
	for id := range p.byTask {
		inFlight = append(inFlight, id)
	}
	p.mu.Unlock()

	health := PoolHealth{
		MaxConcurrency: len(p.workers),
		InFlightTasks:  inFlight,
		Workers:        make([]WorkerHealth, len(p.workers)),
	}
	for i, w := range p.workers {
		health.Workers[i] = w.Health()
		if health.Workers[i].Status == WorkerStatusWorking {
			health.ActiveWorkers++
		}
	}
	return health
}
