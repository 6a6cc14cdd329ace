package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/substrate-run/substrate/pkg/models"
)

// TaskService manages task rows, dependencies, and the ready-set view.
// Task state and the cost entry for the same task always commit in one
// transaction so budget counters never drift from recorded entries.
type TaskService struct {
	db *sql.DB
}

// NewTaskService creates a new TaskService.
func NewTaskService(db *sql.DB) *TaskService {
	return &TaskService{db: db}
}

// CreateTasks inserts a session's tasks and dependency edges in one
// transaction. Self-dependencies are rejected here and by the DB check.
func (s *TaskService) CreateTasks(ctx context.Context, sessionID string, tasks []*models.Task, deps []models.TaskDependency) error {
	for _, d := range deps {
		if d.TaskID == d.DependsOn {
			return fmt.Errorf("%w: %s", ErrSelfDependency, d.TaskID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, session_id, name, prompt, status, agent, model,
			                    billing_mode, budget_usd, max_retries, task_type, timeout_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, sessionID, t.Name, t.Prompt, models.TaskStatusPending, t.Agent, t.Model,
			t.BillingMode, t.BudgetUSD, t.MaxRetries, t.TaskType, t.TimeoutMS)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
	}
	for _, d := range deps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_dependencies (session_id, task_id, depends_on) VALUES (?, ?, ?)`,
			sessionID, d.TaskID, d.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", d.TaskID, d.DependsOn, err)
		}
	}
	return tx.Commit()
}

const taskColumns = `id, session_id, name, prompt, status, agent, model, billing_mode,
	worktree_path, worktree_branch, worker_id, budget_usd, cost_usd, input_tokens,
	output_tokens, result, error, exit_code, retry_count, max_retries, task_type,
	timeout_ms, started_at, completed_at, created_at, updated_at`

// GetTask loads one task.
func (s *TaskService) GetTask(ctx context.Context, sessionID, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE session_id = ? AND id = ?`, sessionID, taskID)
	return scanTask(row)
}

// ListTasks returns all tasks for a session in creation order.
func (s *TaskService) ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListReadyTasks returns pending tasks whose every dependency is completed
// or cancelled, ordered by id for deterministic draining.
func (s *TaskService) ListReadyTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks t
		 WHERE t.session_id = ? AND t.status = 'pending'
		   AND NOT EXISTS (
		     SELECT 1 FROM task_dependencies d
		     JOIN tasks dep ON dep.session_id = d.session_id AND dep.id = d.depends_on
		     WHERE d.session_id = t.session_id AND d.task_id = t.id
		       AND dep.status NOT IN ('completed', 'cancelled')
		   )
		 ORDER BY t.id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListDependencies returns all dependency edges for a session.
func (s *TaskService) ListDependencies(ctx context.Context, sessionID string) ([]models.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, depends_on FROM task_dependencies WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []models.TaskDependency
	for rows.Next() {
		var d models.TaskDependency
		if err := rows.Scan(&d.TaskID, &d.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// Counts returns the session's task counts by status.
func (s *TaskService) Counts(ctx context.Context, sessionID string) (models.TaskCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE session_id = ? GROUP BY status`, sessionID)
	if err != nil {
		return models.TaskCounts{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	var counts models.TaskCounts
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.TaskCounts{}, fmt.Errorf("failed to scan task count: %w", err)
		}
		switch status {
		case models.TaskStatusPending:
			counts.Pending = n
		case models.TaskStatusReady:
			counts.Ready = n
		case models.TaskStatusQueued:
			counts.Queued = n
		case models.TaskStatusRunning:
			counts.Running = n
		case models.TaskStatusCompleted:
			counts.Completed = n
		case models.TaskStatusFailed:
			counts.Failed = n
		case models.TaskStatusCancelled:
			counts.Cancelled = n
		case models.TaskStatusBlocked:
			counts.Blocked = n
		}
	}
	return counts, rows.Err()
}

// MarkRunning transitions a task to running and records its worker and worktree.
func (s *TaskService) MarkRunning(ctx context.Context, sessionID, taskID, workerID, worktreePath, worktreeBranch string) error {
	return s.transition(ctx,
		`UPDATE tasks SET status = 'running', worker_id = ?, worktree_path = ?,
		        worktree_branch = ?, started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND id = ?`,
		workerID, worktreePath, worktreeBranch, sessionID, taskID)
}

// CompleteTask marks the task completed and records its cost entry plus the
// session cost increment, all in one transaction.
func (s *TaskService) CompleteTask(ctx context.Context, sessionID, taskID, result string, entry *models.CostEntry) error {
	return s.finishTask(ctx, sessionID, taskID, models.TaskStatusCompleted, result, "", nil, entry)
}

// FailTaskTerminal marks the task failed (retries exhausted) and records any
// cost incurred by the failed attempt.
func (s *TaskService) FailTaskTerminal(ctx context.Context, sessionID, taskID, errMsg string, exitCode *int, entry *models.CostEntry) error {
	return s.finishTask(ctx, sessionID, taskID, models.TaskStatusFailed, "", errMsg, exitCode, entry)
}

// BlockTask marks the task blocked (e.g. merge conflict needing human
// intervention) and records the attempt's cost.
func (s *TaskService) BlockTask(ctx context.Context, sessionID, taskID, errMsg string, entry *models.CostEntry) error {
	return s.finishTask(ctx, sessionID, taskID, models.TaskStatusBlocked, "", errMsg, nil, entry)
}

// RequeueForRetry returns a failed attempt to pending with an incremented
// retry count, recording the attempt's cost in the same transaction.
func (s *TaskService) RequeueForRetry(ctx context.Context, sessionID, taskID, errMsg string, entry *models.CostEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', retry_count = retry_count + 1, worker_id = NULL,
		        error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND id = ?`,
		errMsg, sessionID, taskID)
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	if entry != nil {
		if err := insertCostEntry(ctx, tx, sessionID, taskID, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CancelTask marks a task cancelled.
func (s *TaskService) CancelTask(ctx context.Context, sessionID, taskID string) error {
	return s.transition(ctx,
		`UPDATE tasks SET status = 'cancelled', worker_id = NULL,
		        completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND id = ?`,
		sessionID, taskID)
}

// RecoveryResult reports what crash recovery did to running tasks.
type RecoveryResult struct {
	Recovered int
	Failed    int
}

// RecoverRunningTasks reconciles tasks left in running state by a crash:
// retryable ones return to pending with an incremented retry count, the rest
// fail terminally. Idempotent — a clean database yields zero counts.
func (s *TaskService) RecoverRunningTasks(ctx context.Context) (RecoveryResult, error) {
	var result RecoveryResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'pending', retry_count = retry_count + 1, worker_id = NULL,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'running' AND retry_count < max_retries`)
	if err != nil {
		return result, fmt.Errorf("failed to requeue crashed tasks: %w", err)
	}
	recovered, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to read recovery result: %w", err)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'failed', worker_id = NULL,
		        error = 'crash + retries exhausted',
		        completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'running'`)
	if err != nil {
		return result, fmt.Errorf("failed to fail exhausted tasks: %w", err)
	}
	failed, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to read recovery result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit recovery: %w", err)
	}
	result.Recovered = int(recovered)
	result.Failed = int(failed)
	return result, nil
}

func (s *TaskService) finishTask(ctx context.Context, sessionID, taskID string, status models.TaskStatus, result, errMsg string, exitCode *int, entry *models.CostEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var tokensIn, tokensOut int
	var costUSD float64
	if entry != nil {
		tokensIn, tokensOut, costUSD = entry.TokensIn, entry.TokensOut, entry.CostUSD
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, error = ?, exit_code = ?, worker_id = NULL,
		        cost_usd = cost_usd + ?, input_tokens = input_tokens + ?, output_tokens = output_tokens + ?,
		        completed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE session_id = ? AND id = ?`,
		status, result, errMsg, exitCode, costUSD, tokensIn, tokensOut, sessionID, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	if entry != nil {
		if err := insertCostEntry(ctx, tx, sessionID, taskID, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertCostEntry writes the cost entry and increments the session total
// inside the caller's transaction.
func insertCostEntry(ctx context.Context, tx *sql.Tx, sessionID, taskID string, entry *models.CostEntry) error {
	if !entry.BillingMode.IsValid() {
		return NewValidationError("billing_mode", fmt.Sprintf("unknown billing mode %q", entry.BillingMode))
	}
	id := uuid.New().String()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cost_entries (id, session_id, task_id, agent, provider, model,
		                           billing_mode, tokens_in, tokens_out, cost_usd, savings_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, taskID, entry.Agent, entry.Provider, entry.Model,
		entry.BillingMode, entry.TokensIn, entry.TokensOut, entry.CostUSD, entry.SavingsUSD)
	if err != nil {
		return fmt.Errorf("failed to insert cost entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET total_cost_usd = total_cost_usd + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		entry.CostUSD, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session cost: %w", err)
	}
	entry.ID = id
	entry.SessionID = sessionID
	entry.TaskID = &taskID
	entry.CreatedAt = time.Now().UTC()
	return nil
}

func (s *TaskService) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(&t.ID, &t.SessionID, &t.Name, &t.Prompt, &t.Status, &t.Agent, &t.Model,
		&t.BillingMode, &t.WorktreePath, &t.WorktreeBranch, &t.WorkerID, &t.BudgetUSD,
		&t.CostUSD, &t.InputTokens, &t.OutputTokens, &t.Result, &t.Error, &t.ExitCode,
		&t.RetryCount, &t.MaxRetries, &t.TaskType, &t.TimeoutMS,
		&t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
