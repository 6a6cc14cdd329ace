package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/worktree"
)

// RecoveryManager reconciles state left behind by a crashed run: tasks stuck
// in running, orphaned worktrees, and the interrupted session marker.
type RecoveryManager struct {
	tasks     *services.TaskService
	sessions  *services.SessionService
	worktrees *worktree.Manager
}

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	TasksRequeued int `json:"tasks_requeued"`
	TasksFailed   int `json:"tasks_failed"`
}

// NewRecoveryManager creates a RecoveryManager.
func NewRecoveryManager(tasks *services.TaskService, sessions *services.SessionService, worktrees *worktree.Manager) *RecoveryManager {
	return &RecoveryManager{tasks: tasks, sessions: sessions, worktrees: worktrees}
}

// Run reconciles running tasks and kicks off worktree cleanup. Idempotent:
// on a clean database it does nothing. Worktree cleanup is asynchronous and
// best-effort; its errors are logged, never returned.
func (m *RecoveryManager) Run(ctx context.Context) (*RecoveryReport, error) {
	result, err := m.tasks.RecoverRunningTasks(ctx)
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{
		TasksRequeued: result.Recovered,
		TasksFailed:   result.Failed,
	}
	if report.TasksRequeued > 0 || report.TasksFailed > 0 {
		slog.Info("Recovered crashed tasks",
			"requeued", report.TasksRequeued, "failed", report.TasksFailed)
	}

	go func() {
		removed, err := m.worktrees.CleanupAll(context.Background())
		if err != nil {
			slog.Warn("Orphan worktree cleanup failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("Removed orphan worktrees", "count", removed)
		}
	}()

	return report, nil
}

// FindInterruptedSession returns the most recent interrupted session, or nil
// when there is none.
func (m *RecoveryManager) FindInterruptedSession(ctx context.Context) (*models.Session, error) {
	session, err := m.sessions.FindInterruptedSession(ctx)
	if errors.Is(err, services.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// ArchiveSession marks an interrupted session abandoned.
func (m *RecoveryManager) ArchiveSession(ctx context.Context, sessionID string) error {
	return m.sessions.ArchiveSession(ctx, sessionID)
}
