package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/substrate-run/substrate/pkg/models"
)

// SessionService manages implementation session lifecycle.
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

// CreateSessionRequest contains fields for creating a session.
type CreateSessionRequest struct {
	GraphFile  string
	BaseBranch string
	BudgetUSD  *float64
}

// CreateSession creates a new active session.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if req.GraphFile == "" {
		return nil, NewValidationError("graph_file", "required")
	}
	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = "main"
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, graph_file, status, base_branch, budget_usd)
		 VALUES (?, ?, ?, ?, ?)`,
		id, req.GraphFile, models.SessionStatusActive, baseBranch, req.BudgetUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession loads one session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_file, status, base_branch, budget_usd, total_cost_usd,
		        planning_cost_usd, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// SetStatus transitions the session to the given status.
func (s *SessionService) SetStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if !status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// AddPlanningCost accumulates planning-phase cost onto the session.
func (s *SessionService) AddPlanningCost(ctx context.Context, sessionID string, costUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET planning_cost_usd = planning_cost_usd + ?,
		     total_cost_usd = total_cost_usd + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		costUSD, costUSD, sessionID)
	if err != nil {
		return fmt.Errorf("failed to add planning cost: %w", err)
	}
	return nil
}

// FindInterruptedSession returns the most recently updated interrupted
// session, or ErrNotFound.
func (s *SessionService) FindInterruptedSession(ctx context.Context) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_file, status, base_branch, budget_usd, total_cost_usd,
		        planning_cost_usd, created_at, updated_at
		 FROM sessions WHERE status = ?
		 ORDER BY updated_at DESC LIMIT 1`, models.SessionStatusInterrupted)
	return scanSession(row)
}

// ArchiveSession marks a session abandoned. Abandoned sessions are never
// picked up by crash recovery again.
func (s *SessionService) ArchiveSession(ctx context.Context, sessionID string) error {
	return s.SetStatus(ctx, sessionID, models.SessionStatusAbandoned)
}

// MarkActiveInterrupted flags all active sessions as interrupted. Called by
// crash recovery on startup before any new work is admitted.
func (s *SessionService) MarkActiveInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?`,
		models.SessionStatusInterrupted, models.SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark sessions interrupted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result: %w", err)
	}
	return int(affected), nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	sess := &models.Session{}
	err := row.Scan(&sess.ID, &sess.GraphFile, &sess.Status, &sess.BaseBranch,
		&sess.BudgetUSD, &sess.TotalCostUSD, &sess.PlanningCostUSD,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return sess, nil
}
