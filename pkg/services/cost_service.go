package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/substrate-run/substrate/pkg/models"
)

// CostService records cost entries not tied to a task state transition
// (planning-phase dispatches) and aggregates session cost summaries.
// Task-scoped entries go through TaskService so they commit with the task row.
type CostService struct {
	db *sql.DB
}

// NewCostService creates a new CostService.
func NewCostService(db *sql.DB) *CostService {
	return &CostService{db: db}
}

// RecordEntry writes a session-scoped cost entry and increments the session
// total in one transaction.
func (s *CostService) RecordEntry(ctx context.Context, entry *models.CostEntry) error {
	if entry.SessionID == "" {
		return NewValidationError("session_id", "required")
	}
	if !entry.BillingMode.IsValid() {
		return NewValidationError("billing_mode", fmt.Sprintf("unknown billing mode %q", entry.BillingMode))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	entry.ID = uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cost_entries (id, session_id, task_id, agent, provider, model,
		                           billing_mode, tokens_in, tokens_out, cost_usd, savings_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.TaskID, entry.Agent, entry.Provider, entry.Model,
		entry.BillingMode, entry.TokensIn, entry.TokensOut, entry.CostUSD, entry.SavingsUSD)
	if err != nil {
		return fmt.Errorf("failed to insert cost entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET total_cost_usd = total_cost_usd + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		entry.CostUSD, entry.SessionID)
	if err != nil {
		return fmt.Errorf("failed to update session cost: %w", err)
	}
	return tx.Commit()
}

// ListEntries returns all cost entries for a session in creation order.
func (s *CostService) ListEntries(ctx context.Context, sessionID string) ([]*models.CostEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, task_id, agent, provider, model, billing_mode,
		        tokens_in, tokens_out, cost_usd, savings_usd, created_at
		 FROM cost_entries WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.CostEntry
	for rows.Next() {
		e := &models.CostEntry{}
		err := rows.Scan(&e.ID, &e.SessionID, &e.TaskID, &e.Agent, &e.Provider, &e.Model,
			&e.BillingMode, &e.TokensIn, &e.TokensOut, &e.CostUSD, &e.SavingsUSD, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cost entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SessionSummary aggregates a session's recorded cost.
func (s *CostService) SessionSummary(ctx context.Context, sessionID string) (*models.SessionCostSummary, error) {
	summary := &models.SessionCostSummary{
		SessionID: sessionID,
		ByAgent:   map[string]float64{},
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0),
		        COALESCE(SUM(savings_usd), 0),
		        COALESCE(SUM(CASE WHEN billing_mode = 'api' THEN cost_usd ELSE 0 END), 0),
		        COALESCE(SUM(tokens_in), 0),
		        COALESCE(SUM(tokens_out), 0)
		 FROM cost_entries WHERE session_id = ?`, sessionID)
	err := row.Scan(&summary.TotalCostUSD, &summary.SubscriptionSavings,
		&summary.APICostUSD, &summary.InputTokens, &summary.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate session cost: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT agent, COALESCE(SUM(cost_usd), 0)
		 FROM cost_entries WHERE session_id = ? GROUP BY agent`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate per-agent cost: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var agent string
		var cost float64
		if err := rows.Scan(&agent, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan per-agent cost: %w", err)
		}
		summary.ByAgent[agent] = cost
	}
	return summary, rows.Err()
}
