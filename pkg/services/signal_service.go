package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/substrate-run/substrate/pkg/models"
)

// SignalService is the DB-backed control channel between CLI invocations and
// a running engine. CLI commands insert rows; the engine polls unprocessed
// signals between ticks and consumes each exactly once.
type SignalService struct {
	db *sql.DB
}

// NewSignalService creates a new SignalService.
func NewSignalService(db *sql.DB) *SignalService {
	return &SignalService{db: db}
}

// Enqueue inserts a signal for the session.
func (s *SignalService) Enqueue(ctx context.Context, sessionID string, kind models.SignalKind) error {
	if !kind.IsValid() {
		return NewValidationError("signal", fmt.Sprintf("unknown signal %q", kind))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_signals (id, session_id, signal) VALUES (?, ?, ?)`,
		uuid.New().String(), sessionID, kind)
	if err != nil {
		return fmt.Errorf("failed to enqueue signal: %w", err)
	}
	return nil
}

// Consume returns the session's unprocessed signals in arrival order and
// marks them processed in the same transaction.
func (s *SignalService) Consume(ctx context.Context, sessionID string) ([]*models.SessionSignal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, session_id, signal, created_at, processed_at
		 FROM session_signals
		 WHERE session_id = ? AND processed_at IS NULL
		 ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}

	var signals []*models.SessionSignal
	for rows.Next() {
		sig := &models.SessionSignal{}
		if err := rows.Scan(&sig.ID, &sig.SessionID, &sig.Signal, &sig.CreatedAt, &sig.ProcessedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	for _, sig := range signals {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_signals SET processed_at = CURRENT_TIMESTAMP WHERE id = ?`, sig.ID); err != nil {
			return nil, fmt.Errorf("failed to mark signal processed: %w", err)
		}
		sig.ProcessedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit signal consumption: %w", err)
	}
	return signals, nil
}

// PruneProcessed deletes processed signals older than the TTL. Safe to run
// periodically; returns the number of rows removed.
func (s *SignalService) PruneProcessed(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_signals WHERE processed_at IS NOT NULL AND processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune signals: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	return int(affected), nil
}
