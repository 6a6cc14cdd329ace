package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/substrate-run/substrate/pkg/models"
)

// PipelineService manages pipeline run lifecycle.
type PipelineService struct {
	db *sql.DB
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(db *sql.DB) *PipelineService {
	return &PipelineService{db: db}
}

// CreateRunRequest contains fields for creating a pipeline run.
type CreateRunRequest struct {
	Methodology    string
	ConfigSnapshot string
	ParentRunID    string
}

// CreateRun creates a new pipeline run in status running.
func (s *PipelineService) CreateRun(ctx context.Context, req CreateRunRequest) (*models.PipelineRun, error) {
	if req.Methodology == "" {
		return nil, NewValidationError("methodology", "required")
	}
	if req.ParentRunID != "" {
		if _, err := s.GetRun(ctx, req.ParentRunID); err != nil {
			return nil, fmt.Errorf("parent run %s: %w", req.ParentRunID, err)
		}
	}

	id := uuid.New().String()
	var parent *string
	if req.ParentRunID != "" {
		parent = &req.ParentRunID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, methodology, status, config_snapshot, parent_run_id)
		 VALUES (?, ?, ?, ?, ?)`,
		id, req.Methodology, models.RunStatusRunning, req.ConfigSnapshot, parent)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun loads one pipeline run by id.
func (s *PipelineService) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, methodology, current_phase, status, config_snapshot, token_usage_snapshot,
		        parent_run_id, created_at, updated_at
		 FROM pipeline_runs WHERE id = ?`, id)

	r := &models.PipelineRun{}
	var phase *string
	err := row.Scan(&r.ID, &r.Methodology, &phase, &r.Status, &r.ConfigSnapshot,
		&r.TokenUsageSnapshot, &r.ParentRunID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}
	if phase != nil {
		p := models.Phase(*phase)
		r.CurrentPhase = &p
	}
	return r, nil
}

// SetCurrentPhase records the phase the run is currently executing.
func (s *PipelineService) SetCurrentPhase(ctx context.Context, runID string, phase models.Phase) error {
	if !phase.IsValid() {
		return NewValidationError("phase", fmt.Sprintf("unknown phase %q", phase))
	}
	return s.update(ctx, runID,
		`UPDATE pipeline_runs SET current_phase = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		phase, runID)
}

// SetStatus transitions the run to the given status.
func (s *PipelineService) SetStatus(ctx context.Context, runID string, status models.RunStatus) error {
	if !status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	return s.update(ctx, runID,
		`UPDATE pipeline_runs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, runID)
}

// SetTokenUsageSnapshot stores the serialized cumulative token usage.
func (s *PipelineService) SetTokenUsageSnapshot(ctx context.Context, runID, snapshot string) error {
	return s.update(ctx, runID,
		`UPDATE pipeline_runs SET token_usage_snapshot = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		snapshot, runID)
}

func (s *PipelineService) update(ctx context.Context, runID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update pipeline run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pipeline run %s: %w", runID, ErrNotFound)
	}
	return nil
}
