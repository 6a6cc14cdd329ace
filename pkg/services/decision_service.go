// Package services provides the typed store layer over the embedded database.
// All rows are append-only except for explicitly modeled state transitions
// (task status, session status, supersede back-links, signal consumption).
package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/substrate-run/substrate/pkg/models"
)

// DecisionService is the append-only store for decisions, requirements,
// constraints, artifacts, and token usage. Updates never touch value or
// rationale in place; superseding writes a new row and back-links the old one.
type DecisionService struct {
	db *sql.DB
}

// NewDecisionService creates a new DecisionService.
func NewDecisionService(db *sql.DB) *DecisionService {
	return &DecisionService{db: db}
}

// CreateDecisionRequest contains fields for recording a decision.
type CreateDecisionRequest struct {
	PipelineRunID string
	Phase         models.Phase
	Category      string
	Key           string
	Value         string
	Rationale     string
}

// CreateDecision appends a decision row and returns it.
func (s *DecisionService) CreateDecision(ctx context.Context, req CreateDecisionRequest) (*models.Decision, error) {
	if req.Key == "" {
		return nil, NewValidationError("key", "required")
	}
	if req.Value == "" {
		return nil, NewValidationError("value", "required")
	}
	if !req.Phase.IsValid() {
		return nil, NewValidationError("phase", fmt.Sprintf("unknown phase %q", req.Phase))
	}

	id := uuid.New().String()
	var runID *string
	if req.PipelineRunID != "" {
		runID = &req.PipelineRunID
	}
	var rationale *string
	if req.Rationale != "" {
		rationale = &req.Rationale
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, pipeline_run_id, phase, category, key, value, rationale)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, runID, req.Phase, req.Category, req.Key, req.Value, rationale)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision: %w", err)
	}
	return s.GetDecision(ctx, id)
}

// GetDecision loads one decision by id.
func (s *DecisionService) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_run_id, phase, category, key, value, rationale, superseded_by, created_at
		 FROM decisions WHERE id = ?`, id)
	return scanDecision(row)
}

// SupersedeDecision sets old.superseded_by = newID. Idempotent when the old
// decision already points at the same target; superseding to a different
// target returns ErrAlreadySuperseded. The back-link is set exactly once, so
// supersede chains form a forest by construction.
func (s *DecisionService) SupersedeDecision(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return NewValidationError("superseded_by", "decision cannot supersede itself")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`,
		newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to supersede decision: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read supersede result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// No row updated: either the decision is missing or already superseded.
	existing, err := s.GetDecision(ctx, oldID)
	if err != nil {
		return err
	}
	if existing.SupersededBy != nil && *existing.SupersededBy == newID {
		return nil // idempotent re-apply
	}
	return fmt.Errorf("%w: %s -> %s", ErrAlreadySuperseded, oldID, *existing.SupersededBy)
}

// LoadParentRunDecisions returns all non-superseded decisions from the given
// run in insertion order. Used to seed amendment-run context.
func (s *DecisionService) LoadParentRunDecisions(ctx context.Context, parentRunID string) ([]*models.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline_run_id, phase, category, key, value, rationale, superseded_by, created_at
		 FROM decisions
		 WHERE pipeline_run_id = ? AND superseded_by IS NULL
		 ORDER BY created_at ASC, rowid ASC`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent run decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// CreateRequirement appends a requirement row.
func (s *DecisionService) CreateRequirement(ctx context.Context, req *models.Requirement) (*models.Requirement, error) {
	if req.Description == "" {
		return nil, NewValidationError("description", "required")
	}
	req.ID = uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requirements (id, pipeline_run_id, phase, category, description, priority)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.PipelineRunID, req.Phase, req.Category, req.Description, req.Priority)
	if err != nil {
		return nil, fmt.Errorf("failed to create requirement: %w", err)
	}
	req.CreatedAt = time.Now().UTC()
	return req, nil
}

// CreateConstraint appends a constraint row.
func (s *DecisionService) CreateConstraint(ctx context.Context, c *models.Constraint) (*models.Constraint, error) {
	if c.RuleID == "" {
		return nil, NewValidationError("rule_id", "required")
	}
	c.ID = uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO constraints (id, pipeline_run_id, phase, rule_id, severity, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.PipelineRunID, c.Phase, c.RuleID, c.Severity, c.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to create constraint: %w", err)
	}
	c.CreatedAt = time.Now().UTC()
	return c, nil
}

// RegisterArtifact appends an artifact row.
func (s *DecisionService) RegisterArtifact(ctx context.Context, a *models.Artifact) (*models.Artifact, error) {
	if a.Path == "" {
		return nil, NewValidationError("path", "required")
	}
	a.ID = uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, pipeline_run_id, phase, type, path, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.PipelineRunID, a.Phase, a.Type, a.Path, a.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to register artifact: %w", err)
	}
	a.CreatedAt = time.Now().UTC()
	return a, nil
}

// GetLatestArtifact returns the most recent artifact of the given phase and type.
func (s *DecisionService) GetLatestArtifact(ctx context.Context, runID string, phase models.Phase, artifactType string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_run_id, phase, type, path, content_hash, created_at
		 FROM artifacts
		 WHERE pipeline_run_id = ? AND phase = ? AND type = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		runID, phase, artifactType)
	a := &models.Artifact{}
	err := row.Scan(&a.ID, &a.PipelineRunID, &a.Phase, &a.Type, &a.Path, &a.ContentHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns artifacts matching the filter, oldest first.
func (s *DecisionService) ListArtifacts(ctx context.Context, filter models.ArtifactFilter) ([]*models.Artifact, error) {
	query := `SELECT id, pipeline_run_id, phase, type, path, content_hash, created_at FROM artifacts`
	var conds []string
	var args []any
	if filter.PipelineRunID != "" {
		conds = append(conds, "pipeline_run_id = ?")
		args = append(args, filter.PipelineRunID)
	}
	if filter.Phase != "" {
		conds = append(conds, "phase = ?")
		args = append(args, filter.Phase)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		a := &models.Artifact{}
		if err := rows.Scan(&a.ID, &a.PipelineRunID, &a.Phase, &a.Type, &a.Path, &a.ContentHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// AddTokenUsage appends a token usage row for a run.
func (s *DecisionService) AddTokenUsage(ctx context.Context, u *models.TokenUsage) error {
	u.ID = uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (id, pipeline_run_id, phase, agent, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.PipelineRunID, u.Phase, u.Agent, u.InputTokens, u.OutputTokens)
	if err != nil {
		return fmt.Errorf("failed to add token usage: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	d := &models.Decision{}
	err := row.Scan(&d.ID, &d.PipelineRunID, &d.Phase, &d.Category, &d.Key, &d.Value,
		&d.Rationale, &d.SupersededBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan decision: %w", err)
	}
	return d, nil
}
