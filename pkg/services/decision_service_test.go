package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/models"
)

func TestCreateAndGetDecision(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runs := NewPipelineService(db)
	decisions := NewDecisionService(db)

	run, err := runs.CreateRun(ctx, CreateRunRequest{Methodology: "default"})
	require.NoError(t, err)

	d, err := decisions.CreateDecision(ctx, CreateDecisionRequest{
		PipelineRunID: run.ID,
		Phase:         models.PhasePlanning,
		Category:      "tech-stack",
		Key:           "db-choice",
		Value:         "SQLite",
		Rationale:     "zero-ops embedded store",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Nil(t, d.SupersededBy)
	require.NotNil(t, d.Rationale)
	assert.Equal(t, "zero-ops embedded store", *d.Rationale)

	got, err := decisions.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "SQLite", got.Value)
}

func TestCreateDecisionValidation(t *testing.T) {
	db := openTestDB(t)
	decisions := NewDecisionService(db)
	ctx := context.Background()

	_, err := decisions.CreateDecision(ctx, CreateDecisionRequest{Phase: models.PhasePlanning, Value: "x"})
	assert.True(t, IsValidationError(err))

	_, err = decisions.CreateDecision(ctx, CreateDecisionRequest{Phase: models.PhasePlanning, Key: "x"})
	assert.True(t, IsValidationError(err))

	_, err = decisions.CreateDecision(ctx, CreateDecisionRequest{Phase: "deploy", Key: "x", Value: "y"})
	assert.True(t, IsValidationError(err))
}

func TestSupersedeDecision(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runs := NewPipelineService(db)
	decisions := NewDecisionService(db)

	run, err := runs.CreateRun(ctx, CreateRunRequest{Methodology: "default"})
	require.NoError(t, err)

	mk := func(value string) *models.Decision {
		d, err := decisions.CreateDecision(ctx, CreateDecisionRequest{
			PipelineRunID: run.ID, Phase: models.PhasePlanning,
			Category: "tech-stack", Key: "cache", Value: value,
		})
		require.NoError(t, err)
		return d
	}
	old := mk("memcached")
	first := mk("redis")
	second := mk("valkey")

	require.NoError(t, decisions.SupersedeDecision(ctx, old.ID, first.ID))

	// Idempotent re-apply of the same supersession.
	require.NoError(t, decisions.SupersedeDecision(ctx, old.ID, first.ID))

	// Superseding to a different target is a conflict, not a silent rewrite.
	err = decisions.SupersedeDecision(ctx, old.ID, second.ID)
	assert.ErrorIs(t, err, ErrAlreadySuperseded)

	assert.Error(t, decisions.SupersedeDecision(ctx, old.ID, old.ID))

	// The original row keeps its value; only the back-link changed.
	got, err := decisions.GetDecision(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "memcached", got.Value)
	require.NotNil(t, got.SupersededBy)
	assert.Equal(t, first.ID, *got.SupersededBy)
}

func TestLoadParentRunDecisionsExcludesSuperseded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runs := NewPipelineService(db)
	decisions := NewDecisionService(db)

	run, err := runs.CreateRun(ctx, CreateRunRequest{Methodology: "default"})
	require.NoError(t, err)

	old, err := decisions.CreateDecision(ctx, CreateDecisionRequest{
		PipelineRunID: run.ID, Phase: models.PhasePlanning,
		Category: "tech-stack", Key: "lang", Value: "Python",
	})
	require.NoError(t, err)
	current, err := decisions.CreateDecision(ctx, CreateDecisionRequest{
		PipelineRunID: run.ID, Phase: models.PhasePlanning,
		Category: "tech-stack", Key: "lang", Value: "TypeScript",
	})
	require.NoError(t, err)
	require.NoError(t, decisions.SupersedeDecision(ctx, old.ID, current.ID))

	loaded, err := decisions.LoadParentRunDecisions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "TypeScript", loaded[0].Value)
}

func TestArtifactLatestWins(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runs := NewPipelineService(db)
	decisions := NewDecisionService(db)

	run, err := runs.CreateRun(ctx, CreateRunRequest{Methodology: "default"})
	require.NoError(t, err)

	for _, path := range []string{"graphs/v1.yaml", "graphs/v2.yaml"} {
		_, err := decisions.RegisterArtifact(ctx, &models.Artifact{
			PipelineRunID: run.ID,
			Phase:         models.PhaseSolutioning,
			Type:          "task-graph",
			Path:          path,
		})
		require.NoError(t, err)
	}

	latest, err := decisions.GetLatestArtifact(ctx, run.ID, models.PhaseSolutioning, "task-graph")
	require.NoError(t, err)
	assert.Equal(t, "graphs/v2.yaml", latest.Path)

	_, err = decisions.GetLatestArtifact(ctx, run.ID, models.PhaseAnalysis, "task-graph")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := decisions.ListArtifacts(ctx, models.ArtifactFilter{PipelineRunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueryContextRowsWhitelist(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	decisions := NewDecisionService(db)

	_, err := decisions.QueryContextRows(ctx, "sqlite_master", nil)
	assert.True(t, IsValidationError(err))

	_, err = decisions.QueryContextRows(ctx, "decisions", map[string]any{"id": "x"})
	assert.True(t, IsValidationError(err))
}

func TestQueryContextRowsFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	runs := NewPipelineService(db)
	decisions := NewDecisionService(db)

	run, err := runs.CreateRun(ctx, CreateRunRequest{Methodology: "default"})
	require.NoError(t, err)

	for _, kv := range [][2]string{{"db-choice", "SQLite"}, {"lang", "Go"}} {
		_, err := decisions.CreateDecision(ctx, CreateDecisionRequest{
			PipelineRunID: run.ID, Phase: models.PhasePlanning,
			Category: "tech-stack", Key: kv[0], Value: kv[1],
		})
		require.NoError(t, err)
	}

	rows, err := decisions.QueryContextRows(ctx, "decisions", map[string]any{
		"pipeline_run_id": run.ID,
		"key":             []string{"db-choice"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SQLite", rows[0]["value"])
}
