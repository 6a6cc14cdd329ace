package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/models"
)

func TestCreateSessionDefaults(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionService(db)

	budget := 25.0
	session, err := sessions.CreateSession(ctx, CreateSessionRequest{
		GraphFile: "graphs/app.yaml",
		BudgetUSD: &budget,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, "main", session.BaseBranch)
	require.NotNil(t, session.BudgetUSD)
	assert.Equal(t, 25.0, *session.BudgetUSD)
	assert.Zero(t, session.TotalCostUSD)

	_, err = sessions.CreateSession(ctx, CreateSessionRequest{})
	assert.True(t, IsValidationError(err))
}

func TestSessionStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionService(db)

	session, err := sessions.CreateSession(ctx, CreateSessionRequest{GraphFile: "g.yaml"})
	require.NoError(t, err)

	require.NoError(t, sessions.SetStatus(ctx, session.ID, models.SessionStatusPaused))
	got, err := sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPaused, got.Status)

	assert.True(t, IsValidationError(sessions.SetStatus(ctx, session.ID, "exploded")))
	assert.ErrorIs(t, sessions.SetStatus(ctx, "missing", models.SessionStatusPaused), ErrNotFound)
}

func TestAddPlanningCost(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionService(db)

	session, err := sessions.CreateSession(ctx, CreateSessionRequest{GraphFile: "g.yaml"})
	require.NoError(t, err)

	require.NoError(t, sessions.AddPlanningCost(ctx, session.ID, 0.10))
	require.NoError(t, sessions.AddPlanningCost(ctx, session.ID, 0.05))

	got, err := sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, got.PlanningCostUSD, 1e-9)
	assert.InDelta(t, 0.15, got.TotalCostUSD, 1e-9)
}

func TestInterruptedSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionService(db)

	_, err := sessions.FindInterruptedSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	session, err := sessions.CreateSession(ctx, CreateSessionRequest{GraphFile: "g.yaml"})
	require.NoError(t, err)

	n, err := sessions.MarkActiveInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := sessions.FindInterruptedSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)

	require.NoError(t, sessions.ArchiveSession(ctx, session.ID))
	_, err = sessions.FindInterruptedSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusAbandoned, got.Status)
	assert.True(t, got.Status.IsTerminal())
}
