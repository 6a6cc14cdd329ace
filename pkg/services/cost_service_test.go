package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/models"
)

func TestRecordEntryAccumulatesSessionTotal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	session := createTestSession(t, db)
	costs := NewCostService(db)
	sessions := NewSessionService(db)

	for _, c := range []float64{0.02, 0.03} {
		err := costs.RecordEntry(ctx, &models.CostEntry{
			SessionID: session.ID, Agent: "claude", Provider: "anthropic",
			Model: "claude-3-5-sonnet-20241022", BillingMode: models.BillingModeAPI,
			TokensIn: 1000, TokensOut: 500, CostUSD: c,
		})
		require.NoError(t, err)
	}

	got, err := sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got.TotalCostUSD, 1e-9)

	// Budget totals only move forward.
	assert.GreaterOrEqual(t, got.TotalCostUSD, session.TotalCostUSD)
}

func TestRecordEntryValidation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	session := createTestSession(t, db)
	costs := NewCostService(db)

	err := costs.RecordEntry(ctx, &models.CostEntry{BillingMode: models.BillingModeAPI})
	assert.True(t, IsValidationError(err))

	err = costs.RecordEntry(ctx, &models.CostEntry{SessionID: session.ID, BillingMode: "free"})
	assert.True(t, IsValidationError(err))
}

func TestSessionSummary(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	session := createTestSession(t, db)
	costs := NewCostService(db)

	entries := []*models.CostEntry{
		{SessionID: session.ID, Agent: "claude", Provider: "anthropic", Model: "m",
			BillingMode: models.BillingModeSubscription, TokensIn: 10_000, TokensOut: 2_000, SavingsUSD: 0.06},
		{SessionID: session.ID, Agent: "codex", Provider: "openai", Model: "m",
			BillingMode: models.BillingModeAPI, TokensIn: 4_000, TokensOut: 1_000, CostUSD: 0.02},
	}
	for _, e := range entries {
		require.NoError(t, costs.RecordEntry(ctx, e))
	}

	summary, err := costs.SessionSummary(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, summary.TotalCostUSD, 1e-9)
	assert.InDelta(t, 0.06, summary.SubscriptionSavings, 1e-9)
	assert.InDelta(t, 0.02, summary.APICostUSD, 1e-9)
	assert.Equal(t, 14_000, summary.InputTokens)
	assert.Equal(t, 3_000, summary.OutputTokens)
	assert.InDelta(t, 0.0, summary.ByAgent["claude"], 1e-9)
	assert.InDelta(t, 0.02, summary.ByAgent["codex"], 1e-9)
}
