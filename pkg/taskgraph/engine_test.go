package taskgraph

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/cost"
	"github.com/substrate-run/substrate/pkg/database"
	"github.com/substrate-run/substrate/pkg/events"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/services"
)

type engineFixture struct {
	engine   *Engine
	tasks    *services.TaskService
	sessions *services.SessionService
	signals  *services.SignalService
	costs    *services.CostService
	session  *models.Session
}

func newEngineFixture(t *testing.T, req services.CreateSessionRequest) *engineFixture {
	t.Helper()
	client, err := database.NewClient(context.Background(),
		database.Config{Path: filepath.Join(t.TempDir(), "substrate.db")})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	tasks := services.NewTaskService(client.DB())
	sessions := services.NewSessionService(client.DB())
	signals := services.NewSignalService(client.DB())
	costs := services.NewCostService(client.DB())

	if req.GraphFile == "" {
		req.GraphFile = "graph.yaml"
	}
	session, err := sessions.CreateSession(context.Background(), req)
	require.NoError(t, err)

	engine := NewEngine(EngineDeps{
		Tasks:    tasks,
		Sessions: sessions,
		Signals:  signals,
	}, EngineOptions{MaxConcurrency: 1}, session.ID)

	return &engineFixture{
		engine:   engine,
		tasks:    tasks,
		sessions: sessions,
		signals:  signals,
		costs:    costs,
		session:  session,
	}
}

func TestDetectStall(t *testing.T) {
	f := newEngineFixture(t, services.CreateSessionRequest{})
	ctx := context.Background()

	seed := []*models.Task{
		{ID: "a", Name: "a", Prompt: "p"},
		{ID: "b", Name: "b", Prompt: "p"},
	}
	deps := []models.TaskDependency{{TaskID: "b", DependsOn: "a"}}
	require.NoError(t, f.tasks.CreateTasks(ctx, f.session.ID, seed, deps))

	// a is ready, so the graph can still make progress.
	counts, err := f.tasks.Counts(ctx, f.session.ID)
	require.NoError(t, err)
	stalled, err := f.engine.detectStall(ctx, counts)
	require.NoError(t, err)
	assert.False(t, stalled)

	// a fails terminally: b stays pending but can never become ready.
	require.NoError(t, f.tasks.MarkRunning(ctx, f.session.ID, "a", "w0", "", ""))
	require.NoError(t, f.tasks.FailTaskTerminal(ctx, f.session.ID, "a", "boom", nil, nil))

	counts, err = f.tasks.Counts(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Pending)
	stalled, err = f.engine.detectStall(ctx, counts)
	require.NoError(t, err)
	assert.True(t, stalled)
}

func TestDetectStallBlockedOnly(t *testing.T) {
	f := newEngineFixture(t, services.CreateSessionRequest{})
	ctx := context.Background()

	seed := []*models.Task{{ID: "a", Name: "a", Prompt: "p"}}
	require.NoError(t, f.tasks.CreateTasks(ctx, f.session.ID, seed, nil))
	require.NoError(t, f.tasks.MarkRunning(ctx, f.session.ID, "a", "w0", "", ""))
	require.NoError(t, f.tasks.BlockTask(ctx, f.session.ID, "a", "merge conflict", nil))

	counts, err := f.tasks.Counts(ctx, f.session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Blocked)

	stalled, err := f.engine.detectStall(ctx, counts)
	require.NoError(t, err)
	assert.True(t, stalled)
}

func TestConsumeSignalsPauseResumeCancel(t *testing.T) {
	f := newEngineFixture(t, services.CreateSessionRequest{})
	ctx := context.Background()

	require.NoError(t, f.signals.Enqueue(ctx, f.session.ID, models.SignalPause))
	require.NoError(t, f.engine.consumeSignals(ctx))
	assert.True(t, f.engine.paused)

	session, err := f.sessions.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPaused, session.Status)

	require.NoError(t, f.signals.Enqueue(ctx, f.session.ID, models.SignalResume))
	require.NoError(t, f.engine.consumeSignals(ctx))
	assert.False(t, f.engine.paused)

	session, err = f.sessions.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)

	require.NoError(t, f.signals.Enqueue(ctx, f.session.ID, models.SignalCancel))
	require.NoError(t, f.engine.consumeSignals(ctx))
	assert.True(t, f.engine.cancelled)

	// Signals are consumed exactly once.
	f.engine.cancelled = false
	require.NoError(t, f.engine.consumeSignals(ctx))
	assert.False(t, f.engine.cancelled)
}

func TestEnforceSessionBudgetLatches(t *testing.T) {
	budget := 0.05
	f := newEngineFixture(t, services.CreateSessionRequest{BudgetUSD: &budget})
	ctx := context.Background()

	// Under budget: nothing latches.
	require.NoError(t, f.engine.enforceSessionBudget(ctx))
	assert.False(t, f.engine.budgetExceeded)

	require.NoError(t, f.sessions.AddPlanningCost(ctx, f.session.ID, 0.10))
	require.NoError(t, f.engine.enforceSessionBudget(ctx))
	assert.True(t, f.engine.budgetExceeded)

	// Latched: subsequent checks stay exceeded without re-reading the session.
	require.NoError(t, f.engine.enforceSessionBudget(ctx))
	assert.True(t, f.engine.budgetExceeded)
}

func TestRetryEmitsCostOnlyAfterPersist(t *testing.T) {
	f := newEngineFixture(t, services.CreateSessionRequest{})
	var buf bytes.Buffer
	f.engine.deps.Emitter = events.NewEmitter(&buf)
	ctx := context.Background()

	seed := []*models.Task{{ID: "a", Name: "a", Prompt: "p", MaxRetries: 1}}
	require.NoError(t, f.tasks.CreateTasks(ctx, f.session.ID, seed, nil))
	require.NoError(t, f.tasks.MarkRunning(ctx, f.session.ID, "a", "w0", "", ""))
	task, err := f.tasks.GetTask(ctx, f.session.ID, "a")
	require.NoError(t, err)

	entry := cost.NewEntry("codex", "openai", "gpt-4o", models.BillingModeAPI, 1_000, 200)
	res := f.engine.failOrRetry(task, "sub-agent timed out", nil, entry)
	assert.Equal(t, models.TaskStatusPending, res.Status)

	// The event reflects a durable row.
	entries, err := f.costs.ListEntries(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, buf.String(), `"event":"cost:recorded"`)
}

func TestNoCostEventWhenWriteFails(t *testing.T) {
	f := newEngineFixture(t, services.CreateSessionRequest{})
	var buf bytes.Buffer
	f.engine.deps.Emitter = events.NewEmitter(&buf)
	ctx := context.Background()

	seed := []*models.Task{{ID: "a", Name: "a", Prompt: "p", MaxRetries: 1}}
	require.NoError(t, f.tasks.CreateTasks(ctx, f.session.ID, seed, nil))
	require.NoError(t, f.tasks.MarkRunning(ctx, f.session.ID, "a", "w0", "", ""))
	task, err := f.tasks.GetTask(ctx, f.session.ID, "a")
	require.NoError(t, err)

	// An entry the store rejects: the transaction rolls back and nothing
	// may be reported.
	bad := &models.CostEntry{Agent: "codex", Provider: "openai", Model: "gpt-4o", BillingMode: "free"}
	res := f.engine.failOrRetry(task, "sub-agent timed out", nil, bad)
	assert.Equal(t, models.TaskStatusFailed, res.Status)
	assert.NotContains(t, buf.String(), "cost:recorded")
}

func TestEnforceSessionBudgetUnlimited(t *testing.T) {
	f := newEngineFixture(t, services.CreateSessionRequest{})
	ctx := context.Background()

	require.NoError(t, f.sessions.AddPlanningCost(ctx, f.session.ID, 100.0))
	require.NoError(t, f.engine.enforceSessionBudget(ctx))
	assert.False(t, f.engine.budgetExceeded)
}
