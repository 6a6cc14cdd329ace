package compiler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/database"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/pack"
	"github.com/substrate-run/substrate/pkg/services"
)

func testStore(t *testing.T) (*services.DecisionService, *services.PipelineService) {
	t.Helper()
	client, err := database.NewClient(context.Background(),
		database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return services.NewDecisionService(client.DB()), services.NewPipelineService(client.DB())
}

func seedRun(t *testing.T, runs *services.PipelineService, decisions *services.DecisionService, pairs map[string]string) string {
	t.Helper()
	ctx := context.Background()
	run, err := runs.CreateRun(ctx, services.CreateRunRequest{Methodology: "default"})
	require.NoError(t, err)
	for key, value := range pairs {
		_, err := decisions.CreateDecision(ctx, services.CreateDecisionRequest{
			PipelineRunID: run.ID,
			Phase:         models.PhasePlanning,
			Category:      "tech-stack",
			Key:           key,
			Value:         value,
		})
		require.NoError(t, err)
	}
	return run.ID
}

func formatDecisions(rows []services.ContextRow) string {
	var b strings.Builder
	b.WriteString("Established decisions:\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "- %s: %s\n", row["key"], row["value"])
	}
	return b.String()
}

func devStoryDescriptor(runID string) *Descriptor {
	return &Descriptor{
		TaskType: "dev-story",
		Header:   "Implement {{concept}} following the {{methodology}} methodology.",
		Sections: []Section{
			{
				Name:     "decisions",
				Priority: PriorityRequired,
				Query: Query{
					Table:   "decisions",
					Filters: map[string]any{"pipeline_run_id": runID},
				},
				Format: formatDecisions,
			},
		},
	}
}

func TestCompileDevStoryPrompt(t *testing.T) {
	decisions, runs := testStore(t)
	runID := seedRun(t, runs, decisions, map[string]string{
		"db-choice": "SQLite",
		"lang":      "TypeScript",
	})

	c := New(decisions)
	c.Register(devStoryDescriptor(runID))

	vars := pack.Vars{
		Methodology: "default",
		Phase:       models.PhaseImplementation,
		Overrides:   map[string]string{"concept": "a url shortener"},
	}
	result, err := c.Compile(context.Background(), "dev-story", vars, 2000)
	require.NoError(t, err)

	assert.NotContains(t, result.Prompt, "{{")
	assert.Contains(t, result.Prompt, "a url shortener")
	assert.Contains(t, result.Prompt, "db-choice: SQLite")
	assert.Contains(t, result.Prompt, "lang: TypeScript")
	assert.False(t, result.Truncated)
	assert.LessOrEqual(t, result.TokenCount, 2000)
	require.Len(t, result.Sections, 1)
	assert.True(t, result.Sections[0].Included)
}

func TestCompileExcludesSupersededDecisions(t *testing.T) {
	decisions, runs := testStore(t)
	runID := seedRun(t, runs, decisions, map[string]string{"db-choice": "SQLite"})

	ctx := context.Background()
	old, err := decisions.CreateDecision(ctx, services.CreateDecisionRequest{
		PipelineRunID: runID, Phase: models.PhasePlanning,
		Category: "tech-stack", Key: "cache", Value: "memcached",
	})
	require.NoError(t, err)
	replacement, err := decisions.CreateDecision(ctx, services.CreateDecisionRequest{
		PipelineRunID: runID, Phase: models.PhasePlanning,
		Category: "tech-stack", Key: "cache", Value: "redis",
	})
	require.NoError(t, err)
	require.NoError(t, decisions.SupersedeDecision(ctx, old.ID, replacement.ID))

	c := New(decisions)
	c.Register(devStoryDescriptor(runID))

	result, err := c.Compile(ctx, "dev-story", pack.Vars{}, 2000)
	require.NoError(t, err)
	assert.Contains(t, result.Prompt, "cache: redis")
	assert.NotContains(t, result.Prompt, "memcached")
}

func TestCompileImportantSectionTruncates(t *testing.T) {
	decisions, runs := testStore(t)
	runID := seedRun(t, runs, decisions, nil)

	long := strings.Repeat("filler words about prior context ", 300)
	c := New(decisions)
	c.Register(&Descriptor{
		TaskType: "dev-story",
		Sections: []Section{
			{
				Name:     "history",
				Priority: PriorityImportant,
				Query:    Query{Table: "decisions", Filters: map[string]any{"pipeline_run_id": runID}},
				Format:   func([]services.ContextRow) string { return long },
			},
		},
	})

	result, err := c.Compile(context.Background(), "dev-story", pack.Vars{}, 100)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, result.TokenCount, 100)
	require.Len(t, result.Sections, 1)
	assert.True(t, result.Sections[0].Included)
	assert.True(t, result.Sections[0].Truncated)
}

func TestCompileOptionalDroppedWhenBudgetLow(t *testing.T) {
	decisions, runs := testStore(t)
	runID := seedRun(t, runs, decisions, nil)

	c := New(decisions)
	c.Register(&Descriptor{
		TaskType: "dev-story",
		// Header consumes most of the budget before the optional section.
		Header: strings.Repeat("required preamble ", 40),
		Sections: []Section{
			{
				Name:     "extras",
				Priority: PriorityOptional,
				Query:    Query{Table: "decisions", Filters: map[string]any{"pipeline_run_id": runID}},
				Format:   func([]services.ContextRow) string { return "optional extras" },
			},
		},
	})

	result, err := c.Compile(context.Background(), "dev-story", pack.Vars{}, 200)
	require.NoError(t, err)
	assert.NotContains(t, result.Prompt, "optional extras")
	assert.True(t, result.Truncated)
}

func TestCompileUnknownTaskType(t *testing.T) {
	decisions, _ := testStore(t)
	c := New(decisions)
	_, err := c.Compile(context.Background(), "nope", pack.Vars{}, 100)
	assert.Error(t, err)
}

func TestCompileRejectsUnsafeQuery(t *testing.T) {
	decisions, runs := testStore(t)
	runID := seedRun(t, runs, decisions, nil)

	c := New(decisions)
	c.Register(&Descriptor{
		TaskType: "dev-story",
		Sections: []Section{
			{
				Name:     "bad",
				Priority: PriorityRequired,
				Query:    Query{Table: "decisions", Filters: map[string]any{"key; DROP TABLE decisions": runID}},
				Format:   func([]services.ContextRow) string { return "" },
			},
		},
	})
	_, err := c.Compile(context.Background(), "dev-story", pack.Vars{}, 100)
	assert.Error(t, err)
}
