package taskgraph

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/config"
	"github.com/substrate-run/substrate/pkg/models"
)

const sampleYAML = `version: "1"
session:
  name: build-auth
  budget_usd: 25.0
tasks:
  schema:
    name: Design schema
    prompt: Design the user schema
  api:
    name: Build API
    prompt: Implement the auth API
    type: dev-story
    depends_on: [schema]
    agent: claude
    timeout_ms: 60000
    max_retries: 1
`

func TestParseFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	g, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", g.Version)
	assert.Equal(t, "build-auth", g.Session.Name)
	require.NotNil(t, g.Session.BudgetUSD)
	assert.InDelta(t, 25.0, *g.Session.BudgetUSD, 1e-9)

	api := g.Tasks["api"]
	assert.Equal(t, []string{"schema"}, api.DependsOn)
	assert.Equal(t, "dev-story", api.Type)
	assert.Equal(t, 60000, api.TimeoutMS)
	require.NotNil(t, api.MaxRetries)
	assert.Equal(t, 1, *api.MaxRetries)
}

func TestParseFileJSONByExtension(t *testing.T) {
	data := `{"version":"1","session":{"name":"s"},"tasks":{"a":{"name":"A","prompt":"p"}}}`
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	g, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A", g.Tasks["a"].Name)
}

func TestRoundTrip(t *testing.T) {
	g, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)

	for _, format := range []string{"yaml", "json"} {
		data, err := g.Serialize(format)
		require.NoError(t, err)
		again, err := Parse(data, format)
		require.NoError(t, err)
		assert.Equal(t, g, again, format)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("{not json"), "json")
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestMaterializeAppliesDefaults(t *testing.T) {
	g, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)

	defaults := &config.Defaults{
		Agent:       "codex",
		MaxRetries:  2,
		TaskTimeout: 5 * time.Minute,
	}
	tasks, deps := Materialize(g, "sess-1", defaults)
	require.Len(t, tasks, 2)

	byID := map[string]*models.Task{}
	for _, task := range tasks {
		byID[task.ID] = task
		assert.Equal(t, "sess-1", task.SessionID)
		assert.Equal(t, models.TaskStatusPending, task.Status)
	}

	// schema has no overrides: everything from defaults.
	schema := byID["schema"]
	assert.Equal(t, "codex", schema.Agent)
	assert.Equal(t, 2, schema.MaxRetries)
	assert.Equal(t, int((5 * time.Minute).Milliseconds()), schema.TimeoutMS)

	// api overrides agent, timeout, and retries.
	api := byID["api"]
	assert.Equal(t, "claude", api.Agent)
	assert.Equal(t, 1, api.MaxRetries)
	assert.Equal(t, 60000, api.TimeoutMS)

	assert.Equal(t, []models.TaskDependency{{TaskID: "api", DependsOn: "schema"}}, deps)
}
