package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientCreatesAndMigrates(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Path: filepath.Join(t.TempDir(), "state", "substrate.db")}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	// All migrated tables exist.
	for _, table := range []string{
		"pipeline_runs", "decisions", "requirements", "constraints", "artifacts",
		"token_usage", "sessions", "tasks", "task_dependencies", "cost_entries",
		"session_signals",
	} {
		var name string
		err := client.DB().QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestNewClientIdempotentMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Path: filepath.Join(t.TempDir(), "substrate.db")}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// Reopening an up-to-date database applies nothing and succeeds.
	client, err = NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, RunMigrations(client.DB()))
}

func TestNewClientRequiresPath(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, Config{Path: filepath.Join(t.TempDir(), "substrate.db")})
	require.NoError(t, err)
	defer client.Close()

	status, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 1, status.OpenConnections)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/work/project")
	assert.Equal(t, "/work/project/.substrate/substrate.db", cfg.Path)
	assert.Positive(t, cfg.BusyTimeout)
}
