package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaultsWithoutConfigFile(t *testing.T) {
	root := t.TempDir()

	cfg, err := Initialize(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Methodology)
	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, 3, cfg.Queue.MaxConcurrency)
	assert.Equal(t, "substrate", cfg.BranchPrefix)
	assert.Contains(t, cfg.Agents, "claude")
	assert.Contains(t, cfg.Agents, "codex")
	assert.Contains(t, cfg.Agents, "gemini")
	assert.Equal(t, filepath.Join(root, ".substrate"), cfg.StateDir())
	assert.Equal(t, filepath.Join(root, ".substrate", "worktrees"), cfg.WorktreesRoot())
}

func TestInitializeMergesUserConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, StateDirName), 0o755))

	userYAML := `
base_branch: develop
queue:
  max_concurrency: 5
agents:
  claude:
    model: opus
  mytool:
    binary: mytool
    provider: anthropic
    model: sonnet
    billing_mode: api
`
	require.NoError(t, os.WriteFile(
		filepath.Join(root, StateDirName, ConfigFileName), []byte(userYAML), 0o644))

	cfg, err := Initialize(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, "develop", cfg.BaseBranch)
	assert.Equal(t, 5, cfg.Queue.MaxConcurrency)
	// Unset queue fields fall back to defaults.
	assert.Equal(t, 30*time.Second, cfg.Queue.HeartbeatInterval)

	// Partial agent override keeps the built-in binary and args.
	claude := cfg.Agents["claude"]
	assert.Equal(t, "opus", claude.Model)
	assert.Equal(t, "claude", claude.Binary)
	assert.Equal(t, "subscription", claude.BillingMode)

	// New agents appear alongside the built-ins.
	assert.Contains(t, cfg.Agents, "mytool")
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, StateDirName), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, StateDirName, ConfigFileName),
		[]byte("agents:\n  broken:\n    provider: x\n"), 0o644))

	_, err := Initialize(context.Background(), root)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadMissingAndMalformed(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{nope: [unclosed"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.ProjectRoot = "/tmp/p"
		return cfg
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Queue.MaxConcurrency = 0
	assert.ErrorIs(t, cfg.Validate(), ErrValidationFailed)

	cfg = valid()
	cfg.Budgets.PromptTokens = 0
	assert.ErrorIs(t, cfg.Validate(), ErrValidationFailed)

	cfg = valid()
	bad := -1.0
	cfg.Budgets.SessionUSD = &bad
	assert.ErrorIs(t, cfg.Validate(), ErrValidationFailed)

	cfg = valid()
	cfg.Agents["x"] = AgentAdapter{Binary: "x", BillingMode: "free"}
	assert.ErrorIs(t, cfg.Validate(), ErrValidationFailed)

	cfg = valid()
	cfg.Defaults.Agent = "ghost"
	assert.ErrorIs(t, cfg.Validate(), ErrAgentNotFound)
}

func TestAgentRegistryResolve(t *testing.T) {
	cfg := DefaultConfig()
	registry := NewAgentRegistry(cfg)

	name, adapter, err := registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "claude", name)
	assert.Equal(t, "claude", adapter.Binary)

	name, _, err = registry.Resolve("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", name)

	_, _, err = registry.Resolve("ghost")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	assert.Equal(t, []string{"claude", "codex", "gemini"}, registry.Names())
}
