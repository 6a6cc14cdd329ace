package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the user configuration file inside the state directory.
const ConfigFileName = "substrate.yaml"

// StateDirName is the per-project state directory.
const StateDirName = ".substrate"

// Initialize loads, merges, and validates configuration for a project root.
// This is the primary entry point for configuration loading. A missing
// config file is not an error — defaults apply.
func Initialize(ctx context.Context, projectRoot string) (*Config, error) {
	// .env is optional; load it before anything reads the environment.
	envPath := filepath.Join(projectRoot, ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "path", envPath, "error", err)
	}

	cfg, err := Load(filepath.Join(projectRoot, StateDirName, ConfigFileName))
	if err != nil {
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, err
		}
		cfg = &Config{}
	}

	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}
	cfg.Agents = mergeAgents(builtinAgents(), cfg.Agents)
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = projectRoot
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded",
		"methodology", cfg.Methodology,
		"agents", len(cfg.Agents),
		"max_concurrency", cfg.Queue.MaxConcurrency)
	return cfg, nil
}

// Load reads and parses one YAML config file without merging defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, &LoadError{File: path, Err: err}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}
	return cfg, nil
}

// StateDir returns the project's state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.ProjectRoot, StateDirName)
}

// WorktreesRoot returns the absolute worktrees directory.
func (c *Config) WorktreesRoot() string {
	if filepath.IsAbs(c.WorktreesDir) {
		return c.WorktreesDir
	}
	return filepath.Join(c.ProjectRoot, c.WorktreesDir)
}
