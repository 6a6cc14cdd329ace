package config

import "time"

// DefaultConfig returns the built-in configuration. User YAML is merged on
// top of these values.
func DefaultConfig() *Config {
	return &Config{
		Methodology:  "default",
		PacksDir:     "packs",
		WorktreesDir: ".substrate/worktrees",
		BranchPrefix: "substrate",
		BaseBranch:   "main",
		Queue:        DefaultQueueConfig(),
		Budgets: &BudgetConfig{
			PromptTokens: 8000,
		},
		Agents: builtinAgents(),
		Defaults: &Defaults{
			Agent:       "claude",
			MaxRetries:  2,
			TaskTimeout: 15 * time.Minute,
			AutoMerge:   true,
		},
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxConcurrency:    3,
		TickInterval:      2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownGrace:     10 * time.Second,
		SignalTTL:         24 * time.Hour,
	}
}

// builtinAgents returns the adapters for the agent CLIs substrate knows out
// of the box. Users may override or extend them in substrate.yaml.
func builtinAgents() map[string]AgentAdapter {
	return map[string]AgentAdapter{
		"claude": {
			Binary:      "claude",
			Args:        []string{"-p", "--output-format", "text"},
			Provider:    "anthropic",
			Model:       "sonnet",
			BillingMode: "subscription",
		},
		"codex": {
			Binary:      "codex",
			Args:        []string{"exec", "--quiet"},
			Provider:    "openai",
			Model:       "gpt-4o",
			BillingMode: "api",
		},
		"gemini": {
			Binary:      "gemini",
			Args:        []string{"-p"},
			Provider:    "google",
			Model:       "flash",
			BillingMode: "api",
		},
	}
}
