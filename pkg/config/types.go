// Package config loads and validates substrate.yaml plus the agent adapter
// registry. User values are merged over built-in defaults; validation runs
// before anything else touches the config.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	// Methodology is the pack name under PacksDir.
	Methodology string `yaml:"methodology"`

	// PacksDir holds methodology packs (packs/<name>/manifest.yaml).
	PacksDir string `yaml:"packs_dir"`

	// ProjectRoot anchors the state directory and worktrees. Defaults to
	// the working directory; not usually set in YAML.
	ProjectRoot string `yaml:"project_root,omitempty"`

	// WorktreesDir is where per-task worktrees are created, relative to
	// ProjectRoot.
	WorktreesDir string `yaml:"worktrees_dir"`

	// BranchPrefix prefixes per-task branches: <prefix>/task-<id>.
	BranchPrefix string `yaml:"branch_prefix"`

	// BaseBranch is the branch tasks fork from and merge back into.
	BaseBranch string `yaml:"base_branch"`

	Queue   *QueueConfig            `yaml:"queue"`
	Budgets *BudgetConfig           `yaml:"budgets"`
	Agents  map[string]AgentAdapter `yaml:"agents"`

	Defaults *Defaults `yaml:"defaults"`
}

// QueueConfig controls the worker pool and engine tick loop.
type QueueConfig struct {
	// MaxConcurrency bounds concurrently running tasks (one worker slot each).
	MaxConcurrency int `yaml:"max_concurrency"`

	// TickInterval is the engine's idle poll interval for signals and
	// ready tasks.
	TickInterval time.Duration `yaml:"tick_interval"`

	// HeartbeatInterval is how often an idle engine emits a heartbeat event.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ShutdownGrace is how long cancelled workers get between SIGTERM and
	// SIGKILL.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// SignalTTL is how long processed signals are retained before pruning.
	SignalTTL time.Duration `yaml:"signal_ttl"`
}

// BudgetConfig holds default cost and prompt caps.
type BudgetConfig struct {
	// SessionUSD caps total session cost. Nil means unlimited.
	SessionUSD *float64 `yaml:"session_usd,omitempty"`

	// TaskUSD caps per-task cost. Nil means unlimited.
	TaskUSD *float64 `yaml:"task_usd,omitempty"`

	// PromptTokens is the context-compiler token budget per prompt.
	PromptTokens int `yaml:"prompt_tokens"`
}

// AgentAdapter describes how to invoke one external agent CLI.
type AgentAdapter struct {
	// Binary is the executable name or path.
	Binary string `yaml:"binary"`

	// Args are passed before the prompt. The prompt itself goes to stdin.
	Args []string `yaml:"args,omitempty"`

	// Env adds environment overrides for the child process.
	Env map[string]string `yaml:"env,omitempty"`

	// Provider and Model feed the rate table for cost accounting.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// BillingMode is "subscription" or "api".
	BillingMode string `yaml:"billing_mode"`

	// Timeout bounds a single dispatch. Zero falls back to the default.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Defaults contains fallbacks applied to tasks that don't specify their own.
type Defaults struct {
	// Agent is the adapter used when a task names none.
	Agent string `yaml:"agent,omitempty"`

	// MaxRetries is the per-task retry budget.
	MaxRetries int `yaml:"max_retries"`

	// TaskTimeout bounds a task's sub-agent process.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// AutoMerge controls whether clean task worktrees merge into the base
	// branch automatically.
	AutoMerge bool `yaml:"auto_merge"`
}
