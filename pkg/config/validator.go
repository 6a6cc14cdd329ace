package config

import (
	"fmt"

	"github.com/substrate-run/substrate/pkg/models"
)

// Validate checks the merged configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Methodology == "" {
		return NewValidationError("config", "", "methodology", ErrValidationFailed)
	}

	if c.Queue == nil || c.Queue.MaxConcurrency < 1 {
		return NewValidationError("queue", "", "max_concurrency",
			fmt.Errorf("%w: must be at least 1", ErrValidationFailed))
	}
	if c.Queue.TickInterval <= 0 {
		return NewValidationError("queue", "", "tick_interval",
			fmt.Errorf("%w: must be positive", ErrValidationFailed))
	}

	if c.Budgets == nil || c.Budgets.PromptTokens < 1 {
		return NewValidationError("budgets", "", "prompt_tokens",
			fmt.Errorf("%w: must be at least 1", ErrValidationFailed))
	}
	if c.Budgets.SessionUSD != nil && *c.Budgets.SessionUSD <= 0 {
		return NewValidationError("budgets", "", "session_usd",
			fmt.Errorf("%w: must be positive when set", ErrValidationFailed))
	}
	if c.Budgets.TaskUSD != nil && *c.Budgets.TaskUSD <= 0 {
		return NewValidationError("budgets", "", "task_usd",
			fmt.Errorf("%w: must be positive when set", ErrValidationFailed))
	}

	for name, adapter := range c.Agents {
		if adapter.Binary == "" {
			return NewValidationError("agent", name, "binary",
				fmt.Errorf("%w: required", ErrValidationFailed))
		}
		if adapter.BillingMode != "" && !models.BillingMode(adapter.BillingMode).IsValid() {
			return NewValidationError("agent", name, "billing_mode",
				fmt.Errorf("%w: must be 'subscription' or 'api'", ErrValidationFailed))
		}
	}

	if c.Defaults == nil {
		return NewValidationError("defaults", "", "",
			fmt.Errorf("%w: missing defaults block", ErrValidationFailed))
	}
	if c.Defaults.Agent != "" {
		if _, ok := c.Agents[c.Defaults.Agent]; !ok {
			return NewValidationError("defaults", "", "agent",
				fmt.Errorf("%w: %s", ErrAgentNotFound, c.Defaults.Agent))
		}
	}
	if c.Defaults.MaxRetries < 0 {
		return NewValidationError("defaults", "", "max_retries",
			fmt.Errorf("%w: must not be negative", ErrValidationFailed))
	}
	return nil
}
