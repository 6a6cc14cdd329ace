package config

// mergeAgents overlays user-defined adapters on the built-in set. A user
// entry replaces the built-in entry wholesale except for zero fields, which
// fall back to the built-in values so partial overrides stay usable.
func mergeAgents(builtin, user map[string]AgentAdapter) map[string]AgentAdapter {
	result := make(map[string]AgentAdapter, len(builtin)+len(user))
	for name, adapter := range builtin {
		result[name] = adapter
	}
	for name, adapter := range user {
		if base, ok := result[name]; ok {
			if adapter.Binary == "" {
				adapter.Binary = base.Binary
			}
			if adapter.Args == nil {
				adapter.Args = base.Args
			}
			if adapter.Provider == "" {
				adapter.Provider = base.Provider
			}
			if adapter.Model == "" {
				adapter.Model = base.Model
			}
			if adapter.BillingMode == "" {
				adapter.BillingMode = base.BillingMode
			}
			if adapter.Timeout == 0 {
				adapter.Timeout = base.Timeout
			}
		}
		result[name] = adapter
	}
	return result
}
