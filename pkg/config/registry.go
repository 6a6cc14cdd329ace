package config

import (
	"fmt"
	"os/exec"
	"sort"
)

// AgentRegistry resolves agent names to adapters and probes binary
// availability. Read-only after construction.
type AgentRegistry struct {
	adapters map[string]AgentAdapter
	fallback string
}

// NewAgentRegistry builds a registry from the merged config.
func NewAgentRegistry(cfg *Config) *AgentRegistry {
	adapters := make(map[string]AgentAdapter, len(cfg.Agents))
	for name, a := range cfg.Agents {
		adapters[name] = a
	}
	fallback := ""
	if cfg.Defaults != nil {
		fallback = cfg.Defaults.Agent
	}
	return &AgentRegistry{adapters: adapters, fallback: fallback}
}

// Get returns the adapter for an agent name.
func (r *AgentRegistry) Get(name string) (AgentAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Resolve returns the adapter for the name, falling back to the default
// agent when name is empty.
func (r *AgentRegistry) Resolve(name string) (string, AgentAdapter, error) {
	if name == "" {
		name = r.fallback
	}
	a, ok := r.adapters[name]
	if !ok {
		return "", AgentAdapter{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return name, a, nil
}

// Names returns all registered agent names, sorted.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AdapterHealth reports availability of one agent binary.
type AdapterHealth struct {
	Agent     string `json:"agent"`
	Binary    string `json:"binary"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Health probes every registered adapter binary on PATH.
func (r *AgentRegistry) Health() []AdapterHealth {
	var results []AdapterHealth
	for _, name := range r.Names() {
		adapter := r.adapters[name]
		h := AdapterHealth{Agent: name, Binary: adapter.Binary}
		path, err := exec.LookPath(adapter.Binary)
		if err != nil {
			h.Error = err.Error()
		} else {
			h.Available = true
			h.Path = path
		}
		results = append(results, h)
	}
	return results
}
