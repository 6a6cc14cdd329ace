// Package taskgraph parses, validates, and executes task graph files. The
// graph is a DAG of tasks executed in topological waves by a bounded worker
// pool, with per-task worktrees and quality gates.
package taskgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedVersions is the accepted set of graph file versions.
var SupportedVersions = []string{"1"}

// Graph is a parsed task graph file.
type Graph struct {
	Version string             `yaml:"version" json:"version"`
	Session SessionDef         `yaml:"session" json:"session"`
	Tasks   map[string]TaskDef `yaml:"tasks" json:"tasks"`
}

// SessionDef names the session and optionally caps its spend.
type SessionDef struct {
	Name      string   `yaml:"name" json:"name"`
	BudgetUSD *float64 `yaml:"budget_usd,omitempty" json:"budget_usd,omitempty"`
}

// TaskDef is one task as declared in the graph file.
type TaskDef struct {
	Name       string   `yaml:"name" json:"name"`
	Prompt     string   `yaml:"prompt" json:"prompt"`
	Type       string   `yaml:"type,omitempty" json:"type,omitempty"`
	DependsOn  []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Agent      string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	Model      string   `yaml:"model,omitempty" json:"model,omitempty"`
	BudgetUSD  *float64 `yaml:"budget_usd,omitempty" json:"budget_usd,omitempty"`
	TimeoutMS  int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	MaxRetries *int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// ParseFile reads and parses a graph file, choosing the codec by extension:
// .json is JSON, everything else (including no extension) is YAML.
func ParseFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task graph %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return Parse(data, "json")
	}
	return Parse(data, "yaml")
}

// Parse decodes a graph from raw bytes. format is "yaml" or "json".
func Parse(data []byte, format string) (*Graph, error) {
	var graph Graph
	switch format {
	case "json":
		if err := json.Unmarshal(data, &graph); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
		}
	default:
		if err := yaml.Unmarshal(data, &graph); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
		}
	}
	return &graph, nil
}

// Serialize encodes the graph back to the given format. Parsing the result
// yields an equivalent graph.
func (g *Graph) Serialize(format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(g, "", "  ")
	default:
		return yaml.Marshal(g)
	}
}

// TaskIDs returns the task ids in sorted order.
func (g *Graph) TaskIDs() []string {
	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
