package taskgraph

import (
	"fmt"
	"slices"
	"sort"

	"github.com/substrate-run/substrate/pkg/config"
)

// ValidationResult carries non-fatal findings from Validate.
type ValidationResult struct {
	// Warnings are advisory (unknown agents, mostly). The graph still runs.
	Warnings []string
}

// Validate runs the fail-closed validation pipeline: version, structure,
// cycles, dangling references, then advisory agent-availability checks.
// registry may be nil to skip the agent check.
func Validate(g *Graph, registry *config.AgentRegistry) (*ValidationResult, error) {
	if !slices.Contains(SupportedVersions, g.Version) {
		return nil, fmt.Errorf("%w: version %q (supported: %v)",
			ErrIncompatibleFormat, g.Version, SupportedVersions)
	}

	if err := validateStructure(g); err != nil {
		return nil, err
	}
	if err := detectCycle(g.Tasks); err != nil {
		return nil, err
	}
	if err := checkDanglingRefs(g.Tasks); err != nil {
		return nil, err
	}

	result := &ValidationResult{}
	if registry != nil {
		result.Warnings = checkAgents(g.Tasks, registry)
	}
	return result, nil
}

func validateStructure(g *Graph) error {
	if g.Session.Name == "" {
		return fmt.Errorf("%w: session.name is required", ErrInvalidGraph)
	}
	if len(g.Tasks) == 0 {
		return fmt.Errorf("%w: at least one task is required", ErrInvalidGraph)
	}
	for id, def := range g.Tasks {
		if id == "" {
			return fmt.Errorf("%w: empty task id", ErrInvalidGraph)
		}
		if def.Name == "" {
			return fmt.Errorf("%w: task %s has no name", ErrInvalidGraph, id)
		}
		if def.Prompt == "" {
			return fmt.Errorf("%w: task %s has no prompt", ErrInvalidGraph, id)
		}
		if slices.Contains(def.DependsOn, id) {
			return fmt.Errorf("%w: %s", ErrSelfDependency, id)
		}
		if def.BudgetUSD != nil && *def.BudgetUSD <= 0 {
			return fmt.Errorf("%w: task %s budget_usd must be positive", ErrInvalidGraph, id)
		}
	}
	return nil
}

// detectCycle runs depth-first search with a recursion stack. The returned
// CycleError carries the minimal cycle path with the entry task repeated at
// the end.
func detectCycle(tasks map[string]TaskDef) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		state[id] = inStack
		stack = append(stack, id)

		deps := append([]string{}, tasks[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, exists := tasks[dep]; !exists {
				continue // reported by checkDanglingRefs
			}
			switch state[dep] {
			case inStack:
				// Trim the stack to the cycle entry for the minimal path.
				start := slices.Index(stack, dep)
				path := append(append([]string{}, stack[start:]...), dep)
				return &CycleError{Path: path}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func checkDanglingRefs(tasks map[string]TaskDef) error {
	for id, def := range tasks {
		for _, dep := range def.DependsOn {
			if _, exists := tasks[dep]; !exists {
				return fmt.Errorf("%w: task %s depends on unknown task %s",
					ErrDanglingReference, id, dep)
			}
		}
	}
	return nil
}

func checkAgents(tasks map[string]TaskDef, registry *config.AgentRegistry) []string {
	var warnings []string
	seen := map[string]bool{}
	for _, id := range sortedIDs(tasks) {
		agent := tasks[id].Agent
		if agent == "" || seen[agent] {
			continue
		}
		seen[agent] = true
		if _, _, err := registry.Resolve(agent); err != nil {
			warnings = append(warnings,
				fmt.Sprintf("task %s references unknown agent %q", id, agent))
		}
	}
	return warnings
}

func sortedIDs(tasks map[string]TaskDef) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
