package gates

import (
	"fmt"
	"sort"
	"sync"

	"github.com/substrate-run/substrate/pkg/dispatch"
)

// Factory builds an evaluator from gate-specific parameters (as declared in
// a task graph or pack manifest).
type Factory func(params map[string]any) (Evaluator, error)

// Registry maps gate kind names to factories. The builtin kinds are
// pre-registered; packs may add their own.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry seeded with the builtin gate kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindACValidation, func(map[string]any) (Evaluator, error) {
		return ACValidationEvaluator, nil
	})
	r.Register(KindTestCoverage, func(map[string]any) (Evaluator, error) {
		return TestCoverageEvaluator, nil
	})
	r.Register(KindCodeReviewVerdict, func(map[string]any) (Evaluator, error) {
		return CodeReviewVerdictEvaluator, nil
	})
	r.Register(KindSchemaCompliance, func(params map[string]any) (Evaluator, error) {
		doc, ok := params["schema"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema-compliance gate requires a schema parameter")
		}
		schema, err := dispatch.CompileSchema(doc)
		if err != nil {
			return nil, err
		}
		return SchemaComplianceEvaluator(schema), nil
	})
	return r
}

// Register adds or replaces a gate kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	r.factories[kind] = factory
	r.mu.Unlock()
}

// Build constructs a gate of the given kind.
func (r *Registry) Build(kind string, maxRetries int, params map[string]any) (*Gate, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown gate kind %q", kind)
	}
	evaluator, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build gate %q: %w", kind, err)
	}
	return NewGate(kind, maxRetries, evaluator), nil
}

// Kinds lists the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
