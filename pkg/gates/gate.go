// Package gates evaluates structured sub-agent output against named quality
// gates. A gate tracks its own retry budget; pipelines compose gates and
// short-circuit on the first non-proceed action.
package gates

import (
	"fmt"
	"sync"
)

// Action is the caller's next move after a gate evaluation.
type Action string

// Gate actions.
const (
	ActionProceed  Action = "proceed"
	ActionRetry    Action = "retry"
	ActionWarn     Action = "warn"
	ActionEscalate Action = "escalate"
)

// Severity grades gate issues.
type Severity string

// Issue severities.
const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Verdict is an evaluator's raw judgment of one output.
type Verdict struct {
	Pass     bool
	Issues   []string
	Severity Severity
}

// Evaluator inspects structured output and judges it.
type Evaluator func(output map[string]any) Verdict

// Outcome is the gate's decision after applying its retry budget.
type Outcome struct {
	Gate             string   `json:"gate"`
	Action           Action   `json:"action"`
	RetriesRemaining int      `json:"retries_remaining"`
	Issues           []string `json:"issues,omitempty"`
	Severity         Severity `json:"severity,omitempty"`
}

// Gate is one named quality check with a bounded retry budget.
type Gate struct {
	name       string
	maxRetries int
	evaluator  Evaluator

	mu       sync.Mutex
	attempts int
}

// NewGate creates a gate. maxRetries bounds how many times Evaluate returns
// retry before degrading to warn.
func NewGate(name string, maxRetries int, evaluator Evaluator) *Gate {
	if evaluator == nil {
		panic("gates.NewGate: evaluator must not be nil")
	}
	return &Gate{name: name, maxRetries: maxRetries, evaluator: evaluator}
}

// Name returns the gate name.
func (g *Gate) Name() string { return g.name }

// Evaluate judges one output. Failures consume the retry budget: the gate
// returns retry while attempts remain, then warn. A pass resets the budget.
func (g *Gate) Evaluate(output map[string]any) Outcome {
	v := g.evaluator(output)

	g.mu.Lock()
	defer g.mu.Unlock()

	outcome := Outcome{Gate: g.name, Issues: v.Issues, Severity: v.Severity}
	if v.Pass {
		g.attempts = 0
		outcome.Action = ActionProceed
		outcome.RetriesRemaining = g.maxRetries
		return outcome
	}

	if g.attempts < g.maxRetries {
		g.attempts++
		outcome.Action = ActionRetry
		outcome.RetriesRemaining = g.maxRetries - g.attempts
		return outcome
	}

	outcome.Action = ActionWarn
	outcome.RetriesRemaining = 0
	return outcome
}

// Reset zeros the attempt counter.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.attempts = 0
	g.mu.Unlock()
}

// Attempts returns the consumed retry count.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

func stringField(output map[string]any, key string) (string, bool) {
	v, ok := output[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func issue(format string, args ...any) []string {
	return []string{fmt.Sprintf(format, args...)}
}
