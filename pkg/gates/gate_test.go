package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingEvaluator(output map[string]any) Verdict {
	return Verdict{Severity: SeverityError, Issues: []string{"nope"}}
}

func passingEvaluator(output map[string]any) Verdict {
	return Verdict{Pass: true}
}

func TestGateRetryBudget(t *testing.T) {
	g := NewGate("flaky", 2, failingEvaluator)

	first := g.Evaluate(nil)
	assert.Equal(t, ActionRetry, first.Action)
	assert.Equal(t, 1, first.RetriesRemaining)

	second := g.Evaluate(nil)
	assert.Equal(t, ActionRetry, second.Action)
	assert.Equal(t, 0, second.RetriesRemaining)

	third := g.Evaluate(nil)
	assert.Equal(t, ActionWarn, third.Action)
	assert.Equal(t, 0, third.RetriesRemaining)

	g.Reset()
	afterReset := g.Evaluate(nil)
	assert.Equal(t, ActionRetry, afterReset.Action)
	assert.Equal(t, 1, afterReset.RetriesRemaining)
}

func TestGatePassResetsBudget(t *testing.T) {
	calls := 0
	g := NewGate("alternating", 1, func(output map[string]any) Verdict {
		calls++
		return Verdict{Pass: calls%2 == 0, Issues: []string{"odd call"}}
	})

	assert.Equal(t, ActionRetry, g.Evaluate(nil).Action)
	assert.Equal(t, ActionProceed, g.Evaluate(nil).Action)
	assert.Equal(t, 0, g.Attempts())

	// The budget is fresh again after the pass.
	assert.Equal(t, ActionRetry, g.Evaluate(nil).Action)
}

func TestGateZeroRetriesWarnsImmediately(t *testing.T) {
	g := NewGate("strict", 0, failingEvaluator)
	outcome := g.Evaluate(nil)
	assert.Equal(t, ActionWarn, outcome.Action)
	assert.Equal(t, 0, outcome.RetriesRemaining)
}

func TestACValidationEvaluator(t *testing.T) {
	assert.True(t, ACValidationEvaluator(map[string]any{"ac_met": "yes"}).Pass)

	v := ACValidationEvaluator(map[string]any{"ac_met": "no", "ac_notes": "AC3 unmet"})
	assert.False(t, v.Pass)
	assert.Len(t, v.Issues, 2)
	assert.Contains(t, v.Issues[1], "AC3")

	missing := ACValidationEvaluator(map[string]any{})
	assert.False(t, missing.Pass)
	assert.Contains(t, missing.Issues[0], "ac_met")
}

func TestTestCoverageEvaluator(t *testing.T) {
	pass := TestCoverageEvaluator(map[string]any{
		"tests": map[string]any{"pass": 12, "fail": 0},
	})
	assert.True(t, pass.Pass)

	fail := TestCoverageEvaluator(map[string]any{
		"tests": map[string]any{"pass": 10, "fail": 2},
	})
	assert.False(t, fail.Pass)
	assert.Contains(t, fail.Issues[0], "2 test(s) failing")

	// YAML decodes numbers as int, JSON round-trips give float64; both count.
	floaty := TestCoverageEvaluator(map[string]any{
		"tests": map[string]any{"pass": float64(3), "fail": float64(0)},
	})
	assert.True(t, floaty.Pass)

	assert.False(t, TestCoverageEvaluator(map[string]any{}).Pass)
}

func TestCodeReviewVerdictEvaluator(t *testing.T) {
	assert.True(t, CodeReviewVerdictEvaluator(map[string]any{"verdict": "SHIP_IT"}).Pass)

	v := CodeReviewVerdictEvaluator(map[string]any{
		"verdict":  "NEEDS_WORK",
		"comments": "error handling is missing",
	})
	assert.False(t, v.Pass)
	assert.Contains(t, v.Issues[0], "NEEDS_WORK")
	assert.Contains(t, v.Issues[1], "error handling")
}

func TestRegistryBuildsBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.Kinds(), KindACValidation)
	assert.Contains(t, r.Kinds(), KindTestCoverage)
	assert.Contains(t, r.Kinds(), KindCodeReviewVerdict)
	assert.Contains(t, r.Kinds(), KindSchemaCompliance)

	g, err := r.Build(KindACValidation, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, KindACValidation, g.Name())

	_, err = r.Build("made-up", 1, nil)
	assert.Error(t, err)
}

func TestRegistrySchemaCompliance(t *testing.T) {
	r := NewRegistry()
	g, err := r.Build(KindSchemaCompliance, 1, map[string]any{
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"result"},
			"properties": map[string]any{
				"result": map[string]any{"enum": []any{"success", "failed"}},
			},
		},
	})
	require.NoError(t, err)

	ok := g.Evaluate(map[string]any{"result": "success"})
	assert.Equal(t, ActionProceed, ok.Action)

	bad := g.Evaluate(map[string]any{"result": "meh"})
	assert.Equal(t, ActionRetry, bad.Action)
	require.Len(t, bad.Issues, 1)
	assert.Contains(t, bad.Issues[0], "schema violation")

	_, err = r.Build(KindSchemaCompliance, 1, nil)
	assert.Error(t, err)
}

func TestPipelineShortCircuits(t *testing.T) {
	evaluated := []string{}
	mk := func(name string, pass bool) *Gate {
		return NewGate(name, 1, func(output map[string]any) Verdict {
			evaluated = append(evaluated, name)
			if pass {
				return Verdict{Pass: true}
			}
			return Verdict{Severity: SeverityError, Issues: []string{name + " failed"}}
		})
	}

	p := NewPipeline(mk("first", true), mk("second", false), mk("third", true))
	result := p.Run(nil)

	assert.Equal(t, ActionRetry, result.Action)
	assert.Equal(t, "second", result.FailedGate)
	assert.Equal(t, 2, result.GatesRun)
	assert.Equal(t, 1, result.GatesPassed)
	assert.Equal(t, []string{"first", "second"}, evaluated)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "second", result.Issues[0].Gate)
}

func TestPipelineAllPass(t *testing.T) {
	p := NewPipeline(
		NewGate("a", 1, passingEvaluator),
		NewGate("b", 1, passingEvaluator),
	)
	result := p.Run(nil)
	assert.Equal(t, ActionProceed, result.Action)
	assert.Equal(t, 2, result.GatesRun)
	assert.Equal(t, 2, result.GatesPassed)
	assert.Empty(t, result.Issues)
}
