package gates

import "log/slog"

// GateIssue attributes one issue to the gate that raised it.
type GateIssue struct {
	Gate     string   `json:"gate"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// PipelineResult is the aggregate outcome of running a gate pipeline.
type PipelineResult struct {
	Action           Action      `json:"action"`
	GatesRun         int         `json:"gates_run"`
	GatesPassed      int         `json:"gates_passed"`
	FailedGate       string      `json:"failed_gate,omitempty"`
	RetriesRemaining int         `json:"retries_remaining,omitempty"`
	Issues           []GateIssue `json:"issues,omitempty"`
}

// Pipeline runs gates in order, short-circuiting on the first non-proceed
// outcome.
type Pipeline struct {
	gates []*Gate
}

// NewPipeline creates a pipeline over the given gates, evaluated in order.
func NewPipeline(gates ...*Gate) *Pipeline {
	return &Pipeline{gates: gates}
}

// Run evaluates each gate against the output. The first gate that does not
// proceed stops the pipeline and its action becomes the pipeline's action.
func (p *Pipeline) Run(output map[string]any) PipelineResult {
	result := PipelineResult{Action: ActionProceed}
	for _, g := range p.gates {
		outcome := g.Evaluate(output)
		result.GatesRun++
		for _, msg := range outcome.Issues {
			result.Issues = append(result.Issues, GateIssue{
				Gate:     g.Name(),
				Severity: outcome.Severity,
				Message:  msg,
			})
		}
		if outcome.Action != ActionProceed {
			result.Action = outcome.Action
			result.FailedGate = g.Name()
			result.RetriesRemaining = outcome.RetriesRemaining
			slog.Info("Quality gate stopped pipeline",
				"gate", g.Name(), "action", outcome.Action,
				"retries_remaining", outcome.RetriesRemaining)
			return result
		}
		result.GatesPassed++
	}
	return result
}

// Reset zeros every gate's attempt counter, for reuse across tasks.
func (p *Pipeline) Reset() {
	for _, g := range p.gates {
		g.Reset()
	}
}
