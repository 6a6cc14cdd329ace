package orchestrator

import (
	"context"

	"github.com/substrate-run/substrate/pkg/compiler"
	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/events"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/pack"
	"github.com/substrate-run/substrate/pkg/services"
)

// PhaseContext is what every phase runner receives.
type PhaseContext struct {
	Run        *models.PipelineRun
	Pack       pack.Pack
	Compiler   *compiler.Compiler
	Dispatcher *dispatch.Dispatcher
	Decisions  *services.DecisionService
	Emitter    *events.Emitter

	// Agent is the adapter used for phase-level dispatches.
	Agent string

	// PromptTokens is the compiled-prompt token budget.
	PromptTokens int

	// Amendment is the pre-built amendment context block, empty on
	// non-amendment runs. Runners inject it into their prompts.
	Amendment string

	// Concept is the idea the run explores, fed to the analysis phase.
	Concept string

	// GraphDir is where the solutioning phase writes the generated task
	// graph file.
	GraphDir string
}

// PhaseResult is a phase runner's report. Decisions and artifacts are
// persisted by the runner before it returns; the orchestrator emits events
// only after that persistence has committed.
type PhaseResult struct {
	Result       string // success or failed
	Error        string
	InputTokens  int
	OutputTokens int
	// Output is the parsed structured block, for the next phase or logging.
	Output map[string]any
}

// Succeeded reports whether the phase completed successfully.
func (r *PhaseResult) Succeeded() bool {
	return r != nil && r.Result == "success"
}

// PhaseRunner executes one phase of the pipeline.
type PhaseRunner interface {
	Phase() models.Phase
	Run(ctx context.Context, pc *PhaseContext) (*PhaseResult, error)
}
