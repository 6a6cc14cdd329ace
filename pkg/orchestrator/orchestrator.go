// Package orchestrator drives the phase state machine: analysis, planning,
// solutioning, implementation. Conversational phases dispatch a sub-agent
// with pack prompts and persist decisions; the implementation phase hands
// off to the task-graph engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/substrate-run/substrate/pkg/compiler"
	"github.com/substrate-run/substrate/pkg/config"
	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/events"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/pack"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/worktree"
)

var (
	// ErrInvalidPhaseRange indicates --stop-after precedes --from.
	ErrInvalidPhaseRange = errors.New("stop-after phase precedes from phase")

	// ErrPhaseFailed indicates a phase finished with a failed result.
	ErrPhaseFailed = errors.New("phase failed")

	// ErrRunTerminal indicates a resume targeted a run that already finished.
	ErrRunTerminal = errors.New("run already terminal")
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Runs       *services.PipelineService
	Decisions  *services.DecisionService
	Sessions   *services.SessionService
	Tasks      *services.TaskService
	Signals    *services.SignalService
	Dispatcher *dispatch.Dispatcher
	Registry   *config.AgentRegistry
	Worktrees  *worktree.Manager
	Compiler   *compiler.Compiler
	Pack       pack.Pack
	Emitter    *events.Emitter
	Config     *config.Config
}

// RunOptions controls one orchestrator invocation.
type RunOptions struct {
	// Concept is the idea to build, fed to the analysis phase.
	Concept string

	// From starts the run at this phase, seeding prior context from the
	// parent run when set. Empty means the first phase.
	From models.Phase

	// StopAfter halts after this phase's success and prints a completion
	// summary. Empty means run to the end.
	StopAfter models.Phase

	// ParentRunID makes this an amendment run.
	ParentRunID string

	// AmendmentPhases optionally filters which parent phases feed the
	// amendment context.
	AmendmentPhases []models.Phase

	// ResumeRunID continues an existing run from its next phase.
	ResumeRunID string

	// GraphFile skips straight to the implementation phase with this graph.
	GraphFile string

	// Agent overrides the default adapter for phase dispatches.
	Agent string
}

// Report is the orchestrator's terminal output for one invocation.
type Report struct {
	RunID         string              `json:"run_id"`
	Status        models.RunStatus    `json:"status"`
	PhasesRun     []models.Phase      `json:"phases_run"`
	StoppedAfter  models.Phase        `json:"stopped_after,omitempty"`
	Summary       string              `json:"summary,omitempty"`
	Duration      time.Duration       `json:"duration"`
	Supersessions []SupersessionEntry `json:"supersessions,omitempty"`
}

// Orchestrator runs the pipeline state machine.
type Orchestrator struct {
	deps      Deps
	amendment *AmendmentContext
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:      deps,
		amendment: NewAmendmentContext(deps.Decisions),
	}
}

// Amendment exposes the amendment handler (supersession log, mostly).
func (o *Orchestrator) Amendment() *AmendmentContext { return o.amendment }

// Run executes the phase sequence per the options.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	started := time.Now()

	from, stopAfter, err := validatePhaseRange(opts.From, opts.StopAfter)
	if err != nil {
		return nil, err
	}

	run, err := o.resolveRun(ctx, opts, &from)
	if err != nil {
		return nil, err
	}
	log := slog.With("run_id", run.ID, "methodology", run.Methodology)

	o.deps.Emitter.Emit(events.EventPipelineStart, events.PipelineStartPayload{
		RunID:       run.ID,
		Methodology: run.Methodology,
		FromPhase:   string(from),
		StopAfter:   string(stopAfter),
		ParentRunID: opts.ParentRunID,
	})

	amendmentBlock := ""
	if run.IsAmendment() {
		amendmentBlock, err = o.amendment.Build(ctx, *run.ParentRunID, opts.AmendmentPhases, opts.Concept)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{RunID: run.ID}
	for _, phase := range models.PhaseSequence {
		if phase.Index() < from.Index() {
			continue
		}
		phaseStart := time.Now()

		if err := o.deps.Runs.SetCurrentPhase(ctx, run.ID, phase); err != nil {
			return nil, err
		}
		o.deps.Emitter.Emit(events.EventStoryPhase, events.PhasePayload{
			RunID: run.ID, Phase: string(phase), Status: "started",
		})
		log.Info("Phase started", "phase", phase)

		result, err := o.runnerFor(phase, opts).Run(ctx, o.phaseContext(run, opts, amendmentBlock))
		if err != nil {
			o.failRun(run.ID, string(phase), err.Error())
			return nil, err
		}
		o.recordTokenUsage(ctx, run.ID, phase, opts.Agent, result)
		report.PhasesRun = append(report.PhasesRun, phase)

		if !result.Succeeded() {
			o.failRun(run.ID, string(phase), result.Error)
			return nil, fmt.Errorf("%w: %s: %s", ErrPhaseFailed, phase, result.Error)
		}

		// Persistence happened inside the runner; only now does the
		// completion event go out.
		o.deps.Emitter.Emit(events.EventStoryPhase, events.PhasePayload{
			RunID: run.ID, Phase: string(phase), Status: "completed",
		})
		log.Info("Phase completed", "phase", phase, "duration", time.Since(phaseStart).Round(time.Millisecond))

		if phase == stopAfter {
			return o.stopAfterPhase(ctx, run, phase, phaseStart, report, started)
		}
	}

	if err := o.deps.Runs.SetStatus(ctx, run.ID, models.RunStatusCompleted); err != nil {
		return nil, err
	}
	report.Status = models.RunStatusCompleted
	report.Duration = time.Since(started)
	report.Supersessions = o.amendment.SupersessionLog()
	o.deps.Emitter.Emit(events.EventPipelineComplete, events.PipelineCompletePayload{
		RunID:      run.ID,
		Status:     string(models.RunStatusCompleted),
		DurationMS: report.Duration.Milliseconds(),
	})
	return report, nil
}

// resolveRun creates a fresh run, or loads the resume target and advances
// from past its current phase.
func (o *Orchestrator) resolveRun(ctx context.Context, opts RunOptions, from *models.Phase) (*models.PipelineRun, error) {
	if opts.ResumeRunID == "" {
		return o.deps.Runs.CreateRun(ctx, services.CreateRunRequest{
			Methodology: o.deps.Config.Methodology,
			ParentRunID: opts.ParentRunID,
		})
	}

	run, err := o.deps.Runs.GetRun(ctx, opts.ResumeRunID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() && run.Status != models.RunStatusStopped {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, run.ID, run.Status)
	}
	if run.CurrentPhase != nil {
		if next := nextPhase(*run.CurrentPhase); next != "" && next.Index() > from.Index() {
			*from = next
		}
	}
	if err := o.deps.Runs.SetStatus(ctx, run.ID, models.RunStatusRunning); err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) phaseContext(run *models.PipelineRun, opts RunOptions, amendmentBlock string) *PhaseContext {
	promptTokens := 0
	if o.deps.Config.Budgets != nil {
		promptTokens = o.deps.Config.Budgets.PromptTokens
	}
	return &PhaseContext{
		Run:          run,
		Pack:         o.deps.Pack,
		Compiler:     o.deps.Compiler,
		Dispatcher:   o.deps.Dispatcher,
		Decisions:    o.deps.Decisions,
		Emitter:      o.deps.Emitter,
		Agent:        opts.Agent,
		PromptTokens: promptTokens,
		Amendment:    amendmentBlock,
		Concept:      opts.Concept,
		GraphDir:     filepath.Join(o.deps.Config.ProjectRoot, config.StateDirName, "graphs"),
	}
}

func (o *Orchestrator) runnerFor(phase models.Phase, opts RunOptions) PhaseRunner {
	switch phase {
	case models.PhaseAnalysis:
		return &llmPhase{phase: phase, persist: persistAnalysis}
	case models.PhasePlanning:
		return &llmPhase{phase: phase, persist: persistPlanning}
	case models.PhaseSolutioning:
		return &llmPhase{phase: phase, persist: persistSolutioning}
	default:
		return &implementationPhase{o: o, graphFile: opts.GraphFile}
	}
}

// stopAfterPhase halts the run and renders the completion summary.
func (o *Orchestrator) stopAfterPhase(ctx context.Context, run *models.PipelineRun, phase models.Phase, phaseStart time.Time, report *Report, started time.Time) (*Report, error) {
	if err := o.deps.Runs.SetStatus(ctx, run.ID, models.RunStatusStopped); err != nil {
		return nil, err
	}

	decisions, err := o.deps.Decisions.LoadParentRunDecisions(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	artifacts, err := o.deps.Decisions.ListArtifacts(ctx, models.ArtifactFilter{PipelineRunID: run.ID})
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.Path)
	}

	report.Status = models.RunStatusStopped
	report.StoppedAfter = phase
	report.Summary = FormatPhaseSummary(phase, phaseStart, time.Now(), len(decisions), paths, run.ID)
	report.Duration = time.Since(started)
	report.Supersessions = o.amendment.SupersessionLog()
	o.deps.Emitter.Emit(events.EventPipelineComplete, events.PipelineCompletePayload{
		RunID:      run.ID,
		Status:     string(models.RunStatusStopped),
		DurationMS: report.Duration.Milliseconds(),
	})
	return report, nil
}

func (o *Orchestrator) failRun(runID, phase, msg string) {
	if err := o.deps.Runs.SetStatus(context.Background(), runID, models.RunStatusFailed); err != nil {
		slog.Error("Failed to mark run failed", "run_id", runID, "error", err)
	}
	o.deps.Emitter.Emit(events.EventError, events.ErrorPayload{
		Kind:    "PhaseFailed",
		Message: msg,
		Context: map[string]any{"run_id": runID, "phase": phase},
	})
}

func (o *Orchestrator) recordTokenUsage(ctx context.Context, runID string, phase models.Phase, agent string, result *PhaseResult) {
	if result == nil || (result.InputTokens == 0 && result.OutputTokens == 0) {
		return
	}
	if err := o.deps.Decisions.AddTokenUsage(ctx, &models.TokenUsage{
		PipelineRunID: runID,
		Phase:         phase,
		Agent:         agent,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
	}); err != nil {
		slog.Warn("Failed to record token usage", "run_id", runID, "phase", phase, "error", err)
	}
}

// validatePhaseRange checks the --from / --stop-after pair.
func validatePhaseRange(from, stopAfter models.Phase) (models.Phase, models.Phase, error) {
	if from == "" {
		from = models.PhaseSequence[0]
	}
	if !from.IsValid() {
		return "", "", services.NewValidationError("from", fmt.Sprintf("unknown phase %q", from))
	}
	if stopAfter != "" {
		if !stopAfter.IsValid() {
			return "", "", services.NewValidationError("stop_after", fmt.Sprintf("unknown phase %q", stopAfter))
		}
		if stopAfter.Index() < from.Index() {
			return "", "", fmt.Errorf("%w: %s < %s", ErrInvalidPhaseRange, stopAfter, from)
		}
	}
	return from, stopAfter, nil
}
