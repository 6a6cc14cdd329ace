package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/substrate-run/substrate/pkg/gates"
	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/taskgraph"
)

// implementationPhase delegates to the task-graph engine: parse the graph
// produced by solutioning (or supplied on the command line), create the
// session, and run the DAG.
type implementationPhase struct {
	o *Orchestrator

	// graphFile overrides the solutioning artifact when set (substrate run
	// <graph> enters here directly).
	graphFile string
}

func (p *implementationPhase) Phase() models.Phase { return models.PhaseImplementation }

func (p *implementationPhase) Run(ctx context.Context, pc *PhaseContext) (*PhaseResult, error) {
	graphFile := p.graphFile
	if graphFile == "" {
		artifact, err := pc.Decisions.GetLatestArtifact(ctx, pc.Run.ID, models.PhaseSolutioning, "task-graph")
		if err != nil {
			return nil, fmt.Errorf("no task graph for run %s: %w", pc.Run.ID, err)
		}
		graphFile = artifact.Path
	}

	graph, err := taskgraph.ParseFile(graphFile)
	if err != nil {
		return nil, err
	}
	validation, err := taskgraph.Validate(graph, p.o.deps.Registry)
	if err != nil {
		return nil, err
	}
	for _, w := range validation.Warnings {
		slog.Warn("Task graph warning", "warning", w)
	}

	budget := graph.Session.BudgetUSD
	if budget == nil && p.o.deps.Config.Budgets != nil {
		budget = p.o.deps.Config.Budgets.SessionUSD
	}
	session, err := p.o.deps.Sessions.CreateSession(ctx, services.CreateSessionRequest{
		GraphFile:  graphFile,
		BaseBranch: p.o.deps.Config.BaseBranch,
		BudgetUSD:  budget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	tasks, deps := taskgraph.Materialize(graph, session.ID, p.o.deps.Config.Defaults)
	if err := p.o.deps.Tasks.CreateTasks(ctx, session.ID, tasks, deps); err != nil {
		return nil, fmt.Errorf("failed to create tasks: %w", err)
	}

	engine := p.o.newEngine(session.ID)
	summary, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}

	pr := &PhaseResult{Output: map[string]any{
		"session_id":     summary.SessionID,
		"total_cost_usd": summary.TotalCostUSD,
		"completed":      summary.Counts.Completed,
		"failed":         summary.Counts.Failed,
	}}
	if summary.Status == models.SessionStatusComplete {
		pr.Result = "success"
	} else {
		pr.Result = "failed"
		pr.Error = fmt.Sprintf("session finished %s: %d failed, %d blocked",
			summary.Status, summary.Counts.Failed, summary.Counts.Blocked)
	}
	return pr, nil
}

// newEngine builds the task-graph engine for one session, wiring the default
// gate pipeline for dev-story tasks.
func (o *Orchestrator) newEngine(sessionID string) *taskgraph.Engine {
	opts := taskgraph.EngineOptions{
		AutoMerge:  o.deps.Config.Defaults != nil && o.deps.Config.Defaults.AutoMerge,
		BaseBranch: o.deps.Config.BaseBranch,
	}
	if q := o.deps.Config.Queue; q != nil {
		opts.MaxConcurrency = q.MaxConcurrency
		opts.TickInterval = q.TickInterval
		opts.HeartbeatInterval = q.HeartbeatInterval
	}
	if d := o.deps.Config.Defaults; d != nil {
		opts.DefaultTimeout = d.TaskTimeout
	}

	maxRetries := 2
	if d := o.deps.Config.Defaults; d != nil && d.MaxRetries > 0 {
		maxRetries = d.MaxRetries
	}
	factory := func(task *models.Task) *gates.Pipeline {
		if task.TaskType != "dev-story" {
			return nil
		}
		return gates.NewPipeline(
			gates.NewGate(gates.KindACValidation, maxRetries, gates.ACValidationEvaluator),
			gates.NewGate(gates.KindTestCoverage, maxRetries, gates.TestCoverageEvaluator),
		)
	}

	return taskgraph.NewEngine(taskgraph.EngineDeps{
		Tasks:      o.deps.Tasks,
		Sessions:   o.deps.Sessions,
		Signals:    o.deps.Signals,
		Dispatcher: o.deps.Dispatcher,
		Registry:   o.deps.Registry,
		Worktrees:  o.deps.Worktrees,
		Emitter:    o.deps.Emitter,
		Gates:      factory,
	}, opts, sessionID)
}
