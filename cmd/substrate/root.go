package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/substrate-run/substrate/pkg/compiler"
	"github.com/substrate-run/substrate/pkg/config"
	"github.com/substrate-run/substrate/pkg/database"
	"github.com/substrate-run/substrate/pkg/dispatch"
	"github.com/substrate-run/substrate/pkg/events"
	"github.com/substrate-run/substrate/pkg/orchestrator"
	"github.com/substrate-run/substrate/pkg/pack"
	"github.com/substrate-run/substrate/pkg/queue"
	"github.com/substrate-run/substrate/pkg/services"
	"github.com/substrate-run/substrate/pkg/version"
	"github.com/substrate-run/substrate/pkg/worktree"
)

// app holds everything a subcommand might need, wired once per invocation.
// Construction order matters: config, then database, then services, then the
// pieces that consume them.
type app struct {
	cfg    *config.Config
	client *database.Client

	runs      *services.PipelineService
	decisions *services.DecisionService
	sessions  *services.SessionService
	tasks     *services.TaskService
	signals   *services.SignalService
	costs     *services.CostService

	registry   *config.AgentRegistry
	dispatcher *dispatch.Dispatcher
	worktrees  *worktree.Manager
	compiler   *compiler.Compiler
	pack       pack.Pack
	emitter    *events.Emitter
	recovery   *queue.RecoveryManager
}

type rootFlags struct {
	projectRoot string
	jsonEvents  bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{}

	cmd := &cobra.Command{
		Use:   "substrate",
		Short: "Multi-agent code generation orchestrator",
		Long: `substrate drives a phased code generation pipeline: analysis, planning,
solutioning, and implementation. Implementation executes a task graph with
external agent CLIs, each task in its own git worktree.`,
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(flags.verbose, flags.jsonEvents)
			return a.bootstrap(cmd.Context(), flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.projectRoot, "project-root", "", "project root (defaults to the working directory)")
	cmd.PersistentFlags().BoolVar(&flags.jsonEvents, "json", false, "emit NDJSON events on stdout")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newAutoCmd(a),
		newRunCmd(a),
		newSignalCmd(a, "pause", "Pause a running session after in-flight tasks finish"),
		newSignalCmd(a, "resume", "Resume a paused session"),
		newSignalCmd(a, "cancel", "Cancel a session, terminating in-flight tasks"),
		newRecoverCmd(a),
		newStatusCmd(a),
		newAdaptersCmd(a),
	)
	return cmd
}

// bootstrap wires config, database, services, and collaborators. Runs once
// per CLI invocation, before any subcommand.
func (a *app) bootstrap(ctx context.Context, flags *rootFlags) error {
	root := flags.projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}

	cfg, err := config.Initialize(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	a.cfg = cfg

	client, err := database.NewClient(ctx, database.DefaultConfig(root))
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	a.client = client
	db := client.DB()

	a.runs = services.NewPipelineService(db)
	a.decisions = services.NewDecisionService(db)
	a.sessions = services.NewSessionService(db)
	a.tasks = services.NewTaskService(db)
	a.signals = services.NewSignalService(db)
	a.costs = services.NewCostService(db)

	a.registry = config.NewAgentRegistry(cfg)
	a.dispatcher = dispatch.New(a.registry)
	if cfg.Queue != nil && cfg.Queue.ShutdownGrace > 0 {
		a.dispatcher = a.dispatcher.WithShutdownGrace(cfg.Queue.ShutdownGrace)
	}
	a.worktrees = worktree.NewManager(cfg.ProjectRoot, cfg.WorktreesDir, cfg.BranchPrefix, cfg.BaseBranch)
	a.compiler = compiler.New(a.decisions)
	a.recovery = queue.NewRecoveryManager(a.tasks, a.sessions, a.worktrees)

	if flags.jsonEvents {
		a.emitter = events.NewEmitter(os.Stdout)
	}
	return nil
}

// loadPack reads the configured methodology pack. Deferred out of bootstrap
// so commands that never dispatch (status, pause) work without a pack on disk.
func (a *app) loadPack() error {
	if a.pack != nil {
		return nil
	}
	p, err := pack.Load(a.cfg.PacksDir, a.cfg.Methodology)
	if err != nil {
		return fmt.Errorf("failed to load methodology pack %q: %w", a.cfg.Methodology, err)
	}
	a.pack = p
	return nil
}

func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	if err := a.loadPack(); err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Deps{
		Runs:       a.runs,
		Decisions:  a.decisions,
		Sessions:   a.sessions,
		Tasks:      a.tasks,
		Signals:    a.signals,
		Dispatcher: a.dispatcher,
		Registry:   a.registry,
		Worktrees:  a.worktrees,
		Compiler:   a.compiler,
		Pack:       a.pack,
		Emitter:    a.emitter,
		Config:     a.cfg,
	}), nil
}

// recoverStartup reconciles crash leftovers before an engine-bearing command
// dispatches anything.
func (a *app) recoverStartup(ctx context.Context) error {
	report, err := a.recovery.Run(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	if report.TasksRequeued > 0 || report.TasksFailed > 0 {
		slog.Info("Startup recovery reconciled crashed tasks",
			"requeued", report.TasksRequeued, "failed", report.TasksFailed)
	}
	return nil
}

func (a *app) close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			slog.Error("Error closing state database", "error", err)
		}
	}
}

// setupLogging routes logs to stderr so stdout stays clean for NDJSON events
// and human-facing output.
func setupLogging(verbose, jsonEvents bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	var handler slog.Handler
	if jsonEvents {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
