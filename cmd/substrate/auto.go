package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/orchestrator"
	"github.com/substrate-run/substrate/pkg/services"
)

func newAutoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Run the full pipeline autonomously",
	}
	cmd.AddCommand(newAutoRunCmd(a), newAutoResumeCmd(a))
	return cmd
}

func newAutoRunCmd(a *app) *cobra.Command {
	var (
		from        string
		stopAfter   string
		parentRunID string
		amendPhases []string
		agent       string
	)

	cmd := &cobra.Command{
		Use:   "run <concept>",
		Short: "Run the pipeline from a concept",
		Long: `Runs the phase pipeline for a concept. By default all four phases run
end to end; --from and --stop-after bound the range, and --amend starts an
amendment run seeded with the parent run's decisions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := orchestrator.RunOptions{
				Concept:     args[0],
				From:        models.Phase(from),
				StopAfter:   models.Phase(stopAfter),
				ParentRunID: parentRunID,
				Agent:       agent,
			}
			for _, p := range amendPhases {
				phase := models.Phase(strings.TrimSpace(p))
				if !phase.IsValid() {
					return services.NewValidationError("phases", fmt.Sprintf("unknown phase %q", p))
				}
				opts.AmendmentPhases = append(opts.AmendmentPhases, phase)
			}
			return runPipeline(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start at this phase (analysis, planning, solutioning, implementation)")
	cmd.Flags().StringVar(&stopAfter, "stop-after", "", "stop after this phase completes")
	cmd.Flags().StringVar(&parentRunID, "amend", "", "parent run ID for an amendment run")
	cmd.Flags().StringSliceVar(&amendPhases, "phases", nil, "restrict amendment context to these parent phases")
	cmd.Flags().StringVar(&agent, "agent", "", "override the default agent adapter")
	return cmd
}

func newAutoResumeCmd(a *app) *cobra.Command {
	var (
		runID     string
		stopAfter string
		agent     string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a stopped or interrupted run from its next phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, a, orchestrator.RunOptions{
				ResumeRunID: runID,
				StopAfter:   models.Phase(stopAfter),
				Agent:       agent,
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run to resume")
	cmd.Flags().StringVar(&stopAfter, "stop-after", "", "stop after this phase completes")
	cmd.Flags().StringVar(&agent, "agent", "", "override the default agent adapter")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

// runPipeline is the shared execution path for auto run, auto resume, and
// run <graph>. Ctrl-C cancels the context; the engine drains in-flight tasks
// and marks the session interrupted.
func runPipeline(cmd *cobra.Command, a *app, opts orchestrator.RunOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.recoverStartup(ctx); err != nil {
		return err
	}
	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, opts)
	if err != nil {
		return err
	}

	if report.Summary != "" {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s finished %s in %s (%d phases)\n",
		report.RunID, report.Status, report.Duration.Round(timeRounding), len(report.PhasesRun))
	return nil
}
