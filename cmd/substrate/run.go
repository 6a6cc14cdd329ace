package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/substrate-run/substrate/pkg/models"
	"github.com/substrate-run/substrate/pkg/orchestrator"
)

const timeRounding = time.Second

func newRunCmd(a *app) *cobra.Command {
	var agent string

	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Execute a task graph directly, skipping the planning phases",
		Long: `Parses and validates a task graph file, creates a session, and runs the
implementation engine against it. Equivalent to 'auto run --from implementation'
with an explicit graph.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, a, orchestrator.RunOptions{
				From:      models.PhaseImplementation,
				GraphFile: args[0],
				Agent:     agent,
			})
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "override the default agent adapter")
	return cmd
}
