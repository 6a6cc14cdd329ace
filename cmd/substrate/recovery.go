package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecoverCmd(a *app) *cobra.Command {
	var archive bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reconcile state left behind by a crashed run",
		Long: `Requeues tasks stuck in running (when they have retries left), fails the
rest, and removes orphaned worktrees. With --archive, an interrupted session
is marked abandoned instead of being left for resume.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			report, err := a.recovery.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovery: %d requeued, %d failed\n",
				report.TasksRequeued, report.TasksFailed)

			session, err := a.recovery.FindInterruptedSession(ctx)
			if err != nil {
				return err
			}
			if session == nil {
				return nil
			}
			if archive {
				if err := a.recovery.ArchiveSession(ctx, session.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived interrupted session %s\n", session.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Interrupted session %s found; resume with 'substrate auto resume' or archive with 'substrate recover --archive'\n",
				session.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&archive, "archive", false, "mark an interrupted session abandoned")
	return cmd
}
