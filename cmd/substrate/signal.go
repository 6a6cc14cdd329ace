package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/substrate-run/substrate/pkg/models"
)

// newSignalCmd builds one of pause/resume/cancel. All three enqueue a signal
// row the running engine consumes on its next tick; they do not touch the
// engine process directly.
func newSignalCmd(a *app, kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			if _, err := a.sessions.GetSession(cmd.Context(), sessionID); err != nil {
				return err
			}
			if err := a.signals.Enqueue(cmd.Context(), sessionID, models.SignalKind(kind)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signal %q queued for session %s\n", kind, sessionID)
			return nil
		},
	}
}
