package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/substrate-run/substrate/pkg/events"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show task counts and cost for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessionID := args[0]

			session, err := a.sessions.GetSession(ctx, sessionID)
			if err != nil {
				return err
			}
			counts, err := a.tasks.Counts(ctx, sessionID)
			if err != nil {
				return err
			}
			cost, err := a.costs.SessionSummary(ctx, sessionID)
			if err != nil {
				return err
			}

			a.emitter.Emit(events.EventStatusSnapshot, events.SnapshotPayload{
				SessionID: sessionID,
				Status:    string(session.Status),
				Counts:    counts,
				CostUSD:   session.TotalCostUSD,
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s: %s\n", session.ID, session.Status)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "pending\t%d\n", counts.Pending)
			fmt.Fprintf(w, "ready\t%d\n", counts.Ready)
			fmt.Fprintf(w, "queued\t%d\n", counts.Queued)
			fmt.Fprintf(w, "running\t%d\n", counts.Running)
			fmt.Fprintf(w, "completed\t%d\n", counts.Completed)
			fmt.Fprintf(w, "failed\t%d\n", counts.Failed)
			fmt.Fprintf(w, "cancelled\t%d\n", counts.Cancelled)
			fmt.Fprintf(w, "blocked\t%d\n", counts.Blocked)
			w.Flush()

			fmt.Fprintf(out, "Cost: $%.4f total", session.TotalCostUSD)
			if session.BudgetUSD != nil {
				fmt.Fprintf(out, " of $%.2f budget", *session.BudgetUSD)
			}
			fmt.Fprintln(out)
			if cost.SubscriptionSavings > 0 {
				fmt.Fprintf(out, "Subscription savings: $%.4f\n", cost.SubscriptionSavings)
			}
			if len(cost.ByAgent) > 0 {
				agents := make([]string, 0, len(cost.ByAgent))
				for agent := range cost.ByAgent {
					agents = append(agents, agent)
				}
				sort.Strings(agents)
				for _, agent := range agents {
					fmt.Fprintf(out, "  %s: $%.4f\n", agent, cost.ByAgent[agent])
				}
			}
			return nil
		},
	}
}
