package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAdaptersCmd(a *app) *cobra.Command {
	var health bool

	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List configured agent adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if !health {
				for _, name := range a.registry.Names() {
					adapter, _ := a.registry.Get(name)
					fmt.Fprintf(out, "%s\t%s (%s/%s, %s)\n",
						name, adapter.Binary, adapter.Provider, adapter.Model, adapter.BillingMode)
				}
				return nil
			}

			if err := a.worktrees.VerifyGitVersion(cmd.Context()); err != nil {
				fmt.Fprintf(out, "git\tUNAVAILABLE\t%v\n", err)
			} else {
				fmt.Fprintln(out, "git\tOK")
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			unavailable := 0
			for _, h := range a.registry.Health() {
				if h.Available {
					fmt.Fprintf(w, "%s\tOK\t%s\n", h.Agent, h.Path)
				} else {
					unavailable++
					fmt.Fprintf(w, "%s\tUNAVAILABLE\t%s\n", h.Agent, h.Error)
				}
			}
			w.Flush()
			if unavailable > 0 {
				return fmt.Errorf("%d adapter(s) unavailable", unavailable)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&health, "health", false, "probe adapter binaries and the git version")
	return cmd
}
