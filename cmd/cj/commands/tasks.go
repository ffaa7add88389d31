package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newTasksCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			comps, err := newComponents(cmd.Context(), cfg, "", zerolog.Nop())
			if err != nil {
				return err
			}
			defer comps.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMATURITY\tDESCRIPTION")
			for _, reg := range comps.registry.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", reg.Name, reg.Maturity, reg.Description)
			}
			return w.Flush()
		},
	}
}

func newPoliciesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List deletion-protection policies",
		Long: `List the policies that decide which resources are never deleted.

Built-in policies protect resources tagged cj:protect=true or
do-not-delete=true, and resources whose cj:keep-until tag lies in the
future. More are loaded from policy.paths in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			comps, err := newComponents(cmd.Context(), cfg, "", zerolog.Nop())
			if err != nil {
				return err
			}
			defer comps.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range comps.guard.ListPolicies() {
				source := p.Source
				if source == "" {
					source = "builtin"
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", p.Name, p.Enabled, source, p.Description)
			}
			return w.Flush()
		},
	}
}
