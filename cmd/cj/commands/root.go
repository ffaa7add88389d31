package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloudjanitor/cloudjanitor/pkg/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath   string
	home         string
	verbose      bool
	capabilities []string
	parallel     bool
	dryRun       bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	flags := &globalFlags{}
	info := buildInfo{Version: version, Commit: commit, BuildDate: buildDate}

	rootCmd := &cobra.Command{
		Use:   "cj",
		Short: "cloudjanitor - cloud cleanup and provisioning tasks",
		Long: `cloudjanitor runs composable tasks against cloud accounts: cleaning up
prefixed or VPC-scoped AWS resources, running aws-nuke, creating OpenShift
clusters, and anything built from the shell and sample tasks.

Side effects are gated by capabilities. Without CLOUD_DELETE_RESOURCES the
cleanup tasks only report what they would delete, and missing tools are
only installed with SHELL_INSTALL.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file path (default <home>/cj.yaml)")
	pf.StringVar(&flags.home, "home", "", "application home (default ~/.cj)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringSliceVar(&flags.capabilities, "capability", nil, "grant a capability (repeatable)")
	pf.BoolVar(&flags.parallel, "parallel", false, "run fan-out work in parallel")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "skip tasks with side effects")

	rootCmd.AddCommand(newRunCommand(flags, info))
	rootCmd.AddCommand(newTasksCommand(flags))
	rootCmd.AddCommand(newPoliciesCommand(flags))
	rootCmd.AddCommand(newReportCommand(flags))
	rootCmd.AddCommand(newVersionCommand(info))

	return rootCmd
}

// loadConfig merges the global flags into the configuration. Only flags the
// user set override file and environment values.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Loaded, error) {
	overrides := map[string]any{}
	pf := cmd.Flags()
	if flags.home != "" {
		overrides["home"] = flags.home
	}
	if flags.verbose {
		overrides["logging.level"] = "debug"
	}
	if pf.Changed("capability") {
		overrides["capabilities"] = flags.capabilities
	}
	if pf.Changed("parallel") {
		overrides["parallel"] = flags.parallel
	}
	if pf.Changed("dry-run") {
		overrides["dry_run"] = flags.dryRun
	}
	return config.Load(config.Options{File: flags.configPath, Overrides: overrides})
}

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

func newVersionCommand(info buildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(cmd.OutOrStdout(), info)
		},
	}
}

func printVersion(w io.Writer, info buildInfo) error {
	_, err := fmt.Fprintf(w, "cj %s\ncommit: %s\nbuilt: %s\n", info.Version, info.Commit, info.BuildDate)
	return err
}
