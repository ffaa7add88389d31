package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudjanitor/cloudjanitor/pkg/stores"
)

const reportFile = "report.db"

func newReportCommand(flags *globalFlags) *cobra.Command {
	var (
		asYAML bool
		events bool
	)

	cmd := &cobra.Command{
		Use:   "report [execution-id]",
		Short: "Show the report of a run",
		Long: `Show what a run did: every submitted task with its status, duration,
retries and error. Without an execution id the latest run is shown.`,
		Example: `  cj report
  cj report 20260301-142500 --yaml --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			executionID := ""
			if len(args) == 1 {
				executionID = args[0]
			} else if executionID, err = latestRun(cfg.Home); err != nil {
				return err
			}

			path := cfg.ReportPath(executionID)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no report for run %s: %w", executionID, err)
			}

			ctx := cmd.Context()
			store, err := stores.NewSQLiteStore(stores.Config{Path: path})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			report, err := store.Report(ctx, executionID, events || asYAML)
			if err != nil {
				return err
			}

			if asYAML {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			}
			return printReport(cmd.OutOrStdout(), report, events)
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the full report as YAML")
	cmd.Flags().BoolVar(&events, "events", false, "include the event log")

	return cmd
}

// latestRun finds the newest execution directory holding a report.
// Execution ids sort chronologically.
func latestRun(home string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(home, "*", reportFile))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errors.New("no runs recorded yet")
	}
	sort.Strings(matches)
	return filepath.Base(filepath.Dir(matches[len(matches)-1])), nil
}

func printReport(w io.Writer, r *stores.Report, withEvents bool) error {
	run := r.Run
	fmt.Fprintf(w, "Run %s: %s %s", run.ID, run.Task, run.Status)
	if run.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	fmt.Fprintln(w)
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Took %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Fprintf(w, "Error: %s\n", *run.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tWRITE\tRETRIES\tDURATION\tDETAIL")
	for _, t := range r.Tasks {
		duration := "-"
		if t.DurationMS != nil {
			duration = fmt.Sprintf("%dms", *t.DurationMS)
		}
		detail := ""
		if t.Error != nil {
			detail = *t.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n", t.Name, t.Status, t.Write, t.Retries, duration, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if withEvents {
		fmt.Fprintln(w)
		for _, e := range r.Events {
			fmt.Fprintf(w, "%s %-7s %s\n", e.Timestamp.Format("15:04:05.000"), e.Level, e.Message)
		}
	}
	return nil
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
