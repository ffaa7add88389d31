package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

func newRunCommand(flags *globalFlags, info buildInfo) *cobra.Command {
	var (
		inputs []string
		match  string
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a registered task",
		Long: `Run a registered task and print its outputs.

Inputs are resolved in order: --input values, configuration (file and CJ_
environment variables), then task defaults. Values starting with [ or { are
read as YAML lists or maps.

Every run gets a directory <home>/<execution-id> holding generated files,
the run report (report.db) and metrics (metrics.prom).`,
		Example: `  # Report what would be removed for a prefix
  cj run cleanup-aws --input aws.filterPrefix=ci-

  # Actually delete, in parallel
  cj run cleanup-aws --input aws.filterPrefix=ci- \
    --capability CLOUD_DELETE_RESOURCES --parallel

  # Only match resources owned by a team
  cj run cleanup-aws --input aws.vpcId=vpc-0abc \
    --match 'resource.tags.get("team") == "ci"'

  # Run a command through the shell task
  cj run shell --input shell.cmds="terraform version" --input shell.timeout=90s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			explicit, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			if match != "" {
				explicit[cleanup.InputMatch] = match
			}

			a, err := newApp(ctx, cfg, args[0], info.Version)
			if err != nil {
				return err
			}

			task, err := a.comps.registry.New(args[0])
			if err != nil {
				return errors.Join(err, a.close(ctx, err))
			}
			task = engine.WithInputs(task, explicit)

			a.logger.Info().
				Str("task", args[0]).
				Str("execution_id", a.rc.ExecutionID).
				Bool("dry_run", a.rc.DryRun).
				Msg("Starting run")

			done, runErr := a.run(ctx, task)
			if closeErr := a.close(ctx, runErr); closeErr != nil {
				log.Warn().Err(closeErr).Msg("Failed to finish run cleanly")
			}
			if runErr != nil {
				return runErr
			}
			return printOutputs(cmd.OutOrStdout(), a.rc.ExecutionID, done)
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "task input (key=value, repeatable)")
	cmd.Flags().StringVar(&match, "match", "", "Starlark predicate narrowing cleanup matches")

	return cmd
}

// parseInputs turns key=value pairs into explicit task inputs.
func parseInputs(pairs []string) (map[engine.Input]any, error) {
	out := make(map[engine.Input]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{") {
			var decoded any
			if err := yaml.Unmarshal([]byte(value), &decoded); err != nil {
				return nil, fmt.Errorf("input %s: %w", key, err)
			}
			out[engine.Input(key)] = decoded
			continue
		}
		out[engine.Input(key)] = value
	}
	return out, nil
}

func printOutputs(w io.Writer, executionID string, task engine.Task) error {
	doc := map[string]any{"execution_id": executionID}
	if reason := skipReason(task); reason != "" {
		doc["skipped"] = reason
	}
	if outputs := task.Outputs(); len(outputs) > 0 {
		out := make(map[string]any, len(outputs))
		for k, v := range outputs {
			out[string(k)] = v
		}
		doc["outputs"] = out
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func skipReason(task engine.Task) string {
	if s, ok := task.(interface{ SkipReason() string }); ok {
		return s.SkipReason()
	}
	return ""
}
