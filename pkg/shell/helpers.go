package shell

import (
	"context"
	"runtime"
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// Parent is the task on whose behalf commands are submitted.
type Parent interface {
	Submit(ctx context.Context, t engine.Task) (engine.Task, error)
	Retry(ctx context.Context, main, fix engine.Task) error
}

// Install maps a GOOS value to the argv that installs a program there.
type Install map[string][]string

// Runner submits shell tasks as delegates of a parent task.
type Runner struct {
	Executor Executor
}

// Command builds a shell task for args without submitting it.
func (r Runner) Command(args ...string) *ShellTask {
	return engine.WithInput(&ShellTask{Executor: r.Executor}, InputCmds, args)
}

// Exec runs args with the default timeout and returns stdout.
func (r Runner) Exec(ctx context.Context, parent Parent, args ...string) (string, error) {
	return r.ExecTimeout(ctx, parent, DefaultTimeout, args...)
}

// ExecTimeout runs args bounded by timeout and returns stdout.
func (r Runner) ExecTimeout(ctx context.Context, parent Parent, timeout time.Duration, args ...string) (string, error) {
	t := engine.WithInput(r.Command(args...), InputTimeout, timeout)
	if _, err := parent.Submit(ctx, t); err != nil {
		return "", err
	}
	out, _, err := engine.OutputString(t, OutputStdout)
	return out, err
}

// EnsureCommand checks that exe is installed and, when it is not, runs
// the install command for this OS before checking again. Installing
// requires SHELL_INSTALL.
func (r Runner) EnsureCommand(ctx context.Context, parent Parent, exe string, install Install) error {
	check := engine.WithInput(&CheckCommandTask{Executor: r.Executor}, InputCmd, exe)
	fix, ok := install[runtime.GOOS]
	if !ok {
		_, err := parent.Submit(ctx, check)
		return err
	}
	return parent.Retry(ctx, check, engine.WithInput(&InstallTask{ShellTask{Executor: r.Executor}}, InputCmds, fix))
}
