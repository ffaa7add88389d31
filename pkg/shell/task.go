package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// DefaultTimeout bounds a command unless shell.timeout says otherwise.
const DefaultTimeout = 5 * time.Minute

// Inputs read by shell tasks.
const (
	InputCmds    engine.Input = "shell.cmds"
	InputCmd     engine.Input = "shell.cmd"
	InputDir     engine.Input = "shell.dir"
	InputTimeout engine.Input = "shell.timeout"
	InputDryRun  engine.Input = "shell.dryRun"
)

// Outputs produced by shell tasks.
const (
	OutputStdout   engine.Output = "shell.stdout"
	OutputStderr   engine.Output = "shell.stderr"
	OutputExitCode engine.Output = "shell.exitCode"
	OutputPath     engine.Output = "shell.path"
)

func executor(e Executor) Executor {
	if e == nil {
		return LocalExecutor{}
	}
	return e
}

// ShellTask runs the argv in shell.cmds and captures its output.
type ShellTask struct {
	engine.BaseTask

	Executor Executor
}

func (s *ShellTask) DeclaredName() string { return "shell" }

func (s *ShellTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (s *ShellTask) Maturity() engine.Maturity { return engine.Stable }

func (s *ShellTask) Apply(ctx context.Context) error {
	args, err := s.commandLine()
	if err != nil {
		return s.FailErr("read "+string(InputCmds), err)
	}
	if len(args) == 0 {
		return s.Failf("missing input %s", InputCmds)
	}
	line := strings.Join(args, " ")

	timeout := DefaultTimeout
	if d, ok, err := engine.InputAs[time.Duration](s, InputTimeout); err != nil {
		return s.FailErr("read "+string(InputTimeout), err)
	} else if ok && d > 0 {
		timeout = d
	}

	if dry, _, _ := engine.InputAs[bool](s, InputDryRun); dry {
		s.Skip("dry run: " + line)
		s.Success(OutputStdout, "")
		return nil
	}

	s.Log().Debug().Str("cmd", line).Dur("timeout", timeout).Msg("executing")
	res, err := executor(s.Executor).Run(ctx, Request{
		Args:    args,
		Dir:     s.InputString(InputDir, ""),
		Timeout: timeout,
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTimeoutError(fmt.Sprintf("%s timed out after %s", args[0], timeout), err)
	}
	if err != nil {
		return s.FailErr("run "+args[0], err)
	}

	s.Success(OutputStdout, res.Stdout)
	s.Success(OutputStderr, res.Stderr)
	s.Success(OutputExitCode, res.ExitCode)
	if res.ExitCode != 0 {
		return s.Failf("%s exited with code %d: %s", args[0], res.ExitCode, lastLine(res.Stderr))
	}
	s.Log().Debug().Dur("elapsed", res.Duration).Msg("command finished")
	return nil
}

// commandLine reads shell.cmds as an argv list, or as a single
// "prog arg arg" string split on whitespace.
func (s *ShellTask) commandLine() ([]string, error) {
	if line, ok := s.Input(InputCmds); ok {
		if str, isString := line.(string); isString {
			return strings.Fields(str), nil
		}
	}
	args, err := engine.InputList[string](s, InputCmds)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 && strings.Contains(args[0], " ") {
		return strings.Fields(args[0]), nil
	}
	return args, nil
}

// InstallTask is a ShellTask that puts a program on the host.
type InstallTask struct {
	ShellTask
}

func (i *InstallTask) DeclaredName() string { return "install" }

func (i *InstallTask) RequiredCapabilities() []engine.Capability {
	return []engine.Capability{engine.CapShellInstall}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// CheckCommandTask verifies that shell.cmd is on the PATH. A missing
// executable is a recoverable precondition so it can be paired with an
// install fix.
type CheckCommandTask struct {
	engine.BaseTask

	Executor Executor
}

func (c *CheckCommandTask) DeclaredName() string { return "check-command" }

func (c *CheckCommandTask) IsWrite() bool { return false }

func (c *CheckCommandTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (c *CheckCommandTask) Apply(context.Context) error {
	name, err := c.ExpectInputString(InputCmd)
	if err != nil {
		return err
	}
	path, err := executor(c.Executor).LookPath(name)
	if err != nil {
		return engine.Unmet(name+" not found on PATH", err)
	}
	c.Success(OutputPath, path)
	c.Log().Debug().Str("path", path).Msg("found " + name)
	return nil
}
