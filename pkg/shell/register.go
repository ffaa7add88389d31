package shell

import (
	"errors"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// Register adds the shell tasks to reg.
func Register(reg *engine.Registry, r Runner) error {
	return errors.Join(
		reg.Register("Runs the command in shell.cmds",
			func() engine.Task { return &ShellTask{Executor: r.Executor} }),
		reg.Register("Checks that shell.cmd is on the PATH",
			func() engine.Task { return &CheckCommandTask{Executor: r.Executor} }),
	)
}
