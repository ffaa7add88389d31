// Package shell runs local programs as tasks: plain command execution,
// executable checks and "ensure installed" retry pairs.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

// Request describes one program invocation.
type Request struct {
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Result is the outcome of a program that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs programs. Run returns an error only when the program could
// not be started or was interrupted; a non-zero exit is reported in Result.
type Executor interface {
	Run(ctx context.Context, req Request) (*Result, error)
	LookPath(file string) (string, error)
}

// LocalExecutor runs programs on this machine.
type LocalExecutor struct{}

func (LocalExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (LocalExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		env := os.Environ()
		for _, k := range keys {
			env = append(env, k+"="+req.Env[k])
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
