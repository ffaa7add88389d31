package shell

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// fakeExecutor records requests. Programs "installed" after an install
// command become visible to LookPath.
type fakeExecutor struct {
	mu        sync.Mutex
	requests  []Request
	installed map[string]bool
	results   map[string]*Result
	err       error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{installed: map[string]bool{}, results: map[string]*Result{}}
}

func (f *fakeExecutor) Run(_ context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if req.Args[0] == "install" {
		f.installed[req.Args[1]] = true
	}
	if r, ok := f.results[req.Args[0]]; ok {
		return r, nil
	}
	return &Result{Stdout: strings.Join(req.Args, " ")}, nil
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installed[file] {
		return "/usr/local/bin/" + file, nil
	}
	return "", exec.ErrNotFound
}

func (f *fakeExecutor) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, strings.Join(r.Args, " "))
	}
	return out
}

func newRun(t *testing.T, dryRun bool, caps ...engine.Capability) *engine.Tasks {
	t.Helper()
	rc, err := engine.NewContext(engine.Options{
		Home:         t.TempDir(),
		DryRun:       dryRun,
		Capabilities: engine.NewCapabilitySet(caps...),
		Clock:        engine.NewVirtualClock(time.Unix(0, 0)),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return engine.NewTasks(rc)
}

// parentTask lets a test act as the submitting task.
type parentTask struct {
	engine.BaseTask
	body func(ctx context.Context, p *parentTask) error
}

func (p *parentTask) IsWrite() bool { return false }

func (p *parentTask) Apply(ctx context.Context) error { return p.body(ctx, p) }

func TestShellTaskCapturesStdout(t *testing.T) {
	fe := newFakeExecutor()
	run := newRun(t, false)
	task := engine.WithInput(&ShellTask{Executor: fe}, InputCmds, []string{"echo hello"})
	_, err := run.Submit(context.Background(), task)
	require.NoError(t, err)

	out, ok, err := engine.OutputString(task, OutputStdout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "echo hello", out)
	assert.Equal(t, DefaultTimeout, fe.requests[0].Timeout)
	assert.Equal(t, []string{"echo", "hello"}, fe.requests[0].Args)
}

func TestShellTaskReadsCommandLineInputs(t *testing.T) {
	fe := newFakeExecutor()
	run := newRun(t, false)
	task := engine.WithInputs(&ShellTask{Executor: fe}, map[engine.Input]any{
		InputCmds:    "terraform version",
		InputTimeout: "90s",
	})
	_, err := run.Submit(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, fe.requests, 1)
	assert.Equal(t, []string{"terraform", "version"}, fe.requests[0].Args)
	assert.Equal(t, 90*time.Second, fe.requests[0].Timeout)

	bad := engine.WithInputs(&ShellTask{Executor: fe}, map[engine.Input]any{
		InputCmds:    "terraform version",
		InputTimeout: "ninety",
	})
	_, err = run.Submit(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(InputTimeout))
	assert.Len(t, fe.requests, 1)
}

func TestShellTaskNonZeroExit(t *testing.T) {
	fe := newFakeExecutor()
	fe.results["false"] = &Result{ExitCode: 2, Stderr: "warming up\nboom"}
	run := newRun(t, false)
	task := engine.WithInput(&ShellTask{Executor: fe}, InputCmds, []string{"false"})
	_, err := run.Submit(context.Background(), task)
	require.Error(t, err)
	assert.True(t, engine.IsMessage(err))
	assert.Contains(t, err.Error(), "exited with code 2: boom")
	code, _, _ := engine.OutputAs[int](task, OutputExitCode)
	assert.Equal(t, 2, code)
}

func TestShellTaskTimeout(t *testing.T) {
	fe := newFakeExecutor()
	fe.err = context.DeadlineExceeded
	run := newRun(t, false)
	task := engine.WithInputs(&ShellTask{Executor: fe}, map[engine.Input]any{
		InputCmds:    []string{"sleep", "100"},
		InputTimeout: time.Second,
	})
	_, err := run.Submit(context.Background(), task)
	require.Error(t, err)
	assert.True(t, engine.IsTimeout(err))
	assert.Contains(t, task.Errors(), engine.ErrorTimeout)
	assert.Equal(t, time.Second, fe.requests[0].Timeout)
}

func TestShellTaskMissingCommand(t *testing.T) {
	run := newRun(t, false)
	_, err := run.Submit(context.Background(), &ShellTask{Executor: newFakeExecutor()})
	require.Error(t, err)
	assert.True(t, engine.IsMessage(err))
}

func TestShellTaskDryRun(t *testing.T) {
	fe := newFakeExecutor()
	run := newRun(t, false)
	task := engine.WithInputs(&ShellTask{Executor: fe}, map[engine.Input]any{
		InputCmds:   []string{"rm", "-rf", "/tmp/x"},
		InputDryRun: true,
	})
	_, err := run.Submit(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, fe.lines())
	assert.Equal(t, "dry run: rm -rf /tmp/x", task.SkipReason())

	// A dry run of the whole engine skips the write as well.
	run = newRun(t, true)
	task = engine.WithInput(&ShellTask{Executor: fe}, InputCmds, []string{"rm", "-rf", "/tmp/x"})
	_, err = run.Submit(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, fe.lines())
}

func TestCheckCommandMissingIsTerminalOutsideRetry(t *testing.T) {
	run := newRun(t, false)
	task := engine.WithInput(&CheckCommandTask{Executor: newFakeExecutor()}, InputCmd, "aws-nuke")
	_, err := run.Submit(context.Background(), task)
	require.Error(t, err)
	assert.True(t, engine.IsMessage(err))
	assert.Contains(t, err.Error(), "aws-nuke not found on PATH")
}

func TestEnsureCommandInstallsThenChecks(t *testing.T) {
	fe := newFakeExecutor()
	r := Runner{Executor: fe}
	run := newRun(t, false, engine.CapShellInstall)
	parent := &parentTask{body: func(ctx context.Context, p *parentTask) error {
		return r.EnsureCommand(ctx, p, "aws-nuke", Install{runtime.GOOS: {"install", "aws-nuke"}})
	}}
	_, err := run.Submit(context.Background(), parent)
	require.NoError(t, err)
	assert.Equal(t, []string{"install aws-nuke"}, fe.lines())
}

func TestEnsureCommandInstallNeedsCapability(t *testing.T) {
	fe := newFakeExecutor()
	r := Runner{Executor: fe}
	run := newRun(t, false)
	parent := &parentTask{body: func(ctx context.Context, p *parentTask) error {
		return r.EnsureCommand(ctx, p, "aws-nuke", Install{runtime.GOOS: {"install", "aws-nuke"}})
	}}
	_, err := run.Submit(context.Background(), parent)
	require.Error(t, err)
	assert.True(t, engine.IsCapabilityNotFound(err))
	assert.Contains(t, err.Error(), string(engine.CapShellInstall))
	assert.Empty(t, fe.lines())
	assert.False(t, fe.installed["aws-nuke"])
}

func TestEnsureCommandAlreadyInstalled(t *testing.T) {
	fe := newFakeExecutor()
	fe.installed["ccoctl"] = true
	r := Runner{Executor: fe}
	run := newRun(t, false)
	parent := &parentTask{body: func(ctx context.Context, p *parentTask) error {
		return r.EnsureCommand(ctx, p, "ccoctl", Install{runtime.GOOS: {"install", "ccoctl"}})
	}}
	_, err := run.Submit(context.Background(), parent)
	require.NoError(t, err)
	assert.Empty(t, fe.lines())
}

func TestEnsureCommandWithoutInstallForOS(t *testing.T) {
	r := Runner{Executor: newFakeExecutor()}
	run := newRun(t, false)
	parent := &parentTask{body: func(ctx context.Context, p *parentTask) error {
		return r.EnsureCommand(ctx, p, "ccoctl", Install{"plan9": {"install", "ccoctl"}})
	}}
	_, err := run.Submit(context.Background(), parent)
	require.Error(t, err)
	assert.True(t, engine.IsMessage(err))
}

func TestExecReturnsStdout(t *testing.T) {
	fe := newFakeExecutor()
	r := Runner{Executor: fe}
	run := newRun(t, false)
	var out string
	parent := &parentTask{body: func(ctx context.Context, p *parentTask) (err error) {
		out, err = r.ExecTimeout(ctx, p, 90*time.Minute, "openshift-install", "version")
		return err
	}}
	_, err := run.Submit(context.Background(), parent)
	require.NoError(t, err)
	assert.Equal(t, "openshift-install version", out)
	assert.Equal(t, 90*time.Minute, fe.requests[0].Timeout)
}

func TestLocalExecutor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	res, err := LocalExecutor{}.Run(context.Background(), Request{
		Args: []string{"sh", "-c", "echo $GREETING; echo oops >&2; exit 3"},
		Env:  map[string]string{"GREETING": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)

	_, err = LocalExecutor{}.Run(context.Background(), Request{Args: []string{"definitely-not-a-program-cj"}})
	assert.Error(t, err)

	_, err = LocalExecutor{}.Run(context.Background(), Request{Args: []string{"sleep", "5"}, Timeout: 10 * time.Millisecond})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
