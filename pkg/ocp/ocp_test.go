package ocp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/render"
	"github.com/cloudjanitor/cloudjanitor/pkg/shell"
)

type recordingExecutor struct {
	mu   sync.Mutex
	runs []string
}

func (r *recordingExecutor) Run(_ context.Context, req shell.Request) (*shell.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, strings.Join(req.Args, " "))
	return &shell.Result{Stdout: "ok"}, nil
}

func (r *recordingExecutor) LookPath(file string) (string, error) {
	return "/usr/local/bin/" + file, nil
}

func newTask(t *testing.T, inputs map[engine.Input]any) (*CreateClusterTask, *recordingExecutor) {
	t.Helper()
	r, err := render.New("")
	require.NoError(t, err)
	ex := &recordingExecutor{}
	base := map[engine.Input]any{
		InputClusterName: "ci-cluster",
		InputBaseDomain:  "example.com",
		InputPullSecret:  `{"auths":{}}`,
		InputAWSRegion:   "us-east-2",
	}
	for k, v := range inputs {
		base[k] = v
	}
	return engine.WithInputs(NewCreateClusterTask(r, shell.Runner{Executor: ex}), base), ex
}

const runID = "20260301-120000"

func newRun(t *testing.T, home string, caps ...engine.Capability) *engine.Tasks {
	t.Helper()
	return newRunID(t, home, runID, caps...)
}

func newRunID(t *testing.T, home, id string, caps ...engine.Capability) *engine.Tasks {
	t.Helper()
	rc, err := engine.NewContext(engine.Options{
		Home:         home,
		ExecutionID:  id,
		Capabilities: engine.NewCapabilitySet(caps...),
		Clock:        engine.NewVirtualClock(time.Unix(0, 0)),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return engine.NewTasks(rc)
}

func TestCreateCluster(t *testing.T) {
	home := t.TempDir()
	task, ex := newTask(t, nil)
	_, err := newRun(t, home, engine.CapCreateInstances).Submit(context.Background(), task)
	require.NoError(t, err)

	dir := filepath.Join(home, runID, "ocp", "ci-cluster")
	assert.FileExists(t, filepath.Join(dir, "install-config.yaml"))
	assert.FileExists(t, filepath.Join(dir, "install-config.bak.yaml"))
	assert.FileExists(t, filepath.Join(dir, "id_ed25519"))
	assert.Equal(t, []string{
		"openshift-install create cluster --dir=" + dir + " --log-level=debug",
	}, ex.runs)

	got, _, _ := engine.OutputString(task, OutputClusterDir)
	assert.Equal(t, dir, got)
}

func TestCreateClusterNeedsCapability(t *testing.T) {
	home := t.TempDir()
	task, ex := newTask(t, map[engine.Input]any{InputSSHKey: "ssh-ed25519 AAAA test"})
	_, err := newRun(t, home).Submit(context.Background(), task)
	require.Error(t, err)
	assert.True(t, engine.IsCapabilityNotFound(err))
	assert.Empty(t, ex.runs)

	// The configuration is still rendered for inspection.
	assert.FileExists(t, filepath.Join(home, runID, "ocp", "ci-cluster", "install-config.yaml"))
	assert.NoFileExists(t, filepath.Join(home, runID, "ocp", "ci-cluster", "id_ed25519"))
}

func TestCreateClusterAfterGatedRun(t *testing.T) {
	home := t.TempDir()
	gated, ex := newTask(t, nil)
	_, err := newRunID(t, home, "20260301-120000").Submit(context.Background(), gated)
	require.Error(t, err)
	assert.True(t, engine.IsCapabilityNotFound(err))
	assert.Empty(t, ex.runs)

	granted, ex := newTask(t, nil)
	_, err = newRunID(t, home, "20260301-130000", engine.CapCreateInstances).Submit(context.Background(), granted)
	require.NoError(t, err)
	dir := filepath.Join(home, "20260301-130000", "ocp", "ci-cluster")
	assert.Equal(t, []string{
		"openshift-install create cluster --dir=" + dir + " --log-level=debug",
	}, ex.runs)
}

func TestCreateClusterRefusesUsedDirectory(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, runID, "ocp", "ci-cluster")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{}"), 0o644))

	task, ex := newTask(t, nil)
	_, err := newRun(t, home, engine.CapCreateInstances).Submit(context.Background(), task)
	require.Error(t, err)
	assert.True(t, engine.IsMessage(err))
	assert.Contains(t, err.Error(), "not empty")
	assert.Empty(t, ex.runs)
}

func TestCreateClusterSTSRunsCcoctlFirst(t *testing.T) {
	home := t.TempDir()
	task, ex := newTask(t, map[engine.Input]any{InputClusterProfile: "aws-sts"})
	_, err := newRun(t, home, engine.CapCreateInstances).Submit(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, ex.runs, 2)
	assert.True(t, strings.HasPrefix(ex.runs[0], "ccoctl aws create-all --name=ci-cluster --region=us-east-2"))
	assert.True(t, strings.HasPrefix(ex.runs[1], "openshift-install create cluster"))
}

func TestCreateClusterMissingInput(t *testing.T) {
	task, _ := newTask(t, nil)
	task.SetInputs(map[engine.Input]any{InputClusterName: "ci"})
	_, err := newRun(t, t.TempDir(), engine.CapCreateInstances).Submit(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing input")
}

func TestUnknownProfile(t *testing.T) {
	_, err := ParseProfile("gcp")
	assert.Error(t, err)
	p, err := ParseProfile("aws-sts")
	require.NoError(t, err)
	assert.True(t, p.Ccoctl)
}

func TestGenerateSSHKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_ed25519")
	line, err := GenerateSSHKey(path, "cj@test")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "ssh-ed25519 "))
	assert.True(t, strings.HasSuffix(line, " cj@test"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	signer, err := ssh.ParsePrivateKey(raw)
	require.NoError(t, err)
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, pub.Marshal(), signer.PublicKey().Marshal())
}
