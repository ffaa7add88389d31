package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/telemetry"
)

type deleteTask struct{ engine.BaseTask }

func (t *deleteTask) DeclaredName() string { return "delete" }
func (t *deleteTask) Apply(context.Context) error {
	t.Success("cleanup.deleted", true)
	return nil
}

type failingTask struct{ engine.BaseTask }

func (t *failingTask) DeclaredName() string        { return "failing" }
func (t *failingTask) IsWrite() bool               { return false }
func (t *failingTask) Apply(context.Context) error { return errors.New("access denied") }

type cleanupTask struct {
	engine.BaseTask
	children []engine.Task
}

func (t *cleanupTask) DeclaredName() string { return "cleanup" }
func (t *cleanupTask) IsWrite() bool        { return false }
func (t *cleanupTask) Apply(ctx context.Context) error {
	for _, c := range t.children {
		if _, err := t.Submit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func recordedRun(t *testing.T, dryRun bool, root engine.Task) (*SQLiteStore, error) {
	t.Helper()
	store := setupTestStore(t)
	ctx := context.Background()

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "log.txt")
	tel, err := telemetry.NewTelemetry(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Logger.Close() })

	require.NoError(t, store.CreateRun(ctx, &Run{ID: "exec-1", Task: engine.NameOf(root), Status: RunStatusRunning, StartedAt: time.Now()}))
	NewRecorder(store, "exec-1", zerolog.Nop()).Subscribe(tel.Events)

	rc, err := engine.NewContext(engine.Options{
		Home:        t.TempDir(),
		ExecutionID: "exec-1",
		DryRun:      dryRun,
		Clock:       engine.NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:      zerolog.Nop(),
		Listeners:   []engine.Listener{tel.Observer("exec-1")},
	})
	require.NoError(t, err)

	_, runErr := engine.NewTasks(rc).Submit(ctx, root)
	return store, runErr
}

func TestRecorderWritesTaskTree(t *testing.T) {
	store, err := recordedRun(t, false, &cleanupTask{children: []engine.Task{&deleteTask{}}})
	require.NoError(t, err)

	report, err := store.Report(context.Background(), "exec-1", true)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)

	root, child := report.Tasks[0], report.Tasks[1]
	assert.Equal(t, "cleanup", root.Name)
	assert.Equal(t, TaskStatusSucceeded, root.Status)
	assert.Equal(t, "delete", child.Name)
	assert.True(t, child.Write)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)
	require.NotNil(t, child.Outputs)
	assert.JSONEq(t, `{"cleanup.deleted":true}`, *child.Outputs)

	assert.Len(t, report.Events, 4)
	assert.Equal(t, telemetry.EventTypeTaskStarted, report.Events[0].Type)
}

func TestRecorderWritesFailure(t *testing.T) {
	store, err := recordedRun(t, false, &failingTask{})
	require.Error(t, err)

	tasks, err := store.ListTasksByRun(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskStatusFailed, tasks[0].Status)
	require.NotNil(t, tasks[0].Error)
	assert.Contains(t, *tasks[0].Error, "access denied")
}

func TestRecorderWritesDryRunSkip(t *testing.T) {
	store, err := recordedRun(t, true, &deleteTask{})
	require.NoError(t, err)

	tasks, err := store.ListTasksByRun(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskStatusSkipped, tasks[0].Status)
}

func TestRecorderIgnoresOtherRuns(t *testing.T) {
	store := setupTestStore(t)
	publisher := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	NewRecorder(store, "mine", zerolog.Nop()).Subscribe(publisher)

	require.NoError(t, publisher.Publish(telemetry.Event{Type: telemetry.EventTypeTaskStarted, ExecutionID: "theirs", TaskID: "x"}))

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Zero(t, count)
}
