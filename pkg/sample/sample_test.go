package sample

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

type mapSource map[string]any

func (m mapSource) Lookup(path string) (any, bool) {
	v, ok := m[path]
	return v, ok
}

func newRun(t *testing.T, cfg mapSource) *engine.Tasks {
	t.Helper()
	inputs := engine.NewInputRegistry(cfg)
	RegisterInputs(inputs)
	rc, err := engine.NewContext(engine.Options{
		Home:   t.TempDir(),
		Inputs: inputs,
		Clock:  engine.NewVirtualClock(time.Unix(0, 0)),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return engine.NewTasks(rc)
}

func TestToUpper(t *testing.T) {
	task, err := newRun(t, nil).Submit(context.Background(), &ToUpperTask{})
	require.NoError(t, err)
	msg, ok, err := engine.OutputString(task, OutputUpperMessage)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "HELLO WORLD", msg)

	// The delegate's output is reachable through the parent.
	hello, _, _ := engine.OutputString(task, OutputMessage)
	assert.Equal(t, "Hello World", hello)
}

func TestHelloInputPrecedence(t *testing.T) {
	run := newRun(t, mapSource{"sample.name": "Config"})
	task, err := run.Submit(context.Background(), &HelloTask{})
	require.NoError(t, err)
	msg, _, _ := engine.OutputString(task, OutputMessage)
	assert.Equal(t, "Hello Config", msg)

	task, err = run.Submit(context.Background(), engine.WithInput(&ToUpperTask{}, InputName, "Explicit"))
	require.NoError(t, err)
	msg, _, _ = engine.OutputString(task, OutputUpperMessage)
	assert.Equal(t, "HELLO EXPLICIT", msg)
}

func TestRegister(t *testing.T) {
	reg := engine.NewRegistry()
	require.NoError(t, Register(reg))
	names := []string{}
	for _, r := range reg.List() {
		names = append(names, r.Name)
		assert.Equal(t, engine.Stable, r.Maturity)
	}
	assert.Equal(t, []string{"hello", "to-upper"}, names)
}
