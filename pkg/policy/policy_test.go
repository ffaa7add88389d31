package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	e, err := NewEngine(zerolog.Nop(), opts...)
	require.NoError(t, err)
	return e
}

func vpc(tags map[string]string) cleanup.Resource {
	return cleanup.Resource{ID: "vpc-1", Kind: "vpc", Name: "ci-net", Tags: tags}
}

func TestProtectTag(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		tags      map[string]string
		protected bool
		reason    string
	}{
		{name: "untagged"},
		{name: "cj protect", tags: map[string]string{"cj:protect": "true"}, protected: true, reason: "tagged cj:protect"},
		{name: "case insensitive", tags: map[string]string{"do-not-delete": "TRUE"}, protected: true, reason: "tagged do-not-delete"},
		{name: "false value", tags: map[string]string{"cj:protect": "false"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protected, reason, err := e.Protected(ctx, vpc(tt.tags))
			require.NoError(t, err)
			assert.Equal(t, tt.protected, protected)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestKeepUntil(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	d, err := e.Decide(ctx, vpc(map[string]string{"cj:keep-until": "2026-04-01T00:00:00Z"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"kept until 2026-04-01T00:00:00Z"}, d.Reasons)

	d, err = e.Decide(ctx, vpc(map[string]string{"cj:keep-until": "2026-01-01T00:00:00Z"}))
	require.NoError(t, err)
	assert.False(t, d.Protected())

	for _, until := range []string{"next week", "2027-02-30T00:00:00Z", "2027-01-01Tnoon", ""} {
		d, err = e.Decide(ctx, vpc(map[string]string{"cj:keep-until": until}))
		require.NoError(t, err)
		require.True(t, d.Protected(), "cj:keep-until=%q", until)
		assert.Contains(t, d.Reasons[0], "unreadable")
	}
}

func TestReasonsAreJoinedSorted(t *testing.T) {
	e := newEngine(t)

	protected, reason, err := e.Protected(context.Background(), vpc(map[string]string{
		"do-not-delete": "true",
		"cj:protect":    "true",
	}))
	require.NoError(t, err)
	assert.True(t, protected)
	assert.Equal(t, "tagged cj:protect; tagged do-not-delete", reason)
}

func TestDisablePolicy(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	r := vpc(map[string]string{"cj:protect": "true"})

	require.NoError(t, e.DisablePolicy(ctx, "protect-tag"))
	protected, _, err := e.Protected(ctx, r)
	require.NoError(t, err)
	assert.False(t, protected)

	p, err := e.GetPolicy("protect-tag")
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	require.NoError(t, e.EnablePolicy(ctx, "protect-tag"))
	protected, _, err = e.Protected(ctx, r)
	require.NoError(t, err)
	assert.True(t, protected)

	assert.Error(t, e.DisablePolicy(ctx, "nope"))
}

func TestNoPoliciesProtectsNothing(t *testing.T) {
	e := newEngine(t, WithoutBuiltins())
	protected, _, err := e.Protected(context.Background(), vpc(map[string]string{"cj:protect": "true"}))
	require.NoError(t, err)
	assert.False(t, protected)
	assert.Empty(t, e.ListPolicies())
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "platform.rego"), []byte(`package janitor

# Keeps the shared platform network.

import rego.v1

protect contains "platform network" if {
	input.resource.kind == "vpc"
	input.resource.tags.team == "platform"
}
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "running.json"), []byte(`{
  "name": "running",
  "description": "Keeps running instances",
  "rego": "package janitor\n\nimport rego.v1\n\nprotect contains \"running\" if input.resource.state == \"running\"\n"
}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	e := newEngine(t)
	require.NoError(t, e.LoadPolicies(context.Background(), []string{dir}))

	names := []string{}
	for _, p := range e.ListPolicies() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"keep-until", "platform", "protect-tag", "running"}, names)

	p, err := e.GetPolicy("platform")
	require.NoError(t, err)
	assert.Equal(t, "Keeps the shared platform network.", p.Description)
	assert.Equal(t, filepath.Join(dir, "platform.rego"), p.Source)

	protected, reason, err := e.Protected(context.Background(), vpc(map[string]string{"team": "platform"}))
	require.NoError(t, err)
	assert.True(t, protected)
	assert.Equal(t, "platform network", reason)

	protected, reason, err = e.Protected(context.Background(), cleanup.Resource{ID: "i-1", Kind: "instance", State: "running"})
	require.NoError(t, err)
	assert.True(t, protected)
	assert.Equal(t, "running", reason)
}

func TestLoadPoliciesRejectsForeignPackage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.rego")
	require.NoError(t, os.WriteFile(path, []byte("package other\n\nimport rego.v1\n\nprotect contains \"x\" if true\n"), 0o600))

	e := newEngine(t)
	err := e.LoadPolicies(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package other")
}

func TestLoaderMissingPath(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{"/does/not/exist"})
	assert.Error(t, err)
}
