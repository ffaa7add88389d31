package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cj.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(Options{Overrides: map[string]any{"home": home}})
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Empty(t, cfg.File())
	assert.Equal(t, engine.DefaultPollPresets(), cfg.PollPresets())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Report.Enabled)

	caps, err := cfg.CapabilitySet()
	require.NoError(t, err)
	assert.Empty(t, caps.List())
}

func TestLoadFileFromHome(t *testing.T) {
	home := t.TempDir()
	writeFile(t, home, `
capabilities: [cloud_delete_resources]
parallel: true
poll:
  short:
    timeout: 2m
    interval: 10s
aws:
  region: eu-west-1
  filter_prefix: ci-
  nuke_blocklist: ["111111111111"]
`)

	cfg, err := Load(Options{Overrides: map[string]any{"home": home}})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, FileName), cfg.File())
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 2*time.Minute, cfg.Poll.Short.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Poll.Short.Interval)

	caps, err := cfg.CapabilitySet()
	require.NoError(t, err)
	assert.True(t, caps.Has(engine.CapDeleteResources))

	v, ok := cfg.Lookup("aws.filter_prefix")
	assert.True(t, ok)
	assert.Equal(t, "ci-", v)

	v, ok = cfg.Lookup("aws.nuke_blocklist")
	assert.True(t, ok)
	assert.Equal(t, []string{"111111111111"}, v)

	_, ok = cfg.Lookup("aws.vpc_id")
	assert.False(t, ok)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aws:\n  region: eu-west-1\n")
	t.Setenv("CJ_AWS_REGION", "ap-south-1")
	t.Setenv("CJ_AWS_NUKE_BLOCKLIST", "111111111111 222222222222")

	cfg, err := Load(Options{File: path, Overrides: map[string]any{"home": dir}})
	require.NoError(t, err)

	v, ok := cfg.Lookup("aws.region")
	assert.True(t, ok)
	assert.Equal(t, "ap-south-1", v)

	v, ok = cfg.Lookup("aws.nuke_blocklist")
	assert.True(t, ok)
	assert.Equal(t, []string{"111111111111", "222222222222"}, v)
}

func TestEmptyValueIsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sample:\n  name: \"\"\n")

	cfg, err := Load(Options{File: path, Overrides: map[string]any{"home": dir}})
	require.NoError(t, err)

	_, ok := cfg.Lookup("sample.name")
	assert.False(t, ok)

	reg := engine.NewInputRegistry(cfg)
	reg.Bind("sample.name", "sample.name", func() any { return "World" })
	v, ok := reg.Resolve("sample.name")
	assert.True(t, ok)
	assert.Equal(t, "World", v)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		want      string
	}{
		{name: "log level", overrides: map[string]any{"logging.level": "loud"}, want: "Level"},
		{name: "interval above timeout", overrides: map[string]any{"poll.short.interval": time.Hour}, want: "Interval"},
		{name: "otlp without endpoint", overrides: map[string]any{"tracing.exporter": "otlp"}, want: "Endpoint"},
		{name: "negative parallelism", overrides: map[string]any{"max_parallel": -1}, want: "MaxParallel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.overrides["home"] = t.TempDir()
			_, err := Load(Options{Overrides: tt.overrides})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnknownCapability(t *testing.T) {
	cfg, err := Load(Options{Overrides: map[string]any{
		"home":         t.TempDir(),
		"capabilities": []string{"DELETE_EVERYTHING"},
	}})
	require.NoError(t, err)

	_, err = cfg.EngineOptions("x")
	assert.Error(t, err)
}

func TestTelemetryMapping(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(Options{Overrides: map[string]any{
		"home":          home,
		"logging.level": "debug",
		"events.async":  true,
	}})
	require.NoError(t, err)

	tc := cfg.Telemetry("20260101-000000", "1.2.3")
	require.NoError(t, tc.Validate())
	assert.Equal(t, "debug", tc.Logging.Level)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.True(t, tc.Events.EnableAsync)
	assert.Equal(t, filepath.Join(home, "20260101-000000", "metrics.prom"), tc.Metrics.Textfile)
	assert.Equal(t, filepath.Join(home, "20260101-000000", "report.db"), cfg.ReportPath("20260101-000000"))

	opts, err := cfg.EngineOptions("20260101-000000")
	require.NoError(t, err)
	assert.Equal(t, home, opts.Home)
	assert.Equal(t, "20260101-000000", opts.ExecutionID)
}

func TestSSHConfig(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(Options{Overrides: map[string]any{"home": home}})
	require.NoError(t, err)
	assert.Nil(t, cfg.SSHConfig("20260301-120000"), "no host means local execution")

	cfg, err = Load(Options{Overrides: map[string]any{
		"home":            home,
		"remote.host":     "bastion.internal",
		"remote.user":     "janitor",
		"remote.password": "secret",
		"remote.insecure": true,
	}})
	require.NoError(t, err)

	ssh := cfg.SSHConfig("20260301-120000")
	require.NotNil(t, ssh)
	require.NoError(t, ssh.Validate())
	assert.Equal(t, "bastion.internal:22", ssh.Address())
	assert.Equal(t, "secret", ssh.Password)
	assert.False(t, ssh.StrictHostKeyChecking)
	assert.Equal(t, 30*time.Second, ssh.ConnectionTimeout)
	assert.Equal(t, filepath.Join(home, "20260301-120000"), ssh.MirrorDir)
	assert.Contains(t, ssh.MirrorExclude, "report.db*")
}

func TestRemoteHostNeedsUser(t *testing.T) {
	_, err := Load(Options{Overrides: map[string]any{
		"home":        t.TempDir(),
		"remote.host": "bastion.internal",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config.Remote.User")
}
