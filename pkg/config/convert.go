package config

import (
	"maps"
	"path/filepath"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
	"github.com/cloudjanitor/cloudjanitor/pkg/telemetry"
	"github.com/cloudjanitor/cloudjanitor/pkg/transports/ssh"
)

// CapabilitySet parses the configured capabilities.
func (c *Config) CapabilitySet() (engine.CapabilitySet, error) {
	return engine.ParseCapabilities(c.Capabilities)
}

// PollPresets returns the configured wait presets.
func (c *Config) PollPresets() engine.PollPresets {
	return engine.PollPresets{
		Short: engine.Poll{Timeout: c.Poll.Short.Timeout, Interval: c.Poll.Short.Interval},
		Long:  engine.Poll{Timeout: c.Poll.Long.Timeout, Interval: c.Poll.Long.Interval},
	}
}

// EngineOptions builds the run options. Inputs, Logger and Listeners are
// left for the caller to wire.
func (c *Config) EngineOptions(executionID string) (engine.Options, error) {
	caps, err := c.CapabilitySet()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Home:         c.Home,
		ExecutionID:  executionID,
		Capabilities: caps,
		Parallel:     c.Parallel,
		MaxParallel:  c.MaxParallel,
		DryRun:       c.DryRun,
		Poll:         c.PollPresets(),
	}, nil
}

// Telemetry builds the telemetry configuration for one run. The metrics
// textfile lands in the execution directory.
func (c *Config) Telemetry(executionID, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	cfg.Logging.Level = c.Logging.Level
	cfg.Logging.Format = c.Logging.Format
	cfg.Logging.Output = c.Logging.Output
	cfg.Logging.EnableCaller = c.Logging.Caller

	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.ListenAddress = c.Metrics.Listen
	cfg.Metrics.Namespace = c.Metrics.Namespace
	if c.Metrics.Enabled {
		cfg.Metrics.Textfile = filepath.Join(c.Home, executionID, "metrics.prom")
	}

	cfg.Tracing.Enabled = c.Tracing.Enabled
	cfg.Tracing.Exporter = c.Tracing.Exporter
	cfg.Tracing.Endpoint = c.Tracing.Endpoint
	cfg.Tracing.SamplingRate = c.Tracing.SamplingRate
	cfg.Tracing.Insecure = c.Tracing.Insecure
	if len(c.Tracing.Headers) > 0 {
		cfg.Tracing.Headers = maps.Clone(c.Tracing.Headers)
	}

	cfg.Events.EnableAsync = c.Events.Async
	cfg.Events.BufferSize = c.Events.BufferSize

	return cfg
}

// ReportPath is where the run report database is written.
func (c *Config) ReportPath(executionID string) string {
	return filepath.Join(c.Home, executionID, "report.db")
}

// SSHConfig returns the remote executor settings, or nil when commands run
// locally. Password auth wins over the key when both are set.
func (c *Config) SSHConfig(executionID string) *ssh.Config {
	r := c.Remote
	if r.Host == "" {
		return nil
	}
	cfg := ssh.DefaultConfig(r.Host, r.User)
	cfg.Port = r.Port
	cfg.PrivateKeyPath = r.KeyPath
	cfg.PrivateKeyPassphrase = r.Passphrase
	if r.Password != "" {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = r.Password
	}
	cfg.KnownHostsPath = r.KnownHosts
	cfg.StrictHostKeyChecking = !r.Insecure
	cfg.ConnectionTimeout = r.Timeout
	cfg.ProxyHost = r.ProxyHost
	cfg.ProxyPort = r.ProxyPort
	if r.Mirror {
		cfg.MirrorDir = filepath.Join(c.Home, executionID)
		cfg.MirrorExclude = []string{"report.db*", "metrics.prom"}
	}
	return cfg
}
