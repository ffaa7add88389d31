package config

import (
	"time"
)

// Config holds the janitor configuration.
type Config struct {
	// Home is the application home; each run gets a directory beneath it.
	Home string `mapstructure:"home" validate:"required"`

	// Capabilities granted to the run, e.g. CLOUD_DELETE_RESOURCES.
	Capabilities []string `mapstructure:"capabilities"`

	Parallel    bool `mapstructure:"parallel"`
	MaxParallel int  `mapstructure:"max_parallel" validate:"gte=0"`
	DryRun      bool `mapstructure:"dry_run"`

	Poll    PollConfig    `mapstructure:"poll"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Events  EventsConfig  `mapstructure:"events"`
	Report  ReportConfig  `mapstructure:"report"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

// PollConfig holds the convergence wait presets.
type PollConfig struct {
	Short PresetConfig `mapstructure:"short"`
	Long  PresetConfig `mapstructure:"long"`
}

// PresetConfig bounds one wait.
type PresetConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0,ltefield=Timeout"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	Output string `mapstructure:"output" validate:"required"`
	Caller bool   `mapstructure:"caller"`
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Listen    string `mapstructure:"listen" validate:"omitempty,hostname_port"`
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Exporter     string            `mapstructure:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string            `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64           `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool              `mapstructure:"insecure"`
	Headers      map[string]string `mapstructure:"headers"`
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	Async      bool `mapstructure:"async"`
	BufferSize int  `mapstructure:"buffer_size" validate:"gt=0"`
}

// ReportConfig configures the per-run report database.
type ReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PolicyConfig configures deletion protection.
type PolicyConfig struct {
	// Paths are .rego/.json files or directories loaded on top of the
	// built-in policies.
	Paths []string `mapstructure:"paths"`

	// Disabled names policies to switch off, built-ins included.
	Disabled []string `mapstructure:"disabled"`
}

// RemoteConfig moves shell commands to another host over SSH. Commands run
// locally while Host is empty.
type RemoteConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	User       string `mapstructure:"user" validate:"required_with=Host"`
	Password   string `mapstructure:"password"`
	KeyPath    string `mapstructure:"key_path"`
	Passphrase string `mapstructure:"passphrase"`

	// KnownHosts is checked unless Insecure is set.
	KnownHosts string        `mapstructure:"known_hosts"`
	Insecure   bool          `mapstructure:"insecure"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`

	ProxyHost string `mapstructure:"proxy_host"`
	ProxyPort int    `mapstructure:"proxy_port" validate:"gte=1,lte=65535"`

	// Mirror copies the execution directory to the remote host so that
	// rendered files are found at the same path there.
	Mirror bool `mapstructure:"mirror"`
}
