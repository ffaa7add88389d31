package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry setup of one janitor run.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output       string
	EnableCaller bool

	// TimeFormat is unix, unixms or rfc3339.
	TimeFormat string
}

// TracingConfig configures the OpenTelemetry exporter. Spans are created
// but dropped while Enabled is false.
type TracingConfig struct {
	Enabled       bool
	Exporter      string  `validate:"oneof=otlp stdout none"`
	Endpoint      string  `validate:"required_if=Exporter otlp"`
	SamplingRate  float64 `validate:"gte=0,lte=1"`
	ExportTimeout time.Duration
	Headers       map[string]string
	Insecure      bool
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path while the run lasts. Empty disables the server.
	ListenAddress string
	Path          string
	Namespace     string `validate:"required"`

	// Textfile is written at shutdown in node_exporter textfile format.
	Textfile string

	// DefaultHistogramBuckets are the task duration buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	Enabled     bool
	EnableAsync bool
	BufferSize  int `validate:"required_if=EnableAsync true,gte=0"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "cloudjanitor",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "stdout",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "cloudjanitor",
			// Tasks range from sub-second reads to hour-long installs.
			DefaultHistogramBuckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid telemetry config: %s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid telemetry config: %w", err)
}
