package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultHome is the application home unless configured otherwise.
const DefaultHome = "~/.cj"

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", DefaultHome)
	v.SetDefault("capabilities", []string{})
	v.SetDefault("parallel", false)
	v.SetDefault("max_parallel", 0)
	v.SetDefault("dry_run", false)

	v.SetDefault("poll.short.timeout", 10*time.Minute)
	v.SetDefault("poll.short.interval", 30*time.Second)
	v.SetDefault("poll.long.timeout", 60*time.Minute)
	v.SetDefault("poll.long.interval", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.namespace", "cloudjanitor")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("events.async", false)
	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("report.enabled", true)

	v.SetDefault("policy.paths", []string{})
	v.SetDefault("policy.disabled", []string{})

	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.key_path", "~/.ssh/id_ed25519")
	v.SetDefault("remote.known_hosts", "~/.ssh/known_hosts")
	v.SetDefault("remote.insecure", false)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.proxy_port", 22)
	v.SetDefault("remote.mirror", true)
}
