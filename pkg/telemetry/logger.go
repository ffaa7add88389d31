package telemetry

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger owns the run's zerolog logger and the log file behind it.
type Logger struct {
	zlog zerolog.Logger
	file *os.File
}

// NewLogger builds the run logger. Output is "stderr", "stdout" or a file
// path; files get plain console output without colors.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	l := &Logger{}

	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out, l.file = f, f
	}

	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)
	if cfg.Format == "console" {
		cw := zerolog.ConsoleWriter{Out: out, NoColor: l.file != nil, TimeFormat: time.Kitchen}
		if cfg.TimeFormat == "unix" {
			cw.TimeFormat = zerolog.TimeFormatUnix
		}
		out = cw
	}

	ctx := zerolog.New(out).Level(level(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	l.zlog = ctx.Logger()
	return l, nil
}

// Zerolog returns the underlying logger, for handing to the engine.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with component.
func (l *Logger) Component(component string) zerolog.Logger {
	return l.zlog.With().Str("component", component).Logger()
}

// Close releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// level maps a configured level name; unknown names log at info.
func level(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func timeFieldFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	default:
		return time.RFC3339
	}
}
