package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ExecutionIDFormat is the timestamp layout of generated execution ids.
const ExecutionIDFormat = "20060102-150405.000"

// Poll bounds one convergence wait.
type Poll struct {
	Timeout  time.Duration
	Interval time.Duration
}

// PollPresets holds the short and long wait presets.
type PollPresets struct {
	Short Poll
	Long  Poll
}

// DefaultPollPresets returns 10m/30s and 60m/60s.
func DefaultPollPresets() PollPresets {
	return PollPresets{
		Short: Poll{Timeout: 10 * time.Minute, Interval: 30 * time.Second},
		Long:  Poll{Timeout: 60 * time.Minute, Interval: 60 * time.Second},
	}
}

// Options configure a run Context.
type Options struct {
	// Home is the application home; each run gets a directory beneath it.
	Home string

	// ExecutionID names the run directory. Generated from the clock when empty.
	ExecutionID string

	Capabilities CapabilitySet

	// Parallel enables the worker pool in ForEach.
	Parallel bool

	// MaxParallel caps concurrent ForEach items. Zero means unbounded.
	MaxParallel int

	// DryRun suppresses write tasks.
	DryRun bool

	Inputs    *InputRegistry
	Clock     Clock
	Poll      PollPresets
	Logger    zerolog.Logger
	Listeners []Listener
}

// Context is the immutable state of one run. It is created once at
// startup and closed at exit.
type Context struct {
	ExecutionID  string
	Home         string
	Capabilities CapabilitySet
	Parallel     bool
	MaxParallel  int
	DryRun       bool
	Inputs       *InputRegistry
	Clock        Clock
	Poll         PollPresets
	Logger       zerolog.Logger
	Listeners    []Listener

	dir string
}

// NewContext fills defaults and creates the execution directory.
func NewContext(opts Options) (*Context, error) {
	if opts.Home == "" {
		return nil, errors.New("application home is required")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Inputs == nil {
		opts.Inputs = NewInputRegistry(nil)
	}
	if opts.Poll.Short.Interval <= 0 || opts.Poll.Long.Interval <= 0 {
		opts.Poll = DefaultPollPresets()
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = opts.Clock.Now().Format(ExecutionIDFormat)
	}

	dir := filepath.Join(opts.Home, opts.ExecutionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create execution directory: %w", err)
	}

	return &Context{
		ExecutionID:  opts.ExecutionID,
		Home:         opts.Home,
		Capabilities: opts.Capabilities,
		Parallel:     opts.Parallel,
		MaxParallel:  opts.MaxParallel,
		DryRun:       opts.DryRun,
		Inputs:       opts.Inputs,
		Clock:        opts.Clock,
		Poll:         opts.Poll,
		Logger:       opts.Logger.With().Str("execution_id", opts.ExecutionID).Logger(),
		Listeners:    opts.Listeners,
		dir:          dir,
	}, nil
}

// ExecutionDir is the scratch directory of this run.
func (c *Context) ExecutionDir() string { return c.dir }

// TaskDir returns (and creates) a named directory inside the run directory.
func (c *Context) TaskDir(name string) (string, error) {
	dir := filepath.Join(c.dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}
	return dir, nil
}

// Close removes the execution directory when the run left nothing in it.
func (c *Context) Close() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(c.dir)
}
