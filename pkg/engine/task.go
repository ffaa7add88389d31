package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetries is the retry budget of a freshly constructed task.
	DefaultRetries = 5

	// DefaultWaitAfterRun is the pause the coordinator takes after a task
	// completes, to stay clear of rate-limited APIs.
	DefaultWaitAfterRun = time.Second
)

// Task is a unit of work. Concrete tasks embed BaseTask and implement Apply;
// they override IsWrite, WaitAfterRun or Dependencies when the defaults do
// not fit.
type Task interface {
	// Apply runs the task logic. It must be safe to call again after a
	// failed attempt.
	Apply(ctx context.Context) error

	ID() string
	Inputs() map[Input]any
	Outputs() map[Output]any
	Errors() map[ErrorKind]any

	// SetInput attaches one explicit input.
	SetInput(key Input, value any)
	// SetInputs replaces the explicit input map.
	SetInputs(in map[Input]any)

	Dependencies() []Task

	StartTime() (time.Time, bool)
	EndTime() (time.Time, bool)
	ElapsedTime() (time.Duration, bool)

	IsWrite() bool
	WaitAfterRun() (time.Duration, bool)

	// Retries returns the remaining retry budget.
	Retries() int
	// Retried consumes one unit of the retry budget and returns what is left.
	Retried() int

	core() *BaseTask
}

// WithInput attaches one input and returns t for fluent composition.
func WithInput[T Task](t T, key Input, value any) T {
	t.SetInput(key, value)
	return t
}

// WithInputs replaces t's explicit inputs and returns t.
func WithInputs[T Task](t T, in map[Input]any) T {
	t.SetInputs(in)
	return t
}

// BaseTask carries the state every task shares. The zero value is ready
// to use.
type BaseTask struct {
	mu      sync.RWMutex
	id      string
	inputs  map[Input]any
	outputs map[Output]any
	errs    map[ErrorKind]any
	deps    []Task
	start   time.Time
	end     time.Time
	retried int
	skipped string

	run    *Tasks
	self   Task
	log    zerolog.Logger
	fields map[string]string
}

func (b *BaseTask) core() *BaseTask { return b }

// ID returns a unique identifier for this task instance.
func (b *BaseTask) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id == "" {
		b.id = uuid.NewString()
	}
	return b.id
}

func (b *BaseTask) Inputs() map[Input]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.inputs)
}

func (b *BaseTask) Outputs() map[Output]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.outputs)
}

func (b *BaseTask) Errors() map[ErrorKind]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.errs)
}

func (b *BaseTask) SetInput(key Input, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inputs == nil {
		b.inputs = make(map[Input]any)
	}
	b.inputs[key] = value
}

func (b *BaseTask) SetInputs(in map[Input]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = maps.Clone(in)
}

// Dependencies returns the tasks attached with DependsOn or submitted
// through this task.
func (b *BaseTask) Dependencies() []Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Task(nil), b.deps...)
}

// DependsOn appends tasks whose outputs become visible through this task.
func (b *BaseTask) DependsOn(tasks ...Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deps = append(b.deps, tasks...)
}

func (b *BaseTask) StartTime() (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.start, !b.start.IsZero()
}

func (b *BaseTask) EndTime() (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.end, !b.end.IsZero()
}

// ElapsedTime is defined only once both timestamps are set.
func (b *BaseTask) ElapsedTime() (time.Duration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.start.IsZero() || b.end.IsZero() {
		return 0, false
	}
	return b.end.Sub(b.start), true
}

func (b *BaseTask) IsWrite() bool { return true }

func (b *BaseTask) WaitAfterRun() (time.Duration, bool) { return DefaultWaitAfterRun, true }

func (b *BaseTask) Retries() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return DefaultRetries - b.retried
}

func (b *BaseTask) Retried() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retried++
	return DefaultRetries - b.retried
}

// SkipReason returns why the task did not act, or "" if it did.
func (b *BaseTask) SkipReason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.skipped
}

// Skip marks the task as having deliberately not acted and logs why.
func (b *BaseTask) Skip(reason string) {
	b.mu.Lock()
	b.skipped = reason
	b.mu.Unlock()
	b.Log().Info().Str("reason", reason).Msg("skipped")
}

// Log returns the task logger. It is a no-op logger until the task is
// submitted.
func (b *BaseTask) Log() *zerolog.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l := b.log
	return &l
}

// AddLogContext attaches key=value to this task's log lines and to those
// of every delegate it submits afterwards.
func (b *BaseTask) AddLogContext(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fields == nil {
		b.fields = make(map[string]string)
	}
	b.fields[key] = value
	b.log = b.log.With().Str(key, value).Logger()
}

// RunContext returns the run the task is bound to, or nil before submission.
func (b *BaseTask) RunContext() *Context {
	if b.run == nil {
		return nil
	}
	return b.run.rc
}

func (b *BaseTask) name() string {
	if b.self == nil {
		return "task"
	}
	return NameOf(b.self)
}

// Success records an output value.
func (b *BaseTask) Success(key Output, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outputs == nil {
		b.outputs = make(map[Output]any)
	}
	b.outputs[key] = value
}

func (b *BaseTask) recordError(kind ErrorKind, detail any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errs == nil {
		b.errs = make(map[ErrorKind]any)
	}
	b.errs[kind] = detail
}

func (b *BaseTask) hasError(kind ErrorKind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.errs[kind]
	return ok
}

// Fail records a message failure and returns it as a terminal error.
func (b *BaseTask) Fail(msg string) error {
	b.recordError(ErrorMessage, msg)
	b.Log().Error().Msg(msg)
	return NewMessageError(msg).WithTask(b.name())
}

// Failf is Fail with formatting.
func (b *BaseTask) Failf(format string, args ...any) error {
	return b.Fail(fmt.Sprintf(format, args...))
}

// FailErr records an unexpected fault and returns it wrapped.
func (b *BaseTask) FailErr(msg string, err error) error {
	b.recordError(ErrorException, fmt.Sprintf("%s: %v", msg, err))
	b.Log().Error().Err(err).Msg(msg)
	return NewExceptionError(msg, err).WithTask(b.name())
}

// Output resolves key against this task and its dependencies.
func (b *BaseTask) Output(key Output) (any, bool) {
	if b.self != nil {
		return OutputOf(b.self, key)
	}
	if v, ok := b.ownOutput(key); ok {
		return v, true
	}
	for _, d := range b.Dependencies() {
		if v, ok := OutputOf(d, key); ok {
			return v, true
		}
	}
	return nil, false
}

func (b *BaseTask) ownOutput(key Output) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.outputs[key]
	return v, ok
}

// Input resolves key: explicit value, then configuration, then default.
func (b *BaseTask) Input(key Input) (any, bool) {
	b.mu.RLock()
	v, ok := b.inputs[key]
	run := b.run
	b.mu.RUnlock()
	if ok {
		return v, true
	}
	if run == nil || run.rc.Inputs == nil {
		return nil, false
	}
	return run.rc.Inputs.Resolve(key)
}

// InputString returns the string input for key, or fallback when absent.
// Scalars are formatted; any other type is logged and yields fallback.
// Use ExpectInputString when a wrong type must fail the task.
func (b *BaseTask) InputString(key Input, fallback string) string {
	v, ok := b.Input(key)
	if !ok {
		return fallback
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case bool, int, int64, float64:
		return fmt.Sprint(s)
	}
	b.Log().Warn().Str("input", string(key)).Str("type", fmt.Sprintf("%T", v)).
		Msg("input is not a string, using default")
	return fallback
}

// ExpectInputString returns the string input for key and records a
// message failure when it is absent or not a string.
func (b *BaseTask) ExpectInputString(key Input) (string, error) {
	v, ok := b.Input(key)
	if !ok {
		return "", b.Failf("missing input %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", b.Failf("input %s: expected string, got %T", key, v)
	}
	return s, nil
}

// HasCapability reports whether the run was granted c.
func (b *BaseTask) HasCapability(c Capability) bool {
	return b.run != nil && b.run.rc.Capabilities.Has(c)
}

// ExpectCapability fails with a capability-not-found error unless the run
// was granted c. Call it before any external side effect.
func (b *BaseTask) ExpectCapability(c Capability) error {
	if b.HasCapability(c) {
		return nil
	}
	err := NewCapabilityError(c).WithTask(b.name())
	b.recordError(ErrorCapability, err.Message)
	b.Log().Warn().Str("capability", string(c)).Msg("capability not granted")
	return err
}

var errUnbound = errors.New("task is not bound to a run")

// Submit runs t as a delegate of this task. The caller's inputs are copied
// onto t for every key t has not set itself, and t becomes a dependency.
func (b *BaseTask) Submit(ctx context.Context, t Task) (Task, error) {
	if b.run == nil {
		return t, errUnbound
	}
	b.propagate(t)
	b.DependsOn(t)
	return b.run.Submit(ctx, t)
}

func (b *BaseTask) propagate(t Task) {
	in := b.Inputs()
	b.mu.RLock()
	fields := maps.Clone(b.fields)
	b.mu.RUnlock()

	d := t.core()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inputs == nil {
		d.inputs = make(map[Input]any, len(in))
	}
	for k, v := range in {
		if _, set := d.inputs[k]; !set {
			d.inputs[k] = v
		}
	}
	if d.run != nil || len(fields) == 0 {
		return
	}
	if d.fields == nil {
		d.fields = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		if _, set := d.fields[k]; !set {
			d.fields[k] = v
		}
	}
}

// Retry submits main paired with its remediation fix.
func (b *BaseTask) Retry(ctx context.Context, main, fix Task) error {
	_, err := b.Submit(ctx, &RetryTask{Main: main, Fix: fix})
	return err
}

// AwaitUntil polls cond with the short preset.
func (b *BaseTask) AwaitUntil(ctx context.Context, what string, cond Condition) error {
	if b.run == nil {
		return errUnbound
	}
	return b.run.await(ctx, b, b.run.rc.Poll.Short, what, cond)
}

// AwaitUntilLong polls cond with the long preset.
func (b *BaseTask) AwaitUntilLong(ctx context.Context, what string, cond Condition) error {
	if b.run == nil {
		return errUnbound
	}
	return b.run.await(ctx, b, b.run.rc.Poll.Long, what, cond)
}

// Scratch returns this task's directory under the run's execution
// directory, creating it.
func (b *BaseTask) Scratch() (string, error) {
	if b.run == nil {
		return "", errUnbound
	}
	return b.run.rc.TaskDir(b.name())
}
