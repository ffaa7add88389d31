package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Gated is implemented by tasks that must hold capabilities before Apply.
type Gated interface {
	RequiredCapabilities() []Capability
}

// Listener observes task execution. TaskStarted may return a derived
// context, which Apply then receives.
type Listener interface {
	TaskStarted(ctx context.Context, t Task) context.Context
	TaskFinished(ctx context.Context, t Task, err error)
}

// RetryListener is optionally implemented by listeners interested in
// retry attempts.
type RetryListener interface {
	TaskRetried(ctx context.Context, t Task, remaining int, err error)
}

// WaitListener is optionally implemented by listeners interested in
// convergence waits.
type WaitListener interface {
	WaitFinished(ctx context.Context, t Task, what string, polls int, elapsed time.Duration, err error)
}

// Tasks is the execution coordinator of one run.
type Tasks struct {
	rc *Context
}

// NewTasks creates a coordinator over rc.
func NewTasks(rc *Context) *Tasks {
	return &Tasks{rc: rc}
}

// Context returns the run context.
func (t *Tasks) Context() *Context { return t.rc }

// Submit runs task to completion and returns it so its outputs can be
// read. Failures come back as *TaskError after being recorded on the task.
func (t *Tasks) Submit(ctx context.Context, task Task) (Task, error) {
	err := t.execute(ctx, task)
	if p, ok := asPrecondition(err); ok {
		b := task.core()
		te := NewMessageError(p.Reason).WithCause(p.Err).WithTask(NameOf(task))
		b.recordError(ErrorMessage, te.Error())
		err = te
	}
	return task, err
}

func (t *Tasks) bind(task Task) {
	b := task.core()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run != nil {
		return
	}
	if b.id == "" {
		b.id = uuid.NewString()
	}
	b.run = t
	b.self = task
	lc := t.rc.Logger.With().
		Str("task", NameOf(task)).
		Str("task_id", b.id)
	keys := make([]string, 0, len(b.fields))
	for k := range b.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lc = lc.Str(k, b.fields[k])
	}
	b.log = lc.Logger()
}

// execute runs one attempt. A *Precondition is returned untouched so a
// retry unit can consume it.
func (t *Tasks) execute(ctx context.Context, task Task) error {
	t.bind(task)
	b := task.core()
	log := b.Log()

	for _, l := range t.rc.Listeners {
		ctx = l.TaskStarted(ctx, task)
	}
	if t.rc.DryRun && task.IsWrite() {
		b.Skip("dry run")
		for _, l := range t.rc.Listeners {
			l.TaskFinished(ctx, task, nil)
		}
		return nil
	}
	b.mu.Lock()
	b.start = t.rc.Clock.Now()
	b.end = time.Time{}
	b.errs = nil
	b.mu.Unlock()
	log.Debug().Msg("task started")

	err := t.gate(task)
	if err == nil {
		err = t.apply(ctx, task)
	}

	b.mu.Lock()
	b.end = t.rc.Clock.Now()
	b.mu.Unlock()

	err = t.classify(task, err)
	for _, l := range t.rc.Listeners {
		l.TaskFinished(ctx, task, err)
	}
	if err != nil {
		if !IsPrecondition(err) {
			log.Error().Err(err).Msg("task failed")
		}
		return err
	}

	elapsed, _ := b.ElapsedTime()
	log.Debug().Dur("elapsed", elapsed).Msg("task completed")
	if wait, ok := task.WaitAfterRun(); ok {
		if err := sleep(ctx, t.rc.Clock, wait); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tasks) gate(task Task) error {
	g, ok := task.(Gated)
	if !ok {
		return nil
	}
	for _, c := range g.RequiredCapabilities() {
		if err := task.core().ExpectCapability(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tasks) apply(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task.Apply(ctx)
}

// classify makes sure the failure is recorded on the task and tagged.
func (t *Tasks) classify(task Task, err error) error {
	if err == nil || IsPrecondition(err) {
		return err
	}
	b := task.core()
	var te *TaskError
	if errors.As(err, &te) {
		if te.Task == "" {
			te.Task = NameOf(task)
		}
		if !b.hasError(te.Kind) {
			b.recordError(te.Kind, te.Error())
		}
		return err
	}
	b.recordError(ErrorException, err.Error())
	return NewExceptionError("task failed", err).WithTask(NameOf(task))
}

func (t *Tasks) notifyRetry(ctx context.Context, task Task, remaining int, err error) {
	for _, l := range t.rc.Listeners {
		if rl, ok := l.(RetryListener); ok {
			rl.TaskRetried(ctx, task, remaining, err)
		}
	}
}

// ForEach applies action to every item, sequentially or on a bounded
// worker pool when the run is parallel. In parallel mode item order is
// unspecified and action must not share mutable state.
func ForEach[T any](ctx context.Context, t Task, items []T, action func(ctx context.Context, item T) error) error {
	rc := t.core().RunContext()
	if rc == nil || !rc.Parallel || len(items) < 2 {
		for _, item := range items {
			if err := action(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if rc.MaxParallel > 0 {
		g.SetLimit(rc.MaxParallel)
	}
	for _, item := range items {
		g.Go(func() error {
			return action(gctx, item)
		})
	}
	return g.Wait()
}
