package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudjanitor/cloudjanitor/pkg/engine"
)

// Task outcomes used as metric labels and report statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type parentKey struct{}

// TaskObserver feeds task lifecycle into tracing, metrics and events. It
// implements engine.Listener, engine.RetryListener and engine.WaitListener.
type TaskObserver struct {
	executionID string
	tracer      *Tracer
	metrics     *Metrics
	events      *EventPublisher
	spans       sync.Map
}

// Observer returns a listener bound to executionID.
func (t *Telemetry) Observer(executionID string) *TaskObserver {
	return &TaskObserver{
		executionID: executionID,
		tracer:      t.Tracer,
		metrics:     t.Metrics,
		events:      t.Events,
	}
}

func (o *TaskObserver) TaskStarted(ctx context.Context, task engine.Task) context.Context {
	name := engine.NameOf(task)
	parent, _ := ctx.Value(parentKey{}).(string)

	ctx, span := o.tracer.StartTaskSpan(ctx, name, task.ID(), task.IsWrite())
	o.spans.Store(task.ID(), span)
	o.metrics.RecordTaskStarted()

	_ = o.events.Publish(Event{
		Type:        EventTypeTaskStarted,
		ExecutionID: o.executionID,
		TaskID:      task.ID(),
		Task:        name,
		ParentID:    parent,
		Message:     fmt.Sprintf("task %s started", name),
		Level:       EventLevelInfo,
		Data:        map[string]interface{}{"inputs": stringKeys(task.Inputs()), "write": task.IsWrite()},
	})
	return context.WithValue(ctx, parentKey{}, task.ID())
}

func (o *TaskObserver) TaskFinished(ctx context.Context, task engine.Task, err error) {
	name := engine.NameOf(task)
	elapsed, _ := task.ElapsedTime()
	status, level, typ := StatusSucceeded, EventLevelInfo, EventTypeTaskCompleted
	msg := fmt.Sprintf("task %s completed", name)
	data := map[string]interface{}{
		"duration": elapsed.Seconds(),
		"outputs":  stringKeys(task.Outputs()),
	}

	switch {
	case err != nil:
		status, level, typ = StatusFailed, EventLevelError, EventTypeTaskFailed
		msg = fmt.Sprintf("task %s failed: %v", name, err)
		data["errors"] = stringKeys(task.Errors())
		if kind, ok := engine.KindOf(err); ok {
			data["kind"] = string(kind)
		}
	case skipReason(task) != "":
		status, level, typ = StatusSkipped, EventLevelWarning, EventTypeTaskSkipped
		msg = fmt.Sprintf("task %s skipped: %s", name, skipReason(task))
		data["reason"] = skipReason(task)
	}

	if v, ok := o.spans.LoadAndDelete(task.ID()); ok {
		span := v.(trace.Span)
		if err != nil {
			kind, _ := engine.KindOf(err)
			RecordError(span, err, string(kind))
		} else {
			if r := skipReason(task); r != "" {
				span.SetAttributes(AttrSkipReason.String(r))
			}
			RecordSuccess(span)
		}
		span.End()
	}

	o.metrics.RecordTaskCompleted(name, status, elapsed)
	_ = o.events.Publish(Event{
		Type:        typ,
		ExecutionID: o.executionID,
		TaskID:      task.ID(),
		Task:        name,
		Message:     msg,
		Level:       level,
		Data:        data,
	})
}

func (o *TaskObserver) TaskRetried(ctx context.Context, task engine.Task, remaining int, err error) {
	name := engine.NameOf(task)
	o.metrics.RecordRetry(name)
	trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
		AttrTaskName.String(name),
		AttrRemaining.Int(remaining),
	))
	_ = o.events.Publish(Event{
		Type:        EventTypeTaskRetried,
		ExecutionID: o.executionID,
		TaskID:      task.ID(),
		Task:        name,
		Message:     fmt.Sprintf("task %s attempt failed: %v", name, err),
		Level:       EventLevelWarning,
		Data:        map[string]interface{}{"remaining": remaining},
	})
}

func (o *TaskObserver) WaitFinished(ctx context.Context, task engine.Task, what string, polls int, elapsed time.Duration, err error) {
	name := engine.NameOf(task)
	outcome, level := "converged", EventLevelInfo
	switch {
	case engine.IsTimeout(err):
		outcome, level = "timeout", EventLevelError
	case err != nil:
		outcome, level = "error", EventLevelError
	}

	o.metrics.RecordWait(name, outcome, polls)
	trace.SpanFromContext(ctx).AddEvent("await", trace.WithAttributes(
		AttrAwait.String(what),
		attribute.Int("await.polls", polls),
		attribute.String("await.outcome", outcome),
	))
	_ = o.events.Publish(Event{
		Type:        EventTypeWaitFinished,
		ExecutionID: o.executionID,
		TaskID:      task.ID(),
		Task:        name,
		Message:     fmt.Sprintf("wait for %s: %s after %d polls", what, outcome, polls),
		Level:       level,
		Data:        map[string]interface{}{"polls": polls, "elapsed": elapsed.Seconds(), "outcome": outcome},
	})
}

func skipReason(task engine.Task) string {
	if s, ok := task.(interface{ SkipReason() string }); ok {
		return s.SkipReason()
	}
	return ""
}

func stringKeys[K ~string](m map[K]any) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}
