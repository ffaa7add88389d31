package telemetry

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventDropped is returned by Publish when the async buffer is full.
var ErrEventDropped = errors.New("event buffer full, event dropped")

// Event is one task lifecycle event. TaskID and Task are empty for
// run-level events; ParentID names the submitting task.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	TaskID      string                 `json:"task_id,omitempty"`
	Task        string                 `json:"task,omitempty"`
	ParentID    string                 `json:"parent_id,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskSkipped   = "task.skipped"
	EventTypeTaskRetried   = "task.retried"
	EventTypeWaitFinished  = "wait.finished"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles one event.
type EventSubscriber func(event Event)

// EventFilter selects the events a subscriber sees.
type EventFilter func(event Event) bool

// FilterByType passes only the listed event types.
func FilterByType(types ...string) EventFilter {
	return func(event Event) bool {
		return slices.Contains(types, event.Type)
	}
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers in publication order. In
// sync mode subscribers run on the publishing goroutine; in async mode on a
// single background goroutine, so they never run concurrently.
type EventPublisher struct {
	enabled bool
	queue   chan Event
	drained sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

// NewEventPublisher starts the delivery goroutine when cfg asks for async.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{enabled: cfg.Enabled}
	if cfg.Enabled && cfg.EnableAsync {
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.drained.Add(1)
		go func() {
			defer ep.drained.Done()
			for e := range ep.queue {
				ep.deliver(e)
			}
		}()
	}
	return ep
}

// Publish stamps the event with an id and time if missing and delivers it.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrEventDropped
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return ErrEventDropped
	}
}

// Subscribe adds fn; a nil filter passes everything.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown waits until queued events are delivered or ctx ends. Later
// events are dropped.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}
	ep.once.Do(func() {
		ep.mu.Lock()
		ep.closed = true
		close(ep.queue)
		ep.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		ep.drained.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("event publisher shutdown timeout")
	}
}
