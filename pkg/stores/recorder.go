package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudjanitor/cloudjanitor/pkg/telemetry"
)

// Recorder writes telemetry lifecycle events into the report.
type Recorder struct {
	store  Store
	runID  string
	logger zerolog.Logger
}

// NewRecorder returns a recorder for runID. Failed writes are logged, never
// propagated into the run.
func NewRecorder(store Store, runID string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		runID:  runID,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// Subscribe attaches the recorder to publisher.
func (r *Recorder) Subscribe(publisher *telemetry.EventPublisher) {
	publisher.Subscribe(r.Handle, func(e telemetry.Event) bool {
		return e.ExecutionID == r.runID
	})
}

// Handle records a single event.
func (r *Recorder) Handle(e telemetry.Event) {
	ctx := context.Background()
	if err := r.handle(ctx, e); err != nil {
		r.logger.Warn().Err(err).Str("event", e.Type).Str("task_id", e.TaskID).Msg("Failed to record event")
	}
}

func (r *Recorder) handle(ctx context.Context, e telemetry.Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	switch e.Type {
	case telemetry.EventTypeTaskStarted:
		write, _ := e.Data["write"].(bool)
		if err := r.store.StartTask(ctx, &TaskRecord{
			ID:        e.TaskID,
			RunID:     r.runID,
			Name:      e.Task,
			ParentID:  optional(e.ParentID),
			Write:     write,
			Status:    TaskStatusRunning,
			StartedAt: ts,
		}); err != nil {
			return err
		}

	case telemetry.EventTypeTaskCompleted, telemetry.EventTypeTaskFailed, telemetry.EventTypeTaskSkipped:
		rec := &TaskRecord{
			ID:          e.TaskID,
			Status:      taskStatus(e.Type),
			CompletedAt: &ts,
			Outputs:     encode(e.Data["outputs"]),
		}
		if secs, ok := e.Data["duration"].(float64); ok {
			ms := int64(secs * 1000)
			rec.DurationMS = &ms
		}
		switch e.Type {
		case telemetry.EventTypeTaskFailed:
			rec.Error = optional(e.Message)
			if kind, ok := e.Data["kind"].(string); ok {
				rec.ErrorKind = optional(kind)
			}
		case telemetry.EventTypeTaskSkipped:
			if reason, ok := e.Data["reason"].(string); ok {
				rec.Error = optional(reason)
			}
		}
		if err := r.store.FinishTask(ctx, rec); err != nil {
			return err
		}

	case telemetry.EventTypeTaskRetried:
		if err := r.store.IncrementTaskRetries(ctx, e.TaskID); err != nil {
			return err
		}
	}

	return r.store.AppendEvent(ctx, &Event{
		RunID:     r.runID,
		TaskID:    optional(e.TaskID),
		Type:      e.Type,
		Level:     EventLevel(e.Level),
		Message:   e.Message,
		Data:      encode(e.Data),
		Timestamp: ts,
	})
}

func taskStatus(eventType string) TaskStatus {
	switch eventType {
	case telemetry.EventTypeTaskFailed:
		return TaskStatusFailed
	case telemetry.EventTypeTaskSkipped:
		return TaskStatusSkipped
	default:
		return TaskStatusSucceeded
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// encode renders v as JSON. Values that cannot be marshalled are kept as
// their printed form.
func encode(v any) *string {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]interface{}); ok && len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		s := fmt.Sprintf("%v", v)
		return &s
	}
	s := string(b)
	return &s
}
