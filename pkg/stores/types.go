package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a janitor run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// TaskStatus represents the status of one submitted task
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one invocation of cj run
type Run struct {
	ID           string     `json:"id" yaml:"id"`
	Task         string     `json:"task" yaml:"task"`
	Status       RunStatus  `json:"status" yaml:"status"`
	DryRun       bool       `json:"dry_run" yaml:"dry_run"`
	Capabilities string     `json:"capabilities" yaml:"capabilities"` // JSON array
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// TaskRecord is the report row of a single task instance
type TaskRecord struct {
	ID          string     `json:"id" yaml:"id"`
	RunID       string     `json:"run_id" yaml:"-"`
	Name        string     `json:"name" yaml:"name"`
	ParentID    *string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Write       bool       `json:"write" yaml:"write"`
	Status      TaskStatus `json:"status" yaml:"status"`
	Retries     int        `json:"retries" yaml:"retries"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Outputs     *string    `json:"outputs,omitempty" yaml:"outputs,omitempty"` // JSON object
	Error       *string    `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind   *string    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id" yaml:"-"`
	RunID     string     `json:"run_id" yaml:"-"`
	TaskID    *string    `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Type      string     `json:"type" yaml:"type"`
	Level     EventLevel `json:"level" yaml:"level"`
	Message   string     `json:"message" yaml:"message"`
	Data      *string    `json:"data,omitempty" yaml:"data,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// Report is everything recorded about one run
type Report struct {
	Run    *Run          `json:"run" yaml:"run"`
	Tasks  []*TaskRecord `json:"tasks" yaml:"tasks"`
	Events []*Event      `json:"events,omitempty" yaml:"events,omitempty"`
}

// Store defines the interface for the run report
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Task operations
	StartTask(ctx context.Context, rec *TaskRecord) error
	FinishTask(ctx context.Context, rec *TaskRecord) error
	IncrementTaskRetries(ctx context.Context, id string) error
	ListTasksByRun(ctx context.Context, runID string) ([]*TaskRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, taskID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	Report(ctx context.Context, runID string, withEvents bool) (*Report, error)
	HealthCheck(ctx context.Context) error
}
