package engine

import (
	"errors"
	"fmt"
)

// ErrWrongType is returned by typed accessors when a present value has an
// unexpected shape.
var ErrWrongType = errors.New("value has wrong type")

// TaskError is a terminal task failure tagged with its kind.
// nolint:revive // TaskError is intentionally named to distinguish from standard errors
type TaskError struct {
	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`

	// Task is the resolved name of the failing task.
	Task string `json:"task,omitempty"`

	// Message is the human-readable reason.
	Message string `json:"message"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Task != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Task, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a TaskError of the same kind.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewMessageError creates a failure carrying a human-readable reason.
func NewMessageError(message string) *TaskError {
	return &TaskError{Kind: ErrorMessage, Message: message}
}

// NewExceptionError wraps an unexpected lower-level fault.
func NewExceptionError(message string, err error) *TaskError {
	return &TaskError{Kind: ErrorException, Message: message, Err: err}
}

// NewCapabilityError reports that cap was not granted to the run.
func NewCapabilityError(c Capability) *TaskError {
	return &TaskError{
		Kind:    ErrorCapability,
		Message: fmt.Sprintf("capability %s not granted", c),
		Details: map[string]interface{}{"capability": string(c)},
	}
}

// NewTimeoutError reports a convergence wait that exceeded its bound.
func NewTimeoutError(message string, err error) *TaskError {
	return &TaskError{Kind: ErrorTimeout, Message: message, Err: err}
}

// WithTask sets the failing task name.
func (e *TaskError) WithTask(name string) *TaskError {
	e.Task = name
	return e
}

// WithCause sets the underlying error.
func (e *TaskError) WithCause(err error) *TaskError {
	e.Err = err
	return e
}

// WithDetail adds a detail field to the error context.
func (e *TaskError) WithDetail(key string, value interface{}) *TaskError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first TaskError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *TaskError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsCapabilityNotFound reports whether err is a capability gating failure.
func IsCapabilityNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ErrorCapability
}

// IsTimeout reports whether err is a convergence timeout.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ErrorTimeout
}

// IsMessage reports whether err is a message failure.
func IsMessage(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ErrorMessage
}

// Precondition signals a recoverable unmet precondition, such as a missing
// executable. A retry unit consumes it and runs its remediation; anywhere
// else the coordinator turns it into a terminal message failure.
type Precondition struct {
	Reason string
	Err    error
}

// Unmet creates a Precondition signal.
func Unmet(reason string, err error) *Precondition {
	return &Precondition{Reason: reason, Err: err}
}

// Error implements the error interface.
func (p *Precondition) Error() string {
	if p.Err != nil {
		return fmt.Sprintf("precondition not met: %s: %v", p.Reason, p.Err)
	}
	return "precondition not met: " + p.Reason
}

// Unwrap returns the underlying error.
func (p *Precondition) Unwrap() error {
	return p.Err
}

// IsPrecondition reports whether err carries a recoverable signal. A
// Precondition that is only the cause of a *TaskError is not one: the
// failure was already made terminal.
func IsPrecondition(err error) bool {
	_, ok := asPrecondition(err)
	return ok
}

func asPrecondition(err error) (*Precondition, bool) {
	for err != nil {
		switch e := err.(type) {
		case *Precondition:
			return e, true
		case *TaskError:
			return nil, false
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}
