package fulfillment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned when a task lookup yields no result.
var ErrTaskNotFound = errors.New("task not found")

// ErrLocationNotFound is returned when a location lookup yields no result.
var ErrLocationNotFound = errors.New("location not found")

// ErrNoTaskForCorrelationID is returned when a webhook callback cannot be
// matched to any task. Stray callbacks are hard errors so they stay auditable.
var ErrNoTaskForCorrelationID = errors.New("no task matches correlation id")

// ErrConcurrentModification is returned when a task write loses an optimistic
// locking race. Callers may re-read and retry the transition.
var ErrConcurrentModification = errors.New("task was modified concurrently")

// InvalidTransitionError indicates a state machine precondition was violated.
// It carries the current status and the attempted operation so an operator can
// diagnose a stuck task.
type InvalidTransitionError struct {
	taskID    uuid.UUID
	current   TaskStatus
	operation string
}

// NewInvalidTransitionError creates an InvalidTransitionError for the given
// task, its current status, and the operation that was attempted.
func NewInvalidTransitionError(taskID uuid.UUID, current TaskStatus, operation string) *InvalidTransitionError {
	return &InvalidTransitionError{taskID: taskID, current: current, operation: operation}
}

// Error returns a string representation of the error.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: cannot %s from status %s", e.taskID, e.operation, e.current)
}

// TaskID returns the task the transition was attempted on.
func (e *InvalidTransitionError) TaskID() uuid.UUID { return e.taskID }

// CurrentStatus returns the task's status at the time of the attempt.
func (e *InvalidTransitionError) CurrentStatus() TaskStatus { return e.current }

// Operation returns the attempted operation.
func (e *InvalidTransitionError) Operation() string { return e.operation }

// ValidationError indicates malformed input to a transition or constructor,
// e.g. a missing error message on fail or an empty supported-request-type set.
type ValidationError struct {
	field  string
	reason string
}

// NewValidationError creates a ValidationError for the given field and reason.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{field: field, reason: reason}
}

// Error returns a string representation of the error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.field, e.reason)
}

// Field returns the offending field.
func (e *ValidationError) Field() string { return e.field }
