package fulfillment

import "errors"

// TaskStatus represents the execution state of an individual fulfillment task.
// It enables fine-grained tracking of task progress across automated, manual,
// and callback-driven execution paths.
type TaskStatus string

// ErrTaskStatusUnknown is returned when a task status is unknown.
var ErrTaskStatusUnknown = errors.New("task status unknown")

const (
	// TaskStatusPending indicates a task is created but not yet started.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusInProgress indicates a task is actively executing against
	// its data location.
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusAwaitingCallback indicates execution was handed to an
	// external system and the task is waiting for its webhook callback.
	TaskStatusAwaitingCallback TaskStatus = "awaiting_callback"

	// TaskStatusManualAction indicates the task requires a human operator
	// to perform the work at the data location.
	TaskStatusManualAction TaskStatus = "manual_action"

	// TaskStatusVerification indicates execution finished but the outcome
	// still needs operator confirmation before the task counts as done.
	TaskStatusVerification TaskStatus = "verification"

	// TaskStatusCompleted indicates a task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates a task encountered an error. A failed task
	// is only terminal once its retries are exhausted or no retry was
	// requested; retriability lives on the Task, not the status.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusBlocked indicates a dependency or configuration problem that
	// requires operator intervention. Never auto-retried.
	TaskStatusBlocked TaskStatus = "blocked"

	// TaskStatusSkipped indicates the location was determined not applicable
	// for this request after fan-out.
	TaskStatusSkipped TaskStatus = "skipped"

	// TaskStatusUnspecified is used when a task status is unknown.
	TaskStatusUnspecified TaskStatus = "unspecified"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) TaskStatus {
	switch s {
	case "pending":
		return TaskStatusPending
	case "in_progress":
		return TaskStatusInProgress
	case "awaiting_callback":
		return TaskStatusAwaitingCallback
	case "manual_action":
		return TaskStatusManualAction
	case "verification":
		return TaskStatusVerification
	case "completed":
		return TaskStatusCompleted
	case "failed":
		return TaskStatusFailed
	case "blocked":
		return TaskStatusBlocked
	case "skipped":
		return TaskStatusSkipped
	default:
		return TaskStatusUnspecified
	}
}

// isTerminal reports whether the status alone rules out further transitions.
// TaskStatusFailed is deliberately absent: a failed task may still be
// retriable, which only the Task's attempt state can decide.
func (s TaskStatus) isTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusBlocked || s == TaskStatusSkipped
}

// isValidTransition checks if the current status can transition to the target
// status. It enforces the task lifecycle rules to prevent invalid state
// changes.
func (s TaskStatus) isValidTransition(target TaskStatus) bool {
	// Skip and block are escape hatches from any non-terminal state.
	if (target == TaskStatusSkipped || target == TaskStatusBlocked) && !s.isTerminal() && s != TaskStatusFailed {
		return true
	}

	switch s {
	case TaskStatusPending:
		return target == TaskStatusInProgress
	case TaskStatusManualAction:
		// Manual work may be started, completed directly by an operator, or
		// routed through verification.
		return target == TaskStatusInProgress || target == TaskStatusCompleted || target == TaskStatusVerification
	case TaskStatusInProgress:
		return target == TaskStatusCompleted ||
			target == TaskStatusFailed ||
			target == TaskStatusAwaitingCallback ||
			target == TaskStatusVerification
	case TaskStatusAwaitingCallback:
		return target == TaskStatusCompleted || target == TaskStatusFailed
	case TaskStatusVerification:
		return target == TaskStatusCompleted
	case TaskStatusFailed:
		// Back to pending via retry; skip/block stay legal so an operator can
		// retire a retriable failure. Retriability is checked by the Task.
		return target == TaskStatusPending || target == TaskStatusSkipped || target == TaskStatusBlocked
	case TaskStatusCompleted, TaskStatusBlocked, TaskStatusSkipped:
		return false
	default:
		return false
	}
}
