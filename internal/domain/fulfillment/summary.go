package fulfillment

import "github.com/google/uuid"

// TaskSummary is a derived, never-persisted rollup of a request's task
// collection. It is advisory: the engine reports it and leaves request-level
// status transitions to the caller.
type TaskSummary struct {
	requestID      uuid.UUID
	total          int
	statusCounts   map[TaskStatus]int
	allCompleted   bool
	hasFailures    bool
	pendingManual  int
	awaitingCbacks int
}

// NewTaskSummary computes a summary from the current task collection for a
// request. Skipped tasks count toward completion; failed or blocked tasks
// flag the request as having failures.
func NewTaskSummary(requestID uuid.UUID, tasks []*Task) TaskSummary {
	counts := make(map[TaskStatus]int, len(tasks))
	for _, t := range tasks {
		counts[t.Status()]++
	}

	total := len(tasks)
	done := counts[TaskStatusCompleted] + counts[TaskStatusSkipped]

	return TaskSummary{
		requestID:      requestID,
		total:          total,
		statusCounts:   counts,
		allCompleted:   total > 0 && done == total,
		hasFailures:    counts[TaskStatusFailed] > 0 || counts[TaskStatusBlocked] > 0,
		pendingManual:  counts[TaskStatusManualAction],
		awaitingCbacks: counts[TaskStatusAwaitingCallback],
	}
}

// RequestID returns the request this summary describes.
func (s TaskSummary) RequestID() uuid.UUID { return s.requestID }

// Total returns the number of tasks fanned out for the request.
func (s TaskSummary) Total() int { return s.total }

// CountByStatus returns how many tasks are in the given status.
func (s TaskSummary) CountByStatus(status TaskStatus) int { return s.statusCounts[status] }

// AllCompleted reports whether every task finished (completed or skipped).
// False for a request with no tasks.
func (s TaskSummary) AllCompleted() bool { return s.allCompleted }

// HasFailures reports whether any task is failed or blocked.
func (s TaskSummary) HasFailures() bool { return s.hasFailures }

// PendingManualActions returns the number of tasks waiting on a human
// operator.
func (s TaskSummary) PendingManualActions() int { return s.pendingManual }

// AwaitingCallbacks returns the number of tasks parked on a webhook callback.
func (s TaskSummary) AwaitingCallbacks() int { return s.awaitingCbacks }
