// Package fulfillment contains the domain model for the task fulfillment
// engine: the catalog of data locations, the per-location task lifecycle, and
// the rollup view the host application consumes.
package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskRepository defines the persistence operations for tasks. The lifecycle
// service is the only writer; UpdateTask must enforce the task's optimistic
// locking version and fail with ErrConcurrentModification on a lost race.
type TaskRepository interface {
	// CreateTask persists a new task's initial state.
	CreateTask(ctx context.Context, task *Task) error

	// GetTask retrieves a task by id. Returns ErrTaskNotFound when absent.
	GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error)

	// GetTaskByCorrelationID retrieves the unique task minted with the given
	// correlation id. Returns ErrNoTaskForCorrelationID when absent.
	GetTaskByCorrelationID(ctx context.Context, correlationID string) (*Task, error)

	// UpdateTask persists changes to an existing task, guarded by the task's
	// version.
	UpdateTask(ctx context.Context, task *Task) error

	// ListTasksByRequest returns every task fanned out for a request.
	ListTasksByRequest(ctx context.Context, requestID uuid.UUID) ([]*Task, error)

	// FindTasksNeedingRetry returns failed tasks with attempts remaining
	// whose nextRetryAt is at or before now.
	FindTasksNeedingRetry(ctx context.Context, now time.Time, limit int) ([]*Task, error)

	// FindTasksAwaitingCallback returns tasks parked on a webhook callback.
	FindTasksAwaitingCallback(ctx context.Context, limit int) ([]*Task, error)
}

// LocationRepository defines read access to the location registry. Creation
// and editing are external CRUD; the engine only plans against it.
type LocationRepository interface {
	// GetLocation retrieves a location by id. Returns ErrLocationNotFound
	// when absent.
	GetLocation(ctx context.Context, locationID uuid.UUID) (*Location, error)

	// ListActiveForRequestType returns active locations supporting the given
	// request type, ordered by ascending priority.
	ListActiveForRequestType(ctx context.Context, rt RequestType) ([]*Location, error)
}

// TaskPlanner fans a request out into one task per eligible location.
type TaskPlanner interface {
	// PlanTasks creates one task per active location supporting the request
	// type, ordered by location priority. Not idempotent: callers must check
	// HasPlannedTasks first and call PlanTasks at most once per request.
	PlanTasks(ctx context.Context, requestID uuid.UUID, requestType RequestType) ([]*Task, error)

	// HasPlannedTasks reports whether fan-out already ran for the request.
	HasPlannedTasks(ctx context.Context, requestID uuid.UUID) (bool, error)
}

// TaskLifecycle drives all task state transitions. Transitions on the same
// task are serialized; each validates its preconditions before any write and
// fails atomically.
type TaskLifecycle interface {
	// Start begins an execution attempt, optionally assigning a manual task.
	Start(ctx context.Context, taskID uuid.UUID, assignee string) (*Task, error)

	// Complete finishes a task successfully, merging result into the
	// execution result.
	Complete(ctx context.Context, taskID uuid.UUID, result map[string]any) (*Task, error)

	// Fail records an execution failure, optionally scheduling a retry.
	Fail(ctx context.Context, taskID uuid.UUID, errorMessage string, scheduleRetry bool) (*Task, error)

	// Retry moves a failed task back to pending. Unconditional; due-ness is
	// the sweep's concern.
	Retry(ctx context.Context, taskID uuid.UUID) (*Task, error)

	// Skip retires a task whose location does not apply to the request.
	Skip(ctx context.Context, taskID uuid.UUID, reason string) (*Task, error)

	// Block parks a task for operator intervention.
	Block(ctx context.Context, taskID uuid.UUID, reason string) (*Task, error)

	// Verify re-confirms a completed task's outcome.
	Verify(ctx context.Context, taskID uuid.UUID, verifiedBy, notes string) (*Task, error)

	// AwaitCallback parks an in-progress task until its webhook arrives.
	AwaitCallback(ctx context.Context, taskID uuid.UUID) (*Task, error)

	// RequireVerification routes a task through operator confirmation
	// before it counts as completed.
	RequireVerification(ctx context.Context, taskID uuid.UUID) (*Task, error)
}

// CallbackResolver matches asynchronous callbacks back to their tasks.
type CallbackResolver interface {
	// ResolveCallback finds the task minted with correlationID and drives it
	// to completed or failed. A callback against a terminal task is accepted
	// as a recorded no-op; an unknown correlation id is a hard error.
	ResolveCallback(ctx context.Context, correlationID string, payload map[string]any, success bool) (*Task, error)
}

// RequestSummarizer rolls a request's task collection up into a TaskSummary.
type RequestSummarizer interface {
	Summarize(ctx context.Context, requestID uuid.UUID) (TaskSummary, error)
}
