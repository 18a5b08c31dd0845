package fulfillment

import (
	"time"

	"github.com/google/uuid"

	"github.com/complykit/dsr-engine/internal/domain/events"
)

// Event types recorded to the activity feed:
const (
	EventTypeTasksPlanned      events.EventType = "TasksPlanned"
	EventTypeTaskStatusChanged events.EventType = "TaskStatusChanged"
	EventTypeTaskVerified      events.EventType = "TaskVerified"
	EventTypeCallbackResolved  events.EventType = "CallbackResolved"
	EventTypeDuplicateCallback events.EventType = "DuplicateCallback"
)

// TasksPlannedEvent records a request's fan-out: one task per eligible
// location.
type TasksPlannedEvent struct {
	occurredAt  time.Time
	RequestID   uuid.UUID
	RequestType RequestType
	TaskIDs     []uuid.UUID
}

func NewTasksPlannedEvent(requestID uuid.UUID, requestType RequestType, taskIDs []uuid.UUID) TasksPlannedEvent {
	return TasksPlannedEvent{
		occurredAt:  time.Now(),
		RequestID:   requestID,
		RequestType: requestType,
		TaskIDs:     taskIDs,
	}
}

func (e TasksPlannedEvent) EventType() events.EventType { return EventTypeTasksPlanned }
func (e TasksPlannedEvent) OccurredAt() time.Time       { return e.occurredAt }

// TaskStatusChangedEvent records a single task transition, including who
// drove it and the statuses on both sides so the feed reads as an audit
// trail.
type TaskStatusChangedEvent struct {
	occurredAt     time.Time
	TaskID         uuid.UUID
	RequestID      uuid.UUID
	CorrelationID  string
	Actor          string
	Operation      string
	PreviousStatus TaskStatus
	NewStatus      TaskStatus
	Detail         string
}

func NewTaskStatusChangedEvent(task *Task, actor, operation string, previous TaskStatus, detail string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		occurredAt:     time.Now(),
		TaskID:         task.ID(),
		RequestID:      task.RequestID(),
		CorrelationID:  task.CorrelationID(),
		Actor:          actor,
		Operation:      operation,
		PreviousStatus: previous,
		NewStatus:      task.Status(),
		Detail:         detail,
	}
}

func (e TaskStatusChangedEvent) EventType() events.EventType { return EventTypeTaskStatusChanged }
func (e TaskStatusChangedEvent) OccurredAt() time.Time       { return e.occurredAt }

// TaskVerifiedEvent records an operator's confirmation of a completed task.
type TaskVerifiedEvent struct {
	occurredAt time.Time
	TaskID     uuid.UUID
	RequestID  uuid.UUID
	VerifiedBy string
	Notes      string
}

func NewTaskVerifiedEvent(task *Task) TaskVerifiedEvent {
	return TaskVerifiedEvent{
		occurredAt: time.Now(),
		TaskID:     task.ID(),
		RequestID:  task.RequestID(),
		VerifiedBy: task.VerifiedBy(),
		Notes:      task.VerificationNotes(),
	}
}

func (e TaskVerifiedEvent) EventType() events.EventType { return EventTypeTaskVerified }
func (e TaskVerifiedEvent) OccurredAt() time.Time       { return e.occurredAt }

// CallbackResolvedEvent records an inbound webhook callback that was matched
// to its task.
type CallbackResolvedEvent struct {
	occurredAt    time.Time
	TaskID        uuid.UUID
	RequestID     uuid.UUID
	CorrelationID string
	Success       bool
}

func NewCallbackResolvedEvent(task *Task, success bool) CallbackResolvedEvent {
	return CallbackResolvedEvent{
		occurredAt:    time.Now(),
		TaskID:        task.ID(),
		RequestID:     task.RequestID(),
		CorrelationID: task.CorrelationID(),
		Success:       success,
	}
}

func (e CallbackResolvedEvent) EventType() events.EventType { return EventTypeCallbackResolved }
func (e CallbackResolvedEvent) OccurredAt() time.Time       { return e.occurredAt }

// DuplicateCallbackEvent records a callback that arrived for a task already
// in a terminal state. Webhook delivery is at-least-once, so duplicates are
// observability, not errors.
type DuplicateCallbackEvent struct {
	occurredAt    time.Time
	TaskID        uuid.UUID
	CorrelationID string
	Status        TaskStatus
}

func NewDuplicateCallbackEvent(task *Task) DuplicateCallbackEvent {
	return DuplicateCallbackEvent{
		occurredAt:    time.Now(),
		TaskID:        task.ID(),
		CorrelationID: task.CorrelationID(),
		Status:        task.Status(),
	}
}

func (e DuplicateCallbackEvent) EventType() events.EventType { return EventTypeDuplicateCallback }
func (e DuplicateCallbackEvent) OccurredAt() time.Time       { return e.occurredAt }
