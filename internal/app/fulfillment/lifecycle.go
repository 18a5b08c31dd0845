package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complykit/dsr-engine/internal/domain/events"
	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/pkg/common/logger"
)

var _ domain.TaskLifecycle = (*taskLifecycle)(nil)

// taskLifecycle implements domain.TaskLifecycle. It is the single writer of
// task status: every transition is a serialized read-modify-write against the
// task repository, with an activity record appended to the event sink on
// success. Sink failures are logged and swallowed so audit problems never
// fail a transition.
type taskLifecycle struct {
	taskRepo  domain.TaskRepository
	publisher events.DomainEventPublisher

	// locks serializes concurrent transitions on the same task, e.g. a retry
	// sweep racing an inbound webhook. The repository's version check guards
	// against other processes.
	locks *taskLocks

	logger *logger.Logger
	tracer trace.Tracer
}

// NewTaskLifecycle returns a TaskLifecycle backed by the given repository and
// event sink.
func NewTaskLifecycle(
	taskRepo domain.TaskRepository,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *taskLifecycle {
	logger = logger.With("component", "task_lifecycle")
	return &taskLifecycle{
		taskRepo:  taskRepo,
		publisher: publisher,
		locks:     newTaskLocks(),
		logger:    logger,
		tracer:    tracer,
	}
}

// apply runs a single transition: load the task, mutate it through the given
// domain method, persist it, and record the activity. The domain method
// validates preconditions before mutating, so an illegal transition leaves
// both the aggregate and the store untouched.
func (s *taskLifecycle) apply(
	ctx context.Context,
	operation string,
	taskID uuid.UUID,
	actor string,
	detail string,
	transition func(*domain.Task) error,
) (*domain.Task, error) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("task_lifecycle.fulfillment.%s", operation),
		trace.WithAttributes(
			attribute.String("task_id", taskID.String()),
			attribute.String("operation", operation),
		))
	defer span.End()

	s.locks.Lock(taskID)
	defer s.locks.Unlock(taskID)

	task, err := s.taskRepo.GetTask(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load task")
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	previous := task.Status()

	if err := transition(task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition rejected")
		return nil, err
	}
	span.AddEvent("transition_validated", trace.WithAttributes(
		attribute.String("previous_status", previous.String()),
		attribute.String("new_status", task.Status().String()),
	))

	if err := s.taskRepo.UpdateTask(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist task")
		return nil, fmt.Errorf("failed to persist task %s: %w", taskID, err)
	}
	span.AddEvent("task_persisted")

	s.record(ctx, domain.NewTaskStatusChangedEvent(task, actor, operation, previous, detail), task.CorrelationID())

	span.SetStatus(codes.Ok, "transition applied")
	return task, nil
}

// record appends an activity event to the sink. Best effort: failures are
// logged, never surfaced.
func (s *taskLifecycle) record(ctx context.Context, event events.DomainEvent, key string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, event, events.WithKey(key)); err != nil {
		s.logger.Warn(ctx, "failed to record activity event",
			"event_type", string(event.EventType()), "error", err)
	}
}

// Start begins an execution attempt. Legal from pending or manual_action.
func (s *taskLifecycle) Start(ctx context.Context, taskID uuid.UUID, assignee string) (*domain.Task, error) {
	return s.apply(ctx, "start", taskID, assignee, "", func(t *domain.Task) error {
		return t.Start(assignee)
	})
}

// Complete finishes a task successfully, merging result into its execution
// result.
func (s *taskLifecycle) Complete(ctx context.Context, taskID uuid.UUID, result map[string]any) (*domain.Task, error) {
	return s.apply(ctx, "complete", taskID, "", "", func(t *domain.Task) error {
		return t.Complete(result)
	})
}

// Fail records an execution failure, scheduling a retry when requested and
// attempts remain.
func (s *taskLifecycle) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string, scheduleRetry bool) (*domain.Task, error) {
	return s.apply(ctx, "fail", taskID, "", errorMessage, func(t *domain.Task) error {
		return t.Fail(errorMessage, scheduleRetry)
	})
}

// Retry moves a failed task back to pending.
func (s *taskLifecycle) Retry(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.apply(ctx, "retry", taskID, "", "", func(t *domain.Task) error {
		return t.Retry()
	})
}

// Skip retires a task whose location does not apply to the request.
func (s *taskLifecycle) Skip(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	return s.apply(ctx, "skip", taskID, "", reason, func(t *domain.Task) error {
		return t.Skip(reason)
	})
}

// Block parks a task for operator intervention.
func (s *taskLifecycle) Block(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	return s.apply(ctx, "block", taskID, "", reason, func(t *domain.Task) error {
		return t.Block(reason)
	})
}

// Verify re-confirms a completed task's outcome and records who checked it.
func (s *taskLifecycle) Verify(ctx context.Context, taskID uuid.UUID, verifiedBy, notes string) (*domain.Task, error) {
	task, err := s.apply(ctx, "verify", taskID, verifiedBy, notes, func(t *domain.Task) error {
		return t.Verify(verifiedBy, notes)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, domain.NewTaskVerifiedEvent(task), task.CorrelationID())
	return task, nil
}

// AwaitCallback parks an in-progress task until its webhook callback arrives.
func (s *taskLifecycle) AwaitCallback(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.apply(ctx, "await_callback", taskID, "", "", func(t *domain.Task) error {
		return t.AwaitCallback()
	})
}

// RequireVerification routes a task through operator confirmation before it
// counts as completed.
func (s *taskLifecycle) RequireVerification(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.apply(ctx, "require_verification", taskID, "", "", func(t *domain.Task) error {
		return t.RequireVerification()
	})
}
