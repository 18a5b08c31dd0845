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

var _ domain.TaskPlanner = (*taskPlanner)(nil)

// taskPlanner implements domain.TaskPlanner: it fans a request out into one
// task per active location supporting the request type, ordered by location
// priority.
//
// PlanTasks is not idempotent. Running it twice for the same request
// duplicates tasks; callers check HasPlannedTasks first and plan at most once
// per request.
type taskPlanner struct {
	locationRepo domain.LocationRepository
	taskRepo     domain.TaskRepository
	publisher    events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewTaskPlanner returns a TaskPlanner backed by the location registry and
// task repository.
func NewTaskPlanner(
	locationRepo domain.LocationRepository,
	taskRepo domain.TaskRepository,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *taskPlanner {
	logger = logger.With("component", "task_planner")
	return &taskPlanner{
		locationRepo: locationRepo,
		taskRepo:     taskRepo,
		publisher:    publisher,
		logger:       logger,
		tracer:       tracer,
	}
}

// PlanTasks creates one task per eligible location. An empty result is a
// legitimate terminal outcome: the request has nothing to execute.
func (s *taskPlanner) PlanTasks(ctx context.Context, requestID uuid.UUID, requestType domain.RequestType) ([]*domain.Task, error) {
	logger := s.logger.With("operation", "plan_tasks", "request_id", requestID)
	ctx, span := s.tracer.Start(ctx, "task_planner.fulfillment.plan_tasks",
		trace.WithAttributes(
			attribute.String("request_id", requestID.String()),
			attribute.String("request_type", requestType.String()),
		))
	defer span.End()

	locations, err := s.locationRepo.ListActiveForRequestType(ctx, requestType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list locations")
		return nil, fmt.Errorf("failed to list locations for request type %s: %w", requestType, err)
	}
	span.AddEvent("locations_listed", trace.WithAttributes(
		attribute.Int("location_count", len(locations)),
	))

	if len(locations) == 0 {
		logger.Info(ctx, "No locations support request type, nothing to execute",
			"request_type", requestType.String())
		span.SetStatus(codes.Ok, "no matching locations")
		return nil, nil
	}

	// Created sequentially to preserve the registry's priority ordering.
	tasks := make([]*domain.Task, 0, len(locations))
	for _, loc := range locations {
		task := domain.NewTask(requestID, loc, requestType)
		if err := s.taskRepo.CreateTask(ctx, task); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create task")
			return nil, fmt.Errorf("failed to create task for location %s: %w", loc.ID(), err)
		}
		tasks = append(tasks, task)
	}
	span.AddEvent("tasks_created", trace.WithAttributes(
		attribute.Int("task_count", len(tasks)),
	))

	taskIDs := make([]uuid.UUID, len(tasks))
	for i, task := range tasks {
		taskIDs[i] = task.ID()
	}
	s.record(ctx, domain.NewTasksPlannedEvent(requestID, requestType, taskIDs), requestID.String())

	logger.Info(ctx, "Fan-out planned", "task_count", len(tasks))
	span.SetStatus(codes.Ok, "fan-out planned")
	return tasks, nil
}

// HasPlannedTasks reports whether fan-out already ran for the request.
func (s *taskPlanner) HasPlannedTasks(ctx context.Context, requestID uuid.UUID) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "task_planner.fulfillment.has_planned_tasks",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	tasks, err := s.taskRepo.ListTasksByRequest(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks")
		return false, fmt.Errorf("failed to list tasks for request %s: %w", requestID, err)
	}
	return len(tasks) > 0, nil
}

func (s *taskPlanner) record(ctx context.Context, event events.DomainEvent, key string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, event, events.WithKey(key)); err != nil {
		s.logger.Warn(ctx, "failed to record activity event",
			"event_type", string(event.EventType()), "error", err)
	}
}
