package fulfillment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complykit/dsr-engine/internal/domain/events"
	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/pkg/common/logger"
)

var _ domain.CallbackResolver = (*webhookCorrelator)(nil)

// webhookCorrelator implements domain.CallbackResolver. It matches an
// asynchronous callback from an external system back to the task that
// triggered it via the task's correlation id, then drives the task to
// completed or failed through the lifecycle service.
type webhookCorrelator struct {
	taskRepo  domain.TaskRepository
	lifecycle domain.TaskLifecycle
	publisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWebhookCorrelator returns a CallbackResolver that resolves callbacks
// through the given lifecycle service.
func NewWebhookCorrelator(
	taskRepo domain.TaskRepository,
	lifecycle domain.TaskLifecycle,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *webhookCorrelator {
	logger = logger.With("component", "webhook_correlator")
	return &webhookCorrelator{
		taskRepo:  taskRepo,
		lifecycle: lifecycle,
		publisher: publisher,
		logger:    logger,
		tracer:    tracer,
	}
}

// ResolveCallback looks up the unique task minted with correlationID. An
// unknown correlation id is a hard error so stray callbacks stay auditable.
// A callback against a terminal task is accepted without error but changes
// nothing beyond a duplicate-callback activity record: webhook delivery is
// at-least-once and must not re-trigger side effects.
func (s *webhookCorrelator) ResolveCallback(ctx context.Context, correlationID string, payload map[string]any, success bool) (*domain.Task, error) {
	logger := s.logger.With("operation", "resolve_callback", "correlation_id", correlationID)
	ctx, span := s.tracer.Start(ctx, "webhook_correlator.fulfillment.resolve_callback",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.Bool("success", success),
		))
	defer span.End()

	task, err := s.taskRepo.GetTaskByCorrelationID(ctx, correlationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no task for correlation id")
		return nil, fmt.Errorf("failed to resolve callback %s: %w", correlationID, err)
	}
	span.AddEvent("task_matched", trace.WithAttributes(
		attribute.String("task_id", task.ID().String()),
		attribute.String("status", task.Status().String()),
	))

	if task.IsTerminal() {
		logger.Info(ctx, "Duplicate callback for terminal task, recording only",
			"task_id", task.ID(), "status", task.Status().String())
		s.record(ctx, domain.NewDuplicateCallbackEvent(task), correlationID)
		span.SetStatus(codes.Ok, "duplicate callback recorded")
		return task, nil
	}

	if success {
		task, err = s.lifecycle.Complete(ctx, task.ID(), map[string]any{
			"webhookReceived": true,
			"webhookPayload":  payload,
		})
	} else {
		task, err = s.lifecycle.Fail(ctx, task.ID(), failureMessage(payload), false)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to apply callback outcome")
		return nil, fmt.Errorf("failed to apply callback outcome for %s: %w", correlationID, err)
	}

	s.record(ctx, domain.NewCallbackResolvedEvent(task, success), correlationID)

	span.SetStatus(codes.Ok, "callback resolved")
	return task, nil
}

// failureMessage derives a human-readable error from the callback payload.
func failureMessage(payload map[string]any) string {
	if msg, ok := payload["error"].(string); ok && msg != "" {
		return fmt.Sprintf("webhook callback reported failure: %s", msg)
	}
	return "webhook callback reported failure"
}

func (s *webhookCorrelator) record(ctx context.Context, event events.DomainEvent, key string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDomainEvent(ctx, event, events.WithKey(key)); err != nil {
		s.logger.Warn(ctx, "failed to record activity event",
			"event_type", string(event.EventType()), "error", err)
	}
}
