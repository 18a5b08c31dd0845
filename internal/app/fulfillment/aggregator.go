package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/pkg/common/logger"
)

var _ domain.RequestSummarizer = (*requestAggregator)(nil)

// requestAggregator implements domain.RequestSummarizer. The summary it
// computes is advisory: the engine reports counts and completion flags and
// leaves the request-level status decision to the host application, which may
// e.g. require manual verification of every task before closing a request.
type requestAggregator struct {
	taskRepo domain.TaskRepository

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRequestAggregator returns a RequestSummarizer over the task repository.
func NewRequestAggregator(taskRepo domain.TaskRepository, logger *logger.Logger, tracer trace.Tracer) *requestAggregator {
	logger = logger.With("component", "request_aggregator")
	return &requestAggregator{taskRepo: taskRepo, logger: logger, tracer: tracer}
}

// Summarize reads the request's full task collection and rolls it up.
func (s *requestAggregator) Summarize(ctx context.Context, requestID uuid.UUID) (domain.TaskSummary, error) {
	ctx, span := s.tracer.Start(ctx, "request_aggregator.fulfillment.summarize",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	tasks, err := s.taskRepo.ListTasksByRequest(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks")
		return domain.TaskSummary{}, fmt.Errorf("failed to list tasks for request %s: %w", requestID, err)
	}

	summary := domain.NewTaskSummary(requestID, tasks)
	span.AddEvent("summary_computed", trace.WithAttributes(
		attribute.Int("total", summary.Total()),
		attribute.Bool("all_completed", summary.AllCompleted()),
		attribute.Bool("has_failures", summary.HasFailures()),
	))
	span.SetStatus(codes.Ok, "summary computed")

	return summary, nil
}
