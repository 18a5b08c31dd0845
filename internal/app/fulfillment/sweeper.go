package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/pkg/common/logger"
)

type timeProvider interface {
	Now() time.Time
}

// realTimeProvider is a real implementation of the timeProvider interface.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// TaskSweeper periodically re-queues failed tasks whose retry backoff has
// elapsed and times out tasks stuck waiting on a webhook callback past the
// location's expected window.
type TaskSweeper struct {
	taskRepo     domain.TaskRepository
	locationRepo domain.LocationRepository
	lifecycle    domain.TaskLifecycle

	// retryInterval controls how often due retries are swept.
	retryInterval time.Duration
	// callbackInterval controls how often overdue callbacks are checked.
	callbackInterval time.Duration
	// batchSize caps how many tasks a single sweep pass processes.
	batchSize int
	// retryConcurrency caps concurrent retry transitions per pass.
	retryConcurrency int

	// cancel allows graceful shutdown of the background goroutine.
	cancel context.CancelCauseFunc
	// timeProvider is used to get the current time.
	timeProvider timeProvider

	tracer trace.Tracer
	logger *logger.Logger
}

// SweeperOption configures a TaskSweeper.
type SweeperOption func(*TaskSweeper)

// WithRetryInterval overrides how often due retries are swept.
func WithRetryInterval(d time.Duration) SweeperOption {
	return func(s *TaskSweeper) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithCallbackInterval overrides how often overdue callbacks are checked.
func WithCallbackInterval(d time.Duration) SweeperOption {
	return func(s *TaskSweeper) {
		if d > 0 {
			s.callbackInterval = d
		}
	}
}

// WithBatchSize overrides the per-pass task cap.
func WithBatchSize(n int) SweeperOption {
	return func(s *TaskSweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewTaskSweeper returns a TaskSweeper over the given repositories and
// lifecycle service.
func NewTaskSweeper(
	taskRepo domain.TaskRepository,
	locationRepo domain.LocationRepository,
	lifecycle domain.TaskLifecycle,
	tracer trace.Tracer,
	logger *logger.Logger,
	opts ...SweeperOption,
) *TaskSweeper {
	logger = logger.With("component", "task_sweeper")
	s := &TaskSweeper{
		taskRepo:         taskRepo,
		locationRepo:     locationRepo,
		lifecycle:        lifecycle,
		retryInterval:    30 * time.Second,
		callbackInterval: time.Minute,
		batchSize:        100,
		retryConcurrency: 8,
		timeProvider:     realTimeProvider{},
		tracer:           tracer,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches a background goroutine to periodically:
//  1. Re-queue failed tasks whose nextRetryAt has arrived
//  2. Fail tasks whose webhook callback never came within the expected window
//
// When the context is canceled the goroutine exits.
func (s *TaskSweeper) Start(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "task_sweeper.fulfillment.start_sweep_loop",
		trace.WithAttributes(
			attribute.String("retry_interval", s.retryInterval.String()),
			attribute.String("callback_interval", s.callbackInterval.String()),
		))
	defer span.End()

	ctx, s.cancel = context.WithCancelCause(ctx)

	span.AddEvent("sweep_loop_started")

	go func() {
		retryTicker := time.NewTicker(s.retryInterval)
		callbackTicker := time.NewTicker(s.callbackInterval)
		defer func() {
			retryTicker.Stop()
			callbackTicker.Stop()
		}()

		for {
			select {
			case <-retryTicker.C:
				s.sweepRetries(ctx)

			case <-callbackTicker.C:
				s.sweepOverdueCallbacks(ctx)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweepRetries re-queues failed tasks whose backoff has elapsed. Each retry is
// an independent transition, so a failure on one task never stalls the rest of
// the batch.
func (s *TaskSweeper) sweepRetries(ctx context.Context) {
	logr := s.logger.With("operation", "sweep_retries")
	ctx, span := s.tracer.Start(ctx, "task_sweeper.fulfillment.sweep_retries")
	defer span.End()

	now := s.timeProvider.Now().UTC()
	span.SetAttributes(attribute.String("sweep_time", now.Format(time.RFC3339)))

	due, err := s.taskRepo.FindTasksNeedingRetry(ctx, now, s.batchSize)
	if err != nil {
		logr.Error(ctx, "Due retry lookup failed", "err", err)
		span.SetStatus(codes.Error, "due retry lookup failed")
		span.RecordError(err)
		return
	}
	span.AddEvent("due_retries_found", trace.WithAttributes(
		attribute.Int("count", len(due)),
	))
	if len(due) == 0 {
		span.SetStatus(codes.Ok, "no due retries")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.retryConcurrency)
	for _, t := range due {
		taskID := t.ID()
		g.Go(func() error {
			if _, err := s.lifecycle.Retry(gctx, taskID); err != nil {
				logr.Error(ctx, "Task retry failed", "task_id", taskID, "err", err)
				span.RecordError(err)
				return nil
			}
			logr.Info(ctx, "Task re-queued for retry", "task_id", taskID)
			return nil
		})
	}
	_ = g.Wait()

	span.AddEvent("retry_sweep_completed", trace.WithAttributes(
		attribute.Int("processed_count", len(due)),
	))
	span.SetStatus(codes.Ok, "retry sweep completed")
}

// sweepOverdueCallbacks fails tasks whose callback window has closed with no
// webhook. The failure schedules a retry, so the location gets re-invoked
// while attempts remain.
func (s *TaskSweeper) sweepOverdueCallbacks(ctx context.Context) {
	logr := s.logger.With("operation", "sweep_overdue_callbacks")
	ctx, span := s.tracer.Start(ctx, "task_sweeper.fulfillment.sweep_overdue_callbacks")
	defer span.End()

	now := s.timeProvider.Now().UTC()
	span.SetAttributes(attribute.String("sweep_time", now.Format(time.RFC3339)))

	waiting, err := s.taskRepo.FindTasksAwaitingCallback(ctx, s.batchSize)
	if err != nil {
		logr.Error(ctx, "Awaiting-callback lookup failed", "err", err)
		span.SetStatus(codes.Error, "awaiting-callback lookup failed")
		span.RecordError(err)
		return
	}
	span.AddEvent("awaiting_callback_tasks_found", trace.WithAttributes(
		attribute.Int("count", len(waiting)),
	))

	overdueCount := 0
	for _, t := range waiting {
		loc, err := s.locationRepo.GetLocation(ctx, t.LocationID())
		if err != nil {
			logr.Error(ctx, "Location lookup failed", "task_id", t.ID(), "location_id", t.LocationID(), "err", err)
			span.RecordError(err)
			continue
		}

		window, ok := loc.CallbackWindow()
		if !ok {
			// No webhook config means no deadline to enforce.
			continue
		}

		deadline := t.LastAttemptAt().Add(window)
		if now.Before(deadline) {
			continue
		}
		overdueCount++

		msg := fmt.Sprintf("no callback received within %s", window)
		if _, err := s.lifecycle.Fail(ctx, t.ID(), msg, true); err != nil {
			logr.Error(ctx, "Overdue callback timeout failed", "task_id", t.ID(), "err", err)
			span.RecordError(err)
			continue
		}
		logr.Warn(ctx, "Task timed out waiting for callback",
			"task_id", t.ID(), "location_id", t.LocationID(), "window", window)
		span.AddEvent("task_timed_out")
	}

	span.AddEvent("callback_sweep_completed", trace.WithAttributes(
		attribute.Int("overdue_count", overdueCount),
	))
	span.SetStatus(codes.Ok, "callback sweep completed")
}

// Stop signals the background goroutine to terminate.
func (s *TaskSweeper) Stop() {
	logger := s.logger.With("operation", "stop")
	ctx, span := s.tracer.Start(context.Background(), "task_sweeper.fulfillment.stop")
	defer span.End()

	if s.cancel != nil {
		s.cancel(errors.New("task sweeper stopped"))
	}

	span.AddEvent("task_sweeper_stopped")
	logger.Info(ctx, "Task sweeper stopped")
}
