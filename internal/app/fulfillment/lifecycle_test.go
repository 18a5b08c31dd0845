package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
)

func newLifecycleForTest(taskRepo *mockTaskRepository, publisher *mockEventPublisher) *taskLifecycle {
	return NewTaskLifecycle(taskRepo, publisher, noopLogger(), noop.NewTracerProvider().Tracer("test"))
}

func TestTaskLifecycleStart(t *testing.T) {
	t.Parallel()

	task := testPendingTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

	publisher := new(mockEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.AnythingOfType("fulfillment.TaskStatusChangedEvent")).Return(nil)

	svc := newLifecycleForTest(taskRepo, publisher)
	got, err := svc.Start(context.Background(), task.ID(), "worker-1")
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusInProgress, got.Status())
	assert.Equal(t, 1, got.AttemptCount())
	assert.Equal(t, "worker-1", got.AssignedTo())
	taskRepo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestTaskLifecycleCompleteMergesResult(t *testing.T) {
	t.Parallel()

	task := testInProgressTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

	publisher := new(mockEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	svc := newLifecycleForTest(taskRepo, publisher)
	got, err := svc.Complete(context.Background(), task.ID(), map[string]any{"recordsDeleted": 7})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusCompleted, got.Status())
	assert.Equal(t, 7, got.ExecutionResult()["recordsDeleted"])
	assert.True(t, got.IsTerminal())
	taskRepo.AssertExpectations(t)
}

func TestTaskLifecycleFailSchedulesRetry(t *testing.T) {
	t.Parallel()

	task := testInProgressTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

	publisher := new(mockEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	svc := newLifecycleForTest(taskRepo, publisher)
	got, err := svc.Fail(context.Background(), task.ID(), "connection refused", true)
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusFailed, got.Status())
	assert.Equal(t, "connection refused", got.ErrorMessage())
	assert.False(t, got.NextRetryAt().IsZero(), "first failure should schedule a retry")
	assert.False(t, got.IsTerminal())
	taskRepo.AssertExpectations(t)
}

func TestTaskLifecycleRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	task := testPendingTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)

	publisher := new(mockEventPublisher)

	svc := newLifecycleForTest(taskRepo, publisher)
	_, err := svc.Complete(context.Background(), task.ID(), nil)

	var invalidErr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, domain.TaskStatusPending, task.Status(), "rejected transition must not mutate the task")
	taskRepo.AssertNotCalled(t, "UpdateTask", mock.Anything, mock.Anything)
	publisher.AssertNotCalled(t, "PublishDomainEvent", mock.Anything, mock.Anything)
}

func TestTaskLifecycleGetTaskError(t *testing.T) {
	t.Parallel()

	task := testPendingTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(nil, domain.ErrTaskNotFound)

	svc := newLifecycleForTest(taskRepo, new(mockEventPublisher))
	_, err := svc.Start(context.Background(), task.ID(), "")
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTaskLifecyclePersistFailurePropagates(t *testing.T) {
	t.Parallel()

	task := testPendingTask(t)
	storeErr := errors.New("version conflict")

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(storeErr)

	publisher := new(mockEventPublisher)

	svc := newLifecycleForTest(taskRepo, publisher)
	_, err := svc.Start(context.Background(), task.ID(), "")
	require.ErrorIs(t, err, storeErr)
	publisher.AssertNotCalled(t, "PublishDomainEvent", mock.Anything, mock.Anything)
}

func TestTaskLifecyclePublisherFailureDoesNotFailTransition(t *testing.T) {
	t.Parallel()

	task := testPendingTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

	publisher := new(mockEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc := newLifecycleForTest(taskRepo, publisher)
	got, err := svc.Start(context.Background(), task.ID(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, got.Status())
}

func TestTaskLifecycleSkipAndBlockRecordReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		run        func(svc *taskLifecycle, task *domain.Task) (*domain.Task, error)
		wantStatus domain.TaskStatus
	}{
		{
			name: "skip",
			run: func(svc *taskLifecycle, task *domain.Task) (*domain.Task, error) {
				return svc.Skip(context.Background(), task.ID(), "no subject data at location")
			},
			wantStatus: domain.TaskStatusSkipped,
		},
		{
			name: "block",
			run: func(svc *taskLifecycle, task *domain.Task) (*domain.Task, error) {
				return svc.Block(context.Background(), task.ID(), "no subject data at location")
			},
			wantStatus: domain.TaskStatusBlocked,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task := testPendingTask(t)

			taskRepo := new(mockTaskRepository)
			taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
			taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

			publisher := new(mockEventPublisher)
			publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

			svc := newLifecycleForTest(taskRepo, publisher)
			got, err := tt.run(svc, task)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got.Status())
			assert.Equal(t, "no subject data at location", got.StatusReason())
			assert.True(t, got.IsTerminal())
		})
	}
}

func TestTaskLifecycleVerifyRecordsVerifier(t *testing.T) {
	t.Parallel()

	task := testCompletedTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

	publisher := new(mockEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.AnythingOfType("fulfillment.TaskStatusChangedEvent")).Return(nil)
	publisher.On("PublishDomainEvent", mock.Anything, mock.AnythingOfType("fulfillment.TaskVerifiedEvent")).Return(nil)

	svc := newLifecycleForTest(taskRepo, publisher)
	got, err := svc.Verify(context.Background(), task.ID(), "dpo@corp.example", "spot-checked deletion logs")
	require.NoError(t, err)

	assert.Equal(t, "dpo@corp.example", got.VerifiedBy())
	assert.Equal(t, "spot-checked deletion logs", got.VerificationNotes())
	assert.False(t, got.VerifiedAt().IsZero())
	publisher.AssertExpectations(t)
}

func TestTaskLifecycleSerializesSameTask(t *testing.T) {
	t.Parallel()

	task := testPendingTask(t)

	taskRepo := new(mockTaskRepository)
	taskRepo.On("GetTask", mock.Anything, task.ID()).Return(task, nil)
	taskRepo.On("UpdateTask", mock.Anything, task).Return(nil)

	publisher := new(mockEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	svc := newLifecycleForTest(taskRepo, publisher)

	// Two racing starts: exactly one must win, the loser gets an invalid
	// transition instead of a double attempt increment.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Start(context.Background(), task.ID(), "")
			results <- err
		}()
	}

	var failures int
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				failures++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for concurrent transitions")
		}
	}

	assert.Equal(t, 1, failures, "exactly one of two racing starts should be rejected")
	assert.Equal(t, 1, task.AttemptCount())
}
