package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/complykit/dsr-engine/internal/domain/events"
	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
)

// mockTaskRepository helps test service interactions with task persistence.
type mockTaskRepository struct{ mock.Mock }

func (m *mockTaskRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockTaskRepository) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, taskID)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskRepository) GetTaskByCorrelationID(ctx context.Context, correlationID string) (*domain.Task, error) {
	args := m.Called(ctx, correlationID)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskRepository) UpdateTask(ctx context.Context, task *domain.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockTaskRepository) ListTasksByRequest(ctx context.Context, requestID uuid.UUID) ([]*domain.Task, error) {
	args := m.Called(ctx, requestID)
	if tasks := args.Get(0); tasks != nil {
		return tasks.([]*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskRepository) FindTasksNeedingRetry(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	args := m.Called(ctx, now, limit)
	if tasks := args.Get(0); tasks != nil {
		return tasks.([]*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskRepository) FindTasksAwaitingCallback(ctx context.Context, limit int) ([]*domain.Task, error) {
	args := m.Called(ctx, limit)
	if tasks := args.Get(0); tasks != nil {
		return tasks.([]*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockLocationRepository helps test service interactions with the location
// registry.
type mockLocationRepository struct{ mock.Mock }

func (m *mockLocationRepository) GetLocation(ctx context.Context, locationID uuid.UUID) (*domain.Location, error) {
	args := m.Called(ctx, locationID)
	if loc := args.Get(0); loc != nil {
		return loc.(*domain.Location), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLocationRepository) ListActiveForRequestType(ctx context.Context, rt domain.RequestType) ([]*domain.Location, error) {
	args := m.Called(ctx, rt)
	if locs := args.Get(0); locs != nil {
		return locs.([]*domain.Location), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockEventPublisher captures activity events recorded by the services.
type mockEventPublisher struct{ mock.Mock }

func (m *mockEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	return m.Called(ctx, event).Error(0)
}

// mockTaskLifecycle stands in for the lifecycle service when testing the
// correlator and sweeper.
type mockTaskLifecycle struct{ mock.Mock }

func (m *mockTaskLifecycle) Start(ctx context.Context, taskID uuid.UUID, assignee string) (*domain.Task, error) {
	args := m.Called(ctx, taskID, assignee)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) Complete(ctx context.Context, taskID uuid.UUID, result map[string]any) (*domain.Task, error) {
	args := m.Called(ctx, taskID, result)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string, scheduleRetry bool) (*domain.Task, error) {
	args := m.Called(ctx, taskID, errorMessage, scheduleRetry)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) Retry(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, taskID)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) Skip(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	args := m.Called(ctx, taskID, reason)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) Block(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	args := m.Called(ctx, taskID, reason)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) Verify(ctx context.Context, taskID uuid.UUID, verifiedBy, notes string) (*domain.Task, error) {
	args := m.Called(ctx, taskID, verifiedBy, notes)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) AwaitCallback(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, taskID)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTaskLifecycle) RequireVerification(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, taskID)
	if task := args.Get(0); task != nil {
		return task.(*domain.Task), args.Error(1)
	}
	return nil, args.Error(1)
}
