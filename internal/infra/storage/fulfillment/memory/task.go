// Package memory provides in-memory implementations of the fulfillment
// repositories for testing and development. They enforce the same optimistic
// locking contract as the Postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
)

var _ domain.TaskRepository = (*TaskStore)(nil)

// TaskStore is an in-memory task repository. Tasks are stored as detached
// snapshots so callers never share aggregate instances with the store.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

// CreateTask persists a new task's initial state.
func (s *TaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID()] = snapshotTask(task, task.Version())
	return nil
}

// GetTask retrieves a task by id.
func (s *TaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return snapshotTask(task, task.Version()), nil
}

// GetTaskByCorrelationID retrieves the unique task minted with the given
// correlation id.
func (s *TaskStore) GetTaskByCorrelationID(ctx context.Context, correlationID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.CorrelationID() == correlationID {
			return snapshotTask(task, task.Version()), nil
		}
	}
	return nil, domain.ErrNoTaskForCorrelationID
}

// UpdateTask persists changes to an existing task, guarded by the task's
// optimistic locking version.
func (s *TaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[task.ID()]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if current.Version() != task.Version() {
		return domain.ErrConcurrentModification
	}

	s.tasks[task.ID()] = snapshotTask(task, task.Version()+1)
	return nil
}

// ListTasksByRequest returns every task fanned out for a request, oldest
// first.
func (s *TaskStore) ListTasksByRequest(ctx context.Context, requestID uuid.UUID) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range s.tasks {
		if task.RequestID() == requestID {
			tasks = append(tasks, snapshotTask(task, task.Version()))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Timeline().CreatedAt().Before(tasks[j].Timeline().CreatedAt())
	})
	return tasks, nil
}

// FindTasksNeedingRetry returns failed tasks whose scheduled retry is due.
func (s *TaskStore) FindTasksNeedingRetry(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range s.tasks {
		if task.RetryDue(now) {
			tasks = append(tasks, snapshotTask(task, task.Version()))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].NextRetryAt().Before(tasks[j].NextRetryAt())
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// FindTasksAwaitingCallback returns tasks parked on a webhook callback.
func (s *TaskStore) FindTasksAwaitingCallback(ctx context.Context, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range s.tasks {
		if task.Status() == domain.TaskStatusAwaitingCallback {
			tasks = append(tasks, snapshotTask(task, task.Version()))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].LastAttemptAt().Before(tasks[j].LastAttemptAt())
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func snapshotTask(task *domain.Task, version int64) *domain.Task {
	return domain.ReconstructTask(
		task.ID(),
		task.RequestID(),
		task.LocationID(),
		task.TaskType(),
		task.Status(),
		task.StatusReason(),
		task.AssignedTo(),
		task.AttemptCount(),
		task.MaxAttempts(),
		task.LastAttemptAt(),
		task.NextRetryAt(),
		task.ErrorMessage(),
		copyResult(task.ExecutionResult()),
		task.VerifiedBy(),
		task.VerifiedAt(),
		task.VerificationNotes(),
		task.CorrelationID(),
		version,
		domain.ReconstructTimeline(
			task.Timeline().CreatedAt(),
			task.Timeline().StartedAt(),
			task.Timeline().CompletedAt(),
			task.Timeline().LastUpdate(),
		),
	)
}

func copyResult(result map[string]any) map[string]any {
	if result == nil {
		return nil
	}
	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = v
	}
	return out
}
