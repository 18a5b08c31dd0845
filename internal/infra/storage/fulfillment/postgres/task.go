// Package postgres implements the fulfillment repositories on PostgreSQL
// using pgx. Aggregates are flattened into rows on write and rebuilt through
// the domain's Reconstruct constructors on read.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

// Ensure taskStore implements domain.TaskRepository at compile time.
var _ domain.TaskRepository = (*taskStore)(nil)

// taskStore implements domain.TaskRepository using Postgres. It provides
// persistent storage and retrieval of task state, enabling recovery of the
// retry and callback sweeps across restarts.
type taskStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewTaskStore creates a TaskRepository backed by PostgreSQL.
func NewTaskStore(pool *pgxpool.Pool, tracer trace.Tracer) *taskStore {
	return &taskStore{pool: pool, tracer: tracer}
}

const taskColumns = `id, request_id, location_id, task_type, status, status_reason, assigned_to,
attempt_count, max_attempts, last_attempt_at, next_retry_at, error_message, execution_result,
verified_by, verified_at, verification_notes, correlation_id, version,
created_at, started_at, completed_at, last_update`

// CreateTask persists a new task's initial state.
func (s *taskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("task_id", task.ID().String()),
		attribute.String("request_id", task.RequestID().String()),
		attribute.String("status", task.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_task", dbAttrs, func(ctx context.Context) error {
		resultJSON, err := marshalExecutionResult(task.ExecutionResult())
		if err != nil {
			return err
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
			task.ID(),
			task.RequestID(),
			task.LocationID(),
			task.TaskType().String(),
			task.Status().String(),
			task.StatusReason(),
			task.AssignedTo(),
			task.AttemptCount(),
			task.MaxAttempts(),
			nullableTime(task.LastAttemptAt()),
			nullableTime(task.NextRetryAt()),
			task.ErrorMessage(),
			resultJSON,
			task.VerifiedBy(),
			nullableTime(task.VerifiedAt()),
			task.VerificationNotes(),
			task.CorrelationID(),
			task.Version(),
			task.Timeline().CreatedAt(),
			nullableTime(task.Timeline().StartedAt()),
			nullableTime(task.Timeline().CompletedAt()),
			task.Timeline().LastUpdate(),
		)
		if err != nil {
			return fmt.Errorf("create task insert error: %w", err)
		}
		return nil
	})
}

// GetTask retrieves a task's current state from the database.
func (s *taskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("task_id", taskID.String()))

	var task *domain.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_task", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
		t, err := scanTask(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrTaskNotFound
			}
			return fmt.Errorf("get task query error: %w", err)
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTaskByCorrelationID retrieves the unique task minted with the given
// correlation id.
func (s *taskStore) GetTaskByCorrelationID(ctx context.Context, correlationID string) (*domain.Task, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("correlation_id", correlationID))

	var task *domain.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_task_by_correlation_id", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE correlation_id = $1`, correlationID)
		t, err := scanTask(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNoTaskForCorrelationID
			}
			return fmt.Errorf("get task by correlation id query error: %w", err)
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTask persists changes to an existing task, guarded by the task's
// optimistic locking version. A lost race surfaces as
// ErrConcurrentModification so the caller can re-load and retry.
func (s *taskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("task_id", task.ID().String()),
		attribute.String("status", task.Status().String()),
		attribute.Int64("version", task.Version()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_task", dbAttrs, func(ctx context.Context) error {
		resultJSON, err := marshalExecutionResult(task.ExecutionResult())
		if err != nil {
			return err
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE tasks SET
				status = $1,
				status_reason = $2,
				assigned_to = $3,
				attempt_count = $4,
				last_attempt_at = $5,
				next_retry_at = $6,
				error_message = $7,
				execution_result = $8,
				verified_by = $9,
				verified_at = $10,
				verification_notes = $11,
				started_at = $12,
				completed_at = $13,
				last_update = $14,
				version = version + 1
			WHERE id = $15 AND version = $16`,
			task.Status().String(),
			task.StatusReason(),
			task.AssignedTo(),
			task.AttemptCount(),
			nullableTime(task.LastAttemptAt()),
			nullableTime(task.NextRetryAt()),
			task.ErrorMessage(),
			resultJSON,
			task.VerifiedBy(),
			nullableTime(task.VerifiedAt()),
			task.VerificationNotes(),
			nullableTime(task.Timeline().StartedAt()),
			nullableTime(task.Timeline().CompletedAt()),
			task.Timeline().LastUpdate(),
			task.ID(),
			task.Version(),
		)
		if err != nil {
			return fmt.Errorf("update task error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConcurrentModification
		}
		return nil
	})
}

// ListTasksByRequest returns every task fanned out for a request, oldest
// first so the fan-out's priority order is preserved.
func (s *taskStore) ListTasksByRequest(ctx context.Context, requestID uuid.UUID) ([]*domain.Task, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("request_id", requestID.String()))

	var tasks []*domain.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_tasks_by_request", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE request_id = $1
			ORDER BY created_at, id`, requestID)
		if err != nil {
			return fmt.Errorf("list tasks by request query error: %w", err)
		}
		defer rows.Close()

		tasks, err = collectTasks(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindTasksNeedingRetry returns failed tasks whose scheduled retry is due.
func (s *taskStore) FindTasksNeedingRetry(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("now", now.Format(time.RFC3339)),
		attribute.Int("limit", limit),
	)

	var tasks []*domain.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_tasks_needing_retry", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2`, now, limit)
		if err != nil {
			return fmt.Errorf("find tasks needing retry query error: %w", err)
		}
		defer rows.Close()

		tasks, err = collectTasks(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindTasksAwaitingCallback returns tasks parked on a webhook callback.
func (s *taskStore) FindTasksAwaitingCallback(ctx context.Context, limit int) ([]*domain.Task, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int("limit", limit))

	var tasks []*domain.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.find_tasks_awaiting_callback", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE status = 'awaiting_callback'
			ORDER BY last_attempt_at
			LIMIT $1`, limit)
		if err != nil {
			return fmt.Errorf("find tasks awaiting callback query error: %w", err)
		}
		defer rows.Close()

		tasks, err = collectTasks(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		id, requestID, locationID           uuid.UUID
		taskType, status                    string
		statusReason, assignedTo            string
		attemptCount, maxAttempts           int
		lastAttemptAt, nextRetryAt          pgtype.Timestamptz
		errorMessage                        string
		resultJSON                          []byte
		verifiedBy                          string
		verifiedAt                          pgtype.Timestamptz
		verificationNotes                   string
		correlationID                       string
		version                             int64
		createdAt, lastUpdate               time.Time
		startedAt, completedAt              pgtype.Timestamptz
	)

	if err := row.Scan(
		&id, &requestID, &locationID, &taskType, &status, &statusReason, &assignedTo,
		&attemptCount, &maxAttempts, &lastAttemptAt, &nextRetryAt, &errorMessage, &resultJSON,
		&verifiedBy, &verifiedAt, &verificationNotes, &correlationID, &version,
		&createdAt, &startedAt, &completedAt, &lastUpdate,
	); err != nil {
		return nil, err
	}

	var executionResult map[string]any
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &executionResult); err != nil {
			return nil, fmt.Errorf("decode execution result: %w", err)
		}
	}

	timeline := domain.ReconstructTimeline(createdAt, startedAt.Time, completedAt.Time, lastUpdate)

	return domain.ReconstructTask(
		id,
		requestID,
		locationID,
		domain.RequestType(taskType),
		domain.TaskStatus(status),
		statusReason,
		assignedTo,
		attemptCount,
		maxAttempts,
		lastAttemptAt.Time,
		nextRetryAt.Time,
		errorMessage,
		executionResult,
		verifiedBy,
		verifiedAt.Time,
		verificationNotes,
		correlationID,
		version,
		timeline,
	), nil
}

func collectTasks(rows pgx.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

func marshalExecutionResult(result map[string]any) ([]byte, error) {
	if len(result) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode execution result: %w", err)
	}
	return b, nil
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
