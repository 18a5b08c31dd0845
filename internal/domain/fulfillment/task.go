package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

// Task tracks one location's execution for one data-subject request. It owns
// the full transition lifecycle: attempt accounting, retry scheduling,
// verification gating, and webhook correlation state. All status writes go
// through its transition methods; repositories only persist the outcome.
type Task struct {
	id         uuid.UUID
	requestID  uuid.UUID
	locationID uuid.UUID
	taskType   RequestType

	status       TaskStatus
	statusReason string
	assignedTo   string

	attemptCount  int
	maxAttempts   int
	lastAttemptAt time.Time
	nextRetryAt   time.Time
	errorMessage  string

	executionResult map[string]any

	verifiedBy        string
	verifiedAt        time.Time
	verificationNotes string

	// correlationID matches asynchronous webhook callbacks back to this task.
	// Minted once at creation, immutable afterwards.
	correlationID string

	version  int64
	timeline *Timeline
}

// TaskOption defines functional options for configuring a new Task.
type TaskOption func(*Task)

// WithTimeProvider sets a custom time provider for the task.
func WithTimeProvider(tp TimeProvider) TaskOption {
	return func(t *Task) { t.timeline = NewTimeline(tp) }
}

// NewTask creates a Task for executing the given request type at a location.
// Manual locations start in manual_action, everything else in pending. The
// attempt cap is inherited from the location's action config.
func NewTask(requestID uuid.UUID, location *Location, taskType RequestType, opts ...TaskOption) *Task {
	status := TaskStatusPending
	if location.ExecutionType() == ExecutionTypeManual {
		status = TaskStatusManualAction
	}

	task := &Task{
		id:            uuid.New(),
		requestID:     requestID,
		locationID:    location.ID(),
		taskType:      taskType,
		status:        status,
		maxAttempts:   location.MaxAttempts(),
		correlationID: uuid.NewString(),
		timeline:      NewTimeline(new(realTimeProvider)),
	}

	for _, opt := range opts {
		opt(task)
	}

	return task
}

// ReconstructTask creates a Task instance from persisted data without
// enforcing creation-time invariants. This should only be used by
// repositories when reconstructing from storage.
func ReconstructTask(
	id uuid.UUID,
	requestID uuid.UUID,
	locationID uuid.UUID,
	taskType RequestType,
	status TaskStatus,
	statusReason string,
	assignedTo string,
	attemptCount int,
	maxAttempts int,
	lastAttemptAt time.Time,
	nextRetryAt time.Time,
	errorMessage string,
	executionResult map[string]any,
	verifiedBy string,
	verifiedAt time.Time,
	verificationNotes string,
	correlationID string,
	version int64,
	timeline *Timeline,
) *Task {
	return &Task{
		id:                id,
		requestID:         requestID,
		locationID:        locationID,
		taskType:          taskType,
		status:            status,
		statusReason:      statusReason,
		assignedTo:        assignedTo,
		attemptCount:      attemptCount,
		maxAttempts:       maxAttempts,
		lastAttemptAt:     lastAttemptAt,
		nextRetryAt:       nextRetryAt,
		errorMessage:      errorMessage,
		executionResult:   executionResult,
		verifiedBy:        verifiedBy,
		verifiedAt:        verifiedAt,
		verificationNotes: verificationNotes,
		correlationID:     correlationID,
		version:           version,
		timeline:          timeline,
	}
}

// ID returns the unique identifier for this task.
func (t *Task) ID() uuid.UUID { return t.id }

// RequestID returns the parent data-subject request identifier.
func (t *Task) RequestID() uuid.UUID { return t.requestID }

// LocationID returns the location this task executes against.
func (t *Task) LocationID() uuid.UUID { return t.locationID }

// TaskType returns the request type this task fulfills.
func (t *Task) TaskType() RequestType { return t.taskType }

// Status returns the current execution status.
func (t *Task) Status() TaskStatus { return t.status }

// StatusReason returns the operator-supplied reason for a skip or block.
func (t *Task) StatusReason() string { return t.statusReason }

// AssignedTo returns the operator assigned to a manual task, if any.
func (t *Task) AssignedTo() string { return t.assignedTo }

// AttemptCount returns how many times execution has been started.
func (t *Task) AttemptCount() int { return t.attemptCount }

// MaxAttempts returns the attempt cap for this task.
func (t *Task) MaxAttempts() int { return t.maxAttempts }

// LastAttemptAt returns when execution last started.
func (t *Task) LastAttemptAt() time.Time { return t.lastAttemptAt }

// NextRetryAt returns when a failed task becomes due for retry. The zero time
// means no retry is scheduled.
func (t *Task) NextRetryAt() time.Time { return t.nextRetryAt }

// ErrorMessage returns the most recent failure message.
func (t *Task) ErrorMessage() string { return t.errorMessage }

// ExecutionResult returns the accumulated execution result payload.
func (t *Task) ExecutionResult() map[string]any { return t.executionResult }

// VerifiedBy returns who verified the completed task.
func (t *Task) VerifiedBy() string { return t.verifiedBy }

// VerifiedAt returns when the task was verified.
func (t *Task) VerifiedAt() time.Time { return t.verifiedAt }

// VerificationNotes returns the notes recorded at verification.
func (t *Task) VerificationNotes() string { return t.verificationNotes }

// CorrelationID returns the unique token used to match webhook callbacks.
func (t *Task) CorrelationID() string { return t.correlationID }

// Version returns the optimistic locking version.
func (t *Task) Version() int64 { return t.version }

// Timeline returns the task's timestamps.
func (t *Task) Timeline() *Timeline { return t.timeline }

// IsTerminal reports whether no further transitions are possible: completed,
// blocked, skipped, or failed with retries exhausted or none scheduled.
func (t *Task) IsTerminal() bool {
	if t.status.isTerminal() {
		return true
	}
	return t.status == TaskStatusFailed && t.nextRetryAt.IsZero()
}

// transition validates and applies a status change. Nothing is mutated when
// the transition is illegal, so a failed call leaves the task untouched.
func (t *Task) transition(op string, target TaskStatus) error {
	if t.IsTerminal() || !t.status.isValidTransition(target) {
		return NewInvalidTransitionError(t.id, t.status, op)
	}
	t.status = target
	t.timeline.UpdateLastUpdate()
	return nil
}

// Start begins an execution attempt. Legal from pending or manual_action.
// The first start stamps startedAt; every start increments the attempt count
// and records lastAttemptAt.
func (t *Task) Start(assignee string) error {
	if err := t.transition("start", TaskStatusInProgress); err != nil {
		return err
	}

	if assignee != "" {
		t.assignedTo = assignee
	}
	t.attemptCount++
	t.lastAttemptAt = t.timeline.timeProvider.Now()
	t.timeline.MarkStarted()
	return nil
}

// Complete finishes the task successfully, merging the given result into the
// execution result. Legal from in_progress, manual_action, awaiting_callback,
// or verification.
func (t *Task) Complete(result map[string]any) error {
	if err := t.transition("complete", TaskStatusCompleted); err != nil {
		return err
	}

	t.mergeResult(result)
	t.timeline.MarkCompleted()
	return nil
}

// Fail records an execution failure. Legal from in_progress or
// awaiting_callback. With scheduleRetry and attempts remaining the task stays
// failed but retriable, with nextRetryAt set per exponential backoff;
// otherwise the failure is terminal.
func (t *Task) Fail(errorMessage string, scheduleRetry bool) error {
	if t.status != TaskStatusInProgress && t.status != TaskStatusAwaitingCallback {
		return NewInvalidTransitionError(t.id, t.status, "fail")
	}
	if errorMessage == "" {
		return NewValidationError("errorMessage", "must not be empty")
	}

	if err := t.transition("fail", TaskStatusFailed); err != nil {
		return err
	}

	t.errorMessage = errorMessage
	if scheduleRetry && t.attemptCount < t.maxAttempts {
		t.nextRetryAt = t.timeline.timeProvider.Now().Add(RetryBackoff(t.attemptCount))
	} else {
		t.nextRetryAt = time.Time{}
		t.timeline.MarkCompleted()
	}
	return nil
}

// Retry moves a retriable failed task back to pending and clears its retry
// schedule. The caller decides due-ness: the sweep only retries tasks whose
// nextRetryAt has passed, while an operator retry is unconditional.
func (t *Task) Retry() error {
	if t.status != TaskStatusFailed {
		return NewInvalidTransitionError(t.id, t.status, "retry")
	}

	t.status = TaskStatusPending
	t.nextRetryAt = time.Time{}
	t.timeline.UpdateLastUpdate()
	return nil
}

// RetryDue reports whether a retry is scheduled and due at the given time.
func (t *Task) RetryDue(now time.Time) bool {
	return t.status == TaskStatusFailed && !t.nextRetryAt.IsZero() && !t.nextRetryAt.After(now)
}

// Skip retires the task because its location turned out not to apply to this
// request. Legal from any non-terminal state.
func (t *Task) Skip(reason string) error {
	if reason == "" {
		return NewValidationError("reason", "must not be empty")
	}
	if err := t.transition("skip", TaskStatusSkipped); err != nil {
		return err
	}

	t.statusReason = reason
	t.nextRetryAt = time.Time{}
	t.timeline.MarkCompleted()
	return nil
}

// Block parks the task for operator intervention, e.g. a dependency or
// configuration problem. Legal from any non-terminal state, never
// auto-retried.
func (t *Task) Block(reason string) error {
	if reason == "" {
		return NewValidationError("reason", "must not be empty")
	}
	if err := t.transition("block", TaskStatusBlocked); err != nil {
		return err
	}

	t.statusReason = reason
	t.nextRetryAt = time.Time{}
	t.timeline.MarkCompleted()
	return nil
}

// Verify re-confirms a completed task's outcome. Legal from completed or
// verification; a task sitting in verification is promoted to completed.
func (t *Task) Verify(verifiedBy, notes string) error {
	if t.status != TaskStatusCompleted && t.status != TaskStatusVerification {
		return NewInvalidTransitionError(t.id, t.status, "verify")
	}
	if verifiedBy == "" {
		return NewValidationError("verifiedBy", "must not be empty")
	}

	if t.status == TaskStatusVerification {
		if err := t.transition("verify", TaskStatusCompleted); err != nil {
			return err
		}
		t.timeline.MarkCompleted()
	}

	t.verifiedBy = verifiedBy
	t.verifiedAt = t.timeline.timeProvider.Now()
	t.verificationNotes = notes
	t.timeline.UpdateLastUpdate()
	return nil
}

// AwaitCallback parks an in-progress task until its webhook callback arrives.
// Set by the executor when the location's webhook is enabled; the correlator
// is the only path expected to resolve it.
func (t *Task) AwaitCallback() error {
	return t.transition("await_callback", TaskStatusAwaitingCallback)
}

// RequireVerification routes a task through operator confirmation before it
// counts as completed. Used for semi-automated locations whose outcome needs
// a human check.
func (t *Task) RequireVerification() error {
	if t.status != TaskStatusInProgress && t.status != TaskStatusManualAction {
		return NewInvalidTransitionError(t.id, t.status, "require_verification")
	}
	return t.transition("require_verification", TaskStatusVerification)
}

func (t *Task) mergeResult(result map[string]any) {
	if len(result) == 0 {
		return
	}
	if t.executionResult == nil {
		t.executionResult = make(map[string]any, len(result))
	}
	for k, v := range result {
		t.executionResult[k] = v
	}
}

// RetryBackoff computes the delay before the next retry after the given
// attempt: 1 minute after the first attempt, doubling per attempt.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Minute << (attempt - 1)
}
