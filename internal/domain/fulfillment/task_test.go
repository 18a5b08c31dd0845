package fulfillment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimeProvider lets tests pin the clock for deterministic backoff math.
type fakeTimeProvider struct{ now time.Time }

func (f *fakeTimeProvider) Now() time.Time { return f.now }

func newAutomatedLocation(t *testing.T, maxAttempts int, webhook bool) *Location {
	t.Helper()
	loc, err := NewLocation(
		"crm-db",
		SystemTypeDatabase,
		ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure, RequestTypeAccess},
		10,
		AutomatedConfig{
			Endpoint:    "https://crm.internal/privacy",
			Method:      "POST",
			MaxAttempts: maxAttempts,
			Webhook:     WebhookConfig{Enabled: webhook, ExpectedWithin: time.Hour},
		},
	)
	require.NoError(t, err)
	return loc
}

func newManualLocation(t *testing.T) *Location {
	t.Helper()
	loc, err := NewLocation(
		"paper-archive",
		SystemTypeManual,
		ExecutionTypeManual,
		[]RequestType{RequestTypeErasure},
		20,
		ManualConfig{Instructions: "shred the folder", Contact: "records@corp.example"},
	)
	require.NoError(t, err)
	return loc
}

func TestNewTask_InitialState(t *testing.T) {
	t.Parallel()

	requestID := uuid.New()

	automated := NewTask(requestID, newAutomatedLocation(t, 0, false), RequestTypeErasure)
	assert.Equal(t, TaskStatusPending, automated.Status())
	assert.Equal(t, DefaultMaxAttempts, automated.MaxAttempts())
	assert.NotEmpty(t, automated.CorrelationID())
	assert.Zero(t, automated.AttemptCount())

	manual := NewTask(requestID, newManualLocation(t), RequestTypeErasure)
	assert.Equal(t, TaskStatusManualAction, manual.Status())

	assert.NotEqual(t, automated.CorrelationID(), manual.CorrelationID())
}

func TestTask_StartIncrementsAttempts(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)

	require.NoError(t, task.Start(""))
	assert.Equal(t, TaskStatusInProgress, task.Status())
	assert.Equal(t, 1, task.AttemptCount())
	assert.False(t, task.LastAttemptAt().IsZero())
	assert.False(t, task.Timeline().StartedAt().IsZero())

	// Second start from in_progress is illegal.
	err := task.Start("")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, TaskStatusInProgress, invalid.CurrentStatus())
	assert.Equal(t, "start", invalid.Operation())
	assert.Equal(t, 1, task.AttemptCount())
}

func TestTask_StartManualRecordsAssignee(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newManualLocation(t), RequestTypeErasure)

	require.NoError(t, task.Start("casey"))
	assert.Equal(t, "casey", task.AssignedTo())
	assert.Equal(t, TaskStatusInProgress, task.Status())
}

func TestTask_CompleteMergesResult(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
	require.NoError(t, task.Start(""))

	require.NoError(t, task.Complete(map[string]any{"recordsAffected": 42}))
	assert.Equal(t, TaskStatusCompleted, task.Status())
	assert.Equal(t, 42, task.ExecutionResult()["recordsAffected"])
	assert.True(t, task.Timeline().IsCompleted())
	assert.True(t, task.IsTerminal())
}

func TestTask_FailSchedulesBackoff(t *testing.T) {
	t.Parallel()

	clock := &fakeTimeProvider{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure, WithTimeProvider(clock))

	// Attempt 1 fails: next retry in 1 minute.
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Fail("connection refused", true))
	assert.Equal(t, TaskStatusFailed, task.Status())
	assert.Equal(t, "connection refused", task.ErrorMessage())
	assert.Equal(t, clock.now.Add(time.Minute), task.NextRetryAt())
	assert.False(t, task.IsTerminal())

	// Attempt 2 fails: next retry in 2 minutes.
	require.NoError(t, task.Retry())
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Fail("connection refused", true))
	assert.Equal(t, clock.now.Add(2*time.Minute), task.NextRetryAt())

	// Attempt 3 fails: attempts exhausted, terminally failed.
	require.NoError(t, task.Retry())
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Fail("connection refused", true))
	assert.True(t, task.NextRetryAt().IsZero())
	assert.True(t, task.IsTerminal())
	assert.Equal(t, 3, task.AttemptCount())
}

func TestTask_FailWithoutRetry(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Fail("schema mismatch", false))

	assert.True(t, task.NextRetryAt().IsZero())
	assert.True(t, task.IsTerminal())
}

func TestTask_FailRequiresMessage(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
	require.NoError(t, task.Start(""))

	var validation *ValidationError
	require.ErrorAs(t, task.Fail("", true), &validation)
	assert.Equal(t, TaskStatusInProgress, task.Status())
}

func TestTask_RetryDue(t *testing.T) {
	t.Parallel()

	clock := &fakeTimeProvider{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure, WithTimeProvider(clock))
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Fail("boom", true))

	assert.False(t, task.RetryDue(clock.now.Add(30*time.Second)))
	assert.True(t, task.RetryDue(clock.now.Add(time.Minute)))

	require.NoError(t, task.Retry())
	assert.Equal(t, TaskStatusPending, task.Status())
	assert.True(t, task.NextRetryAt().IsZero())
}

func TestTask_OperatorRetryAfterExhaustion(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 1, false), RequestTypeErasure)
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Fail("boom", true))
	require.True(t, task.IsTerminal())

	// Explicit operator retry is unconditional.
	require.NoError(t, task.Retry())
	assert.Equal(t, TaskStatusPending, task.Status())
}

func TestTask_SkipAndBlock(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
	require.NoError(t, task.Skip("location does not hold data for this subject"))
	assert.Equal(t, TaskStatusSkipped, task.Status())
	assert.Equal(t, "location does not hold data for this subject", task.StatusReason())
	assert.True(t, task.IsTerminal())

	blocked := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
	require.NoError(t, blocked.Start(""))
	require.NoError(t, blocked.Block("missing credentials"))
	assert.Equal(t, TaskStatusBlocked, blocked.Status())
	assert.True(t, blocked.IsTerminal())
}

func TestTask_VerifyCompletedTask(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
	require.NoError(t, task.Start(""))
	require.NoError(t, task.Complete(nil))

	require.NoError(t, task.Verify("dpo@corp.example", "spot checked"))
	assert.Equal(t, TaskStatusCompleted, task.Status())
	assert.Equal(t, "dpo@corp.example", task.VerifiedBy())
	assert.False(t, task.VerifiedAt().IsZero())
	assert.Equal(t, "spot checked", task.VerificationNotes())
}

func TestTask_VerifyPromotesVerificationState(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newManualLocation(t), RequestTypeErasure)
	require.NoError(t, task.RequireVerification())
	assert.Equal(t, TaskStatusVerification, task.Status())

	require.NoError(t, task.Verify("dpo@corp.example", ""))
	assert.Equal(t, TaskStatusCompleted, task.Status())
}

func TestTask_AwaitCallback(t *testing.T) {
	t.Parallel()

	task := NewTask(uuid.New(), newAutomatedLocation(t, 3, true), RequestTypeErasure)
	require.NoError(t, task.Start(""))
	require.NoError(t, task.AwaitCallback())
	assert.Equal(t, TaskStatusAwaitingCallback, task.Status())

	require.NoError(t, task.Complete(map[string]any{"webhookReceived": true}))
	assert.Equal(t, TaskStatusCompleted, task.Status())
	assert.Equal(t, true, task.ExecutionResult()["webhookReceived"])
}

func TestTask_TerminalStatesRejectAllTransitions(t *testing.T) {
	t.Parallel()

	terminalTask := func(t *testing.T, finish func(*Task) error) *Task {
		task := NewTask(uuid.New(), newAutomatedLocation(t, 3, false), RequestTypeErasure)
		require.NoError(t, finish(task))
		require.True(t, task.IsTerminal())
		return task
	}

	finishers := map[string]func(*Task) error{
		"completed": func(task *Task) error {
			if err := task.Start(""); err != nil {
				return err
			}
			return task.Complete(nil)
		},
		"skipped": func(task *Task) error { return task.Skip("n/a") },
		"blocked": func(task *Task) error { return task.Block("n/a") },
		"failed exhausted": func(task *Task) error {
			if err := task.Start(""); err != nil {
				return err
			}
			return task.Fail("boom", false)
		},
	}

	for name, finish := range finishers {
		finish := finish
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			task := terminalTask(t, finish)
			statusBefore := task.Status()
			attemptsBefore := task.AttemptCount()

			transitions := []func() error{
				func() error { return task.Start("") },
				func() error { return task.Complete(map[string]any{"x": 1}) },
				func() error { return task.Fail("again", true) },
				func() error { return task.Skip("reason") },
				func() error { return task.Block("reason") },
				func() error { return task.AwaitCallback() },
				func() error { return task.RequireVerification() },
			}

			for _, fn := range transitions {
				err := fn()
				require.Error(t, err)
				var invalid *InvalidTransitionError
				assert.ErrorAs(t, err, &invalid)
			}

			assert.Equal(t, statusBefore, task.Status())
			assert.Equal(t, attemptsBefore, task.AttemptCount())
		})
	}
}

func TestRetryBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Minute, RetryBackoff(1))
	assert.Equal(t, 2*time.Minute, RetryBackoff(2))
	assert.Equal(t, 4*time.Minute, RetryBackoff(3))
	assert.Equal(t, 8*time.Minute, RetryBackoff(4))
	assert.Equal(t, time.Minute, RetryBackoff(0))
}
