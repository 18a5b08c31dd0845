package fulfillment

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Timeline tracks temporal aspects of a fulfillment task.
type Timeline struct {
	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	lastUpdate   time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	now := timeProvider.Now()
	return &Timeline{
		createdAt:    now,
		lastUpdate:   now,
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline creates a Timeline from persisted data. This should only
// be used by repositories when reconstructing from storage.
func ReconstructTimeline(createdAt, startedAt, completedAt, lastUpdate time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		startedAt:    startedAt,
		completedAt:  completedAt,
		lastUpdate:   lastUpdate,
		timeProvider: new(realTimeProvider),
	}
}

// CreatedAt returns the time the task was created.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// StartedAt returns the time the task first started executing.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// CompletedAt returns the time the task completed.
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// LastUpdate returns the time the task was last updated.
func (t *Timeline) LastUpdate() time.Time { return t.lastUpdate }

// MarkStarted records the start time. Only the first call has an effect so
// retries preserve the original start.
func (t *Timeline) MarkStarted() {
	if t.startedAt.IsZero() {
		t.startedAt = t.timeProvider.Now()
	}
	t.UpdateLastUpdate()
}

// MarkCompleted records completion time.
func (t *Timeline) MarkCompleted() {
	t.completedAt = t.timeProvider.Now()
	t.UpdateLastUpdate()
}

// UpdateLastUpdate updates the last update timestamp.
func (t *Timeline) UpdateLastUpdate() {
	t.lastUpdate = t.timeProvider.Now()
}

// IsCompleted checks if the timeline has been marked as completed.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }
