package fulfillment

import (
	"sync"

	"github.com/google/uuid"
)

// taskLocks serializes transitions on the same task. Entries are reference
// counted so the map does not grow with the task population.
type taskLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*taskLockEntry
}

type taskLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[uuid.UUID]*taskLockEntry)}
}

// Lock acquires the lock for the given task id, creating it on first use.
func (l *taskLocks) Lock(taskID uuid.UUID) {
	l.mu.Lock()
	entry, ok := l.locks[taskID]
	if !ok {
		entry = new(taskLockEntry)
		l.locks[taskID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the lock for the given task id and drops the entry once no
// other goroutine is waiting on it.
func (l *taskLocks) Unlock(taskID uuid.UUID) {
	l.mu.Lock()
	entry := l.locks[taskID]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, taskID)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
