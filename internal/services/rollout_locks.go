package services

import "sync"

// RolloutLocks serializes all mutations of a rollout: operator requests and
// the background tick acquire the same per-rollout lock, so an auto-advance
// and a cancel can never both apply.
type RolloutLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRolloutLocks creates a new RolloutLocks
func NewRolloutLocks() *RolloutLocks {
	return &RolloutLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for a rollout id and returns the unlock function
func (l *RolloutLocks) Lock(rolloutID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[rolloutID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[rolloutID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
