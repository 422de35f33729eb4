// internal/services/script_locks.go
package services

import (
	"context"
	"sync"
	"time"
)

const (
	maxIdleScriptLocks = 200
	scriptLockIdleTTL  = 30 * time.Minute
)

// ScriptLocks serializes work on the same script id. Entries are reference
// counted and idle ones are pruned once the table grows past its limit.
type ScriptLocks struct {
	mu    sync.Mutex
	locks map[string]*scriptLock
	now   func() time.Time
}

type scriptLock struct {
	sem      chan struct{}
	refs     int
	lastUsed time.Time
}

// NewScriptLocks creates an empty lock table.
func NewScriptLocks() *ScriptLocks {
	return &ScriptLocks{
		locks: make(map[string]*scriptLock),
		now:   time.Now,
	}
}

// WithLock runs fn while holding the lock for scriptID. It gives up with
// ctx.Err() if ctx ends while waiting.
func (l *ScriptLocks) WithLock(ctx context.Context, scriptID string, fn func() error) error {
	entry := l.acquire(scriptID)
	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(entry)
		return ctx.Err()
	}
	defer func() {
		<-entry.sem
		l.release(entry)
	}()
	return fn()
}

// Len returns the number of tracked script ids.
func (l *ScriptLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *ScriptLocks) acquire(scriptID string) *scriptLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.locks) > maxIdleScriptLocks {
		l.pruneLocked()
	}
	entry, ok := l.locks[scriptID]
	if !ok {
		entry = &scriptLock{sem: make(chan struct{}, 1)}
		l.locks[scriptID] = entry
	}
	entry.refs++
	entry.lastUsed = l.now()
	return entry
}

func (l *ScriptLocks) release(entry *scriptLock) {
	l.mu.Lock()
	entry.refs--
	entry.lastUsed = l.now()
	l.mu.Unlock()
}

// pruneLocked drops entries nobody holds or waits on that have been idle past the TTL.
func (l *ScriptLocks) pruneLocked() {
	now := l.now()
	for id, entry := range l.locks {
		if entry.refs == 0 && now.Sub(entry.lastUsed) > scriptLockIdleTTL {
			delete(l.locks, id)
		}
	}
}
