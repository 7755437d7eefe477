/*
Package locker provides named locks so that work on one document is serialized
while work on different documents proceeds in parallel.

Lock waits for the named lock until it is acquired or the context is done.
Lock references are cleaned up on Unlock once nothing else waits for them.
*/
package locker

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSuchLock is returned when unlocking a name that is not locked.
var ErrNoSuchLock = errors.New("no such lock")

// Locker holds one lock per name.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockCtr
}

// lockCtr is a single named lock. The buffered channel holds a token while
// the lock is held.
type lockCtr struct {
	ch chan struct{}
	// waiters counts callers holding or waiting for the lock. Guarded by
	// Locker.mu.
	waiters int
}

func New() *Locker {
	return &Locker{locks: make(map[string]*lockCtr)}
}

// Lock acquires the lock called name, waiting until ctx is done.
func (l *Locker) Lock(ctx context.Context, name string) error {
	l.mu.Lock()
	nameLock, exists := l.locks[name]
	if !exists {
		nameLock = &lockCtr{ch: make(chan struct{}, 1)}
		l.locks[name] = nameLock
	}
	nameLock.waiters++
	l.mu.Unlock()

	select {
	case nameLock.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(name, nameLock)
		return ctx.Err()
	}
}

// TryLock acquires the lock called name if it is free.
func (l *Locker) TryLock(name string) bool {
	l.mu.Lock()
	nameLock, exists := l.locks[name]
	if !exists {
		nameLock = &lockCtr{ch: make(chan struct{}, 1)}
		l.locks[name] = nameLock
	}
	nameLock.waiters++
	l.mu.Unlock()

	select {
	case nameLock.ch <- struct{}{}:
		return true
	default:
		l.release(name, nameLock)
		return false
	}
}

// Unlock releases the lock called name.
func (l *Locker) Unlock(name string) error {
	l.mu.Lock()
	nameLock, exists := l.locks[name]
	l.mu.Unlock()
	if !exists {
		return ErrNoSuchLock
	}

	select {
	case <-nameLock.ch:
	default:
		return ErrNoSuchLock
	}
	l.release(name, nameLock)
	return nil
}

func (l *Locker) release(name string, nameLock *lockCtr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nameLock.waiters--
	if nameLock.waiters <= 0 {
		delete(l.locks, name)
	}
}
