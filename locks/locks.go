// Package locks defines the two lock capabilities the file system relies on: a
// short-held mutual exclusion lock for metadata, and a long-held sleep lock
// that a goroutine may keep across device I/O.
package locks

import (
	"sync"
)

// Mutex protects small pieces of metadata. Holders must not block on I/O or
// on a [SleepLock] while holding it.
type Mutex interface {
	Lock()
	Unlock()
}

// SleepLock is an exclusive lock that can be held for a long time. Waiters
// block until it's released.
type SleepLock interface {
	Acquire()
	Release()
	// Holding reports whether the lock is currently held. The lock has no
	// notion of an owning goroutine, so this is only a protocol check.
	Holding() bool
}

// NewMutex returns the default [Mutex] implementation.
func NewMutex() Mutex {
	return &sync.Mutex{}
}

type condSleepLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked bool
}

// NewSleepLock returns an unlocked [SleepLock].
func NewSleepLock() SleepLock {
	lock := &condSleepLock{}
	lock.cond = sync.NewCond(&lock.mu)
	return lock
}

func (l *condSleepLock) Acquire() {
	l.mu.Lock()
	for l.locked {
		l.cond.Wait()
	}
	l.locked = true
	l.mu.Unlock()
}

// Release unlocks the lock and wakes one waiter. Releasing an unlocked lock
// panics, like [sync.Mutex.Unlock].
func (l *condSleepLock) Release() {
	l.mu.Lock()
	if !l.locked {
		l.mu.Unlock()
		panic("locks: release of unlocked sleep lock")
	}
	l.locked = false
	l.mu.Unlock()
	l.cond.Signal()
}

func (l *condSleepLock) Holding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
