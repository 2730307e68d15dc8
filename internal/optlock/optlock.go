// Package optlock provides a read/write lock with a versioned optimistic read path.
//
// Writers take an exclusive lock and bump a version counter on entry and
// exit, so the version is odd while a write is in flight. Readers run their
// critical section without locking and accept the result only if the version
// was even and unchanged across the section. After a bounded number of failed
// attempts the reader falls back to a shared lock, which guarantees progress
// under sustained write load.
//
// Optimistic sections must be free of side effects other than writes to
// variables they reset at the start of each attempt.
package optlock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultRetries is the number of optimistic attempts before falling back to a shared lock.
const DefaultRetries = 3

// Lock is a versioned optimistic read/write lock. The zero value is ready to use.
type Lock struct {
	mu      sync.RWMutex
	version atomic.Uint64

	optimisticHits atomic.Int64
	fallbacks      atomic.Int64
}

// Lock acquires the exclusive write lock.
func (l *Lock) Lock() {
	l.mu.Lock()
	l.version.Add(1)
}

// Unlock releases the exclusive write lock.
func (l *Lock) Unlock() {
	l.version.Add(1)
	l.mu.Unlock()
}

// Version returns the current version. It is odd while a writer holds the lock.
func (l *Lock) Version() uint64 {
	return l.version.Load()
}

// Read runs fn optimistically and retries until it observes a stable version.
// fn may be called more than once. Errors from an attempt invalidated by a
// concurrent writer are discarded and the attempt is retried.
func (l *Lock) Read(fn func() error) error {
	for attempt := 0; attempt < DefaultRetries; attempt++ {
		v := l.version.Load()
		if v&1 == 1 {
			runtime.Gosched()
			continue
		}

		err := fn()
		if l.version.Load() == v {
			l.optimisticHits.Add(1)
			return err
		}
	}

	l.fallbacks.Add(1)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn()
}

// Stats returns how many reads completed optimistically and how many fell back to locking.
func (l *Lock) Stats() (optimistic, fallbacks int64) {
	return l.optimisticHits.Load(), l.fallbacks.Load()
}

// RLock acquires the shared lock. Use it for scans whose callbacks must run exactly once.
func (l *Lock) RLock() {
	l.mu.RLock()
}

// RUnlock releases the shared lock.
func (l *Lock) RUnlock() {
	l.mu.RUnlock()
}
