package indexer

import (
	"errors"
	"sync/atomic"
)

// ErrIndexingInProgress is returned when a run is requested while another
// run holds the index lock
var ErrIndexingInProgress = errors.New("indexing already in progress")

// IndexLock provides non-blocking lock semantics using atomic operations.
// The holder records which source it is indexing.
type IndexLock struct {
	state  atomic.Int32 // 0 = unlocked, 1 = locked
	source atomic.Pointer[string]
}

// TryAcquire attempts to acquire the lock for source without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire(source string) bool {
	if !l.state.CompareAndSwap(0, 1) {
		return false
	}
	l.source.Store(&source)
	return true
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.source.Store(nil)
	l.state.Store(0)
}

// Holder returns the source being indexed, if any
func (l *IndexLock) Holder() (string, bool) {
	s := l.source.Load()
	if s == nil {
		return "", false
	}
	return *s, true
}
