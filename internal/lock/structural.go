package lock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent shared holders of a StructuralLock.
const maxReaders = 1 << 30

// StructuralLock is the process-wide reader/writer lock held around edits
// that change module or function topology. Body edits hold it shared;
// structural edits hold it exclusive.
//
// Acquisition is FIFO: a waiting writer blocks readers that arrive after
// it, so writers cannot starve. Blocking calls honor ctx cancellation and
// never spin.
type StructuralLock struct {
	sem *semaphore.Weighted
}

// NewStructuralLock returns an unlocked StructuralLock.
func NewStructuralLock() *StructuralLock {
	return &StructuralLock{sem: semaphore.NewWeighted(maxReaders)}
}

// RLock acquires the lock shared.
func (l *StructuralLock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryRLock acquires the lock shared without blocking.
func (l *StructuralLock) TryRLock() bool {
	return l.sem.TryAcquire(1)
}

// RUnlock releases a shared hold.
func (l *StructuralLock) RUnlock() {
	l.sem.Release(1)
}

// Lock acquires the lock exclusive.
func (l *StructuralLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, maxReaders)
}

// TryLock acquires the lock exclusive without blocking.
func (l *StructuralLock) TryLock() bool {
	return l.sem.TryAcquire(maxReaders)
}

// Unlock releases an exclusive hold.
func (l *StructuralLock) Unlock() {
	l.sem.Release(maxReaders)
}

// Acquire takes the lock exclusive when exclusive is true and shared
// otherwise, and returns the matching release func.
func (l *StructuralLock) Acquire(ctx context.Context, exclusive bool) (func(), error) {
	if exclusive {
		if err := l.Lock(ctx); err != nil {
			return nil, err
		}
		return l.Unlock, nil
	}
	if err := l.RLock(ctx); err != nil {
		return nil, err
	}
	return l.RUnlock, nil
}
