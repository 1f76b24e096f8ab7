package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// batchLocks serializes mutations per batch. Entries are reference counted
// and dropped once no caller holds or waits on them.
type batchLocks struct {
	mu      sync.Mutex
	locks   map[string]*batchLock
	timeout time.Duration
}

type batchLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newBatchLocks(timeout time.Duration) *batchLocks {
	return &batchLocks{
		locks:   make(map[string]*batchLock),
		timeout: timeout,
	}
}

// acquire blocks until the batch is free or ctx ends. The returned func
// releases the lock and must be called exactly once.
func (l *batchLocks) acquire(ctx context.Context, batchID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[batchID]
	if !ok {
		lock = &batchLock{sem: semaphore.NewWeighted(1)}
		l.locks[batchID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := lock.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(batchID, lock)
		return nil, fmt.Errorf("batch %s is busy: %w", batchID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.sem.Release(1)
			l.unref(batchID, lock)
		})
	}, nil
}

func (l *batchLocks) unref(batchID string, lock *batchLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, batchID)
	}
}

func (l *batchLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
