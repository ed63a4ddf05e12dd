package governor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// locationLocks hands out one mutex per target location. Acquisition is
// bounded so a stuck writer cannot wedge the caller forever.
type locationLocks struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLocationLocks(timeout time.Duration) *locationLocks {
	return &locationLocks{timeout: timeout, slots: make(map[string]chan struct{})}
}

func (l *locationLocks) slot(location string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[location]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[location] = ch
	}
	return ch
}

// acquire blocks until location is free, ctx is done, or the timeout passes.
// The returned func releases the lock.
func (l *locationLocks) acquire(ctx context.Context, location string) (func(), error) {
	ch := l.slot(location)
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lock on %s: %w", location, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("timed out after %s waiting for lock on %s", l.timeout, location)
	}
}
