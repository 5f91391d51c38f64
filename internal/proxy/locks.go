package proxy

import "context"

// The proxy serializes work with three independent exclusive locks:
//
//	model-switching -> processing -> parameter-cache
//
// When more than one is needed in a single operation they must be acquired
// in that order, never the reverse. The processing lock is the sole
// serialization point for interaction with the automation session; the
// parameter-cache lock (inside ParamCache) is always a leaf. Any path that
// would need the reverse order must release and reacquire instead of
// nesting.

// locker is a context-aware exclusive lock built on a one-slot channel,
// so a blocked acquire can be abandoned on cancellation.
type locker struct {
	slot chan struct{}
}

func newLocker() *locker {
	return &locker{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *locker) Acquire(ctx context.Context) error {
	// Respect an already-cancelled context before racing for the slot.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires the lock without blocking.
func (l *locker) TryAcquire() bool {
	select {
	case l.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release unlocks. Must only be called by the current holder.
func (l *locker) Release() {
	<-l.slot
}

// Held reports whether some goroutine currently holds the lock.
// Inherently racy; used for status reporting only.
func (l *locker) Held() bool {
	return len(l.slot) == 1
}
