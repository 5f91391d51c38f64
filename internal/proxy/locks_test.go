package proxy

import (
	"context"
	"testing"
	"time"
)

func TestLockerExclusive(t *testing.T) {
	l := newLocker()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if l.TryAcquire() {
		t.Fatal("second acquire succeeded while held")
	}
	if !l.Held() {
		t.Fatal("Held() false while held")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("acquire failed after release")
	}
	l.Release()
	if l.Held() {
		t.Fatal("Held() true after release")
	}
}

func TestLockerAcquireRespectsCancellation(t *testing.T) {
	l := newLocker()
	if !l.TryAcquire() {
		t.Fatal("initial acquire failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("blocked acquire returned nil after cancellation")
	}
	// The holder can still release and hand over.
	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLockerAcquireCancelledContext(t *testing.T) {
	l := newLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("acquire with cancelled context returned nil")
	}
	// The slot must not have been consumed by the failed acquire.
	if !l.TryAcquire() {
		t.Fatal("lock unavailable after failed acquire")
	}
}
