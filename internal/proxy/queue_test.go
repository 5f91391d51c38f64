package proxy

import (
	"context"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := newRequestQueue(8)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(testRequest(id, "m", false)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		r, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if r.id != want {
			t.Fatalf("dequeue order: got %s want %s", r.id, want)
		}
	}
}

func TestQueueFullRejectsImmediately(t *testing.T) {
	q := newRequestQueue(2)
	if err := q.Enqueue(testRequest("a", "m", false)); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := q.Enqueue(testRequest("b", "m", false)); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	err := q.Enqueue(testRequest("c", "m", false))
	if !IsQueueFull(err) {
		t.Fatalf("expected queue-full error, got %v", err)
	}
	// The rejection must not have displaced queued work.
	if q.Len() != 2 {
		t.Fatalf("queue len after rejection: got %d want 2", q.Len())
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := newRequestQueue(2)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(testRequest("late", "m", false))
	}()
	r, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if r.id != "late" {
		t.Fatalf("got %s want late", r.id)
	}
}

func TestQueueDequeueContextCancel(t *testing.T) {
	q := newRequestQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected context error from dequeue")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := newRequestQueue(4)
	q.Enqueue(testRequest("a", "m", false))
	q.Enqueue(testRequest("b", "m", false))

	drained := q.Close()
	if len(drained) != 2 {
		t.Fatalf("drained: got %d want 2", len(drained))
	}
	if _, err := q.Dequeue(context.Background()); !IsQueueClosed(err) {
		t.Fatalf("expected queue-closed error, got %v", err)
	}
	if err := q.Enqueue(testRequest("c", "m", false)); !IsQueueClosed(err) {
		t.Fatalf("expected queue-closed on enqueue, got %v", err)
	}
	// Second close is a no-op.
	if extra := q.Close(); extra != nil {
		t.Fatalf("second close drained %d items", len(extra))
	}
}

func TestQueueSnapshotPreservesOrder(t *testing.T) {
	q := newRequestQueue(4)
	q.Enqueue(testRequest("a", "m", false))
	q.Enqueue(testRequest("b", "m", true))

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].id != "a" || snap[1].id != "b" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if q.Len() != 2 {
		t.Fatalf("snapshot must not consume items, len=%d", q.Len())
	}
}
