package proxy

import (
	"context"
	"testing"
	"time"
)

func nextEvent(t *testing.T, h *Pending) (StreamEvent, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, ok := h.NextEvent(ctx)
	if ctx.Err() != nil {
		t.Fatal("timed out waiting for stream event")
	}
	return ev, ok
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	f := newFakeSession("one", "two", "three")
	p := startProxy(t, f, Config{QueueSize: 8})

	h, err := p.Submit(context.Background(), chatReq("alpha", true))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var got []string
	for {
		ev, ok := nextEvent(t, h)
		if !ok {
			t.Fatal("channel closed without terminal event")
		}
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		if ev.Done {
			break
		}
		got = append(got, ev.Delta)
	}
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("chunks: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: got %q want %q", i, got[i], want[i])
		}
	}

	// After the terminal event the channel closes.
	if _, ok := nextEvent(t, h); ok {
		t.Fatal("expected closed channel after terminal event")
	}
}

// A client that disconnects after two of five chunks gets exactly those
// two plus a terminal cancellation marker, and the session is free for
// the next request.
func TestStreamClientDisconnectMidStream(t *testing.T) {
	f := newFakeSession("c1", "c2", "c3", "c4", "c5")
	f.step = make(chan struct{})
	p := startProxy(t, f, Config{QueueSize: 8})

	transport, disconnect := context.WithCancel(context.Background())
	h, err := p.Submit(transport, chatReq("alpha", true))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 0; i < 2; i++ {
		f.step <- struct{}{}
		ev, ok := nextEvent(t, h)
		if !ok || ev.Err != nil || ev.Done {
			t.Fatalf("expected delta %d, got %+v ok=%v", i, ev, ok)
		}
	}
	disconnect()

	ev, ok := nextEvent(t, h)
	if !ok {
		t.Fatal("expected terminal event before close")
	}
	if !IsCancelled(ev.Err) {
		t.Fatalf("expected cancellation marker, got %+v", ev)
	}
	if werr := waitErr(t, h); !IsCancelled(werr) {
		t.Fatalf("wait: expected cancellation, got %v", werr)
	}

	// The processing lock must be free again.
	f.mu.Lock()
	f.step = nil
	f.mu.Unlock()
	h2, err := p.Submit(context.Background(), chatReq("alpha", false))
	if err != nil {
		t.Fatalf("submit follow-up: %v", err)
	}
	waitOK(t, h2)
}

// A client that stalls until the event buffer is full and only drains
// after cancellation still sees a terminal marker after the buffered
// deltas, never a bare channel close.
func TestStreamTerminalSurvivesFullBuffer(t *testing.T) {
	chunks := make([]string, streamBuffer+4)
	for i := range chunks {
		chunks[i] = "c"
	}
	f := newFakeSession(chunks...)
	p := startProxy(t, f, Config{QueueSize: 4})

	h, err := p.Submit(context.Background(), chatReq("alpha", true))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Let the producer fill the buffer and block on the next send.
	deadline := time.Now().Add(2 * time.Second)
	for len(h.Events()) < streamBuffer {
		if time.Now().After(deadline) {
			t.Fatalf("buffer never filled, len=%d", len(h.Events()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Cancel("client gave up")
	if werr := waitErr(t, h); !IsCancelled(werr) {
		t.Fatalf("expected cancellation, got %v", werr)
	}

	var deltas int
	var terminal *StreamEvent
	for {
		ev, ok := nextEvent(t, h)
		if !ok {
			break
		}
		if ev.Err != nil || ev.Done {
			terminal = &ev
			break
		}
		deltas++
	}
	if deltas != streamBuffer {
		t.Fatalf("buffered deltas: got %d want %d", deltas, streamBuffer)
	}
	if terminal == nil {
		t.Fatal("stream closed without a terminal event")
	}
	if !IsCancelled(terminal.Err) {
		t.Fatalf("terminal event: %+v", terminal)
	}
	// The owed terminal is delivered exactly once.
	if _, ok := nextEvent(t, h); ok {
		t.Fatal("expected closed stream after terminal event")
	}
}

func TestStreamInterruptedAfterPartialOutput(t *testing.T) {
	f := newFakeSession("c1", "c2", "c3")
	f.failAt = 2
	f.failErr = errForTest
	p := startProxy(t, f, Config{QueueSize: 8})

	h, err := p.Submit(context.Background(), chatReq("alpha", true))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var deltas int
	for {
		ev, ok := nextEvent(t, h)
		if !ok {
			t.Fatal("channel closed without terminal event")
		}
		if ev.Err != nil {
			if !IsStreamInterrupted(ev.Err) {
				t.Fatalf("expected interruption, got %v", ev.Err)
			}
			break
		}
		if ev.Done {
			t.Fatal("unexpected normal end")
		}
		deltas++
	}
	if deltas != 2 {
		t.Fatalf("delivered before failure: got %d want 2", deltas)
	}
	if werr := waitErr(t, h); !IsStreamInterrupted(werr) {
		t.Fatalf("wait: expected interruption, got %v", werr)
	}
}

func TestStreamFailureBeforeAnyOutput(t *testing.T) {
	f := newFakeSession("c1")
	f.failAt = 0
	f.failErr = errForTest
	p := startProxy(t, f, Config{QueueSize: 8})

	h, err := p.Submit(context.Background(), chatReq("alpha", true))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev, ok := nextEvent(t, h)
	if !ok {
		t.Fatal("expected terminal event")
	}
	if !IsExecutionFailed(ev.Err) || IsStreamInterrupted(ev.Err) {
		t.Fatalf("expected plain execution failure, got %v", ev.Err)
	}
}
