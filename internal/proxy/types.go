package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"studioproxy/pkg/types"
)

// request is the queued descriptor for one admitted client request. The
// requested model and messages are immutable after admission; only the
// cancellation flag and runtime status change. A descriptor is owned by
// the queue until dequeued, by the worker while executing, and is
// finalized exactly once.
type request struct {
	id         string
	model      string
	messages   []types.Message
	params     types.GenParams
	stream     bool
	enqueuedAt time.Time

	// ctx is the execution context cancelled when the descriptor is
	// cancelled; the automation step observes it at its checkpoints.
	ctx       context.Context
	cancelCtx context.CancelFunc

	cancelled atomic.Bool
	cancelMu  sync.Mutex
	cause     error

	// switchRetried marks that the single automatic switch retry was spent.
	switchRetried bool

	// events carries streamed output; nil for non-streaming descriptors.
	events     chan StreamEvent
	eventsOnce sync.Once
	// terminal holds the stream's terminal event; termOwed is set when the
	// buffer was full at emission time and the consumer still has to be
	// handed the terminal after draining.
	terminal StreamEvent
	termOwed atomic.Bool

	finalizeOnce sync.Once
	done         chan struct{}
	result       *types.ChatCompletionResponse
	err          error
}

func newRequest(req types.ChatCompletionRequest, id string) *request {
	ctx, cancel := context.WithCancel(context.Background())
	r := &request{
		id:         id,
		model:      req.Model,
		messages:   req.Messages,
		params:     req.Params(),
		stream:     req.Stream,
		enqueuedAt: time.Now(),
		ctx:        ctx,
		cancelCtx:  cancel,
		done:       make(chan struct{}),
	}
	if req.Stream {
		r.events = make(chan StreamEvent, streamBuffer)
	}
	return r
}

// markCancelled sets the cancellation flag and cancels the execution
// context so in-flight work aborts at its next cooperative checkpoint.
// Only the first cause wins.
func (r *request) markCancelled(cause error) {
	if !r.cancelled.CompareAndSwap(false, true) {
		return
	}
	r.cancelMu.Lock()
	r.cause = cause
	r.cancelMu.Unlock()
	r.cancelCtx()
}

func (r *request) isCancelled() bool { return r.cancelled.Load() }

// cancelCause returns the recorded cancellation cause, defaulting to a
// disconnect when the flag was set without one.
func (r *request) cancelCause() error {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cause != nil {
		return r.cause
	}
	return cancelledError{reason: reasonDisconnect}
}

// emitTerminal records the terminal stream marker and closes the event
// channel, at most once. If a stalled client has the buffer full, the
// marker cannot ride the channel; it is kept on the descriptor and
// NextEvent hands it over after the buffered deltas drain, so every
// stream ends with exactly one terminal event. No-op for non-streaming
// descriptors.
func (r *request) emitTerminal(ev StreamEvent) {
	if r.events == nil {
		return
	}
	r.eventsOnce.Do(func() {
		r.terminal = ev
		select {
		case r.events <- ev:
		default:
			r.termOwed.Store(true)
		}
		close(r.events)
	})
}

// finalize records the outcome and releases waiters. Subsequent calls are
// no-ops; a descriptor is never reused.
func (r *request) finalize(res *types.ChatCompletionResponse, err error) {
	r.finalizeOnce.Do(func() {
		r.result = res
		r.err = err
		r.cancelCtx()
		close(r.done)
	})
}

// Pending is the caller-side handle for a submitted request.
type Pending struct {
	r *request
}

// ID returns the request identifier.
func (p *Pending) ID() string { return p.r.id }

// Streaming reports whether the request asked for incremental delivery.
func (p *Pending) Streaming() bool { return p.r.stream }

// Model returns the resolved target model (defaults already applied).
func (p *Pending) Model() string { return p.r.model }

// Events returns the raw event channel for streaming requests. The
// channel is closed after the stream ends; prefer NextEvent, which also
// delivers a terminal event that could not be buffered. Nil for
// non-streaming requests.
func (p *Pending) Events() <-chan StreamEvent { return p.r.events }

// NextEvent receives the next stream event, blocking until one arrives,
// the channel closes, or ctx is done. The terminal event (Done or Err)
// is always delivered, even when the buffer was full when the producer
// emitted it. ok is false when no further event will arrive.
func (p *Pending) NextEvent(ctx context.Context) (StreamEvent, bool) {
	if p.r.events == nil {
		return StreamEvent{}, false
	}
	select {
	case ev, ok := <-p.r.events:
		if !ok && p.r.termOwed.CompareAndSwap(true, false) {
			return p.r.terminal, true
		}
		return ev, ok
	case <-ctx.Done():
		return StreamEvent{}, false
	}
}

// Wait blocks until the request is finalized or ctx is done and returns
// the whole-completion outcome. For streaming requests the result is nil
// and the error reflects the terminal stream state.
func (p *Pending) Wait(ctx context.Context) (*types.ChatCompletionResponse, error) {
	select {
	case <-p.r.done:
		return p.r.result, p.r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel is the transport-side cancellation hook. reason is recorded as
// the cancellation cause.
func (p *Pending) Cancel(reason string) {
	if reason == "" {
		reason = reasonDisconnect
	}
	p.r.markCancelled(cancelledError{reason: reason})
}
