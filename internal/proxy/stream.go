package proxy

import (
	"errors"
	"io"
)

// streamBuffer bounds how many undelivered chunks may sit between the
// automation step and a slow client. Once full, chunk consumption pauses
// (backpressure) instead of buffering further.
const streamBuffer = 16

// StreamEvent is one element of a streamed response. Exactly one terminal
// event (Done or Err) ends every stream, after which the channel closes.
type StreamEvent struct {
	// Delta is an incremental text fragment.
	Delta string
	// Done marks a normal end of stream.
	Done bool
	// Err marks an abnormal end: cancellation, interruption after partial
	// output, or execution failure before any output.
	Err error
}

// dispatcher forwards the automation step's chunk sequence into the
// descriptor's event channel. It runs on the worker goroutine while the
// processing lock is held, so pausing on a full buffer also pauses the
// automation step's chunk production.
type dispatcher struct {
	r         *request
	delivered int
}

func newDispatcher(r *request) *dispatcher {
	return &dispatcher{r: r}
}

// run consumes the stream until it ends or the descriptor is cancelled,
// emits the terminal marker, and returns the delivered chunk count and
// the terminal error (nil for a normal end).
func (d *dispatcher) run(stream Stream) (int, error) {
	ctx := d.r.ctx
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				d.terminal(StreamEvent{Done: true})
				return d.delivered, nil
			case d.r.isCancelled() || ctx.Err() != nil:
				cause := d.r.cancelCause()
				d.terminal(StreamEvent{Err: cause})
				return d.delivered, cause
			case d.delivered > 0:
				ierr := streamInterruptedError{delivered: d.delivered, cause: err}
				d.terminal(StreamEvent{Err: ierr})
				return d.delivered, ierr
			default:
				eerr := executionError{cause: err}
				d.terminal(StreamEvent{Err: eerr})
				return 0, eerr
			}
		}
		if chunk == "" {
			continue
		}
		select {
		case d.r.events <- StreamEvent{Delta: chunk}:
			d.delivered++
			streamChunksTotal.Inc()
		case <-ctx.Done():
			cause := d.r.cancelCause()
			d.terminal(StreamEvent{Err: cause})
			return d.delivered, cause
		}
	}
}

func (d *dispatcher) terminal(ev StreamEvent) {
	d.r.emitTerminal(ev)
}
