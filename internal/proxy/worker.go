package proxy

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"studioproxy/internal/usage"
	"studioproxy/pkg/types"
)

// Run is the single worker loop: it dequeues one descriptor at a time and
// drives it through switch, execution and finalization. One descriptor's
// failure never halts the loop. Run returns when the queue is closed or
// ctx is done.
func (p *Proxy) Run(ctx context.Context) {
	p.log.Info().Msg("worker loop started")
	for {
		r, err := p.queue.Dequeue(ctx)
		if err != nil {
			if IsQueueClosed(err) {
				p.log.Info().Msg("queue closed, worker loop exiting")
				return
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		queueDepth.Set(float64(p.queue.Len()))
		p.process(r)
	}
}

// process runs one dequeued descriptor to completion.
func (p *Proxy) process(r *request) {
	p.pub.Publish(Event{Name: EventDequeued, RequestID: r.id, ModelID: r.model})
	p.log.Info().Str("request_id", r.id).Str("model", r.model).Bool("stream", r.stream).Msg("request dequeued")

	// Cancelled while queued: finalize without touching the session.
	if r.isCancelled() {
		p.finalizeCancelled(r)
		return
	}

	p.streamGapDelay(r)

	// Model switch under the model-switching lock, retried once for the
	// same descriptor before surfacing the failure.
	err := p.coord.Ensure(r.ctx, r)
	if IsSwitchFailed(err) && !r.switchRetried {
		r.switchRetried = true
		p.log.Info().Str("request_id", r.id).Str("model", r.model).Msg("retrying model switch")
		err = p.coord.Ensure(r.ctx, r)
	}
	if err != nil {
		if r.isCancelled() {
			p.finalizeCancelled(r)
			return
		}
		p.finalizeErr(r, err)
		return
	}

	// Processing lock: the sole serialization point for the session.
	if err := p.processing.Acquire(r.ctx); err != nil {
		p.finalizeCancelled(r)
		return
	}
	held := true
	defer func() {
		if held {
			p.processing.Release()
		}
	}()

	if r.isCancelled() {
		p.finalizeCancelled(r)
		return
	}

	if err := p.ensureParameters(r); err != nil {
		if r.isCancelled() {
			p.finalizeCancelled(r)
			return
		}
		p.finalizeErr(r, executionError{cause: err})
		return
	}

	stream, err := p.session.RunCompletion(r.ctx, CompletionJob{
		RequestID: r.id,
		Model:     r.model,
		Messages:  r.messages,
		Params:    r.params,
		Stream:    r.stream,
	})
	if err != nil {
		if r.isCancelled() {
			p.finalizeCancelled(r)
			return
		}
		p.finalizeErr(r, executionError{cause: err})
		return
	}

	if r.stream {
		delivered, terr := newDispatcher(r).run(stream)
		// Chunk production is over (or aborted); release the lock so the
		// next descriptor can execute while the client drains what is
		// still buffered.
		p.processing.Release()
		held = false
		p.noteDone(true)
		p.finalizeStream(r, delivered, terr)
		return
	}

	content, rerr := drainStream(r.ctx, stream)
	p.processing.Release()
	held = false
	p.noteDone(false)
	if rerr != nil {
		if r.isCancelled() {
			p.finalizeCancelled(r)
			return
		}
		p.finalizeErr(r, executionError{cause: rerr})
		return
	}
	p.finalizeOK(r, p.buildResponse(r, content))
}

// ensureParameters makes the session's generation parameters match the
// descriptor's before execution. Runs under the processing lock; the
// cache read takes only the parameter-cache lock, and the cache is
// written only after the session confirms the apply.
func (p *Proxy) ensureParameters(r *request) error {
	if cached, ok := p.params.Get(r.model); ok && cached.Equal(r.params) {
		return nil
	}
	if err := p.session.ApplyParameters(r.ctx, r.model, r.params); err != nil {
		return err
	}
	p.params.Put(r.model, r.params)
	return nil
}

// streamGapDelay pauses between back-to-back streaming requests.
func (p *Proxy) streamGapDelay(r *request) {
	if p.cfg.StreamGap <= 0 || !r.stream || !p.lastStream {
		return
	}
	elapsed := time.Since(p.lastDoneTime)
	if elapsed >= p.cfg.StreamGap {
		return
	}
	wait := p.cfg.StreamGap - elapsed
	p.log.Debug().Str("request_id", r.id).Dur("wait", wait).Msg("pacing sequential streaming request")
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-r.ctx.Done():
	}
}

// noteDone records pacing bookkeeping. Worker goroutine only.
func (p *Proxy) noteDone(stream bool) {
	p.lastStream = stream
	p.lastDoneTime = time.Now()
}

func (p *Proxy) buildResponse(r *request, content string) *types.ChatCompletionResponse {
	return &types.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString()[:12],
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   r.model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: usage.Count(r.messages, content),
	}
}

// drainStream collects a whole completion from the chunk sequence.
func drainStream(ctx context.Context, stream Stream) (string, error) {
	var b strings.Builder
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return "", err
		}
		b.WriteString(chunk)
	}
}

func (p *Proxy) finalizeOK(r *request, res *types.ChatCompletionResponse) {
	r.finalize(res, nil)
	requestsTotal.WithLabelValues("ok").Inc()
	p.pub.Publish(Event{Name: EventDone, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"outcome": "ok"}})
	p.forget(r.id)
	p.log.Info().Str("request_id", r.id).Msg("request complete")
}

func (p *Proxy) finalizeErr(r *request, err error) {
	r.emitTerminal(StreamEvent{Err: err})
	r.finalize(nil, err)
	requestsTotal.WithLabelValues(outcomeOf(err)).Inc()
	p.pub.Publish(Event{Name: EventDone, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"outcome": outcomeOf(err)}})
	p.forget(r.id)
	p.log.Warn().Str("request_id", r.id).Err(err).Msg("request failed")
}

func (p *Proxy) finalizeCancelled(r *request) {
	err := r.cancelCause()
	r.emitTerminal(StreamEvent{Err: err})
	r.finalize(nil, err)
	requestsTotal.WithLabelValues("cancelled").Inc()
	p.pub.Publish(Event{Name: EventDone, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"outcome": "cancelled"}})
	p.forget(r.id)
	p.log.Info().Str("request_id", r.id).Err(err).Msg("request cancelled")
}

// finalizeStream records the terminal state of a streamed descriptor. The
// dispatcher already emitted the terminal marker.
func (p *Proxy) finalizeStream(r *request, delivered int, terr error) {
	r.finalize(nil, terr)
	requestsTotal.WithLabelValues(outcomeOf(terr)).Inc()
	p.pub.Publish(Event{Name: EventDone, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"outcome": outcomeOf(terr), "chunks": delivered}})
	p.forget(r.id)
	ev := p.log.Info()
	if terr != nil && !IsCancelled(terr) {
		ev = p.log.Warn()
	}
	ev.Str("request_id", r.id).Int("chunks", delivered).Err(terr).Msg("stream finished")
}
