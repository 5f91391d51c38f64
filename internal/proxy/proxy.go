package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studioproxy/pkg/types"
)

// Default applied when Config.QueueSize is unset.
const defaultQueueSize = 32

// Config encapsulates all tunables for Proxy construction.
type Config struct {
	// QueueSize bounds the admission queue; submissions beyond it fail
	// immediately with a queue-full error.
	QueueSize int
	// RequestTimeout cancels a descriptor that has not finalized in time.
	// Zero disables the timeout.
	RequestTimeout time.Duration
	// StreamGap is the minimum pause between back-to-back streaming
	// requests, giving the session UI time to settle. Zero disables it.
	StreamGap time.Duration
	// DefaultModel is used when a request omits the model.
	DefaultModel string
}

// sessionState is the logical condition of the single automation
// resource: the active model (empty = unknown) and readiness. It is
// mutated only by the worker loop and the switch coordinator. Mutual
// exclusion of execution is enforced by the processing lock, not here.
type sessionState struct {
	mu     sync.Mutex
	active string
	ready  bool
}

func (s *sessionState) ActiveModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *sessionState) SetActiveModel(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

func (s *sessionState) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *sessionState) SetReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

// Proxy is the request admission and serialization core. It owns the FIFO
// queue, the lock hierarchy, the switch coordinator, the parameter cache
// and the single worker loop driving the automation session.
type Proxy struct {
	cfg     Config
	log     zerolog.Logger
	session Session
	pub     EventPublisher

	queue      *requestQueue
	processing *locker
	params     *ParamCache
	coord      *switchCoordinator
	sess       *sessionState

	mu      sync.Mutex
	pending map[string]*request
	closed  bool

	// streaming pacing bookkeeping, worker-only
	lastStream   bool
	lastDoneTime time.Time

	startTime time.Time
}

// Option customizes Proxy construction.
type Option func(*Proxy)

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Proxy) { p.log = l }
}

// WithEventPublisher installs a lifecycle event publisher.
func WithEventPublisher(pub EventPublisher) Option {
	return func(p *Proxy) { p.pub = pub }
}

// New constructs a Proxy around the given automation session.
func New(session Session, cfg Config, opts ...Option) *Proxy {
	if cfg.StreamGap < 0 {
		cfg.StreamGap = 0
	}
	p := &Proxy{
		cfg:        cfg,
		log:        zerolog.Nop(),
		session:    session,
		pub:        noopPublisher{},
		queue:      newRequestQueue(cfg.QueueSize),
		processing: newLocker(),
		params:     NewParamCache(),
		sess:       &sessionState{},
		pending:    make(map[string]*request),
		startTime:  time.Now(),
	}
	for _, o := range opts {
		o(p)
	}
	p.coord = newSwitchCoordinator(session, p.sess, p.params, p.pub, p.log)
	p.sess.SetReady(session.Ready())
	return p
}

// Submit admits a request into the queue and returns its handle. ctx is
// the transport context: its cancellation is treated as a client
// disconnect for the whole descriptor lifetime.
func (p *Proxy) Submit(ctx context.Context, req types.ChatCompletionRequest) (*Pending, error) {
	if req.Model == "" {
		req.Model = p.cfg.DefaultModel
	}
	r := newRequest(req, "req-"+uuid.NewString()[:8])

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		rejectionsTotal.WithLabelValues("closed").Inc()
		return nil, queueClosedError{}
	}
	p.pending[r.id] = r
	p.mu.Unlock()

	if err := p.queue.Enqueue(r); err != nil {
		p.forget(r.id)
		if IsQueueFull(err) {
			rejectionsTotal.WithLabelValues("full").Inc()
		} else {
			rejectionsTotal.WithLabelValues("closed").Inc()
		}
		return nil, err
	}
	admissionsTotal.Inc()
	queueDepth.Set(float64(p.queue.Len()))
	p.pub.Publish(Event{Name: EventEnqueued, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"stream": r.stream}})
	p.log.Info().Str("request_id", r.id).Str("model", r.model).Bool("stream", r.stream).Int("queue_len", p.queue.Len()).Msg("request enqueued")

	go p.watchRequest(ctx, r)
	return &Pending{r: r}, nil
}

// Await returns the handle for a still-pending request id.
func (p *Proxy) Await(id string) (*Pending, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.pending[id]
	if !ok {
		return nil, false
	}
	return &Pending{r: r}, true
}

// Cancel is the transport-facing cancellation hook. It reports whether the
// id referred to a pending request.
func (p *Proxy) Cancel(id, reason string) bool {
	h, ok := p.Await(id)
	if !ok {
		return false
	}
	h.Cancel(reason)
	return true
}

func (p *Proxy) forget(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Models lists the models selectable in the session. Listing drives the
// live session, so it takes the processing lock like any other session
// interaction and waits for an in-flight completion to finish.
func (p *Proxy) Models(ctx context.Context) ([]types.Model, error) {
	if err := p.processing.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.processing.Release()
	return p.session.ListModels(ctx)
}

// Ready reports whether the proxy can serve requests.
func (p *Proxy) Ready() bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	return !closed && p.session.Ready()
}

// QueueSnapshot reports the pending queue in FIFO order.
func (p *Proxy) QueueSnapshot() types.QueueResponse {
	items := p.queue.Snapshot()
	now := time.Now()
	out := types.QueueResponse{
		Length:   len(items),
		Capacity: p.queue.Cap(),
		Items:    make([]types.QueuedRequest, 0, len(items)),
	}
	for i, r := range items {
		out.Items = append(out.Items, types.QueuedRequest{
			ID:             r.id,
			Model:          r.model,
			Position:       i,
			Stream:         r.stream,
			WaitingSeconds: now.Sub(r.enqueuedAt).Seconds(),
		})
	}
	return out
}

// Status reports the proxy's observable condition.
func (p *Proxy) Status() types.StatusResponse {
	now := time.Now()
	return types.StatusResponse{
		ActiveModel:    p.sess.ActiveModel(),
		Ready:          p.Ready(),
		SwitchState:    string(p.coord.State()),
		QueueLen:       p.queue.Len(),
		QueueCap:       p.queue.Cap(),
		InFlight:       p.processing.Held(),
		UptimeSeconds:  int64(now.Sub(p.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

// ResetSession is the explicit, audited recovery operation for fatal
// conditions: it clears the active model and the parameter cache so every
// subsequent descriptor re-evaluates from scratch. It takes the
// model-switching and processing locks in hierarchy order so no switch or
// execution is in flight while state is cleared.
func (p *Proxy) ResetSession(ctx context.Context, reason string) error {
	if err := p.coord.lock.Acquire(ctx); err != nil {
		return err
	}
	defer p.coord.lock.Release()
	if err := p.processing.Acquire(ctx); err != nil {
		return err
	}
	defer p.processing.Release()

	p.sess.SetActiveModel("")
	p.params.Reset()
	sessionResetsTotal.Inc()
	p.pub.Publish(Event{Name: EventSessionReset, Fields: map[string]any{"reason": reason}})
	p.log.Warn().Str("reason", reason).Msg("session state reset")
	return nil
}

// Close shuts the admission queue down. Descriptors still queued are
// drained and finalized as cancelled, never silently dropped. The worker
// loop exits after finishing any in-flight descriptor.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	drained := p.queue.Close()
	for _, r := range drained {
		r.markCancelled(cancelledError{reason: reasonShutdown})
		p.finalizeCancelled(r)
	}
	queueDepth.Set(0)
	p.log.Info().Int("drained", len(drained)).Msg("proxy closed")
}
