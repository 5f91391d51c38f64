package proxy

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// SwitchState is the model switch coordinator's observable state.
type SwitchState string

const (
	SwitchIdle     SwitchState = "idle"
	SwitchRequired SwitchState = "switch_required"
	Switching      SwitchState = "switching"
	Switched       SwitchState = "switched"
	SwitchFailed   SwitchState = "switch_failed"
)

// switchCoordinator decides whether the live session must change model
// before a descriptor can execute, and drives the change under the
// model-switching lock. Descriptors are evaluated strictly in dequeue
// order; there is no batching or reordering to minimize switches.
type switchCoordinator struct {
	lock    *locker // model-switching, top of the hierarchy
	session Session
	sess    *sessionState
	params  *ParamCache
	pub     EventPublisher
	log     zerolog.Logger

	mu    sync.Mutex
	state SwitchState
}

func newSwitchCoordinator(session Session, sess *sessionState, params *ParamCache, pub EventPublisher, log zerolog.Logger) *switchCoordinator {
	return &switchCoordinator{
		lock:    newLocker(),
		session: session,
		sess:    sess,
		params:  params,
		pub:     pub,
		log:     log,
		state:   SwitchIdle,
	}
}

func (c *switchCoordinator) State() SwitchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *switchCoordinator) setState(s SwitchState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Ensure makes the session's active model match the descriptor's request.
// Requesting the already-active model is a no-op success and never
// touches the session. On failure the active model is set to unknown so
// the next descriptor re-evaluates from scratch, and a retryable switch
// failure is returned.
func (c *switchCoordinator) Ensure(ctx context.Context, r *request) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return err
	}
	defer c.lock.Release()

	active := c.sess.ActiveModel()
	if active != "" && active == r.model {
		c.setState(SwitchIdle)
		return nil
	}

	c.setState(SwitchRequired)
	c.log.Info().Str("request_id", r.id).Str("from", active).Str("to", r.model).Msg("model switch required")
	c.setState(Switching)

	if err := c.session.ApplyModel(ctx, r.model); err != nil {
		c.sess.SetActiveModel("")
		c.setState(SwitchFailed)
		switchesTotal.WithLabelValues("failed").Inc()
		c.pub.Publish(Event{Name: EventModelSwitch, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"ok": false}})
		c.log.Warn().Str("request_id", r.id).Str("model", r.model).Err(err).Msg("model switch failed")
		return switchError{model: r.model, cause: err}
	}
	c.sess.SetActiveModel(r.model)

	// Restore the last-applied parameters for the new model before
	// declaring the switch done. A miss is fine: the worker applies the
	// request's parameters before execution anyway.
	if cached, ok := c.params.Get(r.model); ok {
		if err := c.session.ApplyParameters(ctx, r.model, cached); err != nil {
			c.params.Drop(r.model)
			c.log.Warn().Str("request_id", r.id).Str("model", r.model).Err(err).Msg("cached parameter restore failed, dropped entry")
		}
	}

	c.setState(Switched)
	switchesTotal.WithLabelValues("ok").Inc()
	c.pub.Publish(Event{Name: EventModelSwitch, RequestID: r.id, ModelID: r.model, Fields: map[string]any{"ok": true}})
	c.log.Info().Str("request_id", r.id).Str("model", r.model).Msg("model switch complete")
	return nil
}
