package proxy

import (
	"context"
	"time"
)

// watchRequest ties the descriptor's lifetime to the client's. One watcher
// runs per admitted descriptor, from admission until finalization. The
// transport context is the push notification for client disconnects; an
// optional per-request timeout sets the cancellation flag the same way.
// Cancellation is cooperative: the flag and the execution context only
// take effect at the worker's and session's checkpoints.
func (p *Proxy) watchRequest(transport context.Context, r *request) {
	var timeout <-chan time.Time
	if p.cfg.RequestTimeout > 0 {
		t := time.NewTimer(p.cfg.RequestTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-transport.Done():
		p.log.Info().Str("request_id", r.id).Msg("client disconnected, cancelling")
		r.markCancelled(cancelledError{reason: reasonDisconnect})
	case <-timeout:
		p.log.Warn().Str("request_id", r.id).Dur("timeout", p.cfg.RequestTimeout).Msg("request timed out, cancelling")
		r.markCancelled(cancelledError{reason: reasonTimeout})
	case <-r.done:
	}
}
