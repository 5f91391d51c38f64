package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studioproxy/internal/proxy"
	"studioproxy/pkg/types"
)

// Service defines the methods the HTTP layer needs from the proxy core.
type Service interface {
	Submit(ctx context.Context, req types.ChatCompletionRequest) (*proxy.Pending, error)
	Cancel(id, reason string) bool
	Models(ctx context.Context) ([]types.Model, error)
	QueueSnapshot() types.QueueResponse
	Status() types.StatusResponse
	ResetSession(ctx context.Context, reason string) error
	Ready() bool
}

// NewMux builds the HTTP handler tree.
func NewMux(svc Service, hub *EventHub) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/v1/chat/completions", handleChatCompletions(svc))

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.Models(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Object: "list", Data: models})
	})

	r.Get("/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.QueueSnapshot())
	})

	r.Post("/v1/cancel/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !svc.Cancel(id, "cancelled by client") {
			writeJSONError(w, http.StatusNotFound, "no pending request with id "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
	})

	r.Post("/v1/session/reset", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := svc.ResetSession(ctx, "operator request"); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reset": true})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})

	if hub != nil {
		r.Get("/v1/events", hub.ServeHTTP)
	}

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func handleChatCompletions(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages are required")
			return
		}
		for _, m := range req.Messages {
			if strings.TrimSpace(m.Content) == "" {
				writeJSONError(w, http.StatusBadRequest, "message content must not be empty")
				return
			}
		}

		// The request context doubles as the disconnect signal for the
		// whole descriptor lifetime, also while it waits in the queue.
		joined, cancel := joinContexts(baseContext(), r.Context())
		defer cancel()

		pending, err := svc.Submit(joined, req)
		if err != nil {
			writeError(w, err)
			return
		}

		if req.Stream {
			streamCompletion(w, r, pending)
			return
		}

		res, err := pending.Wait(joined)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// streamCompletion relays dispatcher events as SSE. The first event
// decides between an error status and a 200 stream; after the first
// chunk is written errors can only be conveyed in-band.
func streamCompletion(w http.ResponseWriter, r *http.Request, pending *proxy.Pending) {
	model := pending.Model()
	ev, ok := pending.NextEvent(r.Context())
	if !ok {
		writeJSONError(w, http.StatusBadGateway, "stream ended before any output")
		return
	}
	if ev.Err != nil {
		writeError(w, ev.Err)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	id := "chatcmpl-" + pending.ID()
	if ev.Done {
		sw.WriteChunk(chunkFinish(id, model))
		sw.WriteDone()
		return
	}
	sw.WriteChunk(chunkDelta(id, model, ev.Delta))

	for {
		ev, ok := pending.NextEvent(r.Context())
		if !ok {
			// Abnormal end: the producer went away without a terminal
			// marker. Close the stream without [DONE].
			return
		}
		if ev.Err != nil {
			sw.WriteChunk(chunkError(id, model, ev.Err))
			return
		}
		if ev.Done {
			sw.WriteChunk(chunkFinish(id, model))
			sw.WriteDone()
			return
		}
		sw.WriteChunk(chunkDelta(id, model, ev.Delta))
	}
}

// joinContexts returns a context that is canceled when either a or b is
// done. The cancel func must be called when the handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

// serverBaseCtx holds the process-level context that is canceled on
// shutdown. Stored atomically so SetBaseContext is safe against
// handlers already in flight.
var serverBaseCtx atomic.Value // baseCtxHolder

// baseCtxHolder gives every stored context the same concrete type, as
// required by atomic.Value.
type baseCtxHolder struct{ ctx context.Context }

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx.Store(baseCtxHolder{ctx})
}

func baseContext() context.Context {
	if v := serverBaseCtx.Load(); v != nil {
		return v.(baseCtxHolder).ctx
	}
	return context.Background()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		zlogErr(err, "encode response")
	}
}
