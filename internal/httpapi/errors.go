package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"studioproxy/internal/proxy"
	"studioproxy/pkg/types"
)

// statusCanceled is nginx's non-standard "client closed request" code,
// used here the same way: the client went away, nobody will read the body.
const statusCanceled = 499

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps the proxy error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case proxy.IsQueueFull(err):
		return http.StatusTooManyRequests
	case proxy.IsQueueClosed(err):
		return http.StatusServiceUnavailable
	case proxy.IsSwitchFailed(err):
		return http.StatusUnprocessableEntity
	case proxy.IsCancelled(err), errors.Is(err, context.Canceled):
		return statusCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case proxy.IsStreamInterrupted(err), proxy.IsExecutionFailed(err):
		return http.StatusBadGateway
	default:
		var he HTTPError
		if errors.As(err, &he) {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes the JSON error payload.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
