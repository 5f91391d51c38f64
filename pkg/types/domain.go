package types

// Model represents a model selectable in the automation session.
type Model struct {
	// Stable identifier for the model.
	// example: gemini-1.5-pro
	ID string `json:"id" example:"gemini-1.5-pro"`
	// Object type, always "model" for OpenAI compatibility.
	Object string `json:"object" example:"model"`
	// Human-friendly name as shown in the session UI.
	// example: Gemini 1.5 Pro
	DisplayName string `json:"display_name,omitempty" example:"Gemini 1.5 Pro"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// QueuedRequest summarizes one pending descriptor for GET /v1/queue.
type QueuedRequest struct {
	// Request identifier.
	ID string `json:"id"`
	// Requested model.
	Model string `json:"model"`
	// Position in the queue, 0 = next to run.
	Position int `json:"position"`
	// Whether the request asked for streaming delivery.
	Stream bool `json:"stream"`
	// Seconds the request has been waiting.
	WaitingSeconds float64 `json:"waiting_seconds"`
}

// QueueResponse is returned by GET /v1/queue.
type QueueResponse struct {
	Length   int             `json:"length"`
	Capacity int             `json:"capacity"`
	Items    []QueuedRequest `json:"items"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Active model in the live session, empty when unknown.
	ActiveModel string `json:"active_model,omitempty"`
	// Whether the session is ready to serve.
	Ready bool `json:"ready"`
	// Current switch coordinator state.
	SwitchState string `json:"switch_state"`
	// Pending queue length and configured capacity.
	QueueLen int `json:"queue_len"`
	QueueCap int `json:"queue_cap"`
	// Whether a descriptor currently holds the processing lock.
	InFlight bool `json:"in_flight"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}
