package proxy

import "sync"

// Event names published over the request lifecycle.
const (
	EventEnqueued     = "request_enqueued"
	EventDequeued     = "request_dequeued"
	EventModelSwitch  = "model_switch"
	EventDone         = "request_done"
	EventSessionReset = "session_reset"
)

// Event represents a proxy lifecycle event.
// Minimal and stable: name + ids and optional fields via key/values.
type Event struct {
	Name      string         `json:"name"`
	RequestID string         `json:"request_id,omitempty"`
	ModelID   string         `json:"model_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives events from the proxy. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
