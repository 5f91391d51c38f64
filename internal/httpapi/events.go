package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"studioproxy/internal/proxy"
)

const (
	eventWriteWait = 5 * time.Second
	// clientBuffer bounds per-subscriber queued events; a subscriber that
	// falls this far behind is dropped rather than slowing the publisher.
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub fans proxy lifecycle events out to websocket subscribers. It
// implements proxy.EventPublisher; Publish never blocks the worker loop.
type EventHub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan proxy.Event
}

// NewEventHub returns a hub with no subscribers.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*hubClient]struct{})}
}

var _ proxy.EventPublisher = (*EventHub)(nil)

// Publish enqueues ev for every subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *EventHub) Publish(ev proxy.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow consumer: skip this event for them.
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away or the hub closes.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	c := &hubClient{conn: conn, send: make(chan proxy.Event, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames; its job is noticing disconnects.
func (h *EventHub) readLoop(c *hubClient) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writeLoop(c *hubClient) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
}

func (h *EventHub) drop(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Close disconnects every subscriber. Publish becomes a no-op.
func (h *EventHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.send)
	}
}
