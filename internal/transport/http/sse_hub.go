package http

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"vn.io.arda/notification-agent/internal/realtime"
	"vn.io.arda/notification-agent/internal/store"
)

// SSE event names sent on /notifications/stream.
const (
	EventSnapshot = "snapshot"
	EventChange   = "change"
	EventStatus   = "status"
)

// Client represents a connected SSE client.
type Client struct {
	id   int
	send chan []byte
}

// Hub fans store changes and connection status out to every SSE client.
// The agent serves one user, so clients are not partitioned.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]*Client
	nextID  int
}

// NewHub creates a new SSE Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[int]*Client)}
}

// Register adds a new SSE client.
func (h *Hub) Register(send chan []byte) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &Client{id: h.nextID, send: send}
	h.clients[c.id] = c

	log.Debug().Int("client", c.id).Msg("SSE client connected")
	return c
}

// Unregister removes an SSE client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c.id)
	log.Debug().Int("client", c.id).Msg("SSE client disconnected")
}

// PublishChange is a store listener.
func (h *Hub) PublishChange(c store.Change) {
	h.Broadcast(EventChange, c)
}

// PublishStatus is a connection status watcher.
func (h *Hub) PublishStatus(s realtime.State) {
	h.Broadcast(EventStatus, s)
}

// Broadcast sends one event to every client without blocking: a client whose
// buffer is full misses the event.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	msg, err := buildSSEMessage(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode SSE event")
		return
	}
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Int("client", c.id).Str("event", event).Msg("SSE client send buffer full, skipping")
		}
	}
}

// ConnectedCount returns the number of connected SSE clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// buildSSEMessage formats payload as "event: <name>\ndata: {...}\n\n".
func buildSSEMessage(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event + "\ndata: " + string(b) + "\n\n"), nil
}
