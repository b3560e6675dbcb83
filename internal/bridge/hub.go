package bridge

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/metrics"
)

// Hub tracks connected clients and the conversations they follow.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WebsocketConnections.Inc()
}

// remove drops the client from every room and closes its send queue.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for id, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()

	c.close()
	metrics.WebsocketConnections.Dec()
}

func (h *Hub) join(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[conversationID] = members
	}
	members[c] = struct{}{}
}

// Deliver queues frame for every client following the conversation and
// returns how many clients it reached. Slow clients drop frames.
func (h *Hub) Deliver(conversationID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.rooms[conversationID] {
		if c.enqueue(frame) {
			n++
		}
	}
	return n
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
