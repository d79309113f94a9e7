package relay

import (
	"context"
	"sync"

	"github.com/vogiaan1904/runbattle/internal/metrics"
)

const clientBuffer = 64

// Client is one locally connected socket.
type Client struct {
	ID   string
	Send chan Event

	mu    sync.Mutex
	dests map[string]struct{}
}

// Hub tracks the sockets this instance holds, by destination.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: map[string]map[*Client]struct{}{},
	}
}

func (h *Hub) Register(id string, dests ...string) *Client {
	c := &Client{
		ID:    id,
		Send:  make(chan Event, clientBuffer),
		dests: map[string]struct{}{},
	}

	for _, d := range dests {
		h.Subscribe(c, d)
	}

	metrics.ConnectedClients.Inc()
	return c
}

func (h *Hub) Subscribe(c *Client, dest string) {
	if dest == "" {
		return
	}

	c.mu.Lock()
	c.dests[dest] = struct{}{}
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[dest] == nil {
		h.clients[dest] = map[*Client]struct{}{}
	}
	h.clients[dest][c] = struct{}{}
}

func (h *Hub) Unsubscribe(c *Client, dest string) {
	c.mu.Lock()
	delete(c.dests, dest)
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c, dest)
}

// Unregister drops the client from every destination and closes its channel.
func (h *Hub) Unregister(c *Client) {
	c.mu.Lock()
	dests := make([]string, 0, len(c.dests))
	for d := range c.dests {
		dests = append(dests, d)
	}
	c.dests = map[string]struct{}{}
	c.mu.Unlock()

	h.mu.Lock()
	for _, d := range dests {
		h.remove(c, d)
	}
	h.mu.Unlock()

	close(c.Send)
	metrics.ConnectedClients.Dec()
}

func (h *Hub) remove(c *Client, dest string) {
	if set, ok := h.clients[dest]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, dest)
		}
	}
}

// Deliver hands the payload to every local client of the destination. Clients
// with a full buffer miss the event.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[ev.Destination] {
		select {
		case c.Send <- ev:
			metrics.RelayDelivered.Inc()
		default:
			metrics.RelayDropped.Inc()
		}
	}
}

// Subscribers returns the number of local clients on a destination.
func (h *Hub) Subscribers(dest string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[dest])
}

// Run feeds bus events to local clients until ctx is done.
func (h *Hub) Run(ctx context.Context, bus Bus) error {
	return bus.Subscribe(ctx, h.Deliver)
}
