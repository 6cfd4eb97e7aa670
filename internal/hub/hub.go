// Package hub fans received CAN frames out to any number of stream
// subscribers with a bounded per-client buffer and a configurable
// backpressure policy.
package hub

import (
	"sync"

	canif "github.com/kstaniek/go-canif"
	"github.com/kstaniek/go-canif/internal/logging"
	"github.com/kstaniek/go-canif/internal/metrics"
)

// BackpressurePolicy decides what happens to a client whose buffer is full.
type BackpressurePolicy int

const (
	// PolicyDrop silently discards frames for the slow client.
	PolicyDrop BackpressurePolicy = iota
	// PolicyKick disconnects the slow client.
	PolicyKick
)

// Client is one subscriber: the hub pushes into Out, the owner signals
// shutdown through Closed.
type Client struct {
	Out       chan canif.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates an empty hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetStreamClients(n)
	if n == 1 {
		logging.L().Info("stream_first_client")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetStreamClients(n)
	if existed && n == 0 {
		logging.L().Info("stream_last_client")
	}
}

// Broadcast delivers one frame to every client, honoring the policy for
// clients that cannot keep up. It never blocks.
func (h *Hub) Broadcast(fr canif.Frame) {
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- fr:
		default:
			metrics.IncStreamDrop()
			if h.Policy == PolicyKick {
				c.Close() // writer exits and the server removes it
			}
		}
	}
}

// Snapshot returns a copy of the current client set.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of subscribed clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
