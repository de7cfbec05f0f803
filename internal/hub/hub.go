// Package hub fans frames received from the controller out to every
// connected client and to registered taps such as the SocketCAN mirror.
package hub

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy accepts "drop" and "kick".
func ParsePolicy(s string) (BackpressurePolicy, error) {
	switch s {
	case "drop":
		return PolicyDrop, nil
	case "kick":
		return PolicyKick, nil
	default:
		return PolicyDrop, fmt.Errorf("invalid hub policy %q", s)
	}
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// Client is one buffered subscriber. Accept, when set, selects the frames it
// wants; it must be set before the client is added.
type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	Accept    func(can.Frame) bool
	closeOnce sync.Once
}

// NewClient returns a client with an output buffer of buf frames.
func NewClient(buf int) *Client {
	return &Client{Out: make(chan can.Frame, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Tap receives every broadcast frame synchronously. SendFrame must not block.
type Tap interface {
	SendFrame(can.Frame) error
}

// Hub is the broadcast point between the controller and its subscribers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	taps       []Tap
	OutBufSize int
	Policy     BackpressurePolicy
}

// New returns a hub with the drop policy and default client buffers.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// AddTap registers a tap for the lifetime of the hub.
func (h *Hub) AddTap(t Tap) {
	h.mu.Lock()
	h.taps = append(h.taps, t)
	h.mu.Unlock()
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(n)
	if n == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove closes c and forgets it. Removing an unknown client only closes it.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(n)
	if known && n == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast offers fr to every tap and every accepting client, honoring the
// backpressure policy. It returns the number of clients that queued the frame.
func (h *Hub) Broadcast(fr can.Frame) int {
	h.mu.RLock()
	taps := h.taps
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, t := range taps {
		if err := t.SendFrame(fr); err != nil {
			logging.L().Debug("hub_tap_error", "error", err, "frame", fr.String())
		}
	}
	metrics.SetBroadcastFanout(len(clients))
	sampleQueues(clients)

	n := 0
	for _, c := range clients {
		if c.Accept != nil && !c.Accept(fr) {
			continue
		}
		if h.offer(c, fr) {
			n++
		}
	}
	return n
}

func (h *Hub) offer(c *Client, fr can.Frame) bool {
	select {
	case c.Out <- fr:
		return true
	default:
	}
	if h.Policy == PolicyKick {
		metrics.IncHubKick()
		c.Close() // the writer exits and the server detaches it
		return false
	}
	metrics.IncHubDrop()
	return false
}

// sampleQueues publishes the deepest and the mean client backlog.
func sampleQueues(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	deepest, total := 0, 0
	for _, c := range clients {
		d := len(c.Out)
		deepest = max(deepest, d)
		total += d
	}
	metrics.SetQueueDepth(deepest, total/len(clients))
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); defer h.mu.RUnlock(); return len(h.clients) }
