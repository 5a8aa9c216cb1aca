// Package telemetry fans decoded samples out to independent sinks.
package telemetry

import (
	"sync"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ParsePolicy maps "drop" or "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

// DefaultOutBufSize is used when Hub.OutBufSize is not positive.
const DefaultOutBufSize = 256

type Client struct {
	Name      string
	Out       chan bms.Sample
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client with a buffered queue of size buf.
func NewClient(name string, buf int) *Client {
	if buf <= 0 {
		buf = DefaultOutBufSize
	}
	return &Client{Name: name, Out: make(chan bms.Sample, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub implements bms.Reporter. Report never blocks the decoder.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetTelemetrySinks(cur)
	logging.L().Info("telemetry_sink_added", "sink", c.Name, "sinks", cur)
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetTelemetrySinks(cur)
	if existed {
		logging.L().Info("telemetry_sink_removed", "sink", c.Name, "sinks", cur)
	}
}

// Broadcast sends a sample to all registered clients honoring the backpressure policy.
func (h *Hub) Broadcast(s bms.Sample) {
	for _, c := range h.Snapshot() {
		select {
		case <-c.Closed:
			continue
		default:
		}
		select {
		case c.Out <- s:
		default:
			if h.Policy == PolicyKick {
				metrics.IncTelemetryKick()
				logging.L().Warn("telemetry_sink_kicked", "sink", c.Name)
				c.Close()
			} else {
				metrics.IncTelemetryDrop()
			}
		}
	}
}

// Report satisfies bms.Reporter.
func (h *Hub) Report(s bms.Sample) { h.Broadcast(s) }

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of registered clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
