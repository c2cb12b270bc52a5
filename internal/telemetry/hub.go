// Package telemetry carries per-cycle records and pose commands from the
// control loop to observers: gRPC streams, SSE tails and the debug chart.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/palpation/internal/monitoring"
)

// DefaultSubscriberBuffer is the per-subscriber backlog before items drop.
const DefaultSubscriberBuffer = 256

// Hub fans items out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the item. A ring of recent items is kept for
// late joiners and charts.
type Hub[T any] struct {
	name string

	mu      sync.RWMutex
	subs    map[string]chan T
	closed  bool
	ring    []T
	head    int
	count   int
	latest  T
	hasLast bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub labelled name in metrics, keeping up to history items.
func NewHub[T any](name string, history int) *Hub[T] {
	if history < 0 {
		history = 0
	}
	return &Hub[T]{
		name: name,
		subs: make(map[string]chan T),
		ring: make([]T, history),
	}
}

// Name returns the metrics label of the hub.
func (h *Hub[T]) Name() string { return h.name }

// Publish records v as the latest item and offers it to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest, h.hasLast = v, true
	if len(h.ring) > 0 {
		h.ring[h.head] = v
		h.head = (h.head + 1) % len(h.ring)
		if h.count < len(h.ring) {
			h.count++
		}
	}
	h.published.Add(1)
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			h.dropped.Add(1)
			monitoring.TelemetryDropped.WithLabelValues(h.name).Inc()
		}
	}
}

// Subscribe registers a subscriber with the given buffer (0 selects the
// default). The returned cancel func unsubscribes and closes the channel; it
// is safe to call more than once.
func (h *Hub[T]) Subscribe(buffer int) (id string, ch <-chan T, cancel func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	c := make(chan T, buffer)
	id = uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(c)
		return id, c, func() {}
	}
	h.subs[id] = c
	n := len(h.subs)
	h.mu.Unlock()
	monitoring.TelemetryClients.WithLabelValues(h.name).Set(float64(n))

	return id, c, func() { h.unsubscribe(id) }
}

func (h *Hub[T]) unsubscribe(id string) {
	h.mu.Lock()
	c, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(c)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		monitoring.TelemetryClients.WithLabelValues(h.name).Set(float64(n))
	}
}

// Latest returns the most recently published item.
func (h *Hub[T]) Latest() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLast
}

// History returns the retained items, oldest first.
func (h *Hub[T]) History() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, 0, h.count)
	start := h.head - h.count
	if start < 0 {
		start += len(h.ring)
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}

// Reset forgets the retained history. Subscribers are unaffected.
func (h *Hub[T]) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	for i := range h.ring {
		h.ring[i] = zero
	}
	h.head, h.count = 0, 0
}

// Clients returns the number of live subscribers.
func (h *Hub[T]) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns published and dropped counts.
func (h *Hub[T]) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored and
// later subscribers receive a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.subs {
		close(c)
		delete(h.subs, id)
	}
	monitoring.TelemetryClients.WithLabelValues(h.name).Set(0)
}
