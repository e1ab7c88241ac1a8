// Package fanout broadcasts enriched samples to push subscribers, each with
// its own bounded queue so a slow consumer cannot stall the rest.
package fanout

import (
	"sync"

	"github.com/google/uuid"

	"fleetwatch/internal/metrics"
)

// Subscriber is one push consumer's handle: a bounded queue drained by the
// consumer's own delivery loop.
type Subscriber struct {
	ID uuid.UUID
	ch chan []byte
}

// C is the subscriber's delivery channel. It is closed on unsubscribe,
// backpressure disconnect, or hub shutdown.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

// Hub maintains the active subscriber set. Broadcast enqueues to every
// subscriber without blocking; the backpressure policy is disconnection:
// a subscriber whose queue is full at broadcast time is dropped and its
// channel closed. The policy is deterministic and isolates slow consumers
// from both the ingestion path and well-behaved subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscriber
	depth  int
	closed bool
}

// NewHub creates a hub whose subscriber queues hold up to depth frames.
func NewHub(depth int) *Hub {
	if depth < 1 {
		depth = 1
	}
	return &Hub{
		subs:  make(map[uuid.UUID]*Subscriber),
		depth: depth,
	}
}

// Subscribe registers a new subscriber. It returns nil after Close.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &Subscriber{
		ID: uuid.New(),
		ch: make(chan []byte, h.depth),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call for
// an already-removed subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Broadcast enqueues payload to every subscriber. Subscribers whose queue is
// full are disconnected.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	metrics.FanoutBroadcasts.Add(1)

	var slow []*Subscriber
	for _, sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		metrics.FanoutDisconnects.Add(1)
		h.removeLocked(sub)
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		h.removeLocked(sub)
	}
}

// removeLocked deletes and closes sub if still present. All channel sends
// happen under h.mu, so closing here cannot race a send.
func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.ch)
}
