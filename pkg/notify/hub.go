// Package notify broadcasts "permissions changed" signals to interested
// readers, in-process through Hub and across processes through RedisBridge.
package notify

import (
	"sync"
	"time"
)

// Event signals that permission state changed. It carries no state; readers
// re-read the store.
type Event struct {
	Reason  string    `json:"reason"`
	Subject string    `json:"subject,omitempty"`
	At      time.Time `json:"at"`

	// Origin is empty for events raised in this process and set to the
	// bridge id for events relayed from another process
	Origin string `json:"origin,omitempty"`
}

// Hub fans events out to subscribers. Publish never blocks: each subscriber
// has a one-slot buffer and a pending event is replaced by the newer one.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 1)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber. A zero At is stamped with now.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			// coalesce with the pending event
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later Publish calls are no-ops and
// later Subscribe calls return a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
