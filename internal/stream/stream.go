// Package stream fans security events out to live subscribers (the SSE
// feed on /v1/events/stream). Delivery is best-effort: a slow subscriber
// drops events rather than blocking the authentication path.
package stream

import (
	"context"
	"sync"

	"github.com/foliohq/folio/internal/auth"
)

// Hub fan-outs security events to all active subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan auth.Event
	next int
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]chan auth.Event)}
}

// Subscribe registers a subscriber and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan auth.Event {
	ch := make(chan auth.Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (h *Hub) Publish(evt auth.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
