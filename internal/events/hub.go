// Package events fans committed conversation changes out to live
// subscribers within the process.
package events

import (
	"sync"

	"github.com/rethoric/rethoric/internal/store"
)

type Type string

const (
	// TypeMessage carries a committed message.
	TypeMessage Type = "message"
	// TypeDelta carries a fragment of an assistant reply that is still streaming.
	TypeDelta Type = "delta"
	// TypeStatus carries a conversation status change.
	TypeStatus Type = "status"
)

// Durable reports whether the event reflects committed state. Durable events
// are never dropped; a subscriber that cannot take one is evicted instead.
func (t Type) Durable() bool { return t != TypeDelta }

type Event struct {
	Type           Type                     `json:"type"`
	ConversationID string                   `json:"conversationId"`
	Message        *store.Message           `json:"message,omitempty"`
	Delta          string                   `json:"delta,omitempty"`
	// Attempt numbers the generation attempt a delta belongs to. A delta with
	// a new attempt number discards the partial text of the previous one.
	Attempt        int                      `json:"attempt,omitempty"`
	Status         store.ConversationStatus `json:"status,omitempty"`
}

type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	buffer int
	drops  func(e Event)
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		buffer: buffer,
	}
}

// OnDrop registers a callback invoked whenever a slow subscriber misses an
// event, either because a delta was dropped or because it was evicted.
func (h *Hub) OnDrop(fn func(e Event)) {
	h.mu.Lock()
	h.drops = fn
	h.mu.Unlock()
}

// Subscribe returns a channel of events for one conversation and a cancel
// function that unregisters it and closes the channel.
func (h *Hub) Subscribe(conversationID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[chan Event]struct{})
	}
	h.subs[conversationID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.removeLocked(conversationID, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// removeLocked unregisters ch and closes it. It is a no-op when ch was
// already removed.
func (h *Hub) removeLocked(conversationID string, ch chan Event) {
	subs := h.subs[conversationID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(h.subs, conversationID)
	}
	close(ch)
}

// Publish never blocks. A subscriber whose buffer is full misses deltas;
// for durable events it is evicted and its channel closed, so the reader
// must reconnect and re-sync from the durable log.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[e.ConversationID] {
		select {
		case ch <- e:
		default:
			if e.Type.Durable() {
				h.removeLocked(e.ConversationID, ch)
			}
			if h.drops != nil {
				h.drops(e)
			}
		}
	}
}

func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}
