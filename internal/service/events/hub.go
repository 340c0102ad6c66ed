// Package events fans session lifecycle events out to live subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	Activated         Type = "activated"
	ActivationFailed  Type = "activation_failed"
	WalletProvisioned Type = "wallet_provisioned"
	BookingCaptured   Type = "booking_captured"
	Broadcast         Type = "broadcast"
)

// Event is one published lifecycle change.
type Event struct {
	ID     string         `json:"id"`
	Type   Type           `json:"type"`
	ChatID string         `json:"chatId,omitempty"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(typ Type, chatID string, data map[string]any)
}

// Hub is an in-process broadcaster. Slow subscribers lose events rather
// than blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event), now: time.Now}
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(typ Type, chatID string, data map[string]any) {
	if h == nil {
		return
	}
	evt := Event{
		ID:     uuid.NewString(),
		Type:   typ,
		ChatID: chatID,
		Time:   h.now().UTC(),
		Data:   data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a listener with the given buffer size. The returned
// cancel func closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
