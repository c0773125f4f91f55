package campaign

import (
	"sync"
	"time"
)

// NotificationType enumerates lifecycle notifications. These are
// informational fan-out only; metrics truth lives in delivery records and
// engagement events.
type NotificationType string

const (
	NotifyCreated   NotificationType = "created"
	NotifyStarted   NotificationType = "started"
	NotifySent      NotificationType = "sent"
	NotifyPaused    NotificationType = "paused"
	NotifyResumed   NotificationType = "resumed"
	NotifyCompleted NotificationType = "completed"
	NotifyFailed    NotificationType = "failed"
)

// Notification is one lifecycle event delivered to subscribers.
type Notification struct {
	CampaignID string                 `json:"campaign_id"`
	Type       NotificationType       `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Notifier receives lifecycle notifications. Implementations must not
// block; the engine treats notification delivery as fire-and-forget.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Notification) {}

// Hub fans notifications out to channel subscribers (dashboards, loggers).
// Slow subscribers lose notifications rather than stalling the engine:
// each subscriber channel is buffered and dropped-on-full.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Notification
	next int
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notification)}
}

// Subscribe registers a subscriber. The returned cancel func must be
// called to release the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notification, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Notify implements Notifier.
func (h *Hub) Notify(n Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Subscriber is behind; drop rather than block the engine.
		}
	}
}
