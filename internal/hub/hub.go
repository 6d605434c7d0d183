// Package hub fans progress events out to monitoring and per-user subscribers.
package hub

import "sync"

const subscriberBuffer = 64

// Event is one progress update published by a progress clock. Monitor
// subscribers receive the full event; per-user subscribers receive a reduced
// copy carrying only progress and chunk counts.
type Event struct {
	UserToken    string `json:"user_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	ObjectName   string `json:"object_name,omitempty"`
	Progress     int    `json:"progress"`
	CurrentChunk int    `json:"current_chunk"`
	TotalChunks  int    `json:"total_chunks"`
	Complete     bool   `json:"complete,omitempty"`
}

// reduced strips the identifying fields for per-user delivery.
func (e Event) reduced() Event {
	return Event{
		Progress:     e.Progress,
		CurrentChunk: e.CurrentChunk,
		TotalChunks:  e.TotalChunks,
		Complete:     e.Complete,
	}
}

// Hub is a pure fan-out mechanism: it holds no session state and does not
// buffer events for offline subscribers. Delivery is at-most-once per
// subscriber connection; a disconnected subscriber simply misses events.
type Hub struct {
	mu       sync.Mutex
	monitors map[chan Event]struct{}
	users    map[string]map[chan Event]struct{}
}

// New creates a Hub ready for use.
func New() *Hub {
	return &Hub{
		monitors: make(map[chan Event]struct{}),
		users:    make(map[string]map[chan Event]struct{}),
	}
}

// Publish delivers the event to every monitor subscriber and, in reduced
// form, to the subscribers of the owning user's group. Sends are non-blocking
// so a slow consumer cannot stall a progress clock.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.monitors {
		select {
		case ch <- ev:
		default:
		}
	}

	user := ev.reduced()
	for ch := range h.users[ev.UserToken] {
		select {
		case ch <- user:
		default:
		}
	}
}

// SubscribeMonitor returns a channel receiving every user's progress events
// and an unsubscribe function.
func (h *Hub) SubscribeMonitor() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	h.monitors[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.monitors, ch)
	}
	return ch, unsubscribe
}

// SubscribeUser returns a channel receiving the reduced progress events for a
// single user token and an unsubscribe function.
func (h *Hub) SubscribeUser(userToken string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	group, ok := h.users[userToken]
	if !ok {
		group = make(map[chan Event]struct{})
		h.users[userToken] = group
	}
	group[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(group, ch)
		if len(group) == 0 {
			delete(h.users, userToken)
		}
	}
	return ch, unsubscribe
}
