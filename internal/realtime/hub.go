// Package realtime provides an in-process publish/subscribe hub for row
// change notifications. Services publish after committing a change;
// subscribers (SSE handlers, tests) receive the event on their own
// goroutine-safe callback.
//
// The hub replaces an external push channel with local fan-out: callbacks
// run synchronously under a read lock, so they must be fast and must not
// re-enter the hub.
package realtime

import "sync"

// Actions mirror row-level change kinds.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Tables that emit events.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
	TableConnections   = "user_connections"
)

// Event describes a single committed row change.
type Event struct {
	Table          string `json:"table"`
	Action         string `json:"action"`
	RowID          string `json:"row_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Hub fans events out to table-scoped subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Event)
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]func(Event))}
}

// Subscribe registers fn for events on table and returns an unsubscribe
// function. Unsubscribing twice is harmless.
func (h *Hub) Subscribe(table string, fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[table] == nil {
		h.subs[table] = make(map[int]func(Event))
	}
	h.subs[table][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[table], id)
	}
}

// Publish delivers ev to every subscriber of ev.Table. A nil hub is a
// no-op so services can run without realtime wiring in tests.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.subs[ev.Table] {
		fn(ev)
	}
}
