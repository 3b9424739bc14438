package realtime

import (
	"log/slog"
	"sync"

	v1 "wisp/shared/contracts/realtime/v1"
)

// Hub owns the in-memory room table and provides stable room handles.
// It is intentionally minimal: persistence lives behind the chat store.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Get returns the room or nil when no connection has joined it.
func (h *Hub) Get(roomID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// Join adds the connection to the room, creating it on first join. Going
// through the Hub (not a held *Room) avoids joining a room that was pruned
// concurrently.
func (h *Hub) Join(roomID string, client *Client) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = NewRoom(h.log, roomID)
		h.rooms[roomID] = r
	}
	// Join while holding the table lock so a concurrent prune cannot
	// strand the client in a removed room. Lock order is hub then room,
	// same as Leave.
	r.Join(client)
	h.mu.Unlock()
}

// Leave removes the connection from the room and prunes the room once
// empty, keeping the table bounded by live membership.
func (h *Hub) Leave(roomID, connID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if ok {
		r.Leave(connID)
		if r.Len() == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers the envelope to every connection currently joined to
// roomID. A room nobody joined is a no-op. Implements chat.Broadcaster.
func (h *Hub) Broadcast(roomID string, env v1.Envelope) {
	if r := h.Get(roomID); r != nil {
		r.Broadcast(env)
	}
}
