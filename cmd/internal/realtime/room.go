package realtime

import (
	"log/slog"
	"sync"

	v1 "wisp/shared/contracts/realtime/v1"
)

// Room is an in-memory membership + broadcast fanout primitive. It has no
// record of its own; it exists only as the set of currently joined
// connections.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
// - Successive Broadcast calls enqueue in call order for every member, so
//   single-room fan-out order is preserved.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership. A connection may belong to many rooms;
// leaving one room never tears the connection down.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.ConnID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.ConnID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "room_id", r.ID, "conn_id", client.ConnID)
}

// Leave removes a connection from membership.
func (r *Room) Leave(connID string) {
	if r == nil || connID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, connID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "room_id", r.ID, "conn_id", connID)
}

// Len returns the current member count.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (r *Room) Broadcast(env v1.Envelope) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if !m.TryEnqueue(env) {
			broadcastDrops.Inc()
		}
	}
	broadcasts.Inc()
}
