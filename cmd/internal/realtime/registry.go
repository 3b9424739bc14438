package realtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	v1 "wisp/shared/contracts/realtime/v1"
)

// PrivateRoomID returns the per-user signaling channel id.
func PrivateRoomID(userID string) string {
	return "user:" + userID
}

// IsPrivateRoomID reports whether the id names a private channel, and for
// which user.
func IsPrivateRoomID(roomID string) (userID string, ok bool) {
	if rest, found := strings.CutPrefix(roomID, "user:"); found && rest != "" {
		return rest, true
	}
	return "", false
}

// Registry owns connection lifecycle and the presence set.
//
// Presence is keyed by connection and projected to a de-duplicated, sorted
// set of user ids on every transition: a user with two simultaneous
// connections appears once, and only their last disconnect removes them.
type Registry struct {
	log *slog.Logger
	hub *Hub

	mu      sync.Mutex
	clients map[string]*Client            // conn id -> client
	users   map[string]string             // conn id -> user id
	joined  map[string]map[string]struct{} // conn id -> joined room ids
}

// NewRegistry constructs a Registry over the room hub.
func NewRegistry(log *slog.Logger, hub *Hub) *Registry {
	return &Registry{
		log:     log,
		hub:     hub,
		clients: make(map[string]*Client),
		users:   make(map[string]string),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Register binds the connection to a user, auto-joins the user's private
// room, and broadcasts the full presence set to all connections.
func (r *Registry) Register(client *Client, userID, name string) bool {
	if client == nil || client.ConnID == "" || strings.TrimSpace(userID) == "" {
		return false
	}
	if !client.Bind(userID, name) {
		return false
	}

	r.mu.Lock()
	r.clients[client.ConnID] = client
	r.users[client.ConnID] = userID
	r.joined[client.ConnID] = make(map[string]struct{})
	r.mu.Unlock()

	r.JoinRoom(client, PrivateRoomID(userID))

	activeSessions.Inc()
	r.log.Info("registry.connect", "conn_id", client.ConnID, "user_id", userID)
	r.broadcastPresence()
	return true
}

// Unregister removes the connection from every joined room, drops the
// binding, closes the client, and rebroadcasts presence.
func (r *Registry) Unregister(connID string) {
	if connID == "" {
		return
	}

	r.mu.Lock()
	client, known := r.clients[connID]
	rooms := r.joined[connID]
	delete(r.clients, connID)
	delete(r.users, connID)
	delete(r.joined, connID)
	r.mu.Unlock()

	if !known {
		return
	}

	for roomID := range rooms {
		r.hub.Leave(roomID, connID)
	}
	client.Close()

	activeSessions.Dec()
	r.log.Info("registry.disconnect", "conn_id", connID)
	r.broadcastPresence()
}

// JoinRoom adds the connection to the room and records the membership for
// disconnect cleanup. Capability checks happen at the gateway before this.
func (r *Registry) JoinRoom(client *Client, roomID string) {
	if client == nil || roomID == "" {
		return
	}

	r.mu.Lock()
	set, known := r.joined[client.ConnID]
	if known {
		set[roomID] = struct{}{}
	}
	r.mu.Unlock()

	if !known {
		return
	}
	r.hub.Join(roomID, client)
}

// LeaveRoom removes the connection from the room.
func (r *Registry) LeaveRoom(connID, roomID string) {
	if connID == "" || roomID == "" {
		return
	}

	r.mu.Lock()
	if set, ok := r.joined[connID]; ok {
		delete(set, roomID)
	}
	r.mu.Unlock()

	r.hub.Leave(roomID, connID)
}

// OnlineUsers returns the sorted, de-duplicated set of user ids with at
// least one live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	seen := make(map[string]struct{}, len(r.users))
	for _, uid := range r.users {
		seen[uid] = struct{}{}
	}
	r.mu.Unlock()

	out := make([]string, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// broadcastPresence pushes the full current set (not a delta) to every
// registered connection.
func (r *Registry) broadcastPresence() {
	users := r.OnlineUsers()

	payload, err := json.Marshal(v1.PresenceUpdatePayload{UserIDs: users})
	if err != nil {
		r.log.Error("registry.presence.encode.fail", "err", err)
		return
	}
	env := newEnvelope(v1.TypePresenceUpdate, payload)

	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		if !c.TryEnqueue(env) {
			broadcastDrops.Inc()
		}
	}
}
