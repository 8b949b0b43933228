package realtime

import (
	"log/slog"
	"sync"

	v1 "bizhub/shared/contracts/chat/v1"
)

// Room is an in-memory membership + broadcast fanout primitive scoped to one
// conversation. Membership means "this session has the conversation open";
// it gates typing relays, not message delivery (messages are delivered
// per-user via the Hub so closed views still update their chat lists).
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room for a conversation id.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Info("room.member.join", "conversation_id", r.ID, "session_id", client.SessionID)
}

// Leave removes a client from membership. Unlike a session shutdown, leaving
// a room does not close the client: the same session may hold other rooms.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	_, present := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	if present {
		r.log.Info("room.member.leave", "conversation_id", r.ID, "session_id", sessionID)
	}
}

// Contains reports whether sessionID is a member.
func (r *Room) Contains(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

// Broadcast fanouts an envelope to all members except the excluded session.
// Pass exceptSessionID == "" to reach everyone.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (r *Room) Broadcast(env v1.Envelope, exceptSessionID string) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for sid, m := range r.members {
		if sid == exceptSessionID {
			continue
		}
		if !m.TrySend(env) {
			broadcastDrops.Inc()
		}
	}
}
