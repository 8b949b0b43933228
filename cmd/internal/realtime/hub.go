package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"bizhub/cmd/internal/chat"
	v1 "bizhub/shared/contracts/chat/v1"
)

// Hub owns in-memory rooms and the session registry, and implements
// chat.Broadcaster: domain events are delivered per-user, to every session a
// participant holds, whether or not that session has the conversation open.
// Room membership only scopes typing relays.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]*Room
	sessions map[string]*Client            // session id -> client
	byUser   map[string]map[string]*Client // user id -> session id -> client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Client),
		byUser:   make(map[string]map[string]*Client),
	}
}

// Register binds a client to the session registry. The client must already
// carry its UserID (post-hello).
func (h *Hub) Register(client *Client) {
	if h == nil || client == nil || client.SessionID == "" || client.UserID == "" {
		return
	}

	h.mu.Lock()
	h.sessions[client.SessionID] = client
	u := h.byUser[client.UserID]
	if u == nil {
		u = make(map[string]*Client)
		h.byUser[client.UserID] = u
	}
	u[client.SessionID] = client
	h.mu.Unlock()

	h.log.Info("hub.session.register", "session_id", client.SessionID, "user_id", client.UserID)
}

// Unregister removes a session from the registry and all rooms, and signals
// client shutdown. Removal happens before Close so broadcasters never hold a
// pointer to a client whose goroutines are being torn down.
func (h *Hub) Unregister(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	cl := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if cl != nil {
		if u := h.byUser[cl.UserID]; u != nil {
			delete(u, sessionID)
			if len(u) == 0 {
				delete(h.byUser, cl.UserID)
			}
		}
	}
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		r.Leave(sessionID)
	}
	if cl != nil {
		cl.Close()
		h.log.Info("hub.session.unregister", "session_id", sessionID, "user_id", cl.UserID)
	}
}

// GetOrCreateRoom returns a stable room handle for a conversation id.
func (h *Hub) GetOrCreateRoom(conversationID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[conversationID]; ok {
		return r
	}

	r := NewRoom(h.log, conversationID)
	h.rooms[conversationID] = r
	return r
}

// Room returns the room for a conversation id, or nil if none exists yet.
func (h *Hub) Room(conversationID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[conversationID]
}

// SendToUser delivers an envelope to every session of userID (non-blocking).
func (h *Hub) SendToUser(userID string, env v1.Envelope) {
	if h == nil || userID == "" {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.TrySend(env) {
			broadcastDrops.Inc()
		}
	}
}

// ---- chat.Broadcaster ----

// MessageNew fans out a message_new envelope to all participants' sessions.
func (h *Hub) MessageNew(conv chat.Conversation, msg chat.Message) {
	payload, err := json.Marshal(v1.MessageNewPayload{
		ConversationID: msg.ConversationID,
		ClientMsgID:    msg.ClientMsgID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Text:           msg.Text,
		SentAt:         msg.SentAt,
	})
	if err != nil {
		h.log.Error("hub.broadcast.marshal", "err", err)
		return
	}

	env := NewEnvelope(v1.TypeMessageNew, msg.ConversationID, payload, msg.SentAt)
	h.fanout(conv.Participants, env)
	messagesRelayed.WithLabelValues(v1.TypeMessageNew).Inc()
}

// MessageDeleted fans out a message_deleted envelope to all participants' sessions.
func (h *Hub) MessageDeleted(conv chat.Conversation, messageIDs []string) {
	payload, err := json.Marshal(v1.MessageDeletedPayload{
		ConversationID: conv.ID,
		MessageIDs:     messageIDs,
	})
	if err != nil {
		h.log.Error("hub.broadcast.marshal", "err", err)
		return
	}

	env := NewEnvelope(v1.TypeMessageDeleted, conv.ID, payload, time.Now().UTC())
	h.fanout(conv.Participants, env)
	messagesRelayed.WithLabelValues(v1.TypeMessageDeleted).Inc()
}

// ConversationRead fans out a conversation_read envelope to all participants'
// sessions, including the reader's other devices.
func (h *Hub) ConversationRead(conv chat.Conversation, userID string) {
	payload, err := json.Marshal(v1.ConversationReadPayload{
		ConversationID: conv.ID,
		UserID:         userID,
	})
	if err != nil {
		h.log.Error("hub.broadcast.marshal", "err", err)
		return
	}

	env := NewEnvelope(v1.TypeConversationRead, conv.ID, payload, time.Now().UTC())
	h.fanout(conv.Participants, env)
	messagesRelayed.WithLabelValues(v1.TypeConversationRead).Inc()
}

func (h *Hub) fanout(userIDs []string, env v1.Envelope) {
	for _, uid := range userIDs {
		h.SendToUser(uid, env)
	}
}

// NewEnvelope wraps a payload in a v1 envelope with a fresh id.
func NewEnvelope(typ, convID string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      chat.NewID(ts),
		ConvID:  convID,
		TS:      ts,
		Payload: payload,
	}
}
