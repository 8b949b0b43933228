// Package chatsync is the client-side chat synchronization core: it merges
// paginated history, live channel events and locally optimistic sends into
// one de-duplicated, chronologically ordered view, and keeps the conversation
// list (unread counts, latest-activity order, selection) consistent with the
// server.
//
// The package talks to two injected collaborators: a DataAccess (REST) and a
// Channel (realtime events). Both are treated as independent failure domains;
// either may be degraded without blocking the other.
package chatsync

import (
	"time"

	v1 "bizhub/shared/contracts/chat/v1"
)

// State tracks an outgoing message through the optimistic send lifecycle.
type State uint8

const (
	// StateConfirmed marks a message that carries its canonical server id.
	StateConfirmed State = iota
	// StatePending marks an optimistic entry not yet acknowledged.
	StatePending
	// StateFailed marks an optimistic entry whose send was rejected.
	// No automatic retry: the user must explicitly retry or discard.
	StateFailed
)

// Message is the canonical client-side message representation. Every source
// (REST result, realtime payload, local optimistic construction) is adapted
// into this shape before any merge logic runs; raw heterogeneous shapes are
// never merged.
type Message struct {
	// ID is the canonical server-assigned id; empty until confirmed.
	ID string
	// ClientMsgID is the locally generated send id, kept for reconciliation.
	ClientMsgID    string
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	SentAt         time.Time
	EditedAt       *time.Time
	State          State
}

// Confirmed reports whether the message carries its canonical id.
func (m Message) Confirmed() bool { return m.ID != "" }

// Summary is a conversation's latest-message digest.
type Summary struct {
	MessageID string
	SenderID  string
	Text      string
	SentAt    time.Time
}

// Conversation is the client-side thread representation.
type Conversation struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
	LastMessage  *Summary
	Unread       int
}

// OtherParticipant returns the peer of userID in a two-party conversation.
func (c Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// LastActivity is the timestamp conversations sort by.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}

// fromWire adapts a realtime message_new payload into the canonical shape.
func fromWire(p v1.MessageNewPayload) Message {
	return Message{
		ID:             p.MessageID,
		ClientMsgID:    p.ClientMsgID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		SenderName:     p.SenderName,
		Text:           p.Text,
		SentAt:         p.SentAt,
		State:          StateConfirmed,
	}
}
