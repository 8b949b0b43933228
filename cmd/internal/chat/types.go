// Package chat contains BizHub's conversation and message domain: canonical
// types, the persistence boundary, and the service that sits between the REST
// API / realtime gateway and the stores.
package chat

import (
	"sort"
	"strings"
	"time"
)

// Message is the canonical persisted message representation.
type Message struct {
	ID             string
	ClientMsgID    string
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	SentAt         time.Time
	EditedAt       *time.Time
	// HiddenFor lists user ids the message is soft-deleted for.
	HiddenFor []string
}

// Summary is the latest-message digest carried on a conversation.
type Summary struct {
	MessageID string
	SenderID  string
	Text      string
	SentAt    time.Time
}

// Conversation is a two-party thread. Exactly one exists per unordered
// participant pair; PairKey is the uniqueness anchor.
type Conversation struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
	LastMessage  *Summary

	// Unread is the per-user count of messages not yet marked read.
	Unread map[string]int

	// HiddenFor lists user ids the conversation is soft-deleted for.
	// A new message clears the flag (the thread resurfaces).
	HiddenFor []string
}

// PairKey returns the canonical key for an unordered participant pair.
func PairKey(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// UnreadFor returns the unread counter for userID (0 when absent).
func (c Conversation) UnreadFor(userID string) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// HasParticipant reports whether userID is a member of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
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

// LastActivity is the timestamp conversations sort by: the latest message
// when present, creation time otherwise.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}

// SortByActivity orders conversations most-recently-active first, in place.
// Ties break on id to keep the order deterministic.
func SortByActivity(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		ai, aj := convs[i].LastActivity(), convs[j].LastActivity()
		if ai.Equal(aj) {
			return convs[i].ID > convs[j].ID
		}
		return ai.After(aj)
	})
}

func containsUser(users []string, userID string) bool {
	for _, u := range users {
		if u == userID {
			return true
		}
	}
	return false
}
