package chat

import (
	"context"
	"time"
)

// Store persists conversations and messages.
//
// Requirements:
//   - GetOrCreateConversation is idempotent per unordered participant pair.
//   - AppendMessage is idempotent per (conversation_id, client_msg_id).
//   - ListMessages returns a window ordered by sent_at ASC (id ASC on ties).
//   - Unread counters and the latest-message summary are maintained by
//     AppendMessage / MarkRead, not by callers.
type Store interface {
	GetOrCreateConversation(ctx context.Context, in GetOrCreateInput) (GetOrCreateResult, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error

	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error)
	EditMessage(ctx context.Context, in EditMessageInput) (Message, error)
	DeleteMessages(ctx context.Context, in DeleteMessagesInput) ([]string, error)
	MarkRead(ctx context.Context, conversationID, userID string) error

	Close() error
}

// GetOrCreateInput identifies an unordered participant pair.
type GetOrCreateInput struct {
	UserID      string
	OtherUserID string
	Now         time.Time
}

// GetOrCreateResult reports the canonical conversation and whether it was created.
type GetOrCreateResult struct {
	Conversation Conversation
	Created      bool
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ConversationID string
	ClientMsgID    string
	SenderID       string
	SenderName     string
	Text           string
	Now            time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     Message
	Duplicated bool
}

// ListMessagesInput describes a history window request.
// BeforeID pages backwards: only messages with id < BeforeID are returned.
type ListMessagesInput struct {
	ConversationID string
	ForUserID      string
	BeforeID       string
	Limit          int
}

// ListMessagesResult contains the retrieved history window.
type ListMessagesResult struct {
	Messages []Message
	HasMore  bool
}

// EditMessageInput describes an edit request; EditorID must be the sender.
type EditMessageInput struct {
	MessageID string
	EditorID  string
	Text      string
	Now       time.Time
}

// DeleteMessagesInput describes a delete request; OwnerID must be the sender.
type DeleteMessagesInput struct {
	ConversationID string
	OwnerID        string
	MessageIDs     []string
}
