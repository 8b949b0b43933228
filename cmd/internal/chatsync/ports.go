package chatsync

import "context"

// DataAccess is the REST collaborator the core consumes. Implementations
// carry the local user's identity; every call is scoped to that user.
type DataAccess interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	GetOrCreateConversation(ctx context.Context, otherUserID string) (Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]Message, bool, error)
	SendMessage(ctx context.Context, conversationID, clientMsgID, text string) (Message, error)
	EditMessage(ctx context.Context, messageID, text string) (Message, error)
	DeleteMessages(ctx context.Context, conversationID string, messageIDs []string) error
	MarkAsRead(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// EventKind discriminates realtime events delivered by a Channel.
type EventKind uint8

const (
	EventMessageNew EventKind = iota
	EventMessageDeleted
	EventTypingStart
	EventTypingStop
	EventConversationRead
	// EventChannelDown signals the transport failed; the session degrades to
	// polling until the channel recovers.
	EventChannelDown
)

// Event is a normalized realtime event. Fields are populated per kind:
// Message for EventMessageNew; MessageIDs for EventMessageDeleted; UserID
// for typing and read events. ConversationID is always set except for
// EventChannelDown.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        Message
	MessageIDs     []string
	UserID         string
	Err            error
}

// Channel is the realtime collaborator: a view-scoped subscription handle
// owned and injected by the core, never an ambient singleton.
type Channel interface {
	// Join subscribes to a conversation room.
	Join(ctx context.Context, conversationID string) error
	// Leave tears down the room subscription. Mandatory on view switch or
	// close: an event delivered to a stale scope would corrupt the merge.
	Leave(ctx context.Context, conversationID string) error
	// Typing publishes a typing start/stop signal for the open conversation.
	Typing(ctx context.Context, conversationID string, typing bool) error
	// Events returns the normalized event stream. The channel closes when
	// the transport shuts down.
	Events() <-chan Event
	// Close releases the transport.
	Close() error
}
