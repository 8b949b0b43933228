package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Max message text length (runes). Mirrors the gateway frame limits.
const maxMessageChars = 4000

// Broadcaster receives domain events the realtime gateway fans out to
// connected participants. A nil Broadcaster disables fanout (REST-only mode).
type Broadcaster interface {
	MessageNew(conv Conversation, msg Message)
	MessageDeleted(conv Conversation, messageIDs []string)
	ConversationRead(conv Conversation, userID string)
}

// Service validates chat operations and orchestrates the Store plus the
// realtime Broadcaster. It is the single write path for both the REST API
// and the WebSocket gateway.
type Service struct {
	log   *slog.Logger
	store Store
	bcast Broadcaster
}

// NewService constructs a Service. Store must be non-nil; Broadcaster may be nil.
func NewService(log *slog.Logger, store Store, bcast Broadcaster) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("chat: nil logger")
	}
	if store == nil {
		return nil, fmt.Errorf("chat: nil store")
	}
	return &Service{log: log, store: store, bcast: bcast}, nil
}

// SetBroadcaster wires the realtime fanout after construction.
// The gateway depends on the Service, so the hook is attached late.
func (s *Service) SetBroadcaster(b Broadcaster) { s.bcast = b }

// Conversation returns a conversation by id.
func (s *Service) Conversation(ctx context.Context, conversationID string) (Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}

// ListConversations returns the caller's visible conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// GetOrCreateConversation resolves the canonical conversation for (userID, otherUserID).
// Idempotent: repeated calls for the same pair return the same id.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (Conversation, error) {
	res, err := s.store.GetOrCreateConversation(ctx, GetOrCreateInput{
		UserID:      userID,
		OtherUserID: otherUserID,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		return Conversation{}, err
	}
	if res.Created {
		s.log.Info("chat.conversation.create",
			"conversation_id", res.Conversation.ID, "user_id", userID, "other_user_id", otherUserID)
	}
	return res.Conversation, nil
}

// ListMessages returns a history window for a participant.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID, beforeID string, limit int) (ListMessagesResult, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ListMessagesResult{}, err
	}
	if !conv.HasParticipant(userID) {
		return ListMessagesResult{}, ErrNotParticipant
	}

	return s.store.ListMessages(ctx, ListMessagesInput{
		ConversationID: conversationID,
		ForUserID:      userID,
		BeforeID:       beforeID,
		Limit:          limit,
	})
}

// SendMessage appends a message and broadcasts message_new to participants.
// Duplicate client_msg_id returns the original message without a rebroadcast.
func (s *Service) SendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return AppendMessageResult{}, ErrInvalidInput
	}
	if len([]rune(in.Text)) > maxMessageChars {
		return AppendMessageResult{}, ErrTextTooLong
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	res, err := s.store.AppendMessage(ctx, in)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if res.Duplicated {
		s.log.Debug("chat.message.duplicate",
			"conversation_id", in.ConversationID, "client_msg_id", in.ClientMsgID)
		return res, nil
	}

	s.log.Info("chat.message.append",
		"conversation_id", in.ConversationID, "message_id", res.Stored.ID, "sender_id", in.SenderID)

	if s.bcast != nil {
		if conv, err := s.store.GetConversation(ctx, in.ConversationID); err == nil {
			s.bcast.MessageNew(conv, res.Stored)
		} else {
			s.log.Warn("chat.broadcast.skip", "conversation_id", in.ConversationID, "err", err)
		}
	}
	return res, nil
}

// EditMessage replaces the text of the caller's own message.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrInvalidInput
	}
	if len([]rune(text)) > maxMessageChars {
		return Message{}, ErrTextTooLong
	}

	return s.store.EditMessage(ctx, EditMessageInput{
		MessageID: messageID,
		EditorID:  editorID,
		Text:      text,
		Now:       time.Now().UTC(),
	})
}

// DeleteMessages removes the caller's own messages and broadcasts message_deleted.
func (s *Service) DeleteMessages(ctx context.Context, conversationID, ownerID string, messageIDs []string) ([]string, error) {
	removed, err := s.store.DeleteMessages(ctx, DeleteMessagesInput{
		ConversationID: conversationID,
		OwnerID:        ownerID,
		MessageIDs:     messageIDs,
	})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	s.log.Info("chat.message.delete",
		"conversation_id", conversationID, "count", len(removed), "owner_id", ownerID)

	if s.bcast != nil {
		if conv, err := s.store.GetConversation(ctx, conversationID); err == nil {
			s.bcast.MessageDeleted(conv, removed)
		}
	}
	return removed, nil
}

// MarkRead zeroes the caller's unread counter and notifies participants.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return ErrNotParticipant
	}

	if err := s.store.MarkRead(ctx, conversationID, userID); err != nil {
		return err
	}
	if s.bcast != nil {
		s.bcast.ConversationRead(conv, userID)
	}
	return nil
}

// DeleteConversation soft-deletes the thread from the caller's view.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if err := s.store.DeleteConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	s.log.Info("chat.conversation.delete", "conversation_id", conversationID, "user_id", userID)
	return nil
}
