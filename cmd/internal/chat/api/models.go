package chatapi

import (
	"time"

	"bizhub/cmd/internal/chat"
)

// ---- wire DTOs ----

type conversationDTO struct {
	ID           string      `json:"id"`
	Participants []string    `json:"participants"`
	CreatedAt    time.Time   `json:"created_at"`
	LastMessage  *summaryDTO `json:"last_message,omitempty"`
	UnreadCount  int         `json:"unread_count"`
}

type summaryDTO struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

type messageDTO struct {
	ID             string     `json:"id"`
	ClientMsgID    string     `json:"client_msg_id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	Text           string     `json:"text"`
	SentAt         time.Time  `json:"sent_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
}

type conversationListResponse struct {
	Conversations []conversationDTO `json:"conversations"`
}

type messageListResponse struct {
	Messages []messageDTO `json:"messages"`
	HasMore  bool         `json:"has_more"`
}

type createConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type sendMessageRequest struct {
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

type sendMessageResponse struct {
	Message    messageDTO `json:"message"`
	Duplicated bool       `json:"duplicated,omitempty"`
}

type editMessageRequest struct {
	Text string `json:"text"`
}

type deleteMessagesRequest struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type deleteMessagesResponse struct {
	DeletedIDs []string `json:"deleted_ids"`
}

// ---- mapping ----

func toConversationDTO(c chat.Conversation, viewerID string) conversationDTO {
	out := conversationDTO{
		ID:           c.ID,
		Participants: c.Participants,
		CreatedAt:    c.CreatedAt,
		UnreadCount:  c.UnreadFor(viewerID),
	}
	if c.LastMessage != nil {
		out.LastMessage = &summaryDTO{
			MessageID: c.LastMessage.MessageID,
			SenderID:  c.LastMessage.SenderID,
			Text:      c.LastMessage.Text,
			SentAt:    c.LastMessage.SentAt,
		}
	}
	return out
}

func toMessageDTO(m chat.Message) messageDTO {
	return messageDTO{
		ID:             m.ID,
		ClientMsgID:    m.ClientMsgID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Text:           m.Text,
		SentAt:         m.SentAt,
		EditedAt:       m.EditedAt,
	}
}
