// Package v1 defines the BizHub Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the gateway and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomJoin joins a conversation room (client -> server) and is echoed back.
	TypeRoomJoin = "room_join"
	// TypeRoomLeave leaves a conversation room (client -> server).
	TypeRoomLeave = "room_leave"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew broadcasts a newly accepted message (server -> participants).
	TypeMessageNew = "message_new"

	// TypeMessageDelete requests deleting messages (client -> server).
	TypeMessageDelete = "message_delete"
	// TypeMessageDeleted broadcasts message removal (server -> participants).
	TypeMessageDeleted = "message_deleted"

	// TypeTypingStart signals the sender started typing (relayed, not persisted).
	TypeTypingStart = "typing_start"
	// TypeTypingStop signals the sender stopped typing (relayed, not persisted).
	TypeTypingStop = "typing_stop"

	// TypeConversationRead broadcasts that a participant read a conversation.
	TypeConversationRead = "conversation_read"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conv_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomJoin,
		TypeRoomLeave,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeMessageDelete,
		TypeMessageDeleted,
		TypeTypingStart,
		TypeTypingStop,
		TypeConversationRead,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
// UserID identifies the connecting participant (authn is out of band).
type HelloPayload struct {
	UserID string `json:"user_id"`
}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// RoomJoinPayload requests membership in a conversation room.
type RoomJoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// RoomLeavePayload leaves a conversation room.
type RoomLeavePayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSendPayload requests sending a message into a conversation.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Text           string `json:"text"`
}

// MessageAckPayload acknowledges a send request and returns the canonical server ids.
type MessageAckPayload struct {
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id"`
	MessageID      string    `json:"message_id"`
	SentAt         time.Time `json:"sent_at"`
}

// MessageNewPayload is broadcast when a new message is accepted (non-duplicate).
type MessageNewPayload struct {
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
}

// MessageDeletePayload requests deletion of messages owned by the sender.
type MessageDeletePayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

// MessageDeletedPayload is broadcast when messages are removed.
type MessageDeletedPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

// TypingPayload is relayed for typing_start / typing_stop.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ConversationReadPayload is broadcast when a participant marks a conversation read.
type ConversationReadPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
