package chat

import "errors"

var (
	// ErrNotFound indicates the conversation or message does not exist.
	ErrNotFound = errors.New("chat: not found")

	// ErrNotParticipant indicates the acting user is not a member of the conversation.
	ErrNotParticipant = errors.New("chat: not a participant")

	// ErrNotSender indicates the acting user does not own the message.
	ErrNotSender = errors.New("chat: not the sender")

	// ErrInvalidInput indicates a structurally invalid request.
	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrTextTooLong indicates the message text exceeds the rune limit.
	ErrTextTooLong = errors.New("chat: message too long")
)
