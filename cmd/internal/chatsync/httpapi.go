package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDataAccess implements DataAccess against the BizHub chat REST API.
type HTTPDataAccess struct {
	baseURL  string
	userID   string
	userName string
	client   *http.Client
}

// NewHTTPDataAccess constructs a REST client scoped to userID.
func NewHTTPDataAccess(baseURL, userID, userName string, client *http.Client) (*HTTPDataAccess, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chatsync: empty base URL")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("chatsync: empty user id")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPDataAccess{
		baseURL:  baseURL,
		userID:   userID,
		userName: userName,
		client:   client,
	}, nil
}

// ---- wire DTOs (mirror cmd/internal/chat/api) ----

type wireConversation struct {
	ID           string       `json:"id"`
	Participants []string     `json:"participants"`
	CreatedAt    time.Time    `json:"created_at"`
	LastMessage  *wireSummary `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}

type wireSummary struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

type wireMessage struct {
	ID             string     `json:"id"`
	ClientMsgID    string     `json:"client_msg_id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	Text           string     `json:"text"`
	SentAt         time.Time  `json:"sent_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
}

func (w wireConversation) toConversation() Conversation {
	out := Conversation{
		ID:           w.ID,
		Participants: w.Participants,
		CreatedAt:    w.CreatedAt,
		Unread:       w.UnreadCount,
	}
	if w.LastMessage != nil {
		out.LastMessage = &Summary{
			MessageID: w.LastMessage.MessageID,
			SenderID:  w.LastMessage.SenderID,
			Text:      w.LastMessage.Text,
			SentAt:    w.LastMessage.SentAt,
		}
	}
	return out
}

func (w wireMessage) toMessage() Message {
	return Message{
		ID:             w.ID,
		ClientMsgID:    w.ClientMsgID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		SenderName:     w.SenderName,
		Text:           w.Text,
		SentAt:         w.SentAt,
		EditedAt:       w.EditedAt,
		State:          StateConfirmed,
	}
}

// ---- DataAccess ----

// ListConversations fetches the caller's conversation list.
func (a *HTTPDataAccess) ListConversations(ctx context.Context) ([]Conversation, error) {
	var res struct {
		Conversations []wireConversation `json:"conversations"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/chats", nil, &res); err != nil {
		return nil, err
	}

	out := make([]Conversation, 0, len(res.Conversations))
	for _, c := range res.Conversations {
		out = append(out, c.toConversation())
	}
	return out, nil
}

// GetOrCreateConversation resolves the canonical conversation for the pair.
func (a *HTTPDataAccess) GetOrCreateConversation(ctx context.Context, otherUserID string) (Conversation, error) {
	body := map[string]string{"other_user_id": otherUserID}

	var res wireConversation
	if err := a.do(ctx, http.MethodPost, "/api/chats", body, &res); err != nil {
		return Conversation{}, err
	}
	return res.toConversation(), nil
}

// ListMessages fetches a history window (ascending; newest window first).
func (a *HTTPDataAccess) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]Message, bool, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		q.Set("before", beforeID)
	}
	path := "/api/chats/" + url.PathEscape(conversationID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var res struct {
		Messages []wireMessage `json:"messages"`
		HasMore  bool          `json:"has_more"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, false, err
	}

	out := make([]Message, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, m.toMessage())
	}
	return out, res.HasMore, nil
}

// SendMessage submits a message; clientMsgID makes retries idempotent.
func (a *HTTPDataAccess) SendMessage(ctx context.Context, conversationID, clientMsgID, text string) (Message, error) {
	body := map[string]string{"client_msg_id": clientMsgID, "text": text}

	var res struct {
		Message wireMessage `json:"message"`
	}
	path := "/api/chats/" + url.PathEscape(conversationID) + "/messages"
	if err := a.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return Message{}, err
	}
	return res.Message.toMessage(), nil
}

// EditMessage replaces the text of the caller's own message.
func (a *HTTPDataAccess) EditMessage(ctx context.Context, messageID, text string) (Message, error) {
	body := map[string]string{"text": text}

	var res wireMessage
	if err := a.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(messageID), body, &res); err != nil {
		return Message{}, err
	}
	return res.toMessage(), nil
}

// DeleteMessages removes the caller's own messages.
func (a *HTTPDataAccess) DeleteMessages(ctx context.Context, conversationID string, messageIDs []string) error {
	body := map[string]any{"conversation_id": conversationID, "message_ids": messageIDs}
	return a.do(ctx, http.MethodPost, "/api/messages/delete", body, nil)
}

// MarkAsRead acknowledges the conversation as read.
func (a *HTTPDataAccess) MarkAsRead(ctx context.Context, conversationID string) error {
	return a.do(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// DeleteConversation soft-deletes the thread from the caller's view.
func (a *HTTPDataAccess) DeleteConversation(ctx context.Context, conversationID string) error {
	return a.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(conversationID), nil, nil)
}

// ---- transport ----

func (a *HTTPDataAccess) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", a.userID)
	if a.userName != "" {
		req.Header.Set("X-User-Name", a.userName)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a structured error returned by the chat REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s: %s", e.Status, e.Code, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = json.Unmarshal(raw, &body)

	return &APIError{
		Status:  resp.StatusCode,
		Code:    body.Error.Code,
		Message: body.Error.Message,
	}
}
