package chatapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bizhub/cmd/internal/chat"

	"github.com/gorilla/mux"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := chat.NewService(log, chat.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h, err := NewHandler(log, svc)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	r := mux.NewRouter()
	h.Register(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v (body=%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

func createConversation(t *testing.T, h http.Handler, userID, otherID string) conversationDTO {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/chats", userID, map[string]string{"other_user_id": otherID})
	if rec.Code != http.StatusOK {
		t.Fatalf("create conversation: status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody[conversationDTO](t, rec)
}

func TestHandler_RequiresUserHeader(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	rec := doJSON(t, h, http.MethodGet, "/api/chats", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", rec.Code)
	}
	if code := errorCode(t, rec); code != "missing_user" {
		t.Fatalf("code=%q", code)
	}
}

func TestHandler_CreateConversation_Idempotent(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)

	first := createConversation(t, h, "alice", "bob")
	second := createConversation(t, h, "bob", "alice")
	if first.ID != second.ID {
		t.Fatalf("pair resolved to two conversations: %q vs %q", first.ID, second.ID)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/chats", "alice", nil)
	list := decodeBody[conversationListResponse](t, rec)
	if len(list.Conversations) != 1 {
		t.Fatalf("conversations=%d want=1", len(list.Conversations))
	}
}

func TestHandler_SendMessage_StatusReflectsDuplication(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	body := map[string]string{"client_msg_id": "c1", "text": "hello"}
	rec := doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d want=201 body=%s", rec.Code, rec.Body.String())
	}
	sent := decodeBody[sendMessageResponse](t, rec)
	if sent.Duplicated || sent.Message.ClientMsgID != "c1" {
		t.Fatalf("response=%+v", sent)
	}

	// Retry with the same client_msg_id: 200 plus the original message.
	rec = doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status=%d want=200", rec.Code)
	}
	dup := decodeBody[sendMessageResponse](t, rec)
	if !dup.Duplicated || dup.Message.ID != sent.Message.ID {
		t.Fatalf("retry response=%+v", dup)
	}
}

func TestHandler_SendMessage_Validation(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	cases := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing client id",
			body:       map[string]string{"text": "hi"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "missing_client_msg_id",
		},
		{
			name:       "empty text",
			body:       map[string]string{"client_msg_id": "c1", "text": "  "},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_input",
		},
		{
			name:       "too long",
			body:       map[string]string{"client_msg_id": "c2", "text": strings.Repeat("x", 5000)},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "text_too_long",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d want=%d", rec.Code, tc.wantStatus)
			}
			if code := errorCode(t, rec); code != tc.wantCode {
				t.Fatalf("code=%q want=%q", code, tc.wantCode)
			}
		})
	}
}

func TestHandler_ListMessages_PagingAndAccess(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	for _, id := range []string{"c1", "c2", "c3"} {
		rec := doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice",
			map[string]string{"client_msg_id": id, "text": "msg " + id})
		if rec.Code != http.StatusCreated {
			t.Fatalf("send %s: status=%d", id, rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/api/chats/"+conv.ID+"/messages?limit=2", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	page := decodeBody[messageListResponse](t, rec)
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("len=%d hasMore=%v", len(page.Messages), page.HasMore)
	}

	older := doJSON(t, h, http.MethodGet,
		"/api/chats/"+conv.ID+"/messages?limit=2&before="+page.Messages[0].ID, "bob", nil)
	prev := decodeBody[messageListResponse](t, older)
	if len(prev.Messages) != 1 || prev.HasMore {
		t.Fatalf("older len=%d hasMore=%v", len(prev.Messages), prev.HasMore)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/chats/"+conv.ID+"/messages", "mallory", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider status=%d want=403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/chats/"+conv.ID+"/messages?limit=nope", "bob", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d want=400", rec.Code)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	rec := doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice",
		map[string]string{"client_msg_id": "c1", "text": "hi"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status=%d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/read", "bob", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("read status=%d want=204", rec.Code)
	}

	list := decodeBody[conversationListResponse](t, doJSON(t, h, http.MethodGet, "/api/chats", "bob", nil))
	if list.Conversations[0].UnreadCount != 0 {
		t.Fatalf("unread=%d want=0", list.Conversations[0].UnreadCount)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/chats/missing/read", "bob", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing conv status=%d want=404", rec.Code)
	}
}

func TestHandler_EditMessage_OwnershipMapping(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	rec := doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice",
		map[string]string{"client_msg_id": "c1", "text": "draft"})
	sent := decodeBody[sendMessageResponse](t, rec)

	rec = doJSON(t, h, http.MethodPatch, "/api/messages/"+sent.Message.ID, "bob",
		map[string]string{"text": "hijack"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d want=403", rec.Code)
	}
	if code := errorCode(t, rec); code != "not_sender" {
		t.Fatalf("code=%q", code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/messages/"+sent.Message.ID, "alice",
		map[string]string{"text": "final"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	edited := decodeBody[messageDTO](t, rec)
	if edited.Text != "final" || edited.EditedAt == nil {
		t.Fatalf("edited=%+v", edited)
	}
}

func TestHandler_DeleteMessages(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	rec := doJSON(t, h, http.MethodPost, "/api/chats/"+conv.ID+"/messages", "alice",
		map[string]string{"client_msg_id": "c1", "text": "oops"})
	sent := decodeBody[sendMessageResponse](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/messages/delete", "bob", deleteMessagesRequest{
		ConversationID: conv.ID, MessageIDs: []string{sent.Message.ID},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign delete status=%d want=403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/messages/delete", "alice", deleteMessagesRequest{
		ConversationID: conv.ID, MessageIDs: []string{sent.Message.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	res := decodeBody[deleteMessagesResponse](t, rec)
	if len(res.DeletedIDs) != 1 || res.DeletedIDs[0] != sent.Message.ID {
		t.Fatalf("deleted=%v", res.DeletedIDs)
	}
}

func TestHandler_DeleteConversation(t *testing.T) {
	t.Parallel()

	h := newTestAPI(t)
	conv := createConversation(t, h, "alice", "bob")

	rec := doJSON(t, h, http.MethodDelete, "/api/chats/"+conv.ID, "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d want=204", rec.Code)
	}

	list := decodeBody[conversationListResponse](t, doJSON(t, h, http.MethodGet, "/api/chats", "alice", nil))
	if len(list.Conversations) != 0 {
		t.Fatalf("hidden thread still listed: %v", list.Conversations)
	}

	// The peer still sees the thread.
	list = decodeBody[conversationListResponse](t, doJSON(t, h, http.MethodGet, "/api/chats", "bob", nil))
	if len(list.Conversations) != 1 {
		t.Fatalf("peer list=%v", list.Conversations)
	}
}
