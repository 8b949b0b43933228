// Package chatapi exposes the chat domain over HTTP.
//
// Identity arrives via the X-User-ID header; authentication itself is handled
// upstream and is out of scope here.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"bizhub/cmd/internal/chat"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10 // 64 KiB

// Handler wires HTTP chat endpoints to the chat service.
type Handler struct {
	log *slog.Logger
	svc *chat.Service
}

// NewHandler constructs a chat API handler.
func NewHandler(log *slog.Logger, svc *chat.Service) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if svc == nil {
		return nil, errors.New("chatapi: nil service")
	}
	return &Handler{log: log, svc: svc}, nil
}

// Register mounts the chat routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/chats", h.handleListConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/chats", h.handleCreateConversation).Methods(http.MethodPost)
	r.HandleFunc("/api/chats/{id}", h.handleDeleteConversation).Methods(http.MethodDelete)
	r.HandleFunc("/api/chats/{id}/messages", h.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/chats/{id}/messages", h.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/chats/{id}/read", h.handleMarkRead).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}", h.handleEditMessage).Methods(http.MethodPatch)
	r.HandleFunc("/api/messages/delete", h.handleDeleteMessages).Methods(http.MethodPost)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]conversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationDTO(c, userID))
	}
	writeJSON(w, http.StatusOK, conversationListResponse{Conversations: out})
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	conv, err := h.svc.GetOrCreateConversation(r.Context(), userID, req.OtherUserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationDTO(conv, userID))
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteConversation(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	res, err := h.svc.ListMessages(r.Context(), userID, mux.Vars(r)["id"], strings.TrimSpace(q.Get("before")), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	out := make([]messageDTO, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, toMessageDTO(m))
	}
	writeJSON(w, http.StatusOK, messageListResponse{Messages: out, HasMore: res.HasMore})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if strings.TrimSpace(req.ClientMsgID) == "" {
		writeError(w, http.StatusBadRequest, "missing_client_msg_id", "client_msg_id is required")
		return
	}

	res, err := h.svc.SendMessage(r.Context(), chat.AppendMessageInput{
		ConversationID: mux.Vars(r)["id"],
		ClientMsgID:    strings.TrimSpace(req.ClientMsgID),
		SenderID:       userID,
		SenderName:     strings.TrimSpace(r.Header.Get("X-User-Name")),
		Text:           req.Text,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, sendMessageResponse{Message: toMessageDTO(res.Stored), Duplicated: res.Duplicated})
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req editMessageRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	msg, err := h.svc.EditMessage(r.Context(), mux.Vars(r)["id"], userID, req.Text)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageDTO(msg))
}

func (h *Handler) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req deleteMessagesRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	removed, err := h.svc.DeleteMessages(r.Context(), req.ConversationID, userID, req.MessageIDs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteMessagesResponse{DeletedIDs: removed})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.MarkRead(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
		return "", false
	}
	return userID, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "conversation or message not found")
	case errors.Is(err, chat.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not_participant", "not a participant of this conversation")
	case errors.Is(err, chat.ErrNotSender):
		writeError(w, http.StatusForbidden, "not_sender", "only the sender may modify a message")
	case errors.Is(err, chat.ErrTextTooLong):
		writeError(w, http.StatusUnprocessableEntity, "text_too_long", "message text exceeds the limit")
	case errors.Is(err, chat.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request")
	default:
		h.log.Error("chatapi.internal", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
