package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	memMaxMessagesPerConversation = 10_000

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MemoryStore is a dev-only fallback when DB is not configured.
// It implements the full Store contract, including pair idempotency,
// client_msg_id dedupe, unread counters and per-user soft deletes.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConversation
	pairs map[string]string // pair key -> conversation id
	index map[string]string // message id -> conversation id
}

type memConversation struct {
	conv   Conversation
	dedupe map[string]Message // client_msg_id -> stored message
	msgs   []Message          // ordered by id (ULID, so also by time)
}

// NewMemoryStore constructs an in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*memConversation),
		pairs: make(map[string]string),
		index: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// GetOrCreateConversation returns the canonical conversation for the pair,
// creating it on first contact. Repeated calls return the same id.
func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, in GetOrCreateInput) (GetOrCreateResult, error) {
	a := strings.TrimSpace(in.UserID)
	b := strings.TrimSpace(in.OtherUserID)
	if a == "" || b == "" || a == b {
		return GetOrCreateResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return GetOrCreateResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := PairKey(a, b)
	if id, ok := s.pairs[key]; ok {
		c := s.convs[id]
		// Reopening a hidden thread resurfaces it for the caller.
		c.conv.HiddenFor = removeUser(c.conv.HiddenFor, a)
		return GetOrCreateResult{Conversation: copyConversation(c.conv)}, nil
	}

	id, err := NewULID(now)
	if err != nil {
		return GetOrCreateResult{}, err
	}

	c := &memConversation{
		conv: Conversation{
			ID:           id,
			Participants: []string{a, b},
			CreatedAt:    now,
			Unread:       make(map[string]int),
		},
		dedupe: make(map[string]Message),
	}
	s.convs[id] = c
	s.pairs[key] = id

	return GetOrCreateResult{Conversation: copyConversation(c.conv), Created: true}, nil
}

// ListConversations returns the caller's visible conversations, most recent first.
func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if !c.conv.HasParticipant(userID) || containsUser(c.conv.HiddenFor, userID) {
			continue
		}
		out = append(out, copyConversation(c.conv))
	}
	s.mu.Unlock()

	SortByActivity(out)
	return out, nil
}

// GetConversation returns a conversation by id.
func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return copyConversation(c.conv), nil
}

// DeleteConversation soft-deletes the thread from the caller's view.
func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if !c.conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if !containsUser(c.conv.HiddenFor, userID) {
		c.conv.HiddenFor = append(c.conv.HiddenFor, userID)
	}
	c.conv.Unread[userID] = 0
	return nil
}

// AppendMessage persists a message with idempotency per client_msg_id,
// bumps the recipient's unread counter and refreshes the latest summary.
func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendMessageResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[in.ConversationID]
	if !ok {
		return AppendMessageResult{}, ErrNotFound
	}
	if !c.conv.HasParticipant(in.SenderID) {
		return AppendMessageResult{}, ErrNotParticipant
	}

	if existing, ok := c.dedupe[in.ClientMsgID]; ok {
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}

	id, err := NewULID(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	msg := Message{
		ID:             id,
		ClientMsgID:    in.ClientMsgID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Text:           in.Text,
		SentAt:         now,
	}
	c.dedupe[in.ClientMsgID] = msg
	c.msgs = append(c.msgs, msg)
	s.index[id] = in.ConversationID

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		drop := c.msgs[:len(c.msgs)-memMaxMessagesPerConversation]
		for _, m := range drop {
			delete(s.index, m.ID)
			delete(c.dedupe, m.ClientMsgID)
		}
		c.msgs = c.msgs[len(drop):]
	}

	c.conv.LastMessage = &Summary{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		SentAt:    msg.SentAt,
	}
	for _, p := range c.conv.Participants {
		if p != in.SenderID {
			c.conv.Unread[p]++
		}
	}
	// A new message resurfaces the thread for everyone who hid it.
	c.conv.HiddenFor = nil

	return AppendMessageResult{Stored: msg, Duplicated: false}, nil
}

// ListMessages returns the newest window before BeforeID, ordered ASC.
func (s *MemoryStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if in.ConversationID == "" {
		return ListMessagesResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)

	s.mu.Lock()
	c, ok := s.convs[in.ConversationID]
	var snap []Message
	if ok {
		snap = make([]Message, 0, len(c.msgs))
		for _, m := range c.msgs {
			if in.ForUserID != "" && containsUser(m.HiddenFor, in.ForUserID) {
				continue
			}
			snap = append(snap, copyMessage(m))
		}
	}
	s.mu.Unlock()

	if !ok {
		return ListMessagesResult{}, ErrNotFound
	}
	if len(snap) == 0 {
		return ListMessagesResult{}, nil
	}

	// Ensure ordering defensively. ULIDs make id order match time order.
	sort.Slice(snap, func(i, j int) bool { return snap[i].ID < snap[j].ID })

	end := len(snap)
	if in.BeforeID != "" {
		end = sort.Search(len(snap), func(i int) bool { return snap[i].ID >= in.BeforeID })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	return ListMessagesResult{Messages: snap[start:end], HasMore: start > 0}, nil
}

// EditMessage replaces the text of a message owned by EditorID.
func (s *MemoryStore) EditMessage(ctx context.Context, in EditMessageInput) (Message, error) {
	if in.MessageID == "" || in.EditorID == "" {
		return Message{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convID, ok := s.index[in.MessageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	c := s.convs[convID]

	for i := range c.msgs {
		if c.msgs[i].ID != in.MessageID {
			continue
		}
		if c.msgs[i].SenderID != in.EditorID {
			return Message{}, ErrNotSender
		}

		ts := now
		c.msgs[i].Text = in.Text
		c.msgs[i].EditedAt = &ts
		c.dedupe[c.msgs[i].ClientMsgID] = c.msgs[i]

		if c.conv.LastMessage != nil && c.conv.LastMessage.MessageID == in.MessageID {
			c.conv.LastMessage.Text = in.Text
		}
		return copyMessage(c.msgs[i]), nil
	}
	return Message{}, ErrNotFound
}

// DeleteMessages removes messages owned by OwnerID and returns the ids
// actually removed. Unknown ids are skipped silently.
func (s *MemoryStore) DeleteMessages(ctx context.Context, in DeleteMessagesInput) ([]string, error) {
	if in.ConversationID == "" || in.OwnerID == "" || len(in.MessageIDs) == 0 {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doomed := make(map[string]bool, len(in.MessageIDs))
	for _, id := range in.MessageIDs {
		doomed[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[in.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	// Ownership is verified before anything is mutated.
	for _, m := range c.msgs {
		if doomed[m.ID] && m.SenderID != in.OwnerID {
			return nil, ErrNotSender
		}
	}

	var removed []string
	kept := c.msgs[:0]
	for _, m := range c.msgs {
		if doomed[m.ID] {
			removed = append(removed, m.ID)
			delete(s.index, m.ID)
			delete(c.dedupe, m.ClientMsgID)
			continue
		}
		kept = append(kept, m)
	}
	c.msgs = kept

	if c.conv.LastMessage != nil && doomed[c.conv.LastMessage.MessageID] {
		c.conv.LastMessage = nil
		if n := len(c.msgs); n > 0 {
			last := c.msgs[n-1]
			c.conv.LastMessage = &Summary{
				MessageID: last.ID,
				SenderID:  last.SenderID,
				Text:      last.Text,
				SentAt:    last.SentAt,
			}
		}
	}

	return removed, nil
}

// MarkRead zeroes the caller's unread counter.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" || userID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if !c.conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	c.conv.Unread[userID] = 0
	return nil
}

// ---- helpers ----

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func removeUser(users []string, userID string) []string {
	out := users[:0]
	for _, u := range users {
		if u != userID {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyConversation(c Conversation) Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.HiddenFor = append([]string(nil), c.HiddenFor...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	out.Unread = make(map[string]int, len(c.Unread))
	for k, v := range c.Unread {
		out.Unread[k] = v
	}
	return out
}

func copyMessage(m Message) Message {
	out := m
	out.HiddenFor = append([]string(nil), m.HiddenFor...)
	if m.EditedAt != nil {
		ts := *m.EditedAt
		out.EditedAt = &ts
	}
	return out
}
