package chatsync

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Conversations is the conversation list synchronizer: it maintains the set
// of threads visible to the local user, keeps them ordered by latest
// activity, tracks unread counters and reconciles optimistic selections
// against the server-canonical conversation id.
type Conversations struct {
	log    *slog.Logger
	rest   DataAccess
	userID string

	mu       sync.Mutex
	entries  []Conversation
	byPair   map[string]string // pair key -> conversation id
	selected string
}

// NewConversations constructs the synchronizer for userID.
func NewConversations(log *slog.Logger, rest DataAccess, userID string) *Conversations {
	if log == nil {
		log = slog.Default()
	}
	return &Conversations{
		log:    log,
		rest:   rest,
		userID: userID,
		byPair: make(map[string]string),
	}
}

// Refresh replaces the list with the server's view.
func (c *Conversations) Refresh(ctx context.Context) error {
	convs, err := c.rest.ListConversations(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = c.entries[:0]
	c.byPair = make(map[string]string, len(convs))
	for _, conv := range convs {
		c.upsertLocked(conv)
	}
	c.sortLocked()
	return nil
}

// SelectOrCreate resolves the conversation with otherUserID.
//
// Step 1 (optimistic): an existing local entry for the pair is selected
// immediately, so the view opens with no network wait.
// Step 2 (canonicalization): a get-or-create request is issued regardless;
// the call is idempotent per pair.
// Step 3 (reconciliation): if the canonical id differs from the optimistic
// selection (stale cache, concurrent creation), the local entry is replaced
// by the canonical one and the caller must refetch messages.
//
// Returns the canonical conversation and whether the optimistic selection
// had to be replaced.
func (c *Conversations) SelectOrCreate(ctx context.Context, otherUserID string) (Conversation, bool, error) {
	otherUserID = strings.TrimSpace(otherUserID)

	var optimisticID string
	c.mu.Lock()
	if local, ok := c.findByPeerLocked(otherUserID); ok {
		optimisticID = local.ID
		c.selected = local.ID
	}
	c.mu.Unlock()

	canonical, err := c.rest.GetOrCreateConversation(ctx, otherUserID)
	if err != nil {
		if optimisticID != "" {
			// Degraded: keep the optimistic selection; the server stays the
			// source of truth for identity but must not block the happy path.
			c.log.Warn("chatlist.canonicalize.fail", "other_user_id", otherUserID, "err", err)
			c.mu.Lock()
			local, _ := c.findByPeerLocked(otherUserID)
			c.mu.Unlock()
			return local, false, nil
		}
		return Conversation{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := optimisticID != "" && optimisticID != canonical.ID
	if replaced {
		c.removeLocked(optimisticID)
		c.log.Info("chatlist.reconcile",
			"optimistic_id", optimisticID, "canonical_id", canonical.ID, "other_user_id", otherUserID)
	}
	c.upsertLocked(canonical)
	c.sortLocked()
	c.selected = canonical.ID

	return canonical, replaced, nil
}

// ObserveMessage applies a live message to the list: latest-message summary,
// unread counter (skipped when the conversation is open or the message is the
// local user's own), and a re-sort by latest activity. Unknown conversation
// ids are reported so the caller can refresh the list.
func (c *Conversations) ObserveMessage(m Message, openConversationID string) (known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].ID != m.ConversationID {
			continue
		}

		c.entries[i].LastMessage = &Summary{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			Text:      m.Text,
			SentAt:    m.SentAt,
		}
		if m.SenderID != c.userID && m.ConversationID != openConversationID {
			c.entries[i].Unread++
		}
		c.sortLocked()
		return true
	}
	return false
}

// ObserveRead zeroes the unread counter when the local user read the
// conversation on another session.
func (c *Conversations) ObserveRead(conversationID, userID string) {
	if userID != c.userID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].ID == conversationID {
			c.entries[i].Unread = 0
			return
		}
	}
}

// MarkRead zeroes the local unread counter optimistically and acknowledges
// the read to the server. A failed acknowledgement does NOT roll the counter
// back: read receipts are best-effort and local UI consistency wins; the
// failure is logged instead.
func (c *Conversations) MarkRead(ctx context.Context, conversationID string) {
	c.mu.Lock()
	for i := range c.entries {
		if c.entries[i].ID == conversationID {
			c.entries[i].Unread = 0
			break
		}
	}
	c.mu.Unlock()

	if err := c.rest.MarkAsRead(ctx, conversationID); err != nil {
		c.log.Warn("chatlist.mark_read.fail", "conversation_id", conversationID, "err", err)
	}
}

// Delete removes the conversation optimistically and issues the delete
// request. If the deleted conversation was selected, the selection clears.
// No undo: a failed request is logged, the local removal stands.
func (c *Conversations) Delete(ctx context.Context, conversationID string) {
	c.mu.Lock()
	c.removeLocked(conversationID)
	if c.selected == conversationID {
		c.selected = ""
	}
	c.mu.Unlock()

	if err := c.rest.DeleteConversation(ctx, conversationID); err != nil {
		c.log.Warn("chatlist.delete.fail", "conversation_id", conversationID, "err", err)
	}
}

// Selected returns the currently selected conversation id ("" when none).
func (c *Conversations) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// ClearSelection drops the selection (view closed).
func (c *Conversations) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = ""
}

// Snapshot returns the list ordered by latest activity, most recent first.
func (c *Conversations) Snapshot() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Conversation, len(c.entries))
	copy(out, c.entries)
	return out
}

// ---- internals (callers hold c.mu) ----

func (c *Conversations) findByPeerLocked(otherUserID string) (Conversation, bool) {
	if id, ok := c.byPair[pairKey(c.userID, otherUserID)]; ok {
		for _, e := range c.entries {
			if e.ID == id {
				return e, true
			}
		}
	}
	return Conversation{}, false
}

// upsertLocked inserts or replaces an entry, enforcing the "no duplicate
// participant pairs" invariant: a different conversation id for an already
// known pair replaces the stale entry.
func (c *Conversations) upsertLocked(conv Conversation) {
	key := pairKey(c.userID, conv.OtherParticipant(c.userID))

	if prevID, ok := c.byPair[key]; ok && prevID != conv.ID {
		c.removeLocked(prevID)
	}
	for i := range c.entries {
		if c.entries[i].ID == conv.ID {
			c.entries[i] = conv
			c.byPair[key] = conv.ID
			return
		}
	}
	c.entries = append(c.entries, conv)
	c.byPair[key] = conv.ID
}

func (c *Conversations) removeLocked(conversationID string) {
	for i := range c.entries {
		if c.entries[i].ID != conversationID {
			continue
		}
		key := pairKey(c.userID, c.entries[i].OtherParticipant(c.userID))
		if c.byPair[key] == conversationID {
			delete(c.byPair, key)
		}
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
		return
	}
}

func (c *Conversations) sortLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		ai, aj := c.entries[i].LastActivity(), c.entries[j].LastActivity()
		if ai.Equal(aj) {
			return c.entries[i].ID > c.entries[j].ID
		}
		return ai.After(aj)
	})
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
