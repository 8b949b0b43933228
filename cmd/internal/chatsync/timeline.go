package chatsync

import "sync"

// Timeline owns the two confirmed message sources for one open conversation:
// the paginated historical window and the live event buffer. The merged view
// is recomputed on demand; the sources stay independent so a failed history
// fetch never blocks live delivery and vice versa.
type Timeline struct {
	mu             sync.Mutex
	conversationID string
	historical     []Message
	live           []Message
	hasMore        bool
}

// NewTimeline constructs a timeline scoped to one conversation id.
func NewTimeline(conversationID string) *Timeline {
	return &Timeline{conversationID: conversationID}
}

// ConversationID returns the scope of this timeline.
func (t *Timeline) ConversationID() string { return t.conversationID }

// SetHistory replaces the historical window (authoritative for persisted
// messages up to the fetch boundary). hasMore records whether older pages exist.
func (t *Timeline) SetHistory(msgs []Message, hasMore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.historical = append([]Message(nil), msgs...)
	t.hasMore = hasMore
}

// PrependHistory adds an older page in front of the current window.
func (t *Timeline) PrependHistory(msgs []Message, hasMore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.historical = append(append([]Message(nil), msgs...), t.historical...)
	t.hasMore = hasMore
}

// HasMore reports whether older history pages remain.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// OldestID returns the id cursor for fetching the next older page ("" when empty).
func (t *Timeline) OldestID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.historical) == 0 {
		return ""
	}
	return t.historical[0].ID
}

// AppendLive adds a message delivered on the realtime channel (or the REST
// ack, or the polling fallback). Events scoped to another conversation are
// ignored. Duplicate ids already buffered are dropped so the ack/echo race
// cannot double an entry.
func (t *Timeline) AppendLive(m Message) bool {
	if m.ConversationID != t.conversationID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if m.ID != "" {
		for _, have := range t.live {
			if have.ID == m.ID {
				return false
			}
		}
	}
	t.live = append(t.live, m)
	return true
}

// RemoveByID drops a message from both sources (realtime deletion or a
// confirmed local delete).
func (t *Timeline) RemoveByID(id string) bool {
	if id == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := false
	t.historical, removed = removeMessage(t.historical, id, removed)
	t.live, removed = removeMessage(t.live, id, removed)
	return removed
}

// ApplyEdit rewrites the text of an already-present message in place.
func (t *Timeline) ApplyEdit(m Message) {
	if m.ID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.historical {
		if t.historical[i].ID == m.ID {
			t.historical[i].Text = m.Text
			t.historical[i].EditedAt = m.EditedAt
		}
	}
	for i := range t.live {
		if t.live[i].ID == m.ID {
			t.live[i].Text = m.Text
			t.live[i].EditedAt = m.EditedAt
		}
	}
}

// Snapshot merges both sources plus any pending optimistic entries into the
// ordered, de-duplicated view the UI renders.
func (t *Timeline) Snapshot(pending ...Message) []Message {
	t.mu.Lock()
	historical := append([]Message(nil), t.historical...)
	live := append([]Message(nil), t.live...)
	t.mu.Unlock()

	return MergeTimeline(historical, append(live, pending...))
}

func removeMessage(msgs []Message, id string, removed bool) ([]Message, bool) {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID == id {
			removed = true
			continue
		}
		out = append(out, m)
	}
	return out, removed
}
