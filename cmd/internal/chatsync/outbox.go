package chatsync

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

// echoMatchWindow bounds the fingerprint heuristic: an echo only reconciles
// against a pending entry sent within this window. The heuristic is
// best-effort; two rapid identical sends may still confuse it, which is why
// ClientMsgID matching is preferred whenever the payload carries it.
const echoMatchWindow = 10 * time.Second

// Outbox tracks optimistic sends for one conversation through the
// Pending -> Confirmed/Failed state machine.
//
// Reconciliation rule: the REST ack and the realtime echo race; whichever
// arrives first assigns the canonical id and removes the pending entry. The
// second arrival is recognized as a duplicate downstream (the Timeline
// de-duplicates by id) and never produces a second entry.
type Outbox struct {
	mu      sync.Mutex
	convID  string
	userID  string
	pending []outEntry
	failed  []outEntry
}

type outEntry struct {
	msg         Message
	fingerprint [16]byte
	err         error
}

// NewOutbox constructs an outbox scoped to one conversation and sender.
func NewOutbox(conversationID, userID string) *Outbox {
	return &Outbox{convID: conversationID, userID: userID}
}

// Add creates a pending optimistic entry for text and returns it. The entry
// carries a fresh client message id and no server id.
func (o *Outbox) Add(text string, now time.Time) Message {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msg := Message{
		ClientMsgID:    newClientMsgID(now),
		ConversationID: o.convID,
		SenderID:       o.userID,
		Text:           text,
		SentAt:         now,
		State:          StatePending,
	}

	o.mu.Lock()
	o.pending = append(o.pending, outEntry{
		msg:         msg,
		fingerprint: fingerprint(o.userID, text),
	})
	o.mu.Unlock()

	return msg
}

// Confirm resolves the pending entry for clientMsgID with its canonical id
// and timestamp (REST ack path). Returns the confirmed message and true, or
// false when no such entry is pending (the echo already won the race).
func (o *Outbox) Confirm(clientMsgID string, confirmed Message) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.pending {
		if e.msg.ClientMsgID != clientMsgID {
			continue
		}
		out := confirmed
		out.ClientMsgID = clientMsgID
		out.State = StateConfirmed
		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		return out, true
	}
	return Message{}, false
}

// ObserveEcho checks whether a live message is the echo of a pending send.
// Matching prefers the exact client message id; when the payload lacks it,
// a (sender, content, approximate time) fingerprint is used as a best-effort
// fallback. On a match the pending entry is removed and true is returned; the
// caller then treats the echo as the confirmed copy.
func (o *Outbox) ObserveEcho(m Message) bool {
	if m.SenderID != o.userID || m.ConversationID != o.convID {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if m.ClientMsgID != "" {
		for i, e := range o.pending {
			if e.msg.ClientMsgID == m.ClientMsgID {
				o.pending = append(o.pending[:i], o.pending[i+1:]...)
				return true
			}
		}
		return false
	}

	fp := fingerprint(m.SenderID, m.Text)
	for i, e := range o.pending {
		if e.fingerprint != fp {
			continue
		}
		delta := m.SentAt.Sub(e.msg.SentAt)
		if delta < -echoMatchWindow || delta > echoMatchWindow {
			continue
		}
		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		return true
	}
	return false
}

// Fail marks the pending entry for clientMsgID as failed in place. The entry
// stays visible (surfaced to the user) until explicitly retried or discarded.
func (o *Outbox) Fail(clientMsgID string, cause error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.pending {
		if e.msg.ClientMsgID != clientMsgID {
			continue
		}
		e.msg.State = StateFailed
		e.err = cause
		o.pending = append(o.pending[:i], o.pending[i+1:]...)
		o.failed = append(o.failed, e)
		return true
	}
	return false
}

// Discard drops a failed entry (explicit user action).
func (o *Outbox) Discard(clientMsgID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.failed {
		if e.msg.ClientMsgID == clientMsgID {
			o.failed = append(o.failed[:i], o.failed[i+1:]...)
			return true
		}
	}
	return false
}

// Retry moves a failed entry back to pending for an explicit user retry. The
// send timestamp is refreshed so the echo match window restarts.
func (o *Outbox) Retry(clientMsgID string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, e := range o.failed {
		if e.msg.ClientMsgID != clientMsgID {
			continue
		}
		o.failed = append(o.failed[:i], o.failed[i+1:]...)
		e.msg.State = StatePending
		e.msg.SentAt = time.Now().UTC()
		e.err = nil
		o.pending = append(o.pending, e)
		return e.msg, true
	}
	return Message{}, false
}

// Unresolved returns pending entries followed by failed ones, oldest first.
// These are the optimistic rows merged into the rendered view.
func (o *Outbox) Unresolved() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, 0, len(o.pending)+len(o.failed))
	for _, e := range o.pending {
		out = append(out, e.msg)
	}
	for _, e := range o.failed {
		out = append(out, e.msg)
	}
	return out
}

// fingerprint digests (sender, content) for the echo heuristic.
// blake2b-128 keeps entries small; collisions only matter inside the match
// window for the same sender, where identical content is ambiguous anyway.
func fingerprint(senderID, text string) [16]byte {
	h, _ := blake2b.New(16, nil)
	_ = binary.Write(h, binary.LittleEndian, int64(len(senderID)))
	h.Write([]byte(senderID))
	h.Write([]byte(text))

	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func newClientMsgID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
