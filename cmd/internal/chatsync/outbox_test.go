package chatsync

import (
	"errors"
	"testing"
	"time"
)

func TestOutbox_AddProducesPendingWithoutServerID(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m := ob.Add("hello", now)
	if m.ID != "" {
		t.Fatalf("optimistic entry must not carry a server id: %q", m.ID)
	}
	if m.ClientMsgID == "" {
		t.Fatal("missing client msg id")
	}
	if m.State != StatePending {
		t.Fatalf("state=%v want=pending", m.State)
	}
	if got := ob.Unresolved(); len(got) != 1 {
		t.Fatalf("unresolved=%d want=1", len(got))
	}
}

func TestOutbox_ConfirmResolvesPending(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	p := ob.Add("hello", now)
	confirmed, ok := ob.Confirm(p.ClientMsgID, Message{
		ID: "m1", ConversationID: "conv", SenderID: "me", Text: "hello", SentAt: now,
	})
	if !ok {
		t.Fatal("confirm missed the pending entry")
	}
	if confirmed.ID != "m1" || confirmed.State != StateConfirmed {
		t.Fatalf("bad confirmed message: %+v", confirmed)
	}
	if confirmed.ClientMsgID != p.ClientMsgID {
		t.Fatalf("client msg id lost: %q", confirmed.ClientMsgID)
	}
	if got := ob.Unresolved(); len(got) != 0 {
		t.Fatalf("unresolved=%d want=0", len(got))
	}

	if _, ok := ob.Confirm(p.ClientMsgID, Message{ID: "m1"}); ok {
		t.Fatal("second confirm must miss")
	}
}

func TestOutbox_ObserveEcho_PrefersClientMsgID(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p := ob.Add("hello", now)

	echo := Message{
		ID: "m1", ClientMsgID: p.ClientMsgID, ConversationID: "conv",
		SenderID: "me", Text: "hello", SentAt: now, State: StateConfirmed,
	}
	if !ob.ObserveEcho(echo) {
		t.Fatal("echo with matching client msg id must reconcile")
	}
	if got := ob.Unresolved(); len(got) != 0 {
		t.Fatalf("unresolved=%d want=0", len(got))
	}
	if ob.ObserveEcho(echo) {
		t.Fatal("second echo must not match anything")
	}
}

func TestOutbox_ObserveEcho_FingerprintFallback(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ob.Add("hello", now)

	// Echo without a client msg id, close in time, same sender and content.
	echo := Message{
		ID: "m1", ConversationID: "conv", SenderID: "me",
		Text: "hello", SentAt: now.Add(2 * time.Second), State: StateConfirmed,
	}
	if !ob.ObserveEcho(echo) {
		t.Fatal("fingerprint match expected")
	}
}

func TestOutbox_ObserveEcho_RejectsOutsideWindowAndForeign(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ob.Add("hello", now)

	stale := Message{ID: "m1", ConversationID: "conv", SenderID: "me", Text: "hello", SentAt: now.Add(time.Minute)}
	if ob.ObserveEcho(stale) {
		t.Fatal("echo outside the match window must not reconcile")
	}

	foreign := Message{ID: "m2", ConversationID: "conv", SenderID: "bob", Text: "hello", SentAt: now}
	if ob.ObserveEcho(foreign) {
		t.Fatal("another sender's message is never an echo")
	}

	otherConv := Message{ID: "m3", ConversationID: "elsewhere", SenderID: "me", Text: "hello", SentAt: now}
	if ob.ObserveEcho(otherConv) {
		t.Fatal("echo scoped to another conversation must not reconcile")
	}
}

func TestOutbox_FailKeepsEntryVisible(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p := ob.Add("hello", now)

	if !ob.Fail(p.ClientMsgID, errors.New("boom")) {
		t.Fatal("fail missed the pending entry")
	}

	got := ob.Unresolved()
	if len(got) != 1 {
		t.Fatalf("failed entry must stay visible: %v", got)
	}
	if got[0].State != StateFailed {
		t.Fatalf("state=%v want=failed", got[0].State)
	}
}

func TestOutbox_RetryMovesFailedBackToPending(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	p := ob.Add("hello", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	ob.Fail(p.ClientMsgID, errors.New("boom"))

	m, ok := ob.Retry(p.ClientMsgID)
	if !ok {
		t.Fatal("retry missed the failed entry")
	}
	if m.State != StatePending {
		t.Fatalf("state=%v want=pending", m.State)
	}
	if m.ClientMsgID != p.ClientMsgID {
		t.Fatalf("retry must keep the client msg id: %q", m.ClientMsgID)
	}

	if _, ok := ob.Confirm(p.ClientMsgID, Message{ID: "m1", ConversationID: "conv", SenderID: "me", Text: "hello"}); !ok {
		t.Fatal("retried entry must be confirmable")
	}
}

func TestOutbox_DiscardDropsFailedEntry(t *testing.T) {
	t.Parallel()

	ob := NewOutbox("conv", "me")
	p := ob.Add("hello", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	ob.Fail(p.ClientMsgID, errors.New("boom"))

	if !ob.Discard(p.ClientMsgID) {
		t.Fatal("discard missed the failed entry")
	}
	if got := ob.Unresolved(); len(got) != 0 {
		t.Fatalf("unresolved=%d want=0", len(got))
	}
	if ob.Discard(p.ClientMsgID) {
		t.Fatal("second discard must report false")
	}
}
