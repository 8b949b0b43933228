package chatsync

import (
	"context"
	"testing"
	"time"
)

func TestPoller_FeedsTimelineThroughMergePath(t *testing.T) {
	t.Parallel()

	rest := newFakeREST()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rest.seedConversation("conv-1", "me", "bob", base)
	rest.seedMessage(msgAt("m1", "c1", "conv-1", "bob", "hello", base))

	convs := NewConversations(discardLogger(), rest, "me")
	if err := convs.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tl := NewTimeline("conv-1")
	p := NewPoller(discardLogger(), rest, convs, 20*time.Millisecond)
	p.Start(tl)
	defer p.Stop()

	waitFor(t, "polled message", func() bool { return len(tl.Snapshot()) == 1 })

	// A message that arrived on another path is not duplicated by the poll.
	rest.seedMessage(msgAt("m2", "c2", "conv-1", "bob", "again", base.Add(time.Second)))
	tl.AppendLive(msgAt("m2", "c2", "conv-1", "bob", "again", base.Add(time.Second)))

	time.Sleep(60 * time.Millisecond)
	if got := len(tl.Snapshot()); got != 2 {
		t.Fatalf("len=%d want=2 (poll must de-duplicate)", got)
	}
}

func TestPoller_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	rest := newFakeREST()
	p := NewPoller(discardLogger(), rest, nil, 10*time.Millisecond)

	p.Start(nil)
	p.Start(nil)
	if !p.Running() {
		t.Fatal("poller should be running")
	}

	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatal("poller should be stopped")
	}
}
