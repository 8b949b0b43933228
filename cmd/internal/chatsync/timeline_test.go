package chatsync

import (
	"testing"
	"time"
)

func TestTimeline_AppendLive_IgnoresOtherConversations(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv-a")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if tl.AppendLive(msgAt("m1", "c1", "conv-b", "bob", "wrong room", at)) {
		t.Fatal("message scoped to another conversation must be dropped")
	}
	if got := tl.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot not empty: %v", got)
	}
}

func TestTimeline_AppendLive_DropsDuplicateIDs(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m := msgAt("m1", "c1", "conv", "bob", "hi", at)
	if !tl.AppendLive(m) {
		t.Fatal("first append rejected")
	}
	if tl.AppendLive(m) {
		t.Fatal("duplicate id must be dropped")
	}
	if got := tl.Snapshot(); len(got) != 1 {
		t.Fatalf("len=%d want=1", len(got))
	}
}

func TestTimeline_HistoryAndLiveOverlapResolvesToHistory(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tl.AppendLive(msgAt("m1", "c1", "conv", "bob", "live copy", at))
	tl.SetHistory([]Message{msgAt("m1", "c1", "conv", "bob", "stored copy", at)}, false)

	got := tl.Snapshot()
	if len(got) != 1 {
		t.Fatalf("len=%d want=1 (%v)", len(got), got)
	}
	if got[0].Text != "stored copy" {
		t.Fatalf("historical copy must win: %q", got[0].Text)
	}
}

func TestTimeline_PrependHistoryKeepsCursor(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tl.SetHistory([]Message{
		msgAt("m3", "c3", "conv", "bob", "newer", at.Add(2*time.Second)),
		msgAt("m4", "c4", "conv", "bob", "newest", at.Add(3*time.Second)),
	}, true)
	if got := tl.OldestID(); got != "m3" {
		t.Fatalf("OldestID=%q want=m3", got)
	}

	tl.PrependHistory([]Message{
		msgAt("m1", "c1", "conv", "bob", "oldest", at),
		msgAt("m2", "c2", "conv", "bob", "older", at.Add(time.Second)),
	}, false)

	if tl.HasMore() {
		t.Fatal("HasMore must reflect the latest page")
	}
	if got := tl.OldestID(); got != "m1" {
		t.Fatalf("OldestID=%q want=m1", got)
	}

	ids := make([]string, 0, 4)
	for _, m := range tl.Snapshot() {
		ids = append(ids, m.ID)
	}
	want := []string{"m1", "m2", "m3", "m4"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order=%v want=%v", ids, want)
		}
	}
}

func TestTimeline_RemoveByID_BothSources(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tl.SetHistory([]Message{msgAt("m1", "c1", "conv", "bob", "stored", at)}, false)
	tl.AppendLive(msgAt("m2", "c2", "conv", "bob", "live", at.Add(time.Second)))

	if !tl.RemoveByID("m1") || !tl.RemoveByID("m2") {
		t.Fatal("removal must report true for present ids")
	}
	if tl.RemoveByID("m1") {
		t.Fatal("second removal must report false")
	}
	if got := tl.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot not empty: %v", got)
	}
}

func TestTimeline_ApplyEdit(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tl.SetHistory([]Message{msgAt("m1", "c1", "conv", "bob", "before", at)}, false)

	editedAt := at.Add(time.Minute)
	tl.ApplyEdit(Message{ID: "m1", ConversationID: "conv", Text: "after", EditedAt: &editedAt})

	got := tl.Snapshot()
	if got[0].Text != "after" || got[0].EditedAt == nil || !got[0].EditedAt.Equal(editedAt) {
		t.Fatalf("edit not applied: %+v", got[0])
	}
}

func TestTimeline_SnapshotIncludesPending(t *testing.T) {
	t.Parallel()

	tl := NewTimeline("conv")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tl.SetHistory([]Message{msgAt("m1", "c1", "conv", "bob", "stored", at)}, false)

	pending := Message{ClientMsgID: "cp", ConversationID: "conv", SenderID: "me", Text: "optimistic", SentAt: at.Add(time.Second), State: StatePending}

	got := tl.Snapshot(pending)
	if len(got) != 2 {
		t.Fatalf("len=%d want=2", len(got))
	}
	if got[1].State != StatePending {
		t.Fatalf("pending entry missing from snapshot tail: %+v", got[1])
	}
}
