package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	news     []Message
	deletes  [][]string
	readBy   []string
	readConv []string
}

func (b *fakeBroadcaster) MessageNew(_ Conversation, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.news = append(b.news, msg)
}

func (b *fakeBroadcaster) MessageDeleted(_ Conversation, messageIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, messageIDs)
}

func (b *fakeBroadcaster) ConversationRead(conv Conversation, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readConv = append(b.readConv, conv.ID)
	b.readBy = append(b.readBy, userID)
}

func newTestService(t *testing.T) (*Service, *fakeBroadcaster, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	bcast := &fakeBroadcaster{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(log, store, bcast)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, bcast, store
}

func TestService_SendMessage_Validation(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t)
	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	cases := []struct {
		name    string
		text    string
		wantErr error
	}{
		{name: "empty", text: "", wantErr: ErrInvalidInput},
		{name: "whitespace only", text: "   \n\t ", wantErr: ErrInvalidInput},
		{name: "too long", text: strings.Repeat("x", maxMessageChars+1), wantErr: ErrTextTooLong},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.SendMessage(ctx, AppendMessageInput{
				ConversationID: conv.ID, ClientMsgID: "c-" + tc.name, SenderID: "alice", Text: tc.text,
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want=%v", err, tc.wantErr)
			}
		})
	}
}

func TestService_SendMessage_BroadcastsOncePerMessage(t *testing.T) {
	t.Parallel()

	svc, bcast, store := newTestService(t)
	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	res, err := svc.SendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID, ClientMsgID: "c1", SenderID: "alice", Text: "  hello  ",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Stored.Text != "hello" {
		t.Fatalf("text not trimmed: %q", res.Stored.Text)
	}

	// A client retry with the same client_msg_id must not fan out again.
	dup, err := svc.SendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID, ClientMsgID: "c1", SenderID: "alice", Text: "hello",
	})
	if err != nil {
		t.Fatalf("retry SendMessage: %v", err)
	}
	if !dup.Duplicated || dup.Stored.ID != res.Stored.ID {
		t.Fatalf("retry result: %+v", dup)
	}

	bcast.mu.Lock()
	defer bcast.mu.Unlock()
	if len(bcast.news) != 1 || bcast.news[0].ID != res.Stored.ID {
		t.Fatalf("broadcasts=%d want=1", len(bcast.news))
	}
}

func TestService_ListMessages_ParticipantOnly(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t)
	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	if _, err := svc.ListMessages(ctx, "mallory", conv.ID, "", 0); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err=%v want=ErrNotParticipant", err)
	}
	if _, err := svc.ListMessages(ctx, "alice", "missing", "", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want=ErrNotFound", err)
	}
}

func TestService_DeleteMessages_Broadcast(t *testing.T) {
	t.Parallel()

	svc, bcast, store := newTestService(t)
	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	res, err := svc.SendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID, ClientMsgID: "c1", SenderID: "alice", Text: "oops",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	removed, err := svc.DeleteMessages(ctx, conv.ID, "alice", []string{res.Stored.ID})
	if err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("removed=%v", removed)
	}

	// Deleting an already-gone id is a quiet no-op without fanout.
	removed, err = svc.DeleteMessages(ctx, conv.ID, "alice", []string{res.Stored.ID})
	if err != nil || removed != nil {
		t.Fatalf("repeat delete: removed=%v err=%v", removed, err)
	}

	bcast.mu.Lock()
	defer bcast.mu.Unlock()
	if len(bcast.deletes) != 1 || len(bcast.deletes[0]) != 1 {
		t.Fatalf("delete broadcasts=%v", bcast.deletes)
	}
}

func TestService_MarkRead(t *testing.T) {
	t.Parallel()

	svc, bcast, store := newTestService(t)
	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	if _, err := svc.SendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID, ClientMsgID: "c1", SenderID: "alice", Text: "hi",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := svc.MarkRead(ctx, conv.ID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err=%v want=ErrNotParticipant", err)
	}

	if err := svc.MarkRead(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.UnreadFor("bob") != 0 {
		t.Fatalf("unread=%d want=0", got.UnreadFor("bob"))
	}

	bcast.mu.Lock()
	defer bcast.mu.Unlock()
	if len(bcast.readBy) != 1 || bcast.readBy[0] != "bob" || bcast.readConv[0] != conv.ID {
		t.Fatalf("read broadcast=%v/%v", bcast.readConv, bcast.readBy)
	}
}

func TestService_EditMessage_Validation(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t)
	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	res, err := svc.SendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID, ClientMsgID: "c1", SenderID: "alice", Text: "draft",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if _, err := svc.EditMessage(ctx, res.Stored.ID, "alice", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v want=ErrInvalidInput", err)
	}

	edited, err := svc.EditMessage(ctx, res.Stored.ID, "alice", " final ")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if edited.Text != "final" || edited.EditedAt == nil {
		t.Fatalf("edit result: %+v", edited)
	}
}

func TestService_NilBroadcasterIsRESTOnly(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(log, store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	conv := mustConversation(t, store, "alice", "bob", time.Now().UTC())

	if _, err := svc.SendMessage(ctx, AppendMessageInput{
		ConversationID: conv.ID, ClientMsgID: "c1", SenderID: "alice", Text: "hi",
	}); err != nil {
		t.Fatalf("SendMessage without broadcaster: %v", err)
	}
	if err := svc.MarkRead(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("MarkRead without broadcaster: %v", err)
	}
}
