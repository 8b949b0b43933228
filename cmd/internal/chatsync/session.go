package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const historyPageSize = 50

// Session orchestrates the synchronization core for one signed-in user: the
// conversation list, the open conversation's timeline and outbox, typing
// state, the realtime channel and the polling fallback.
//
// The REST and realtime collaborators are independent failure domains. A dead
// channel degrades the session to polling; a failed history fetch leaves live
// delivery running; a failed send is surfaced on the timeline, never retried
// silently.
type Session struct {
	log     *slog.Logger
	rest    DataAccess
	channel Channel
	userID  string

	convs  *Conversations
	typing *TypingTracker
	poller *Poller

	mu       sync.Mutex
	timeline *Timeline
	outbox   *Outbox

	loopDone chan struct{}
	started  bool
	closed   bool
}

// NewSession wires the core around the injected collaborators. channel may be
// nil; the session then runs on REST polling alone.
func NewSession(log *slog.Logger, rest DataAccess, channel Channel, userID string) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	if rest == nil {
		return nil, errors.New("chatsync: nil data access")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("chatsync: empty user id")
	}

	convs := NewConversations(log, rest, userID)
	return &Session{
		log:      log,
		rest:     rest,
		channel:  channel,
		userID:   userID,
		convs:    convs,
		typing:   NewTypingTracker(0),
		poller:   NewPoller(log, rest, convs, 0),
		loopDone: make(chan struct{}),
	}, nil
}

// UserID returns the local user this session is scoped to.
func (s *Session) UserID() string { return s.userID }

// Start loads the conversation list and begins consuming realtime events.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("chatsync: session already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.convs.Refresh(ctx); err != nil {
		// The event loop never launches on this path; Close waits on loopDone.
		close(s.loopDone)
		return err
	}

	if s.channel != nil {
		go s.eventLoop()
	} else {
		close(s.loopDone)
		s.poller.Start(nil)
	}
	return nil
}

// Open selects or creates the conversation with otherUserID and makes it the
// active view: the previous room is left, the new room joined, the newest
// history window fetched and the conversation marked read.
//
// A failed history fetch does not fail Open: the view renders from live
// events and optimistic sends until a later fetch succeeds.
func (s *Session) Open(ctx context.Context, otherUserID string) (Conversation, error) {
	conv, replaced, err := s.convs.SelectOrCreate(ctx, otherUserID)
	if err != nil {
		return Conversation{}, err
	}
	if replaced {
		s.log.Info("session.open.replaced", "conversation_id", conv.ID, "other_user_id", otherUserID)
	}

	s.mu.Lock()
	prev := s.timeline
	if prev != nil && prev.ConversationID() == conv.ID && !replaced {
		s.mu.Unlock()
		s.convs.MarkRead(ctx, conv.ID)
		return conv, nil
	}
	s.timeline = NewTimeline(conv.ID)
	s.outbox = NewOutbox(conv.ID, s.userID)
	tl := s.timeline
	s.mu.Unlock()

	// Room teardown before the new subscription: an event delivered into the
	// previous scope would corrupt the merge.
	if prev != nil {
		s.leaveRoom(ctx, prev.ConversationID())
		s.typing.Stop(prev.ConversationID())
	}
	if s.channel != nil {
		if err := s.channel.Join(ctx, conv.ID); err != nil {
			s.log.Warn("session.join.fail", "conversation_id", conv.ID, "err", err)
		}
	}
	if s.poller.Running() {
		s.poller.SetTimeline(tl)
	}

	msgs, hasMore, err := s.rest.ListMessages(ctx, conv.ID, historyPageSize, "")
	if err != nil {
		s.log.Warn("session.history.fail", "conversation_id", conv.ID, "err", err)
	} else {
		tl.SetHistory(msgs, hasMore)
	}

	s.convs.MarkRead(ctx, conv.ID)
	return conv, nil
}

// CloseConversation tears down the active view without closing the session.
func (s *Session) CloseConversation(ctx context.Context) {
	s.mu.Lock()
	tl := s.timeline
	s.timeline = nil
	s.outbox = nil
	s.mu.Unlock()

	if tl == nil {
		return
	}
	s.leaveRoom(ctx, tl.ConversationID())
	s.typing.Stop(tl.ConversationID())
	s.convs.ClearSelection()
	if s.poller.Running() {
		s.poller.SetTimeline(nil)
	}
}

// LoadOlder fetches the next older history page for the open conversation.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl == nil {
		return errors.New("chatsync: no open conversation")
	}
	if !tl.HasMore() {
		return nil
	}

	msgs, hasMore, err := s.rest.ListMessages(ctx, tl.ConversationID(), historyPageSize, tl.OldestID())
	if err != nil {
		return err
	}
	tl.PrependHistory(msgs, hasMore)
	return nil
}

// Send submits text optimistically: the pending entry is visible in Messages
// immediately, then resolved by whichever of the REST ack or the realtime
// echo arrives first. On failure the entry flips to failed and stays visible.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, errors.New("chatsync: empty text")
	}

	s.mu.Lock()
	tl, ob := s.timeline, s.outbox
	s.mu.Unlock()
	if tl == nil || ob == nil {
		return Message{}, errors.New("chatsync: no open conversation")
	}

	pending := ob.Add(text, time.Now().UTC())
	return s.dispatch(ctx, tl, ob, pending)
}

// Retry resubmits a failed entry (explicit user action).
func (s *Session) Retry(ctx context.Context, clientMsgID string) (Message, error) {
	s.mu.Lock()
	tl, ob := s.timeline, s.outbox
	s.mu.Unlock()
	if tl == nil || ob == nil {
		return Message{}, errors.New("chatsync: no open conversation")
	}

	msg, ok := ob.Retry(clientMsgID)
	if !ok {
		return Message{}, errors.New("chatsync: no failed entry for id")
	}
	return s.dispatch(ctx, tl, ob, msg)
}

// Discard drops a failed entry from the view.
func (s *Session) Discard(clientMsgID string) bool {
	s.mu.Lock()
	ob := s.outbox
	s.mu.Unlock()
	if ob == nil {
		return false
	}
	return ob.Discard(clientMsgID)
}

func (s *Session) dispatch(ctx context.Context, tl *Timeline, ob *Outbox, pending Message) (Message, error) {
	stored, err := s.rest.SendMessage(ctx, tl.ConversationID(), pending.ClientMsgID, pending.Text)
	if err != nil {
		ob.Fail(pending.ClientMsgID, err)
		s.log.Warn("session.send.fail", "conversation_id", tl.ConversationID(),
			"client_msg_id", pending.ClientMsgID, "err", err)
		return pending, err
	}

	if confirmed, ok := ob.Confirm(pending.ClientMsgID, stored); ok {
		tl.AppendLive(confirmed)
		return confirmed, nil
	}
	// The realtime echo won the race and already landed in the timeline.
	return stored, nil
}

// Edit replaces the text of the caller's own message.
func (s *Session) Edit(ctx context.Context, messageID, text string) error {
	updated, err := s.rest.EditMessage(ctx, messageID, text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl != nil && tl.ConversationID() == updated.ConversationID {
		tl.ApplyEdit(updated)
	}
	return nil
}

// Delete removes the caller's own messages from the open conversation.
func (s *Session) Delete(ctx context.Context, messageIDs []string) error {
	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl == nil {
		return errors.New("chatsync: no open conversation")
	}

	if err := s.rest.DeleteMessages(ctx, tl.ConversationID(), messageIDs); err != nil {
		return err
	}
	for _, id := range messageIDs {
		tl.RemoveByID(id)
	}
	return nil
}

// DeleteConversation removes a thread from the local view and the server.
// Deleting the open conversation tears the view down first.
func (s *Session) DeleteConversation(ctx context.Context, conversationID string) {
	s.mu.Lock()
	open := s.timeline != nil && s.timeline.ConversationID() == conversationID
	s.mu.Unlock()

	if open {
		s.CloseConversation(ctx)
	}
	s.convs.Delete(ctx, conversationID)
}

// SetTyping publishes the local user's typing state for the open conversation.
func (s *Session) SetTyping(ctx context.Context, typing bool) {
	if s.channel == nil {
		return
	}
	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl == nil {
		return
	}
	if err := s.channel.Typing(ctx, tl.ConversationID(), typing); err != nil {
		s.log.Warn("session.typing.fail", "conversation_id", tl.ConversationID(), "err", err)
	}
}

// TypingUser returns who is typing in the open conversation ("" when nobody).
func (s *Session) TypingUser() string {
	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl == nil {
		return ""
	}
	return s.typing.Typing(tl.ConversationID())
}

// Messages returns the rendered view of the open conversation: historical
// window, live buffer and unresolved optimistic entries merged, de-duplicated
// and ordered.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	tl, ob := s.timeline, s.outbox
	s.mu.Unlock()
	if tl == nil {
		return nil
	}
	if ob == nil {
		return tl.Snapshot()
	}
	return tl.Snapshot(ob.Unresolved()...)
}

// Conversations returns the list ordered by latest activity.
func (s *Session) Conversations() []Conversation {
	return s.convs.Snapshot()
}

// Degraded reports whether the session is running on the polling fallback.
func (s *Session) Degraded() bool { return s.poller.Running() }

// Close tears down the session: active room, channel, poller, typing timers.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.CloseConversation(ctx)
	if s.channel != nil {
		_ = s.channel.Close()
		if started {
			<-s.loopDone
		}
	}
	s.poller.Stop()
	s.typing.Close()
	return nil
}

// ---- event loop ----

func (s *Session) eventLoop() {
	defer close(s.loopDone)

	for ev := range s.channel.Events() {
		switch ev.Kind {
		case EventMessageNew:
			s.onMessageNew(ev.Message)
		case EventMessageDeleted:
			s.onMessageDeleted(ev)
		case EventTypingStart, EventTypingStop:
			s.onTyping(ev)
		case EventConversationRead:
			s.convs.ObserveRead(ev.ConversationID, ev.UserID)
		case EventChannelDown:
			s.onChannelDown(ev.Err)
		}
	}
}

func (s *Session) onMessageNew(m Message) {
	s.mu.Lock()
	tl, ob := s.timeline, s.outbox
	s.mu.Unlock()

	openID := ""
	if tl != nil {
		openID = tl.ConversationID()
	}

	// Own echo: reconcile against the outbox first so the pending entry is
	// retired before the confirmed copy lands. If the REST ack already won,
	// ObserveEcho misses and AppendLive de-duplicates by id.
	if m.SenderID == s.userID && ob != nil && m.ConversationID == openID {
		ob.ObserveEcho(m)
	}

	if tl != nil && m.ConversationID == openID {
		tl.AppendLive(m)
	}

	known := s.convs.ObserveMessage(m, openID)
	if !known {
		// A thread created elsewhere. The list refresh pulls it in.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.convs.Refresh(ctx); err != nil {
			s.log.Warn("session.list.refresh.fail", "err", err)
		}
		cancel()
	}

	// A message arriving into the open view is read by definition.
	if m.SenderID != s.userID && m.ConversationID == openID && openID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.convs.MarkRead(ctx, openID)
		cancel()
	}
}

func (s *Session) onMessageDeleted(ev Event) {
	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl == nil || tl.ConversationID() != ev.ConversationID {
		return
	}
	for _, id := range ev.MessageIDs {
		tl.RemoveByID(id)
	}
}

func (s *Session) onTyping(ev Event) {
	if ev.UserID == s.userID {
		return
	}
	s.mu.Lock()
	tl := s.timeline
	s.mu.Unlock()
	if tl == nil || tl.ConversationID() != ev.ConversationID {
		return
	}
	if ev.Kind == EventTypingStart {
		s.typing.Start(ev.ConversationID, ev.UserID)
	} else {
		s.typing.Stop(ev.ConversationID)
	}
}

func (s *Session) onChannelDown(cause error) {
	s.mu.Lock()
	tl := s.timeline
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	s.log.Warn("session.degrade", "err", cause)
	s.poller.Start(tl)
}

func (s *Session) leaveRoom(ctx context.Context, conversationID string) {
	if s.channel == nil {
		return
	}
	if err := s.channel.Leave(ctx, conversationID); err != nil {
		s.log.Warn("session.leave.fail", "conversation_id", conversationID, "err", err)
	}
}
