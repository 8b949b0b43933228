package chatsync

import (
	"sync"
	"time"
)

// defaultTypingTimeout bounds the lifetime of a typing indicator: a lost
// typing_stop event must not leave a stale indicator forever.
const defaultTypingTimeout = 4 * time.Second

// TypingTracker holds ephemeral per-conversation typing state. State is not
// persisted; each start signal arms an inactivity timer that clears the flag
// independently of any explicit stop.
type TypingTracker struct {
	timeout time.Duration

	mu     sync.Mutex
	gen    uint64                 // monotonic; stamps each arm so stale fires are ignored
	gens   map[string]uint64      // conversation id -> generation of the live timer
	timers map[string]*time.Timer // conversation id -> auto-clear timer
	active map[string]string      // conversation id -> typing user id
}

// NewTypingTracker constructs a tracker; timeout <= 0 selects the default.
func NewTypingTracker(timeout time.Duration) *TypingTracker {
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	return &TypingTracker{
		timeout: timeout,
		gens:    make(map[string]uint64),
		timers:  make(map[string]*time.Timer),
		active:  make(map[string]string),
	}
}

// Start flags userID as typing in the conversation and (re)arms the
// inactivity timer.
func (t *TypingTracker) Start(conversationID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[conversationID] = userID

	// A fresh timer per arm: Reset would race a fire already blocked on the
	// mutex, and that stale callback would wipe the re-armed state. The
	// generation check in expire makes such a fire a no-op.
	if timer, ok := t.timers[conversationID]; ok {
		timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.gens[conversationID] = gen
	t.timers[conversationID] = time.AfterFunc(t.timeout, func() {
		t.expire(conversationID, gen)
	})
}

// Stop clears the flag on an explicit stop signal.
func (t *TypingTracker) Stop(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked(conversationID)
}

// Typing returns the typing user id for the conversation ("" when nobody is).
func (t *TypingTracker) Typing(conversationID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[conversationID]
}

// Close stops all timers (view teardown).
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.active = make(map[string]string)
	t.gens = make(map[string]uint64)
}

// expire is the timer callback. gen identifies the arm that scheduled it; any
// Start or Stop since then changed the generation, making this fire stale.
func (t *TypingTracker) expire(conversationID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gens[conversationID] != gen {
		return
	}
	t.clearLocked(conversationID)
}

func (t *TypingTracker) clearLocked(conversationID string) {
	delete(t.active, conversationID)
	delete(t.gens, conversationID)
	if timer, ok := t.timers[conversationID]; ok {
		timer.Stop()
		delete(t.timers, conversationID)
	}
}
