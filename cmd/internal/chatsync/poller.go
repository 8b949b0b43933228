package chatsync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// Poller is the degraded-mode fallback: when the realtime channel is down,
// it periodically refetches the newest history window for the open
// conversation and the conversation list over REST. Results flow through the
// same merge path as live events, so de-duplication and ordering hold
// regardless of which path delivered a message first.
type Poller struct {
	log      *slog.Logger
	rest     DataAccess
	interval time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	timeline *Timeline
	convs    *Conversations
}

// NewPoller constructs a poller; interval <= 0 selects the default.
func NewPoller(log *slog.Logger, rest DataAccess, convs *Conversations, interval time.Duration) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{log: log, rest: rest, convs: convs, interval: interval}
}

// Start begins polling. timeline may be nil when no conversation is open; the
// list still refreshes. Idempotent: a second Start while running is a no-op.
func (p *Poller) Start(timeline *Timeline) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timeline = timeline
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopped = make(chan struct{})

	p.log.Info("poll.start", "interval", p.interval.String())
	go p.run(ctx, p.stopped)
}

// SetTimeline switches the polled conversation (view switch while degraded).
func (p *Poller) SetTimeline(timeline *Timeline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeline = timeline
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Stop halts polling and waits for the loop to exit. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel = nil
	p.stopped = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	p.log.Info("poll.stop")
}

func (p *Poller) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if p.convs != nil {
		if err := p.convs.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll.list.fail", "err", err)
		}
	}

	p.mu.Lock()
	tl := p.timeline
	p.mu.Unlock()
	if tl == nil {
		return
	}

	msgs, _, err := p.rest.ListMessages(ctx, tl.ConversationID(), 0, "")
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("poll.messages.fail", "conversation_id", tl.ConversationID(), "err", err)
		}
		return
	}

	// AppendLive drops ids already buffered; history overlap resolves in the
	// merge, where the historical copy wins.
	for _, m := range msgs {
		tl.AppendLive(m)
	}
}
