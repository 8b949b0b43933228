package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "bizhub/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsClientSubprotocol = "bizhub.chat.v1"

	wsClientEventBuffer  = 256
	wsClientWriteTimeout = 5 * time.Second
	wsClientHelloTimeout = 10 * time.Second
	wsClientReadLimit    = 64 << 10
)

// WSChannel is the realtime Channel implementation over a WebSocket
// connection to the BizHub gateway. The handle is explicit and owned by its
// Session: constructed on open, closed on teardown.
//
// A transport failure closes the channel after emitting one EventChannelDown,
// so the session can degrade to polling.
type WSChannel struct {
	log    *slog.Logger
	conn   *websocket.Conn
	userID string

	sessionID string

	events chan Event

	closeOnce sync.Once
	done      chan struct{}

	writeMu sync.Mutex
}

// DialWS connects to the gateway at wsURL, performs the hello handshake as
// userID and starts the read loop. The returned channel delivers normalized
// events until Close or a transport failure.
func DialWS(ctx context.Context, log *slog.Logger, wsURL, userID string, httpClient *http.Client) (*WSChannel, error) {
	if log == nil {
		log = slog.Default()
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("chatsync: empty user id")
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{wsClientSubprotocol},
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	if sp := conn.Subprotocol(); sp != wsClientSubprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol mismatch")
		return nil, fmt.Errorf("subprotocol not negotiated: got %q", sp)
	}
	conn.SetReadLimit(wsClientReadLimit)

	ch := &WSChannel{
		log:    log,
		conn:   conn,
		userID: userID,
		events: make(chan Event, wsClientEventBuffer),
		done:   make(chan struct{}),
	}

	if err := ch.hello(ctx); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return nil, err
	}

	go ch.readLoop()
	return ch, nil
}

// SessionID returns the server-assigned session id from the handshake.
func (c *WSChannel) SessionID() string { return c.sessionID }

// Join subscribes to a conversation room. The gateway echoes room_join; the
// echo is consumed by the read loop and not surfaced as an event.
func (c *WSChannel) Join(ctx context.Context, conversationID string) error {
	p, _ := json.Marshal(v1.RoomJoinPayload{ConversationID: conversationID})
	return c.write(ctx, v1.Envelope{
		V: v1.Version, Type: v1.TypeRoomJoin, ConvID: conversationID,
		TS: time.Now().UTC(), Payload: p,
	})
}

// Leave tears down the room subscription.
func (c *WSChannel) Leave(ctx context.Context, conversationID string) error {
	p, _ := json.Marshal(v1.RoomLeavePayload{ConversationID: conversationID})
	return c.write(ctx, v1.Envelope{
		V: v1.Version, Type: v1.TypeRoomLeave, ConvID: conversationID,
		TS: time.Now().UTC(), Payload: p,
	})
}

// Typing publishes a typing start or stop signal for the conversation.
func (c *WSChannel) Typing(ctx context.Context, conversationID string, typing bool) error {
	typ := v1.TypeTypingStop
	if typing {
		typ = v1.TypeTypingStart
	}
	p, _ := json.Marshal(v1.TypingPayload{ConversationID: conversationID, UserID: c.userID})
	return c.write(ctx, v1.Envelope{
		V: v1.Version, Type: typ, ConvID: conversationID,
		TS: time.Now().UTC(), Payload: p,
	})
}

// Events returns the normalized event stream. The channel closes after Close
// or a transport failure.
func (c *WSChannel) Events() <-chan Event { return c.events }

// Close releases the transport. Idempotent.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	return nil
}

// ---- handshake ----

func (c *WSChannel) hello(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, wsClientHelloTimeout)
	defer cancel()

	p, _ := json.Marshal(v1.HelloPayload{UserID: c.userID})
	env := v1.Envelope{V: v1.Version, Type: v1.TypeHello, TS: time.Now().UTC(), Payload: p}
	if err := c.write(ctx, env); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	// The ack is the first envelope the gateway sends after hello.
	ack, err := c.read(ctx)
	if err != nil {
		return fmt.Errorf("hello_ack: %w", err)
	}
	switch ack.Type {
	case v1.TypeHelloAck:
		var ap v1.HelloAckPayload
		if err := json.Unmarshal(ack.Payload, &ap); err != nil {
			return fmt.Errorf("hello_ack payload: %w", err)
		}
		c.sessionID = ap.SessionID
		return nil
	case v1.TypeError:
		var ep v1.ErrorPayload
		_ = json.Unmarshal(ack.Payload, &ep)
		return fmt.Errorf("hello rejected: %s: %s", ep.Code, ep.Message)
	default:
		return fmt.Errorf("unexpected handshake envelope: %s", ack.Type)
	}
}

// ---- read loop ----

func (c *WSChannel) readLoop() {
	defer close(c.events)

	for {
		env, err := c.read(context.Background())
		if err != nil {
			select {
			case <-c.done:
				// Deliberate close, not a failure.
			default:
				c.log.Warn("channel.down", "session_id", c.sessionID, "err", err)
				c.emit(Event{Kind: EventChannelDown, Err: err})
				c.Close()
			}
			return
		}

		if ev, ok := c.normalize(env); ok {
			c.emit(ev)
		}
	}
}

// normalize adapts a wire envelope into the canonical Event shape. Envelopes
// that carry no client-facing state change (acks, join echoes) are dropped.
func (c *WSChannel) normalize(env v1.Envelope) (Event, bool) {
	switch env.Type {
	case v1.TypeMessageNew:
		var p v1.MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("channel.payload.bad", "type", env.Type, "err", err)
			return Event{}, false
		}
		return Event{
			Kind:           EventMessageNew,
			ConversationID: p.ConversationID,
			Message:        fromWire(p),
		}, true

	case v1.TypeMessageDeleted:
		var p v1.MessageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Warn("channel.payload.bad", "type", env.Type, "err", err)
			return Event{}, false
		}
		return Event{
			Kind:           EventMessageDeleted,
			ConversationID: p.ConversationID,
			MessageIDs:     p.MessageIDs,
		}, true

	case v1.TypeTypingStart, v1.TypeTypingStop:
		var p v1.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false
		}
		kind := EventTypingStop
		if env.Type == v1.TypeTypingStart {
			kind = EventTypingStart
		}
		return Event{Kind: kind, ConversationID: p.ConversationID, UserID: p.UserID}, true

	case v1.TypeConversationRead:
		var p v1.ConversationReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventConversationRead, ConversationID: p.ConversationID, UserID: p.UserID}, true

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.log.Warn("channel.server.error", "code", p.Code, "message", p.Message)
		return Event{}, false

	case v1.TypeRoomJoin, v1.TypeMessageAck, v1.TypeHelloAck:
		// Acks and echoes carry no list or timeline state.
		return Event{}, false

	default:
		return Event{}, false
	}
}

// emit delivers without blocking the read loop. A full buffer drops the
// event: a stalled consumer must not back-pressure the socket. The drop is
// logged; the event itself is lost until the next history fetch or explicit
// list refresh.
func (c *WSChannel) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("channel.event.drop", "kind", ev.Kind, "conversation_id", ev.ConversationID)
	}
}

// ---- envelope IO ----

func (c *WSChannel) read(ctx context.Context) (v1.Envelope, error) {
	mt, data, err := c.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func (c *WSChannel) write(parent context.Context, env v1.Envelope) error {
	select {
	case <-c.done:
		return errors.New("chatsync: channel closed")
	default:
	}

	ctx, cancel := context.WithTimeout(parent, wsClientWriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, b)
}
