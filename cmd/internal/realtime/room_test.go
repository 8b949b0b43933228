package realtime

import (
	"io"
	"log/slog"
	"testing"

	v1 "bizhub/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRoom_BroadcastExcludesSender(t *testing.T) {
	t.Parallel()

	r := NewRoom(testLogger(), "conv-1")

	a := NewClient("sa", 8)
	b := NewClient("sb", 8)
	defer a.Close()
	defer b.Close()

	r.Join(a)
	r.Join(b)

	r.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeTypingStart, ConvID: "conv-1"}, "sa")

	if got := drain(a); len(got) != 0 {
		t.Fatalf("excluded session received %d envelopes", len(got))
	}
	if got := drain(b); len(got) != 1 || got[0].Type != v1.TypeTypingStart {
		t.Fatalf("peer delivery=%v", got)
	}
}

func TestRoom_LeaveStopsDelivery(t *testing.T) {
	t.Parallel()

	r := NewRoom(testLogger(), "conv-1")
	c := NewClient("s1", 8)
	defer c.Close()

	r.Join(c)
	if !r.Contains("s1") {
		t.Fatal("member not registered")
	}

	r.Leave("s1")
	if r.Contains("s1") {
		t.Fatal("member still registered after leave")
	}

	r.Broadcast(v1.Envelope{Type: v1.TypeTypingStart}, "")
	if got := drain(c); len(got) != 0 {
		t.Fatalf("delivery after leave: %v", got)
	}
}

func TestRoom_BroadcastDropsOnFullQueue(t *testing.T) {
	t.Parallel()

	r := NewRoom(testLogger(), "conv-1")
	c := NewClient("s1", 1)
	defer c.Close()
	r.Join(c)

	// Second broadcast overflows the queue of one; it must not block.
	r.Broadcast(v1.Envelope{Type: v1.TypeTypingStart}, "")
	r.Broadcast(v1.Envelope{Type: v1.TypeTypingStop}, "")

	if got := drain(c); len(got) != 1 {
		t.Fatalf("queued=%d want=1", len(got))
	}
}

func TestRoom_NilAndEmptyInputsAreSafe(t *testing.T) {
	t.Parallel()

	var r *Room
	r.Join(NewClient("s1", 1))
	r.Leave("s1")
	r.Broadcast(v1.Envelope{}, "")
	if r.Contains("s1") {
		t.Fatal("nil room claims membership")
	}

	live := NewRoom(testLogger(), "conv-1")
	live.Join(nil)
	live.Leave("")
	if live.Contains("") {
		t.Fatal("empty session id registered")
	}
}
