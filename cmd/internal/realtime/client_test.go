package realtime

import (
	"testing"

	v1 "bizhub/shared/contracts/chat/v1"
)

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	t.Parallel()

	c := NewClient("s1", 2)
	defer c.Close()

	if !c.TrySend(v1.Envelope{Type: v1.TypeMessageNew}) {
		t.Fatal("first send rejected")
	}
	if !c.TrySend(v1.Envelope{Type: v1.TypeMessageNew}) {
		t.Fatal("second send rejected")
	}
	// Queue is full now; the broadcaster must not block.
	if c.TrySend(v1.Envelope{Type: v1.TypeMessageNew}) {
		t.Fatal("send into a full queue reported success")
	}
}

func TestClient_TrySendAfterClose(t *testing.T) {
	t.Parallel()

	c := NewClient("s1", 8)
	c.Close()
	c.Close() // idempotent

	if c.TrySend(v1.Envelope{Type: v1.TypeTypingStart}) {
		t.Fatal("send into a closed client reported success")
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not signalled after Close")
	}
}

func TestClient_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var c *Client
	if c.TrySend(v1.Envelope{}) {
		t.Fatal("nil client accepted a send")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("nil client Done must read as closed")
	}
	c.Close()
}
