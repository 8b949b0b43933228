package chatsync

import (
	"testing"
	"time"
)

func TestTypingTracker_StartAndStop(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(time.Minute)
	defer tr.Close()

	tr.Start("conv", "alice")
	if got := tr.Typing("conv"); got != "alice" {
		t.Fatalf("Typing=%q want=alice", got)
	}
	if got := tr.Typing("other"); got != "" {
		t.Fatalf("Typing(other)=%q want empty", got)
	}

	tr.Stop("conv")
	if got := tr.Typing("conv"); got != "" {
		t.Fatalf("explicit stop must clear: %q", got)
	}
}

func TestTypingTracker_AutoClearsAfterTimeout(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(30 * time.Millisecond)
	defer tr.Close()

	tr.Start("conv", "alice")

	deadline := time.Now().Add(2 * time.Second)
	for tr.Typing("conv") != "" {
		if time.Now().After(deadline) {
			t.Fatal("typing flag never auto-cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTypingTracker_RestartRearmsTimer(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(80 * time.Millisecond)
	defer tr.Close()

	tr.Start("conv", "alice")
	time.Sleep(50 * time.Millisecond)
	tr.Start("conv", "alice")
	time.Sleep(50 * time.Millisecond)

	// 100ms since the first start, 50ms since the re-arm: still typing.
	if got := tr.Typing("conv"); got != "alice" {
		t.Fatalf("re-armed timer cleared too early: %q", got)
	}
}

func TestTypingTracker_StaleExpiryIgnoredAfterRearm(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(time.Minute)
	defer tr.Close()

	tr.Start("conv", "alice")
	tr.Start("conv", "alice")

	// The first arm's callback firing late must not clear the re-armed state.
	tr.expire("conv", 1)
	if got := tr.Typing("conv"); got != "alice" {
		t.Fatalf("stale expiry cleared re-armed state: %q", got)
	}

	// The live arm's callback still clears.
	tr.expire("conv", 2)
	if got := tr.Typing("conv"); got != "" {
		t.Fatalf("live expiry did not clear: %q", got)
	}
}

func TestTypingTracker_CloseStopsEverything(t *testing.T) {
	t.Parallel()

	tr := NewTypingTracker(time.Minute)
	tr.Start("a", "alice")
	tr.Start("b", "bob")
	tr.Close()

	if tr.Typing("a") != "" || tr.Typing("b") != "" {
		t.Fatal("close must clear all state")
	}
}
