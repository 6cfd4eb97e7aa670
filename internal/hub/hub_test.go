package hub

import (
	"testing"
	"time"

	canif "github.com/kstaniek/go-canif"
)

func TestBroadcastDropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan canif.Frame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Nobody reads cl.Out: a slow client must not stall the broadcaster.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(canif.Frame{ID: 0x123})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestBroadcastDropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan canif.Frame, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan canif.Frame, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast(canif.Frame{ID: uint32(i)})
	}
	if got := len(fast.Out); got < 5 {
		t.Fatalf("fast client got %d frames while slow was backpressured", got)
	}
}

func TestKickPolicyClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan canif.Frame, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(canif.Frame{ID: 1})
	h.Broadcast(canif.Frame{ID: 2}) // overflows, policy kicks

	select {
	case <-slow.Closed:
	case <-time.After(time.Second):
		t.Fatal("slow client not kicked")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan canif.Frame, 1), Closed: make(chan struct{})}
	h.Add(cl)
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("count = %d after removes", h.Count())
	}
}
