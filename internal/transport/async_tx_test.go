package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	canif "github.com/kstaniek/go-canif"
)

func TestSendFrameDeliversInOrder(t *testing.T) {
	var got []uint32
	done := make(chan struct{})
	a := New(context.Background(), 8, func(fr canif.Frame) error {
		got = append(got, fr.ID)
		if len(got) == 3 {
			close(done)
		}
		return nil
	}, Hooks{})
	for i := uint32(1); i <= 3; i++ {
		if err := a.SendFrame(canif.Frame{ID: i}); err != nil {
			t.Fatalf("SendFrame: %v", err)
		}
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frames not delivered")
	}
	a.Close()
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order = %v", got)
	}
}

func TestOverflowInvokesDropHook(t *testing.T) {
	errOverflow := errors.New("overflow")
	block := make(chan struct{})
	a := New(context.Background(), 1, func(fr canif.Frame) error {
		<-block
		return nil
	}, Hooks{OnDrop: func() error { return errOverflow }})
	defer func() { close(block); a.Close() }()

	var sawDrop bool
	for i := 0; i < 16; i++ {
		if err := a.SendFrame(canif.Frame{ID: uint32(i)}); errors.Is(err, errOverflow) {
			sawDrop = true
			break
		}
	}
	if !sawDrop {
		t.Fatal("no drop on full buffer")
	}
}

func TestSendAfterCloseRejected(t *testing.T) {
	var sent atomic.Int32
	a := New(context.Background(), 4, func(fr canif.Frame) error {
		sent.Add(1)
		return nil
	}, Hooks{})
	a.Close()
	if err := a.SendFrame(canif.Frame{ID: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendFrame after Close = %v, want ErrClosed", err)
	}
}
