//go:build linux

package nl

import (
	"encoding/binary"
	"testing"

	"github.com/vishvananda/netlink"
)

func TestBittimingLayout(t *testing.T) {
	// struct can_bittiming is eight u32s; a bitrate-only record leaves
	// the timing segments zero for the kernel to compute.
	b := bittiming(500_000)
	if len(b) != 32 {
		t.Fatalf("bittiming length = %d, want 32", len(b))
	}
	if got := binary.NativeEndian.Uint32(b[0:4]); got != 500_000 {
		t.Errorf("bitrate field = %d", got)
	}
	for off := 4; off < 32; off += 4 {
		if got := binary.NativeEndian.Uint32(b[off : off+4]); got != 0 {
			t.Errorf("offset %d = %d, want 0", off, got)
		}
	}

	full := bittiming(250_000, 875, 50, 6, 7, 2, 1, 4)
	want := []uint32{250_000, 875, 50, 6, 7, 2, 1, 4}
	for i, w := range want {
		if got := binary.NativeEndian.Uint32(full[i*4:]); got != w {
			t.Errorf("field %d = %d, want %d", i, got, w)
		}
	}
}

func TestObservableModes(t *testing.T) {
	can := &netlink.Can{ListenOnly: true, TripleSampling: true}
	got := observableModes(can)
	want := uint32(ctrlModeListenOnly | ctrlModeTripleSample)
	if got != want {
		t.Errorf("observableModes = %#x, want %#x", got, want)
	}
	if observableModes(&netlink.Can{}) != 0 {
		t.Error("zero link reports mode bits")
	}
}

func TestIsMismatch(t *testing.T) {
	err := (&Link{name: "can0", verify: true}).wrapMismatch("bitrate", 1, 2)
	if !IsMismatch(err) {
		t.Fatalf("mismatch not recognized: %v", err)
	}
}
