package canif

import "testing"

func TestFrameRawClassic(t *testing.T) {
	f := Frame{ID: 0x123, Len: 4}
	copy(f.Data[:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	var buf [MTUFD]byte
	if n := f.putRaw(buf[:], false); n != MTU {
		t.Fatalf("classic putRaw wrote %d bytes", n)
	}
	var g Frame
	g.fromRaw(buf[:], MTU)
	if g.ID != 0x123 || g.Len != 4 || g.Data != f.Data {
		t.Errorf("classic round trip: got id=%#x len=%d", g.ID, g.Len)
	}
}

func TestFrameRawFD(t *testing.T) {
	f := Frame{ID: 0x1ABCDEF0 | EFFFlag, Len: 48, Flags: FDFlagBRS}
	for i := range f.Data[:48] {
		f.Data[i] = byte(i)
	}
	var buf [MTUFD]byte
	if n := f.putRaw(buf[:], true); n != MTUFD {
		t.Fatalf("fd putRaw wrote %d bytes", n)
	}
	var g Frame
	g.fromRaw(buf[:], MTUFD)
	if g.ID != f.ID || g.Len != 48 || g.Flags != FDFlagBRS {
		t.Errorf("fd round trip: got id=%#x len=%d flags=%#x", g.ID, g.Len, g.Flags)
	}
	if g.Data != f.Data {
		t.Error("fd round trip: payload mismatch")
	}
}

func TestFrameRawClampsClassicLen(t *testing.T) {
	// A malformed classic datagram claiming more than 8 payload bytes is
	// clamped rather than read past the wire data.
	var buf [MTU]byte
	buf[4] = 15
	var g Frame
	g.fromRaw(buf[:], MTU)
	if g.Len != 8 {
		t.Errorf("classic len clamped to %d, want 8", g.Len)
	}
}
