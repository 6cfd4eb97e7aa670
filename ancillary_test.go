//go:build linux

package canif

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// cmsg builds one native control message the way the kernel lays it out.
func cmsg(level, typ int32, data []byte) []byte {
	b := make([]byte, unix.CmsgSpace(len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = level
	h.Type = typ
	h.SetLen(unix.CmsgLen(len(data)))
	copy(b[unix.CmsgLen(0):], data)
	return b
}

func timespec(sec, nsec int64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], uint64(sec))
	binary.LittleEndian.PutUint64(b[8:16], uint64(nsec))
	return b
}

func TestParseHeaderSoftwareTimestamp(t *testing.T) {
	tv := make([]byte, 16)
	binary.LittleEndian.PutUint64(tv[0:8], 1234)
	binary.LittleEndian.PutUint64(tv[8:16], 567890)
	h := parseHeader(cmsg(unix.SOL_SOCKET, unix.SCM_TIMESTAMP, tv))
	if h.ts.Sec != 1234 || h.ts.Usec != 567890 {
		t.Errorf("software timestamp = (%d, %d)", h.ts.Sec, h.ts.Usec)
	}
	if h.hasDrops {
		t.Error("unexpected drop counter")
	}
}

func TestParseHeaderHardwareTimestamp(t *testing.T) {
	// Three timespecs: software, deprecated, raw hardware. Only the raw
	// hardware slot counts, nanoseconds divided down to microseconds.
	var triple []byte
	triple = append(triple, timespec(10, 0)...)
	triple = append(triple, timespec(0, 0)...)
	triple = append(triple, timespec(42, 750_000_000)...)
	h := parseHeader(cmsg(unix.SOL_SOCKET, unix.SCM_TIMESTAMPING, triple))
	if h.ts.Sec != 42 || h.ts.Usec != 750_000 {
		t.Errorf("hardware timestamp = (%d, %d), want (42, 750000)", h.ts.Sec, h.ts.Usec)
	}
}

func TestParseHeaderOverflowCounter(t *testing.T) {
	cnt := make([]byte, 4)
	binary.LittleEndian.PutUint32(cnt, 5)
	h := parseHeader(cmsg(unix.SOL_SOCKET, unix.SO_RXQ_OVFL, cnt))
	if !h.hasDrops || h.drops != 5 {
		t.Errorf("drops = (%v, %d), want (true, 5)", h.hasDrops, h.drops)
	}
}

func TestParseHeaderIgnoresForeignMessages(t *testing.T) {
	var oob []byte
	oob = append(oob, cmsg(unix.SOL_CAN_RAW, 99, make([]byte, 4))...)
	oob = append(oob, cmsg(unix.SOL_SOCKET, 0x7fff, make([]byte, 8))...)
	h := parseHeader(oob)
	if h.hasDrops || h.ts.Sec != 0 || h.ts.Usec != 0 {
		t.Errorf("foreign control messages not ignored: %+v", h)
	}
}
