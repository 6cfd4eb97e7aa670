//go:build linux

package canif

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// header is the decoded out-of-band data of one received datagram.
type header struct {
	ts       unix.Timeval
	drops    uint32
	hasDrops bool
}

// parseHeader walks the SOL_SOCKET control messages attached to a receive
// and extracts the receive-queue overflow counter and the software or
// hardware timestamp. Messages of any other level or type are ignored.
func parseHeader(oob []byte) header {
	var h header
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return h
	}
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch m.Header.Type {
		case unix.SO_RXQ_OVFL:
			if len(m.Data) >= 4 {
				h.drops = binary.LittleEndian.Uint32(m.Data)
				h.hasDrops = true
			}
		case unix.SCM_TIMESTAMP:
			// struct timeval
			if len(m.Data) >= 16 {
				h.ts.Sec = int64(binary.LittleEndian.Uint64(m.Data[0:8]))
				h.ts.Usec = int64(binary.LittleEndian.Uint64(m.Data[8:16]))
			}
		case unix.SCM_TIMESTAMPING:
			// Three timespecs: [0] software, [1] deprecated, [2] raw
			// hardware. See Documentation/networking/timestamping.rst,
			// receive timestamps.
			if len(m.Data) >= 48 {
				h.ts.Sec = int64(binary.LittleEndian.Uint64(m.Data[32:40]))
				h.ts.Usec = int64(binary.LittleEndian.Uint64(m.Data[40:48])) / 1000
			}
		}
	}
	return h
}
