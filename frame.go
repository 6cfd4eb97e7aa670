package canif

import "encoding/binary"

// SocketCAN flag bits for the can_id field (same values as <linux/can.h>).
const (
	EFFFlag = 0x80000000 // extended (29 bit) identifier
	RTRFlag = 0x40000000 // remote transmission request
	ErrFlag = 0x20000000 // error message frame
	SFFMask = 0x000007FF
	EFFMask = 0x1FFFFFFF
)

// Frame sizes at the socket boundary.
const (
	MTU   = 16 // classic can_frame
	MTUFD = 72 // canfd_frame
)

// CAN-FD flag bits carried in the canfd_frame flags byte.
const (
	FDFlagBRS = 0x01 // bit rate switch in the data phase
	FDFlagESI = 0x02 // error state indicator of the sender
)

// Frame is one CAN or CAN-FD frame. ID contains EFF/RTR/ERR flags in its
// upper bits like SocketCAN. Len is the payload length (0..8 classic,
// 0..64 FD); only the first Len bytes of Data are valid. Flags carries the
// CAN-FD BRS/ESI bits and is zero for classic frames.
type Frame struct {
	ID    uint32
	Len   uint8
	Flags uint8
	Data  [64]byte
}

// putRaw encodes the frame into b using the kernel's can_frame or
// canfd_frame layout and returns the number of bytes used (the MTU).
//
// The kernel exchanges these fields in host byte order. On the
// little-endian targets this library supports that matches
// binary.LittleEndian; switch to BigEndian if you ever target big-endian.
func (f *Frame) putRaw(b []byte, fd bool) int {
	binary.LittleEndian.PutUint32(b[0:4], f.ID)
	b[4] = f.Len
	if fd {
		b[5] = f.Flags
		b[6], b[7] = 0, 0
		copy(b[8:8+64], f.Data[:])
		return MTUFD
	}
	b[5], b[6], b[7] = 0, 0, 0
	copy(b[8:16], f.Data[:8])
	return MTU
}

// fromRaw decodes a datagram of n bytes read from a raw CAN socket. A
// datagram of the FD MTU carries a canfd_frame, anything else a classic
// can_frame.
func (f *Frame) fromRaw(b []byte, n int) {
	f.ID = binary.LittleEndian.Uint32(b[0:4])
	f.Len = b[4]
	if n >= MTUFD {
		f.Flags = b[5]
		copy(f.Data[:], b[8:8+64])
		return
	}
	f.Flags = 0
	if f.Len > 8 {
		f.Len = 8
	}
	copy(f.Data[:8], b[8:16])
}
