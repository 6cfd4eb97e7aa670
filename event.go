//go:build linux

package canif

import "golang.org/x/sys/unix"

// Event is one decoded receive: the frame itself, its timestamp (zero
// unless header processing is enabled), the socket it arrived on, and the
// classification used by the dispatcher.
type Event struct {
	Frame     Frame
	Timestamp unix.Timeval
	// Sock identifies the endpoint the datagram was read from; the TX
	// socket for link error frames surfaced on the write side.
	Sock    int
	IsRx    bool
	IsError bool
	// DroppedFrames is the number of frames the kernel dropped on this
	// endpoint since the previous receive (delta of SO_RXQ_OVFL).
	DroppedFrames uint32
}
