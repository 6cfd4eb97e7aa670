package canif

import "strings"

// Error class bits of an error frame's can_id (same values as
// <linux/can/error.h>).
const (
	BusErrTxTimeout  = 0x00000001 // TX timeout by netdevice driver
	BusErrLostArb    = 0x00000002 // lost arbitration
	BusErrCtrl       = 0x00000004 // controller problems
	BusErrProt       = 0x00000008 // protocol violations
	BusErrTrx        = 0x00000010 // transceiver status
	BusErrAck        = 0x00000020 // received no ACK on transmission
	BusErrBusOff     = 0x00000040 // bus off
	BusErrBusError   = 0x00000080 // bus error
	BusErrRestarted  = 0x00000100 // controller restarted
	BusErrClassMask  = 0x1FFFFFFF
)

// BusError is the class bitset of a link-level error frame, delivered to
// error handlers when the controller reports a problem on the wire.
type BusError uint32

var busErrName = []struct {
	bit  uint32
	name string
}{
	{BusErrTxTimeout, "tx-timeout"},
	{BusErrLostArb, "lost-arbitration"},
	{BusErrCtrl, "controller"},
	{BusErrProt, "protocol"},
	{BusErrTrx, "transceiver"},
	{BusErrAck, "no-ack"},
	{BusErrBusOff, "bus-off"},
	{BusErrBusError, "bus-error"},
	{BusErrRestarted, "restarted"},
}

func (e BusError) Error() string {
	var b strings.Builder
	b.WriteString("bus error:")
	any := false
	for _, c := range busErrName {
		if uint32(e)&c.bit != 0 {
			b.WriteByte(' ')
			b.WriteString(c.name)
			any = true
		}
	}
	if !any {
		b.WriteString(" unspecified")
	}
	return b.String()
}

// Has reports whether the given class bit is set.
func (e BusError) Has(class uint32) bool {
	return uint32(e)&class != 0
}
