package canif

// Sentinel values meaning "leave as set externally".
const (
	InvalidBitrate   = ^uint32(0)
	InvalidRestartMs = ^uint32(0)
	// UnconfiguredCtrlMode in CtrlMode.Mask means no mode bits are touched.
	UnconfiguredCtrlMode = ^uint32(0)
)

// Controller mode bits (same values as <linux/can/netlink.h>).
const (
	CtrlModeLoopback      = 0x01
	CtrlModeListenOnly    = 0x02
	CtrlModeTripleSample  = 0x04
	CtrlModeOneShot       = 0x08
	CtrlModeBerrReporting = 0x10
	CtrlModeFD            = 0x20
	CtrlModePresumeAck    = 0x40
	CtrlModeFDNonISO      = 0x80
)

// CtrlMode selects controller modes: Flags holds the desired bit values,
// Mask the bits to change.
type CtrlMode struct {
	Mask  uint32
	Flags uint32
}

// BitTiming mirrors the kernel's can_bittiming. A zero Bitrate means the
// record is unset and no bit timing is applied.
type BitTiming struct {
	Bitrate     uint32
	SamplePoint uint32
	TQ          uint32
	PropSeg     uint32
	PhaseSeg1   uint32
	PhaseSeg2   uint32
	SJW         uint32
	BRP         uint32
}

// Config describes how an Interface is brought up. The zero value is not
// useful; start from DefaultConfig.
type Config struct {
	// NlCmdVerify makes the netlink configuration writes read back and
	// compare; a difference fails Init with the matching mismatch error.
	// The nominal bitrate, bit timing bitrate, restart period and link
	// state are read back; for the controller mode only the loopback,
	// listen-only, triple-sampling, one-shot and berr-reporting bits are
	// compared. The data bitrate is not read back.
	NlCmdVerify bool
	// CanFdEnabled enables 64 byte payload semantics on all sockets of
	// this interface.
	CanFdEnabled bool
	// ProcessHeader parses ancillary control messages on receive
	// (timestamps, drop counters).
	ProcessHeader bool
	// HWTimestamp requests raw hardware timestamps instead of software
	// timestamps. Requires ProcessHeader.
	HWTimestamp bool

	Bitrate   uint32 // nominal bit rate; InvalidBitrate leaves it alone
	DBitrate  uint32 // data phase bit rate; InvalidBitrate leaves it alone
	RestartMs uint32 // bus-off recovery period; InvalidRestartMs leaves it alone
	CtrlMode  CtrlMode
	BitTiming BitTiming

	// ErrorMask selects which error frame classes the kernel delivers to
	// user space.
	ErrorMask uint32

	// PolledMode skips starting the driver goroutine; the caller pumps
	// the reactor with Poll/PollOne.
	PolledMode bool

	TxBufLen uint32 // kernel send buffer size; 0 leaves the default
	RxBufLen uint32 // kernel receive buffer size; 0 leaves the default

	// Granted buffer sizes read back after Init.
	TxBufLenRd uint32
	RxBufLenRd uint32
}

// DefaultErrorMask is the error filter installed when the caller does not
// choose one: tx-timeout, controller, bus-off, bus-error and restarted.
const DefaultErrorMask = BusErrTxTimeout | BusErrCtrl | BusErrBusOff |
	BusErrBusError | BusErrRestarted

// DefaultConfig returns the library defaults: verify netlink writes,
// classic CAN, header processing with software timestamps, no bitrate or
// mode changes, the default error mask, and a driver goroutine.
func DefaultConfig() Config {
	return Config{
		NlCmdVerify:   true,
		CanFdEnabled:  false,
		ProcessHeader: true,
		HWTimestamp:   false,
		Bitrate:       InvalidBitrate,
		DBitrate:      InvalidBitrate,
		RestartMs:     InvalidRestartMs,
		CtrlMode:      CtrlMode{Mask: UnconfiguredCtrlMode},
		ErrorMask:     DefaultErrorMask,
		PolledMode:    false,
	}
}
