package canif

import "errors"

// Error is the stable taxonomy of library errors. Each value has a small
// positive integer identity; the conventional C-style return code is the
// negated value, see Code. Error values satisfy the error interface and
// work with errors.Is even when wrapped with additional context.
type Error int

const (
	ErrNone Error = iota
	ErrNullInterface
	ErrIfaceIndex
	ErrNoMem
	ErrNetlinkGetState
	ErrNetlinkStart
	ErrNetlinkStop
	ErrNetlinkStateMismatch
	ErrNetlinkBitrate
	ErrNetlinkRestart
	ErrNetlinkSetRestartMs
	ErrNetlinkGetRestartMs
	ErrNetlinkRestartMsMismatch
	ErrNetlinkSetCtrlMode
	ErrNetlinkGetCtrlMode
	ErrNetlinkCtrlModeMismatch
	ErrNetlinkGetDevStats
	ErrNetlinkSetBitTiming
	ErrNetlinkGetBitTiming
	ErrNetlinkBitTimingMismatch
	ErrNetlinkBitrateMismatch
	ErrTxSocketCreate
	ErrTxSocketWrite
	ErrTxSocketBind
	ErrTxRetryLater
	ErrIncompleteFrame
	ErrRxSocketCreate
	ErrRxSocketBind
	ErrSetOptRawFilter
	ErrSetOptErrFilter
	ErrSetOptCanFd
	ErrSetOptTimestamp
	ErrSetOptSndbuf
	ErrGetOptSndbuf
	ErrSetOptRcvbuf
	ErrGetOptRcvbuf
	ErrIfaceMTU
	ErrNotCanFd
	ErrNetworkDown
	ErrDroppedFrames
	ErrAlreadyRegistered
	ErrNotFound
	ErrMutexInit
	ErrMutexLock
	ErrThreadAlloc
	ErrThreadCreate
	errorMax
)

var errorStr = [errorMax]string{
	ErrNone:                     "Success",
	ErrNullInterface:            "CAN interface is nil",
	ErrIfaceIndex:               "Interface index error",
	ErrNoMem:                    "No memory",
	ErrNetlinkGetState:          "Get netlink interface state",
	ErrNetlinkStart:             "Start interface",
	ErrNetlinkStop:              "Stop interface",
	ErrNetlinkStateMismatch:     "Netlink state set does not match value read",
	ErrNetlinkBitrate:           "Set interface bitrate",
	ErrNetlinkRestart:           "Restart interface error",
	ErrNetlinkSetRestartMs:      "Set restart ms error",
	ErrNetlinkGetRestartMs:      "Get restart ms error",
	ErrNetlinkRestartMsMismatch: "Restart ms value set does not match value read",
	ErrNetlinkSetCtrlMode:       "Set ctrl mode error",
	ErrNetlinkGetCtrlMode:       "Get ctrl mode error",
	ErrNetlinkCtrlModeMismatch:  "Ctrl mode value set does not match value read",
	ErrNetlinkGetDevStats:       "Get device statistics error",
	ErrNetlinkSetBitTiming:      "Set bit timing error",
	ErrNetlinkGetBitTiming:      "Get bit timing error",
	ErrNetlinkBitTimingMismatch: "Bit timing value set does not match value read",
	ErrNetlinkBitrateMismatch:   "Bitrate value set does not match value read",
	ErrTxSocketCreate:           "Socket create error",
	ErrTxSocketWrite:            "Socket write error",
	ErrTxSocketBind:             "Socket bind error",
	ErrTxRetryLater:             "TX retry later",
	ErrIncompleteFrame:          "Incomplete TX frame",
	ErrRxSocketCreate:           "RX socket create error",
	ErrRxSocketBind:             "RX socket bind error",
	ErrSetOptRawFilter:          "setsockopt CAN_RAW_FILTER error",
	ErrSetOptErrFilter:          "setsockopt CAN_RAW_ERR_FILTER error",
	ErrSetOptCanFd:              "setsockopt CAN_RAW_FD_FRAMES error",
	ErrSetOptTimestamp:          "setsockopt SO_TIMESTAMP error",
	ErrSetOptSndbuf:             "setsockopt SO_SNDBUF error",
	ErrGetOptSndbuf:             "getsockopt SO_SNDBUF error",
	ErrSetOptRcvbuf:             "setsockopt SO_RCVBUF error",
	ErrGetOptRcvbuf:             "getsockopt SO_RCVBUF error",
	ErrIfaceMTU:                 "Get interface MTU error",
	ErrNotCanFd:                 "CAN FD not supported on interface",
	ErrNetworkDown:              "CAN network is down",
	ErrDroppedFrames:            "Dropped frames",
	ErrAlreadyRegistered:        "Callback already registered",
	ErrNotFound:                 "Callback not found",
	ErrMutexInit:                "Mutex init error",
	ErrMutexLock:                "Mutex lock error",
	ErrThreadAlloc:              "Thread alloc error",
	ErrThreadCreate:             "Thread create error",
}

func (e Error) Error() string {
	if e > 0 && e < errorMax {
		return errorStr[e]
	}
	if e == ErrNone {
		return errorStr[ErrNone]
	}
	return "unknown error"
}

// Code returns the conventional return code for e: zero for ErrNone,
// a small negative integer otherwise.
func (e Error) Code() int {
	return -int(e)
}

// Strerror maps a return code (positive or negative) back to its
// human-readable string. It returns "" for unknown codes.
func Strerror(code int) string {
	if code < 0 {
		code = -code
	}
	if code >= 0 && code < int(errorMax) {
		return errorStr[code]
	}
	return ""
}

// CodeOf extracts the taxonomy return code from any error produced by
// this library, unwrapping as needed. A nil error maps to zero.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	for e := Error(1); e < errorMax; e++ {
		if errors.Is(err, e) {
			return e.Code()
		}
	}
	return -int(errorMax)
}
