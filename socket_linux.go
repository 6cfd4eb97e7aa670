//go:build linux

package canif

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canif/internal/logging"
)

// Test seams, following the var-hook pattern used across this module's
// backends. Production code never reassigns these.
var (
	openTxSocketFn = openTxSocket
	openRxSocketFn = openRxSocket
	recvmsgFn      = unix.Recvmsg
	writeFn        = unix.Write
)

func errWrap(code Error, err error) error {
	return fmt.Errorf("%w: %v", code, err)
}

// setSockBuf applies the force/fallback/readback pattern for SO_SNDBUF or
// SO_RCVBUF: the privileged *FORCE variant first (may exceed the
// wmem_max/rmem_max limits with CAP_NET_ADMIN), the ordinary variant on
// failure, then a read back of the size actually granted.
func setSockBuf(fd, forceOpt, opt int, want uint32, setErr, getErr Error) (uint32, error) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, forceOpt, int(want)); err != nil {
		logging.L().Warn("sockbuf_force_failed", "fd", fd, "error", err)
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, int(want)); err != nil {
			return 0, errWrap(setErr, err)
		}
	}
	got, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, opt)
	if err != nil {
		return 0, errWrap(getErr, err)
	}
	return uint32(got), nil
}

// openTxSocket opens, configures and binds the write-side endpoint of c.
// The socket accepts no data frames; only link error frames selected by
// the error mask surface on it. Every failure path closes the socket.
func openTxSocket(c *Interface) (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, errWrap(ErrTxSocketCreate, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, errWrap(ErrTxSocketCreate, err)
	}

	if c.cfg.CanFdEnabled {
		if c.mtu != MTUFD {
			return -1, errWrap(ErrNotCanFd, fmt.Errorf("%s: mtu %d", c.name, c.mtu))
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			return -1, errWrap(ErrSetOptCanFd, err)
		}
	}

	// Write-only endpoint: an empty filter rejects all data frames.
	if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, nil); err != nil {
		return -1, errWrap(ErrSetOptRawFilter, err)
	}

	if c.cfg.TxBufLen != 0 {
		got, err := setSockBuf(fd, unix.SO_SNDBUFFORCE, unix.SO_SNDBUF,
			c.cfg.TxBufLen, ErrSetOptSndbuf, ErrGetOptSndbuf)
		if err != nil {
			return -1, err
		}
		c.cfg.TxBufLenRd = got
	}

	if c.cfg.ErrorMask != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, int(c.cfg.ErrorMask)); err != nil {
			return -1, errWrap(ErrSetOptErrFilter, err)
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: c.index}); err != nil {
		return -1, errWrap(ErrTxSocketBind, err)
	}

	ok = true
	return fd, nil
}

// openRxSocket opens, configures and binds one filtered read-side
// endpoint of c. Every failure path closes the socket.
func openRxSocket(c *Interface, filters []Filter) (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, errWrap(ErrRxSocketCreate, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, errWrap(ErrRxSocketCreate, err)
	}

	if c.cfg.ProcessHeader {
		if c.cfg.HWTimestamp {
			flags := unix.SOF_TIMESTAMPING_SOFTWARE |
				unix.SOF_TIMESTAMPING_RX_SOFTWARE |
				unix.SOF_TIMESTAMPING_RAW_HARDWARE
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags); err != nil {
				return -1, errWrap(ErrSetOptTimestamp, err)
			}
		} else {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
				return -1, errWrap(ErrSetOptTimestamp, err)
			}
		}
		// Count what the kernel drops between receives.
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RXQ_OVFL, 1); err != nil {
			logging.L().Warn("rxq_ovfl_unsupported", "if", c.name, "error", err)
		}
	}

	if c.cfg.CanFdEnabled {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			return -1, errWrap(ErrSetOptCanFd, err)
		}
	}

	if c.cfg.RxBufLen != 0 {
		got, err := setSockBuf(fd, unix.SO_RCVBUFFORCE, unix.SO_RCVBUF,
			c.cfg.RxBufLen, ErrSetOptRcvbuf, ErrGetOptRcvbuf)
		if err != nil {
			return -1, err
		}
		c.cfg.RxBufLenRd = got
	}

	if c.cfg.ErrorMask != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, int(c.cfg.ErrorMask)); err != nil {
			return -1, errWrap(ErrSetOptErrFilter, err)
		}
	}

	if len(filters) > 0 {
		raw := make([]unix.CanFilter, len(filters))
		for i, f := range filters {
			raw[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw); err != nil {
			return -1, errWrap(ErrSetOptRawFilter, err)
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: c.index}); err != nil {
		return -1, errWrap(ErrRxSocketBind, err)
	}

	ok = true
	return fd, nil
}
