//go:build linux

package canif

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canif/internal/metrics"
)

// readEndpoint performs one non-blocking receive on fd and decodes it
// into evt. rx is nil when reading the TX socket (which only ever
// surfaces error frames). The return is the number of datagram bytes
// received (the classic or FD MTU, not the frame's payload length), 0
// for "nothing there" or a tolerated transient error, and ErrNetworkDown
// when the link went away.
func (c *Interface) readEndpoint(fd int, rx *rxEndpoint, evt *Event) (int, error) {
	var raw [MTUFD]byte
	var oob [256]byte
	n, oobn, _, _, err := recvmsgFn(fd, raw[:], oob[:], 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		if err == unix.ENETDOWN {
			c.log.Error("netdown")
			metrics.IncError(metrics.ErrNetDown)
			return 0, ErrNetworkDown
		}
		// Transient; the next pump retries.
		c.log.Warn("recv_error", "fd", fd, "error", err)
		metrics.IncError(metrics.ErrRecv)
		return 0, nil
	}
	if n == 0 {
		return 0, nil
	}

	evt.Frame.fromRaw(raw[:], n)
	evt.Sock = fd
	evt.IsRx = rx != nil
	evt.IsError = IsErrorFrame(evt.Frame.ID)

	if rx != nil && c.cfg.ProcessHeader && oobn > 0 {
		h := parseHeader(oob[:oobn])
		evt.Timestamp = h.ts
		if h.hasDrops {
			evt.DroppedFrames = h.drops - rx.lastDrops
			rx.lastDrops = h.drops
			c.dropped.Store(h.drops)
			if evt.DroppedFrames != 0 {
				c.log.Error("frames_dropped", "count", evt.DroppedFrames, "total", h.drops)
				metrics.AddDropped(uint64(evt.DroppedFrames))
			}
		}
	}
	return n, nil
}

// dispatchLocked routes one event: drop notifications and error frames go
// to every error handler (each exactly once), data frames only to the RX
// handler owning the originating socket. Callers hold c.mu.
func (c *Interface) dispatchLocked(evt *Event) {
	if evt.DroppedFrames != 0 {
		c.callErrHandlersLocked(ErrDroppedFrames)
	}
	if evt.IsError {
		metrics.IncErrorFrames()
		c.callErrHandlersLocked(BusError(evt.Frame.ID & EFFMask))
		return
	}
	if !evt.IsRx {
		return
	}
	metrics.IncRxFrames()
	for _, rx := range c.rxs {
		if rx.handler != nil && rx.fd == evt.Sock {
			rx.handler(&evt.Frame, evt.Timestamp)
		}
	}
}

// drainLocked empties one ready endpoint, dispatching every event.
// Callers hold c.mu.
func (c *Interface) drainLocked(fd int, rx *rxEndpoint) error {
	for {
		var evt Event
		n, err := c.readEndpoint(fd, rx, &evt)
		if err != nil {
			return err
		}
		if n <= 0 {
			return nil
		}
		c.dispatchLocked(&evt)
	}
}

// wait snapshots the readiness set under the lock and blocks in select
// without it, so registration never waits for a poll timeout. It returns
// the ready copy and the number of ready descriptors.
func (c *Interface) wait(timeout time.Duration) (unix.FdSet, int, error) {
	c.mu.Lock()
	fds := c.fds
	maxfd := c.maxfd
	c.mu.Unlock()

	if maxfd < 0 {
		return fds, 0, ErrNullInterface
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(maxfd+1, &fds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return fds, 0, nil
		}
		return fds, 0, err
	}
	return fds, n, nil
}

// Poll performs one pump: wait for readiness up to timeout, then drain
// every ready endpoint, dispatching events through the handler tables. RX
// endpoints are drained in registration order, the TX socket last. A
// timeout or interrupted wait returns nil; ErrNetworkDown is returned
// when the link disappeared and draining stopped.
func (c *Interface) Poll(timeout time.Duration) error {
	if c == nil {
		return ErrNullInterface
	}
	ready, n, err := c.wait(timeout)
	if err != nil {
		c.log.Error("select_error", "error", err)
		c.mu.Lock()
		c.callErrHandlersLocked(err)
		c.mu.Unlock()
		return err
	}
	if n == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Membership may have changed while the wait ran unlocked; consult
	// the live set before touching a descriptor.
	for _, rx := range c.rxs {
		if ready.IsSet(rx.fd) && c.fds.IsSet(rx.fd) {
			if err := c.drainLocked(rx.fd, rx); err != nil {
				return err
			}
		}
	}
	if c.tx >= 0 && ready.IsSet(c.tx) {
		if err := c.drainLocked(c.tx, nil); err != nil {
			return err
		}
	}
	return nil
}

// PollOne waits like Poll but reads at most one event into evt and does
// not invoke any user handler. The first ready RX endpoint (in
// registration order) is consulted, then the TX socket; callers re-pump
// to observe the rest. It reports whether evt was filled.
func (c *Interface) PollOne(timeout time.Duration, evt *Event) (bool, error) {
	if c == nil {
		return false, ErrNullInterface
	}
	ready, n, err := c.wait(timeout)
	if err != nil {
		c.log.Error("select_error", "error", err)
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rx := range c.rxs {
		if ready.IsSet(rx.fd) && c.fds.IsSet(rx.fd) {
			n, err := c.readEndpoint(rx.fd, rx, evt)
			return n > 0, err
		}
	}
	if c.tx >= 0 && ready.IsSet(c.tx) {
		n, err := c.readEndpoint(c.tx, nil, evt)
		return n > 0, err
	}
	return false, nil
}

// PollMsec is Poll with a millisecond timeout.
func (c *Interface) PollMsec(milliseconds int) error {
	return c.Poll(time.Duration(milliseconds) * time.Millisecond)
}
