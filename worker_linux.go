//go:build linux

package canif

import (
	"runtime"
	"time"

	"log/slog"

	"golang.org/x/sys/unix"
)

// setRealtime tries to move the pumping goroutine's OS thread to the FIFO
// scheduling class. That needs CAP_SYS_NICE; without it the worker simply
// stays in the default class.
func setRealtime(log *slog.Logger) {
	runtime.LockOSThread()
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: 10,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		log.Debug("sched_fifo_unavailable", "error", err)
		runtime.UnlockOSThread()
	}
}

// startWorkerLocked spawns the driver goroutine: a loop pumping Poll with
// the configured per-iteration timeout, yielding to the scheduler between
// pumps, until the run flag clears. Callers hold c.mu.
func (c *Interface) startWorkerLocked() {
	c.running.Store(true)
	done := make(chan struct{})
	c.workerDone = done
	go func() {
		defer close(done)
		setRealtime(c.log)
		for c.running.Load() {
			_ = c.Poll(time.Duration(c.pollRate.Load()))
			runtime.Gosched()
		}
	}()
}

// stopWorker clears the run flag and joins the driver goroutine. The
// worker notices the flag at the latest when its current pump times out.
func (c *Interface) stopWorker() {
	c.running.Store(false)
	c.mu.Lock()
	done := c.workerDone
	c.workerDone = nil
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SetThreadPollRate changes the driver goroutine's per-iteration poll
// timeout. It takes effect on the next pump.
func (c *Interface) SetThreadPollRate(timeout time.Duration) {
	if c == nil {
		return
	}
	c.pollRate.Store(int64(timeout))
}

// SetThreadPollRateMsec is SetThreadPollRate in milliseconds.
func (c *Interface) SetThreadPollRateMsec(milliseconds int) {
	c.SetThreadPollRate(time.Duration(milliseconds) * time.Millisecond)
}
