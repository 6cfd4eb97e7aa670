//go:build linux

package canif

import (
	"testing"

	"golang.org/x/sys/unix"
)

// fakeConfigurator records netlink calls instead of touching the kernel.
type fakeConfigurator struct {
	started, stopped             bool
	bitrate, dbitrate, restartMs uint32
	ctrlMask, ctrlFlags          uint32
	bitTiming                    [8]uint32
	fail                         error
}

func (f *fakeConfigurator) SetBitrate(b uint32) error     { f.bitrate = b; return f.fail }
func (f *fakeConfigurator) SetDataBitrate(b uint32) error { f.dbitrate = b; return f.fail }
func (f *fakeConfigurator) SetRestartMs(ms uint32) error  { f.restartMs = ms; return f.fail }
func (f *fakeConfigurator) SetCtrlMode(mask, flags uint32) error {
	f.ctrlMask, f.ctrlFlags = mask, flags
	return f.fail
}
func (f *fakeConfigurator) SetBitTiming(bitrate, samplePoint, tq, propSeg, phaseSeg1, phaseSeg2, sjw, brp uint32) error {
	f.bitTiming = [8]uint32{bitrate, samplePoint, tq, propSeg, phaseSeg1, phaseSeg2, sjw, brp}
	return f.fail
}
func (f *fakeConfigurator) Start() error        { f.started = true; return f.fail }
func (f *fakeConfigurator) Stop() error         { f.stopped = true; return nil }
func (f *fakeConfigurator) Restart() error      { return f.fail }
func (f *fakeConfigurator) State() (int, error) { return 0, nil }

// testBus fakes CAN sockets with unix datagram socketpairs: writing a raw
// frame into an endpoint's peer makes it readable for select and recvmsg
// exactly like a kernel receive queue.
type testBus struct {
	t     *testing.T
	peers map[int]int // endpoint fd -> feed-side fd
}

func newTestBus(t *testing.T) *testBus {
	b := &testBus{t: t, peers: map[int]int{}}
	t.Cleanup(func() {
		for fd, peer := range b.peers {
			_ = unix.Close(fd)
			_ = unix.Close(peer)
		}
	})
	return b
}

func (b *testBus) newEndpoint() int {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		b.t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		b.t.Fatalf("nonblock: %v", err)
	}
	b.peers[fds[0]] = fds[1]
	return fds[0]
}

// feed makes one classic frame readable on the endpoint.
func (b *testBus) feed(fd int, f Frame) {
	var buf [MTU]byte
	f.putRaw(buf[:], false)
	if _, err := unix.Write(b.peers[fd], buf[:]); err != nil {
		b.t.Fatalf("feed: %v", err)
	}
}

// newTestInterface wires an Interface to the fake bus and configurator,
// restoring the production hooks when the test ends.
func newTestInterface(t *testing.T, cfg Config) (*Interface, *testBus, *fakeConfigurator) {
	bus := newTestBus(t)
	fc := &fakeConfigurator{}

	origTx, origRx, origNewCfgr := openTxSocketFn, openRxSocketFn, newConfigurator
	t.Cleanup(func() {
		openTxSocketFn, openRxSocketFn, newConfigurator = origTx, origRx, origNewCfgr
	})
	openTxSocketFn = func(c *Interface) (int, error) { return bus.newEndpoint(), nil }
	openRxSocketFn = func(c *Interface, filters []Filter) (int, error) { return bus.newEndpoint(), nil }
	newConfigurator = func(name string, verify bool) (Configurator, error) { return fc, nil }

	c := Request("lo")
	if err := c.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, bus, fc
}

func polledConfig() Config {
	cfg := DefaultConfig()
	cfg.PolledMode = true
	return cfg
}
