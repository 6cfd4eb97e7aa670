//go:build linux

package canif

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestInitAppliesNetlinkConfig(t *testing.T) {
	cfg := polledConfig()
	cfg.Bitrate = 500_000
	cfg.DBitrate = 2_000_000
	cfg.RestartMs = 100
	cfg.CtrlMode = CtrlMode{Mask: CtrlModeListenOnly, Flags: CtrlModeListenOnly}
	_, _, fc := newTestInterface(t, cfg)

	if fc.bitrate != 500_000 || fc.dbitrate != 2_000_000 {
		t.Errorf("bitrates = (%d, %d)", fc.bitrate, fc.dbitrate)
	}
	if fc.restartMs != 100 {
		t.Errorf("restartMs = %d", fc.restartMs)
	}
	if fc.ctrlMask != CtrlModeListenOnly || fc.ctrlFlags != CtrlModeListenOnly {
		t.Errorf("ctrl mode = (%#x, %#x)", fc.ctrlMask, fc.ctrlFlags)
	}
	if !fc.started {
		t.Error("link not started")
	}
}

func TestInitSkipsSentinels(t *testing.T) {
	fc := &fakeConfigurator{bitrate: 1, dbitrate: 1, restartMs: 1, ctrlMask: 1}
	// Pre-poison the fake; sentinel config fields must not overwrite it.
	orig := newConfigurator
	t.Cleanup(func() { newConfigurator = orig })
	newConfigurator = func(name string, verify bool) (Configurator, error) { return fc, nil }
	origTx := openTxSocketFn
	t.Cleanup(func() { openTxSocketFn = origTx })
	bus := newTestBus(t)
	openTxSocketFn = func(c *Interface) (int, error) { return bus.newEndpoint(), nil }

	c := Request("lo")
	if err := c.Init(polledConfig()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()
	if fc.bitrate != 1 || fc.dbitrate != 1 || fc.restartMs != 1 || fc.ctrlMask != 1 {
		t.Errorf("sentinel fields were applied: %+v", fc)
	}
}

func TestDuplicateRxHandlerRejected(t *testing.T) {
	c, _, _ := newTestInterface(t, polledConfig())
	h := func(f *Frame, ts unix.Timeval) {}
	filters := []Filter{{ID: 0x100, Mask: 0x7FF}}

	if err := c.RegisterRxHandler(h, filters); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.RegisterRxHandler(h, nil); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second register = %v, want ErrAlreadyRegistered", err)
	}
	if len(c.rxs) != 1 {
		t.Errorf("endpoint count = %d, want 1", len(c.rxs))
	}
}

func TestUnregisterMissingRxHandler(t *testing.T) {
	c, _, _ := newTestInterface(t, polledConfig())
	if err := c.UnregisterRxHandler(func(f *Frame, ts unix.Timeval) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unregister = %v, want ErrNotFound", err)
	}
}

func TestReadinessSetInvariant(t *testing.T) {
	c, _, _ := newTestInterface(t, polledConfig())

	check := func(stage string) {
		t.Helper()
		if !c.fds.IsSet(c.tx) {
			t.Fatalf("%s: TX socket missing from readiness set", stage)
		}
		max := c.tx
		for _, rx := range c.rxs {
			if !c.fds.IsSet(rx.fd) {
				t.Fatalf("%s: RX socket %d missing from readiness set", stage, rx.fd)
			}
			if rx.fd > max {
				max = rx.fd
			}
		}
		if c.maxfd != max {
			t.Fatalf("%s: cached maxfd %d, true maximum %d", stage, c.maxfd, max)
		}
	}
	check("after init")

	fd1, err := c.OpenRxSocket(nil)
	if err != nil {
		t.Fatalf("OpenRxSocket: %v", err)
	}
	fd2, err := c.OpenRxSocket([]Filter{StdFilter(0x42)})
	if err != nil {
		t.Fatalf("OpenRxSocket: %v", err)
	}
	check("after opens")

	if err := c.CloseRxSocket(fd2); err != nil {
		t.Fatalf("CloseRxSocket: %v", err)
	}
	check("after closing newest")
	if c.fds.IsSet(fd2) {
		t.Error("closed socket still in readiness set")
	}
	if err := c.CloseRxSocket(fd1); err != nil {
		t.Fatalf("CloseRxSocket: %v", err)
	}
	check("after closing all")
}

func TestErrorHandlerRegistry(t *testing.T) {
	c, _, _ := newTestInterface(t, polledConfig())

	// Init pre-registers the default handler; it is addressable.
	if err := c.RegisterErrorHandler(DefaultErrorHandler); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("re-register default = %v, want ErrAlreadyRegistered", err)
	}
	if err := c.UnregisterErrorHandler(DefaultErrorHandler); err != nil {
		t.Fatalf("unregister default: %v", err)
	}

	own := func(err error) {}
	if err := c.RegisterErrorHandler(own); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.RegisterErrorHandler(own); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("duplicate register = %v", err)
	}
	if err := c.UnregisterErrorHandler(own); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := c.UnregisterErrorHandler(own); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second unregister = %v, want ErrNotFound", err)
	}
}

func TestInitFailureReleasesResources(t *testing.T) {
	origTx, origNewCfgr := openTxSocketFn, newConfigurator
	t.Cleanup(func() { openTxSocketFn, newConfigurator = origTx, origNewCfgr })
	newConfigurator = func(name string, verify bool) (Configurator, error) {
		return &fakeConfigurator{}, nil
	}
	openTxSocketFn = func(c *Interface) (int, error) {
		return -1, errWrap(ErrTxSocketCreate, errors.New("boom"))
	}

	c := Request("lo")
	if err := c.Init(polledConfig()); !errors.Is(err, ErrTxSocketCreate) {
		t.Fatalf("Init = %v, want ErrTxSocketCreate", err)
	}
	if c.started {
		t.Error("interface marked started after failed init")
	}
	if c.tx >= 0 {
		t.Error("TX socket recorded after failed init")
	}
}

func TestConfigReadback(t *testing.T) {
	c, _, _ := newTestInterface(t, polledConfig())
	got := c.Config()
	if !got.ProcessHeader || got.PolledMode != true {
		t.Errorf("Config() = %+v", got)
	}
	if got.ErrorMask != DefaultErrorMask {
		t.Errorf("error mask = %#x, want %#x", got.ErrorMask, DefaultErrorMask)
	}
}

func TestCloseStopsLink(t *testing.T) {
	c, _, fc := newTestInterface(t, polledConfig())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fc.stopped {
		t.Error("link not stopped on Close")
	}
	if len(c.rxs) != 0 || c.tx != -1 {
		t.Error("sockets survived Close")
	}
}
