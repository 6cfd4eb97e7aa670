//go:build linux

package canif

import (
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canif/internal/logging"
	"github.com/kstaniek/go-canif/internal/metrics"
	"github.com/kstaniek/go-canif/internal/nl"
)

const ifNameSize = 16 // IFNAMSIZ

// defaultPollTimeout is the driver goroutine's per-iteration wait.
const defaultPollTimeout = time.Second

// RxHandler receives one data frame and its timestamp. The timestamp is
// zero unless header processing is enabled on the interface.
type RxHandler func(frame *Frame, ts unix.Timeval)

// ErrHandler receives link-level problems: BusError for error frames,
// ErrDroppedFrames when the kernel dropped frames on a receive queue, and
// errors returned by the readiness wait of Poll.
type ErrHandler func(err error)

// Configurator is the netlink side channel that configures the link
// itself. The default implementation lives in internal/nl; tests and
// embedders may supply their own.
type Configurator interface {
	SetBitrate(bitrate uint32) error
	SetDataBitrate(bitrate uint32) error
	SetRestartMs(ms uint32) error
	SetCtrlMode(mask, flags uint32) error
	SetBitTiming(bitrate, samplePoint, tq, propSeg, phaseSeg1, phaseSeg2, sjw, brp uint32) error
	Start() error
	Stop() error
	Restart() error
	State() (int, error)
}

// newConfigurator is a test seam.
var newConfigurator = func(name string, verify bool) (Configurator, error) {
	return nl.NewLink(name, verify)
}

// rxEndpoint is one open read-side socket, optionally carrying the single
// handler registered for it.
type rxEndpoint struct {
	fd      int
	handler RxHandler
	key     uintptr // handler identity; zero when opened without one
	// lastDrops is the kernel's cumulative overflow counter as of the
	// previous receive on this socket.
	lastDrops uint32
}

type errHandler struct {
	fn  ErrHandler
	key uintptr
}

// Interface is one CAN interface: its configuration snapshot, the shared
// TX socket, the open RX sockets with their handlers, and the reactor
// state. All methods are safe for concurrent use. Handlers run on the
// pumping goroutine and must not call mutating methods of the same
// Interface (the reactor holds the interface lock while dispatching).
type Interface struct {
	name string

	mu      sync.Mutex
	cfg     Config
	cfgr    Configurator
	index   int
	mtu     int
	tx      int
	rxs     []*rxEndpoint // registration order
	errCbs  []errHandler
	fds     unix.FdSet // TX socket plus every open RX socket
	maxfd   int
	started bool

	workerDone chan struct{}
	running    atomic.Bool
	pollRate   atomic.Int64 // worker timeout, nanoseconds

	// dropped mirrors the latest cumulative kernel drop counter seen on
	// any endpoint of this interface.
	dropped atomic.Uint32

	log *slog.Logger
}

// Request allocates and pre-wires a fresh interface for the named CAN
// device ("can0", "vcan1", ...). No socket is opened and nothing touches
// the kernel until Init. Names longer than the kernel's 15 byte limit are
// truncated.
func Request(name string) *Interface {
	if len(name) > ifNameSize-1 {
		name = name[:ifNameSize-1]
	}
	c := &Interface{
		name:  name,
		tx:    -1,
		maxfd: -1,
		log:   logging.L().With("if", name),
	}
	c.pollRate.Store(int64(defaultPollTimeout))
	return c
}

// RequestByIndex is Request for the conventional name "can<n>".
func RequestByIndex(n uint) *Interface {
	return Request(fmt.Sprintf("can%d", n))
}

// Name returns the interface name.
func (c *Interface) Name() string { return c.name }

// Index returns the OS interface index resolved by Init.
func (c *Interface) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Config returns the effective configuration, including the buffer sizes
// actually granted by the kernel.
func (c *Interface) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// TxSocket exposes the write-side socket descriptor.
func (c *Interface) TxSocket() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// DroppedFrames returns the last observed cumulative kernel drop counter.
func (c *Interface) DroppedFrames() uint32 { return c.dropped.Load() }

// LinkStats is a read of the interface-level device counters.
type LinkStats struct {
	RxFrames  uint64
	TxFrames  uint64
	RxErrors  uint64
	TxErrors  uint64
	RxDropped uint64
	TxDropped uint64
}

// State returns the CAN controller state as reported by the kernel
// (nl.StateErrorActive .. nl.StateSleeping).
func (c *Interface) State() (int, error) {
	c.mu.Lock()
	cfgr := c.cfgr
	c.mu.Unlock()
	if cfgr == nil {
		return 0, ErrNullInterface
	}
	state, err := cfgr.State()
	if err != nil {
		return 0, errWrap(ErrNetlinkGetState, err)
	}
	return state, nil
}

// Restart triggers a manual bus-off recovery through the netlink side
// channel. Only valid when automatic restart is disabled and the
// controller is bus-off.
func (c *Interface) Restart() error {
	c.mu.Lock()
	cfgr := c.cfgr
	c.mu.Unlock()
	if cfgr == nil {
		return ErrNullInterface
	}
	if err := cfgr.Restart(); err != nil {
		return errWrap(ErrNetlinkRestart, err)
	}
	return nil
}

// DevStats reads the link-level packet and error counters when the
// configurator provides them.
func (c *Interface) DevStats() (LinkStats, error) {
	c.mu.Lock()
	cfgr := c.cfgr
	c.mu.Unlock()
	type statser interface {
		DevStats() (nl.Stats, error)
	}
	s, ok := cfgr.(statser)
	if !ok {
		return LinkStats{}, errWrap(ErrNetlinkGetDevStats, fmt.Errorf("configurator has no statistics"))
	}
	st, err := s.DevStats()
	if err != nil {
		return LinkStats{}, errWrap(ErrNetlinkGetDevStats, err)
	}
	return LinkStats{
		RxFrames:  st.RxFrames,
		TxFrames:  st.TxFrames,
		RxErrors:  st.RxErrors,
		TxErrors:  st.TxErrors,
		RxDropped: st.RxDropped,
		TxDropped: st.TxDropped,
	}, nil
}

// funcKey is the callback identity used by the handler registries: the
// code pointer of the function value. Note that closures created from the
// same function literal share a code pointer and therefore one identity.
func funcKey(v any) uintptr {
	return reflect.ValueOf(v).Pointer()
}

// DefaultErrorHandler logs through the library logger. Init registers it
// on every interface; pass it to UnregisterErrorHandler to silence the
// default diagnostics.
func DefaultErrorHandler(err error) {
	logging.L().Error("can_error", "error", err)
}

// applyNetlink pushes the non-sentinel parts of cfg through the
// configurator, then starts the link.
func (c *Interface) applyNetlink(cfg *Config) error {
	if cfg.Bitrate != InvalidBitrate {
		if err := c.cfgr.SetBitrate(cfg.Bitrate); err != nil {
			return nlCode(err, ErrNetlinkBitrate, ErrNetlinkBitrateMismatch)
		}
	}
	if cfg.DBitrate != InvalidBitrate {
		if err := c.cfgr.SetDataBitrate(cfg.DBitrate); err != nil {
			return nlCode(err, ErrNetlinkBitrate, ErrNetlinkBitrateMismatch)
		}
	}
	if cfg.RestartMs != InvalidRestartMs {
		if err := c.cfgr.SetRestartMs(cfg.RestartMs); err != nil {
			return nlCode(err, ErrNetlinkSetRestartMs, ErrNetlinkRestartMsMismatch)
		}
	}
	if bt := cfg.BitTiming; bt.Bitrate != 0 {
		err := c.cfgr.SetBitTiming(bt.Bitrate, bt.SamplePoint, bt.TQ,
			bt.PropSeg, bt.PhaseSeg1, bt.PhaseSeg2, bt.SJW, bt.BRP)
		if err != nil {
			return nlCode(err, ErrNetlinkSetBitTiming, ErrNetlinkBitTimingMismatch)
		}
	}
	if cfg.CtrlMode.Mask != UnconfiguredCtrlMode {
		if err := c.cfgr.SetCtrlMode(cfg.CtrlMode.Mask, cfg.CtrlMode.Flags); err != nil {
			return nlCode(err, ErrNetlinkSetCtrlMode, ErrNetlinkCtrlModeMismatch)
		}
	}
	if err := c.cfgr.Start(); err != nil {
		return errWrap(ErrNetlinkStart, err)
	}
	return nil
}

// nlCode maps a configurator error to the taxonomy: mismatch failures get
// the dedicated mismatch code, everything else the operation code.
func nlCode(err error, op, mismatch Error) error {
	if nl.IsMismatch(err) {
		return errWrap(mismatch, err)
	}
	return errWrap(op, err)
}

// Init applies the netlink configuration, starts the link, opens and
// binds the TX socket, registers the default error handler, and unless
// cfg.PolledMode spawns the driver goroutine. On any failure every
// resource acquired so far is released.
func (c *Interface) Init(cfg Config) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errWrap(ErrIfaceIndex, fmt.Errorf("%s: already initialized", c.name))
	}
	c.cfg = cfg

	if c.cfgr == nil {
		cfgr, err := newConfigurator(c.name, cfg.NlCmdVerify)
		if err != nil {
			return errWrap(ErrIfaceIndex, err)
		}
		c.cfgr = cfgr
	}
	if err := c.applyNetlink(&cfg); err != nil {
		return err
	}

	ifi, err := net.InterfaceByName(c.name)
	if err != nil {
		return errWrap(ErrIfaceIndex, err)
	}
	c.index = ifi.Index
	c.mtu = ifi.MTU

	fd, err := openTxSocketFn(c)
	if err != nil {
		return err
	}
	c.tx = fd
	c.fds.Zero()
	c.fds.Set(fd)
	c.maxfd = fd

	// Always present so users who never register a handler still get
	// diagnostics. The list is empty here, so this cannot collide.
	_ = c.registerErrorHandlerLocked(DefaultErrorHandler)

	c.started = true
	c.log.Info("if_init", "index", c.index, "canfd", cfg.CanFdEnabled, "polled", cfg.PolledMode)

	if !cfg.PolledMode {
		c.startWorkerLocked()
	}
	return nil
}

// SetConfigurator replaces the netlink collaborator. It must be called
// before Init.
func (c *Interface) SetConfigurator(cfgr Configurator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfgr = cfgr
}

// Close stops the driver goroutine, closes every socket, drops all
// handler records and stops the link. The interface cannot be reused.
func (c *Interface) Close() error {
	if c == nil {
		return nil
	}
	c.stopWorker()

	c.mu.Lock()
	for _, rx := range c.rxs {
		_ = unix.Close(rx.fd)
	}
	c.rxs = nil
	c.errCbs = nil
	if c.tx >= 0 {
		_ = unix.Close(c.tx)
		c.tx = -1
	}
	c.fds.Zero()
	c.maxfd = -1
	metrics.SetRxSockets(0)
	started := c.started
	c.started = false
	cfgr := c.cfgr
	c.mu.Unlock()

	if started && cfgr != nil {
		if err := cfgr.Stop(); err != nil {
			c.log.Error("if_stop_failed", "error", err)
			return errWrap(ErrNetlinkStop, err)
		}
	}
	return nil
}

// SendFrame writes one frame on the shared TX socket at the MTU matching
// the interface mode. For CAN-FD interfaces the payload length is first
// rounded up to the next legal DLC length. A full transmit queue returns
// ErrTxRetryLater; the socket is non-blocking, so the call never waits.
func (c *Interface) SendFrame(f *Frame) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	fd := c.tx
	fdMode := c.cfg.CanFdEnabled
	c.mu.Unlock()

	var buf [MTUFD]byte
	if fdMode {
		f.Len = DLCToLen(SanitizeLength(int(f.Len)))
	}
	mtu := f.putRaw(buf[:], fdMode)

	n, err := writeFn(fd, buf[:mtu])
	if err != nil {
		if err == unix.ENOBUFS || err == unix.EAGAIN {
			// Nothing to log: the txqueue is full and there are no
			// additional buffers. The caller retries.
			metrics.IncTxRetry()
			return ErrTxRetryLater
		}
		c.log.Error("tx_write_error", "error", err)
		metrics.IncError(metrics.ErrTxWrite)
		return errWrap(ErrTxSocketWrite, err)
	}
	if n < mtu {
		return ErrIncompleteFrame
	}
	metrics.IncTxFrames()
	return nil
}

// RegisterErrorHandler adds cb to the error handler list. Registering the
// same callback identity twice fails with ErrAlreadyRegistered.
func (c *Interface) RegisterErrorHandler(cb ErrHandler) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerErrorHandlerLocked(cb)
}

func (c *Interface) registerErrorHandlerLocked(cb ErrHandler) error {
	key := funcKey(cb)
	for _, h := range c.errCbs {
		if h.key == key {
			return ErrAlreadyRegistered
		}
	}
	c.errCbs = append(c.errCbs, errHandler{fn: cb, key: key})
	return nil
}

// UnregisterErrorHandler removes a previously registered error handler.
func (c *Interface) UnregisterErrorHandler(cb ErrHandler) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := funcKey(cb)
	for i, h := range c.errCbs {
		if h.key == key {
			c.errCbs = append(c.errCbs[:i], c.errCbs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// RegisterRxHandler atomically opens an RX socket with the given
// acceptance filters and links cb to it. Frames matching the filters are
// delivered to cb from the reactor. One callback identity may be
// registered at most once per interface.
func (c *Interface) RegisterRxHandler(cb RxHandler, filters []Filter) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := funcKey(cb)
	for _, rx := range c.rxs {
		if rx.key != 0 && rx.key == key {
			return ErrAlreadyRegistered
		}
	}
	rx, err := c.openRxLocked(filters)
	if err != nil {
		return err
	}
	rx.handler = cb
	rx.key = key
	return nil
}

// UnregisterRxHandler closes the RX socket linked to cb and drops the
// handler record.
func (c *Interface) UnregisterRxHandler(cb RxHandler) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := funcKey(cb)
	for _, rx := range c.rxs {
		if rx.key != 0 && rx.key == key {
			c.closeRxLocked(rx.fd)
			return nil
		}
	}
	return ErrNotFound
}

// OpenRxSocket opens a filtered RX socket without a callback, for
// PollOne-style consumption. It returns the socket descriptor, which also
// identifies the endpoint in events.
func (c *Interface) OpenRxSocket(filters []Filter) (int, error) {
	if c == nil {
		return -1, ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rx, err := c.openRxLocked(filters)
	if err != nil {
		return -1, err
	}
	return rx.fd, nil
}

// CloseRxSocket closes an RX socket returned by OpenRxSocket. It also
// drops the handler record if the socket was opened by RegisterRxHandler.
func (c *Interface) CloseRxSocket(fd int) error {
	if c == nil {
		return ErrNullInterface
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRxLocked(fd)
	return nil
}

// openRxLocked opens an endpoint and adds it to the registry and the
// readiness set. Callers hold c.mu.
func (c *Interface) openRxLocked(filters []Filter) (*rxEndpoint, error) {
	fd, err := openRxSocketFn(c, filters)
	if err != nil {
		return nil, err
	}
	rx := &rxEndpoint{fd: fd}
	c.rxs = append(c.rxs, rx)
	c.fds.Set(fd)
	if fd > c.maxfd {
		c.maxfd = fd
	}
	metrics.SetRxSockets(len(c.rxs))
	return rx, nil
}

// closeRxLocked removes the endpoint from the readiness set, closes it
// and drops its record. The cached maximum is recomputed so it stays the
// true maximum of the remaining set. Callers hold c.mu.
func (c *Interface) closeRxLocked(fd int) {
	c.fds.Clear(fd)
	_ = unix.Close(fd)
	for i, rx := range c.rxs {
		if rx.fd == fd {
			c.rxs = append(c.rxs[:i], c.rxs[i+1:]...)
			break
		}
	}
	c.maxfd = c.tx
	for _, rx := range c.rxs {
		if rx.fd > c.maxfd {
			c.maxfd = rx.fd
		}
	}
	metrics.SetRxSockets(len(c.rxs))
}

// callErrHandlersLocked invokes every error handler. Callers hold c.mu.
func (c *Interface) callErrHandlersLocked(err error) {
	for _, h := range c.errCbs {
		if h.fn != nil {
			h.fn(err)
		}
	}
}
