//go:build linux

// Package nl is the netlink side channel for CAN link configuration:
// bitrates, bit timing, controller mode, automatic restart, and link
// start/stop. All set operations need CAP_NET_ADMIN. With verification
// enabled the writes are read back through the kernel and compared;
// differences surface as ErrMismatch-wrapped errors. The data bit rate
// and manual restarts are not read back.
package nl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
	nlpkg "github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// ErrMismatch marks a verification failure: the value read back differs
// from the value written.
var ErrMismatch = errors.New("read-back mismatch")

// IFLA_CAN attribute types (<linux/can/netlink.h>).
const (
	iflaCanBitTiming     = 1
	iflaCanState         = 4
	iflaCanCtrlMode      = 5
	iflaCanRestartMs     = 6
	iflaCanRestart       = 7
	iflaCanDataBitTiming = 9
)

// Controller mode bits (<linux/can/netlink.h>).
const (
	ctrlModeLoopback      = 0x01
	ctrlModeListenOnly    = 0x02
	ctrlModeTripleSample  = 0x04
	ctrlModeOneShot       = 0x08
	ctrlModeBerrReporting = 0x10
)

// CAN device states (<linux/can/netlink.h>).
const (
	StateErrorActive  = 0
	StateErrorWarning = 1
	StateErrorPassive = 2
	StateBusOff       = 3
	StateStopped      = 4
	StateSleeping     = 5
)

// Stats is a read of the link-level device counters.
type Stats struct {
	RxFrames  uint64
	TxFrames  uint64
	RxErrors  uint64
	TxErrors  uint64
	RxDropped uint64
	TxDropped uint64
}

// Link configures one CAN network interface.
type Link struct {
	name   string
	verify bool
}

// NewLink resolves the named interface and returns its configurator.
func NewLink(name string, verify bool) (*Link, error) {
	if _, err := netlink.LinkByName(name); err != nil {
		return nil, fmt.Errorf("link %q: %w", name, err)
	}
	return &Link{name: name, verify: verify}, nil
}

func (l *Link) link() (netlink.Link, error) {
	link, err := netlink.LinkByName(l.name)
	if err != nil {
		return nil, fmt.Errorf("link %q: %w", l.name, err)
	}
	return link, nil
}

// canLink re-reads the link and asserts it is a CAN device, giving access
// to the deserialized IFLA_CAN attributes.
func (l *Link) canLink() (*netlink.Can, error) {
	link, err := l.link()
	if err != nil {
		return nil, err
	}
	can, ok := link.(*netlink.Can)
	if !ok {
		return nil, fmt.Errorf("link %q: not a CAN device (%s)", l.name, link.Type())
	}
	return can, nil
}

// setCanAttr sends one IFLA_CAN attribute inside an RTM_NEWLINK request.
// The high-level netlink package has no setter for most CAN attributes,
// so the request is assembled from its public nl helpers.
func (l *Link) setCanAttr(attrType int, payload []byte) error {
	link, err := l.link()
	if err != nil {
		return err
	}
	req := nlpkg.NewNetlinkRequest(unix.RTM_NEWLINK, unix.NLM_F_ACK)
	msg := nlpkg.NewIfInfomsg(unix.AF_UNSPEC)
	msg.Index = int32(link.Attrs().Index)
	req.AddData(msg)

	linkInfo := nlpkg.NewRtAttr(unix.IFLA_LINKINFO, nil)
	linkInfo.AddRtAttr(nlpkg.IFLA_INFO_KIND, nlpkg.NonZeroTerminated("can"))
	data := linkInfo.AddRtAttr(nlpkg.IFLA_INFO_DATA, nil)
	data.AddRtAttr(attrType, payload)
	req.AddData(linkInfo)

	if _, err := req.Execute(unix.NETLINK_ROUTE, 0); err != nil {
		return fmt.Errorf("rtnetlink %q: %w", l.name, err)
	}
	return nil
}

func (l *Link) wrapMismatch(what string, wrote, read uint32) error {
	return fmt.Errorf("%w: %s wrote %d read %d", ErrMismatch, what, wrote, read)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return b
}

// bittiming serializes a struct can_bittiming. Zero fields other than
// bitrate make the kernel compute the timing itself.
func bittiming(vals ...uint32) []byte {
	b := make([]byte, 32)
	for i, v := range vals {
		binary.NativeEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// SetBitrate sets the nominal bit rate; timing segments are left to the
// kernel's computation from the device clock.
func (l *Link) SetBitrate(bitrate uint32) error {
	if err := l.setCanAttr(iflaCanBitTiming, bittiming(bitrate)); err != nil {
		return err
	}
	if !l.verify {
		return nil
	}
	can, err := l.canLink()
	if err != nil {
		return err
	}
	if can.BitRate != bitrate {
		return l.wrapMismatch("bitrate", bitrate, can.BitRate)
	}
	return nil
}

// SetDataBitrate sets the CAN-FD data phase bit rate. The kernel does not
// expose the data bit timing through the deserialized link attributes, so
// no read back is possible; verification stops at the kernel ACK.
func (l *Link) SetDataBitrate(bitrate uint32) error {
	return l.setCanAttr(iflaCanDataBitTiming, bittiming(bitrate))
}

// SetBitTiming applies a fully specified struct can_bittiming.
func (l *Link) SetBitTiming(bitrate, samplePoint, tq, propSeg, phaseSeg1, phaseSeg2, sjw, brp uint32) error {
	payload := bittiming(bitrate, samplePoint, tq, propSeg, phaseSeg1, phaseSeg2, sjw, brp)
	if err := l.setCanAttr(iflaCanBitTiming, payload); err != nil {
		return err
	}
	if !l.verify {
		return nil
	}
	can, err := l.canLink()
	if err != nil {
		return err
	}
	if can.BitRate != bitrate {
		return l.wrapMismatch("bit-timing bitrate", bitrate, can.BitRate)
	}
	return nil
}

// SetRestartMs sets the automatic bus-off recovery period; zero disables
// automatic restart.
func (l *Link) SetRestartMs(ms uint32) error {
	if err := l.setCanAttr(iflaCanRestartMs, u32(ms)); err != nil {
		return err
	}
	if !l.verify {
		return nil
	}
	can, err := l.canLink()
	if err != nil {
		return err
	}
	if can.RestartMs != ms {
		return l.wrapMismatch("restart-ms", ms, can.RestartMs)
	}
	return nil
}

// observableModes composes the mode bits the kernel reports back through
// the link attributes.
func observableModes(can *netlink.Can) uint32 {
	var m uint32
	if can.LoopBack {
		m |= ctrlModeLoopback
	}
	if can.ListenOnly {
		m |= ctrlModeListenOnly
	}
	if can.TripleSampling {
		m |= ctrlModeTripleSample
	}
	if can.OneShot {
		m |= ctrlModeOneShot
	}
	if can.BerrReporting {
		m |= ctrlModeBerrReporting
	}
	return m
}

// SetCtrlMode writes a struct can_ctrlmode: flags holds the desired bit
// values, mask the bits to change. Read back compares only the bits the
// kernel reports through the link attributes.
func (l *Link) SetCtrlMode(mask, flags uint32) error {
	payload := make([]byte, 8)
	binary.NativeEndian.PutUint32(payload[0:4], mask)
	binary.NativeEndian.PutUint32(payload[4:8], flags)
	if err := l.setCanAttr(iflaCanCtrlMode, payload); err != nil {
		return err
	}
	if !l.verify {
		return nil
	}
	can, err := l.canLink()
	if err != nil {
		return err
	}
	observable := mask & (ctrlModeLoopback | ctrlModeListenOnly |
		ctrlModeTripleSample | ctrlModeOneShot | ctrlModeBerrReporting)
	if got := observableModes(can) & observable; got != flags&observable {
		return fmt.Errorf("%w: ctrl-mode wrote %#x read %#x (mask %#x)",
			ErrMismatch, flags&observable, got, mask)
	}
	return nil
}

// Start brings the link up.
func (l *Link) Start() error {
	link, err := l.link()
	if err != nil {
		return err
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link up %q: %w", l.name, err)
	}
	if !l.verify {
		return nil
	}
	state, err := l.State()
	if err != nil {
		return err
	}
	if state == StateStopped || state == StateSleeping {
		return fmt.Errorf("%w: link started but state is %d", ErrMismatch, state)
	}
	return nil
}

// Stop brings the link down.
func (l *Link) Stop() error {
	link, err := l.link()
	if err != nil {
		return err
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("link down %q: %w", l.name, err)
	}
	return nil
}

// Restart triggers a manual bus-off recovery. Only valid when automatic
// restart is disabled and the controller is bus-off.
func (l *Link) Restart() error {
	return l.setCanAttr(iflaCanRestart, u32(1))
}

// State returns the CAN controller state (StateErrorActive..StateSleeping).
func (l *Link) State() (int, error) {
	can, err := l.canLink()
	if err != nil {
		return 0, err
	}
	return int(can.State), nil
}

// DevStats reads the interface-level packet and error counters.
func (l *Link) DevStats() (Stats, error) {
	link, err := l.link()
	if err != nil {
		return Stats{}, err
	}
	st := link.Attrs().Statistics
	if st == nil {
		return Stats{}, fmt.Errorf("link %q: no statistics", l.name)
	}
	return Stats{
		RxFrames:  st.RxPackets,
		TxFrames:  st.TxPackets,
		RxErrors:  st.RxErrors,
		TxErrors:  st.TxErrors,
		RxDropped: st.RxDropped,
		TxDropped: st.TxDropped,
	}, nil
}

// IsMismatch reports whether err is a verification failure.
func IsMismatch(err error) bool {
	return errors.Is(err, ErrMismatch)
}
