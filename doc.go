// Package canif opens, configures and multiplexes CAN and CAN-FD traffic
// over Linux SocketCAN raw sockets.
//
// An Interface owns one transmit socket shared by all producers and any
// number of filtered receive sockets. A reactor watches all of them and
// dispatches received frames, link errors and overflow notifications to
// registered handlers; by default an owned goroutine pumps the reactor
// continuously, or callers can drive it themselves with Poll/PollOne in
// polled mode.
//
// Link-level configuration (bitrate, controller mode, restart period) is
// applied through a netlink side channel and usually requires
// CAP_NET_ADMIN.
package canif
