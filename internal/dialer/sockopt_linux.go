//go:build linux

package dialer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketOptions tunes the outbound TCP socket before connect(2): address
// reuse (so a bound sticky source can be reclaimed quickly after close),
// TCP_NODELAY for interactive proxy traffic, and a keepalive profile so
// dead peers are reaped instead of leaking sockets.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}
