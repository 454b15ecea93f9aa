// Package dialer implements the OutboundDialer: it opens the egress socket
// for one session, optionally bound to a sticky source address.
package dialer

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultConnectTimeout is used when a session does not override it.
const DefaultConnectTimeout = 10 * time.Second

// Dialer opens outbound connections, optionally bound to a fixed source
// address. The zero value is usable with the package default timeout.
type Dialer struct {
	Timeout time.Duration
	Log     zerolog.Logger
}

// New returns a Dialer with the given connect timeout and logger.
func New(timeout time.Duration, log zerolog.Logger) *Dialer {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Dialer{Timeout: timeout, Log: log}
}

// Result carries the outcome of a successful Dial: the established
// connection and the local (bound) address the kernel assigned it, which
// is what SOCKS5's CONNECT reply and the sticky-binding invariant both
// care about.
type Result struct {
	Conn      net.Conn
	LocalAddr net.Addr
	// Degraded is true when bindIP was requested but the bind(2) call
	// failed and the dial proceeded with the default source address.
	Degraded bool
}

// Dial opens a TCP connection to host:port. If bindIP is non-empty, the
// socket is bound to (bindIP, 0) before connecting; address family
// selection follows §4.2: bindIP present → IPv6, else an IPv6-literal host
// → IPv6, else IPv4 (DNS resolution then picks the family via A records).
//
// A bind(2) failure is treated as a warning, not a fatal error: the dial
// retries with the default source address and Result.Degraded is set, so
// the sticky guarantee degrades gracefully rather than failing the
// session outright (see the bind-failure design note).
func (d *Dialer) Dial(ctx context.Context, bindIP, host string, port int) (*Result, error) {
	network := dialNetwork(bindIP, host)
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := &net.Dialer{Timeout: timeout, Control: setSocketOptions}
	if bindIP != "" {
		dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(bindIP)}
	}

	target := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := dialer.DialContext(ctx, network, target)
	degraded := false
	if err != nil && bindIP != "" && isBindError(err) {
		d.Log.Warn().Str("bind_ip", bindIP).Err(err).Msg("bind failed, retrying with default source")
		fallback := &net.Dialer{Timeout: timeout, Control: setSocketOptions}
		conn, err = fallback.DialContext(ctx, network, target)
		degraded = true
	}
	if err != nil {
		return nil, err
	}

	// Connect-phase deadline is handled by net.Dialer.Timeout; clear any
	// inherited deadline before returning to the caller for the
	// steady-state relay.
	_ = conn.SetDeadline(time.Time{})

	return &Result{Conn: conn, LocalAddr: conn.LocalAddr(), Degraded: degraded}, nil
}

func dialNetwork(bindIP, host string) string {
	if bindIP != "" {
		return "tcp6"
	}
	if strings.Contains(host, ":") {
		return "tcp6"
	}
	return "tcp4"
}

// isBindError reports whether err's root cause was the bind(2) syscall,
// as opposed to connect(2) failing for an unrelated reason (connection
// refused, network unreachable, timeout). Only a bind failure warrants
// retrying without LocalAddr — any other dial failure is a real failure
// to reach the destination and must be returned as-is.
func isBindError(err error) bool {
	for err != nil {
		if sysErr, ok := err.(*os.SyscallError); ok {
			return sysErr.Syscall == "bind"
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
