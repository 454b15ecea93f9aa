// Package socks5 implements the SOCKS5 session state machine: greeting,
// RFC 1929 username/password auth, the CONNECT request, and handoff to
// the shared Relay. Only the CONNECT command is supported; BIND and UDP
// ASSOCIATE are non-goals.
package socks5

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kuyproxy/sticky-egress-proxy/internal/config"
	"github.com/kuyproxy/sticky-egress-proxy/internal/dialer"
	"github.com/kuyproxy/sticky-egress-proxy/internal/nat64"
	"github.com/kuyproxy/sticky-egress-proxy/internal/relay"
	"github.com/kuyproxy/sticky-egress-proxy/internal/sticky"
)

// Wire constants, RFC 1928/1929.
const (
	version5 = 0x05

	methodNoAuth       = 0x00
	methodUserPass     = 0x02
	methodNoAcceptable = 0xFF

	authVersion1   = 0x01
	authSuccess    = 0x00
	authFailure    = 0x01

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSuccess             = 0x00
	repGeneralFailure      = 0x01
	repConnectionRefused   = 0x05
	repCommandNotSupported = 0x07
)

// NegotiationTimeout bounds the greeting/auth/request phases; it is
// cleared before handing off to Relay.
const NegotiationTimeout = 30 * time.Second

// Counters is the subset of the Accountant a session reports to.
type Counters interface {
	AddConnection()
	AddUp(n int64)
	AddDown(n int64)
}

// Session runs one SOCKS5 connection end to end.
type Session struct {
	Conn      net.Conn
	Config    config.Config
	Pool      config.Pool
	Dialer    *dialer.Dialer
	Counters  Counters
	Log       zerolog.Logger
}

// Serve drives the session's state machine to completion. It never
// returns an error to the caller — every failure path is either a silent
// close (protocol violation, unsupported ATYP) or a wire-level reply
// followed by close; Serve always closes Conn before returning.
func (s *Session) Serve() {
	defer s.Conn.Close()
	_ = s.Conn.SetDeadline(time.Now().Add(NegotiationTimeout))

	username, ok := s.greet()
	if !ok {
		return
	}
	s.request(username)
}

// greet performs method selection and, if required, RFC 1929 auth. It
// returns the authenticated username and true on success to proceed to
// the request phase, or ("", false) if the session should terminate.
func (s *Session) greet() (string, bool) {
	var hdr [2]byte
	if _, err := io.ReadFull(s.Conn, hdr[:]); err != nil {
		return "", false
	}
	if hdr[0] != version5 {
		return "", false
	}
	nmethods := int(hdr[1])
	methods := make([]byte, nmethods)
	if nmethods > 0 {
		if _, err := io.ReadFull(s.Conn, methods); err != nil {
			return "", false
		}
	}

	offers := func(m byte) bool {
		for _, x := range methods {
			if x == m {
				return true
			}
		}
		return false
	}

	password := s.Config.Password()

	switch {
	case password != "" && offers(methodUserPass):
		if _, err := s.Conn.Write([]byte{version5, methodUserPass}); err != nil {
			return "", false
		}
		return s.auth(password)
	case password == "" && offers(methodNoAuth):
		if _, err := s.Conn.Write([]byte{version5, methodNoAuth}); err != nil {
			return "", false
		}
		return "anon", true
	default:
		_, _ = s.Conn.Write([]byte{version5, methodNoAcceptable})
		return "", false
	}
}

// auth performs the RFC 1929 username/password exchange.
func (s *Session) auth(password string) (string, bool) {
	var verHdr [1]byte
	if _, err := io.ReadFull(s.Conn, verHdr[:]); err != nil {
		return "", false
	}
	if verHdr[0] != authVersion1 {
		return "", false
	}

	var ulen [1]byte
	if _, err := io.ReadFull(s.Conn, ulen[:]); err != nil {
		return "", false
	}
	uname := make([]byte, ulen[0])
	if ulen[0] > 0 {
		if _, err := io.ReadFull(s.Conn, uname); err != nil {
			return "", false
		}
	}

	var plen [1]byte
	if _, err := io.ReadFull(s.Conn, plen[:]); err != nil {
		return "", false
	}
	passwd := make([]byte, plen[0])
	if plen[0] > 0 {
		if _, err := io.ReadFull(s.Conn, passwd); err != nil {
			return "", false
		}
	}

	username := string(uname)
	if string(passwd) != password {
		_, _ = s.Conn.Write([]byte{authVersion1, authFailure})
		s.Log.Warn().Str("username", username).Msg("socks5 auth failed")
		return "", false
	}
	if _, err := s.Conn.Write([]byte{authVersion1, authSuccess}); err != nil {
		return "", false
	}
	return username, true
}

// request parses the CONNECT request, resolves the sticky binding, dials
// out, and replies before handing off to Relay.
func (s *Session) request(username string) {
	s.Counters.AddConnection()

	var hdr [4]byte
	if _, err := io.ReadFull(s.Conn, hdr[:]); err != nil {
		return
	}
	if hdr[0] != version5 {
		return
	}

	host, isIPv4Literal, ok := s.readAddr(hdr[3])
	if !ok {
		return
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(s.Conn, portBuf[:]); err != nil {
		return
	}
	port := int(binary.BigEndian.Uint16(portBuf[:]))

	if hdr[1] != cmdConnect {
		s.reply(repCommandNotSupported, nil, 0)
		return
	}

	if isIPv4Literal {
		host = nat64.Rewrite(host, s.Config.IPv6Only())
	}

	base := s.Config.Username()
	bindIP, _ := sticky.Resolve(username, base, []string(s.Pool))

	s.Log.Info().Str("username", username).Str("bind_ip", bindIP).Str("target", net.JoinHostPort(host, strconv.Itoa(port))).Msg("socks5 connect")

	ctx, cancel := context.WithTimeout(context.Background(), dialer.DefaultConnectTimeout)
	defer cancel()
	result, err := s.Dialer.Dial(ctx, bindIP, host, port)
	if err != nil {
		s.Log.Debug().Err(err).Str("target", host).Msg("socks5 dial failed")
		s.reply(repConnectionRefused, nil, 0)
		return
	}

	local, _ := result.LocalAddr.(*net.TCPAddr)
	var localIP net.IP
	var localPort int
	if local != nil {
		localIP, localPort = local.IP, local.Port
	}
	s.reply(repSuccess, localIP, localPort)

	_ = s.Conn.SetDeadline(time.Time{})
	relay.Run(s.Conn, result.Conn, s.Counters)
}

// readAddr parses ADDR by ATYP, returning the textual host, whether it was
// an IPv4 literal (for the NAT64 rewrite rule), and ok=false if ATYP is
// unrecognized (session must close silently, no reply).
func (s *Session) readAddr(atyp byte) (host string, isIPv4 bool, ok bool) {
	switch atyp {
	case atypIPv4:
		var addr [4]byte
		if _, err := io.ReadFull(s.Conn, addr[:]); err != nil {
			return "", false, false
		}
		return net.IP(addr[:]).String(), true, true
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(s.Conn, l[:]); err != nil {
			return "", false, false
		}
		name := make([]byte, l[0])
		if l[0] > 0 {
			if _, err := io.ReadFull(s.Conn, name); err != nil {
				return "", false, false
			}
		}
		return string(name), false, true
	case atypIPv6:
		var addr [16]byte
		if _, err := io.ReadFull(s.Conn, addr[:]); err != nil {
			return "", false, false
		}
		return net.IP(addr[:]).String(), false, true
	default:
		return "", false, false
	}
}

// reply sends VER REP RSV ATYP BND.ADDR BND.PORT. A nil ip yields the
// zero-valued IPv4 address required for failure replies.
func (s *Session) reply(rep byte, ip net.IP, port int) {
	buf := make([]byte, 4, 22)
	buf[0] = version5
	buf[1] = rep
	buf[2] = 0x00

	if v4 := ip.To4(); ip != nil && v4 != nil {
		buf[3] = atypIPv4
		buf = append(buf, v4...)
	} else if ip != nil {
		buf[3] = atypIPv6
		buf = append(buf, ip.To16()...)
	} else {
		buf[3] = atypIPv4
		buf = append(buf, 0, 0, 0, 0)
	}

	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(port))
	buf = append(buf, portBuf...)

	_, _ = s.Conn.Write(buf)
}
