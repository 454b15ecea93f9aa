// Package httpproxy implements the HTTP/1.1 proxy session: request-line
// and header parsing, Basic proxy authentication, CONNECT tunnelling, and
// absolute-URI forwarding with Proxy-* header stripping.
package httpproxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kuyproxy/sticky-egress-proxy/internal/config"
	"github.com/kuyproxy/sticky-egress-proxy/internal/dialer"
	"github.com/kuyproxy/sticky-egress-proxy/internal/relay"
	"github.com/kuyproxy/sticky-egress-proxy/internal/sticky"
)

// NegotiationTimeout bounds reading the request header block.
const NegotiationTimeout = 30 * time.Second

// readChunkSize matches the reference implementation's header read size.
const readChunkSize = 4096

const authRealm = "sticky-egress-proxy"

// Counters is the subset of the Accountant a session reports to.
type Counters interface {
	AddConnection()
	AddUp(n int64)
	AddDown(n int64)
}

// Session runs one HTTP proxy connection end to end.
type Session struct {
	Conn     net.Conn
	Config   config.Config
	Pool     config.Pool
	Dialer   *dialer.Dialer
	Counters Counters
	Log      zerolog.Logger
}

// Serve drives the session to completion, always closing Conn on exit.
func (s *Session) Serve() {
	defer s.Conn.Close()
	_ = s.Conn.SetDeadline(time.Now().Add(NegotiationTimeout))

	headerBlock, rest, ok := s.readHeaderBlock()
	if !ok {
		return
	}

	lines := strings.Split(headerBlock, "\r\n")
	reqLine := lines[0]
	parts := strings.SplitN(reqLine, " ", 3)
	if len(parts) < 3 {
		return
	}
	method := strings.ToUpper(parts[0])
	target := parts[1]
	headerLines := lines[1:]

	username, authOK := s.authenticate(headerLines)
	if !authOK {
		return
	}

	s.Counters.AddConnection()

	base := s.Config.Username()
	bindIP, _ := sticky.Resolve(username, base, []string(s.Pool))

	if method == "CONNECT" {
		s.handleConnect(username, bindIP, target)
		return
	}
	s.handleForward(username, bindIP, method, target, headerLines, rest)
}

// readHeaderBlock reads from Conn in readChunkSize chunks until it has
// seen CRLFCRLF, returning the header block (without the trailing blank
// line) and any bytes read past it as pre-buffered body.
func (s *Session) readHeaderBlock() (headerBlock string, rest []byte, ok bool) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)
	for {
		if idx := bytes.Index(buf.Bytes(), []byte("\r\n\r\n")); idx != -1 {
			all := buf.Bytes()
			return string(all[:idx]), append([]byte(nil), all[idx+4:]...), true
		}
		n, err := s.Conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			return "", nil, false
		}
	}
}

// authenticate scans headerLines for Proxy-Authorization. A present header
// is always decoded and compared against the configured password — even
// an empty one — since that is how a client selects sticky egress on the
// HTTP proxy when no global password is set; it returns the decoded
// username on a match and 407s on any mismatch. Only the absence of the
// header short-circuits on an empty password, returning ("anon", true).
// It returns ("", false) whenever a 407 was sent and the session must
// close.
func (s *Session) authenticate(headerLines []string) (string, bool) {
	password := s.Config.Password()

	var encoded string
	var hasHeader bool
	for _, line := range headerLines {
		if len(line) >= len("proxy-authorization:") && strings.EqualFold(line[:len("proxy-authorization:")], "proxy-authorization:") {
			hasHeader = true
			encoded = strings.TrimSpace(line[len("proxy-authorization:"):])
			break
		}
	}

	if !hasHeader {
		if password == "" {
			return "anon", true
		}
		s.sendStatus(407, fmt.Sprintf(`Proxy-Authenticate: Basic realm="%s"`, authRealm))
		return "", false
	}

	const prefix = "basic "
	if len(encoded) < len(prefix) || !strings.EqualFold(encoded[:len(prefix)], prefix) {
		s.sendStatus(407, fmt.Sprintf(`Proxy-Authenticate: Basic realm="%s"`, authRealm))
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded[len(prefix):]))
	if err != nil {
		s.sendStatus(407, fmt.Sprintf(`Proxy-Authenticate: Basic realm="%s"`, authRealm))
		return "", false
	}
	username, pass, _ := strings.Cut(string(decoded), ":")
	if pass != password {
		s.Log.Warn().Str("username", username).Msg("http proxy auth failed")
		s.sendStatus(407, fmt.Sprintf(`Proxy-Authenticate: Basic realm="%s"`, authRealm))
		return "", false
	}
	return username, true
}

func (s *Session) handleConnect(username, bindIP, target string) {
	host, portStr, ok := strings.Cut(target, ":")
	if !ok {
		host, portStr = target, "443"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 443
	}

	s.Log.Info().Str("username", username).Str("bind_ip", bindIP).Str("target", target).Msg("http connect")

	ctx, cancel := context.WithTimeout(context.Background(), dialer.DefaultConnectTimeout)
	defer cancel()
	result, err := s.Dialer.Dial(ctx, bindIP, host, port)
	if err != nil {
		s.Log.Debug().Err(err).Str("target", target).Msg("http connect dial failed")
		s.sendStatus(502, "")
		return
	}

	if _, err := s.Conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		result.Conn.Close()
		return
	}

	_ = s.Conn.SetDeadline(time.Time{})
	relay.Run(s.Conn, result.Conn, s.Counters)
}

func (s *Session) handleForward(username, bindIP, method, target string, headerLines []string, body []byte) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return
	}
	host := u.Hostname()
	port := 80
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	var rebuilt bytes.Buffer
	fmt.Fprintf(&rebuilt, "%s %s HTTP/1.1\r\n", method, path)
	for _, line := range headerLines {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "proxy-auth") || strings.HasPrefix(lower, "proxy-connection:") {
			continue
		}
		rebuilt.WriteString(line)
		rebuilt.WriteString("\r\n")
	}
	rebuilt.WriteString("\r\n")
	rebuilt.Write(body)

	s.Log.Info().Str("username", username).Str("bind_ip", bindIP).Str("method", method).Str("target", target).Msg("http forward")

	ctx, cancel := context.WithTimeout(context.Background(), dialer.DefaultConnectTimeout)
	defer cancel()
	result, err := s.Dialer.Dial(ctx, bindIP, host, port)
	if err != nil {
		s.Log.Debug().Err(err).Str("target", target).Msg("http forward dial failed")
		s.sendStatus(502, "")
		return
	}

	if _, err := result.Conn.Write(rebuilt.Bytes()); err != nil {
		result.Conn.Close()
		return
	}

	_ = s.Conn.SetDeadline(time.Time{})
	relay.Run(s.Conn, result.Conn, s.Counters)
}

func (s *Session) sendStatus(code int, extraHeader string) {
	text := statusText(code)
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: 0\r\n", code, text)
	if extraHeader != "" {
		resp += extraHeader + "\r\n"
	}
	resp += "\r\n"
	_, _ = s.Conn.Write([]byte(resp))
}

func statusText(code int) string {
	switch code {
	case 407:
		return "Proxy Authentication Required"
	case 502:
		return "Bad Gateway"
	default:
		return "Error"
	}
}
