package socks5

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kuyproxy/sticky-egress-proxy/internal/config"
	"github.com/kuyproxy/sticky-egress-proxy/internal/dialer"
)

type fakeCounters struct {
	connections int64
	up, down    int64
}

func (c *fakeCounters) AddConnection() { atomic.AddInt64(&c.connections, 1) }
func (c *fakeCounters) AddUp(n int64)  { atomic.AddInt64(&c.up, n) }
func (c *fakeCounters) AddDown(n int64) { atomic.AddInt64(&c.down, n) }

// echoUpstream starts a TCP listener that echoes everything it reads, and
// returns its host/port.
func echoUpstream(t *testing.T) (host string, port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "::1", addr.Port, func() { ln.Close() }
}

func runSession(t *testing.T, cfg config.Config, pool config.Pool) (clientConn net.Conn, counters *fakeCounters) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	counters = &fakeCounters{}
	sess := &Session{
		Conn:     serverSide,
		Config:   cfg,
		Pool:     pool,
		Dialer:   dialer.New(2*time.Second, zerologDiscard()),
		Counters: counters,
		Log:      zerologDiscard(),
	}
	go sess.Serve()
	return clientSide, counters
}

func TestSocks5ConnectWithStickyUser(t *testing.T) {
	host, port, stop := echoUpstream(t)
	defer stop()

	cfg := config.Config{config.KeySocksUsername: "user", config.KeySocksPassword: "pw"}
	pool := config.Pool{"::1"} // single-entry pool; bind_ip is the loopback itself

	client, counters := runSession(t, cfg, pool)
	defer client.Close()

	// Greeting: offer user/pass.
	if _, err := client.Write([]byte{0x05, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	readExact(t, client, 2, []byte{0x05, 0x02})

	// Auth.
	authReq := []byte{0x01, 4, 'u', 's', 'e', 'r', 2, 'p', 'w'}
	if _, err := client.Write(authReq); err != nil {
		t.Fatal(err)
	}
	readExact(t, client, 2, []byte{0x01, 0x00})

	// Request: CONNECT to echo upstream by IPv6 literal.
	req := []byte{0x05, 0x01, 0x00, 0x04}
	req = append(req, net.ParseIP(host).To16()...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(port))
	req = append(req, portBuf...)
	if _, err := client.Write(req); err != nil {
		t.Fatal(err)
	}

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(client, hdr); err != nil {
		t.Fatal(err)
	}
	if hdr[1] != repSuccess {
		t.Fatalf("REP = %#x, want success", hdr[1])
	}
	// Drain BND.ADDR + BND.PORT.
	if hdr[3] == atypIPv4 {
		io.ReadFull(client, make([]byte, 6))
	} else {
		io.ReadFull(client, make([]byte, 18))
	}

	payload := []byte("ping")
	if _, err := client.Write(payload); err != nil {
		t.Fatal(err)
	}
	echo := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(client, echo); err != nil {
		t.Fatal(err)
	}
	if string(echo) != string(payload) {
		t.Fatalf("echo = %q, want %q", echo, payload)
	}

	if atomic.LoadInt64(&counters.connections) != 1 {
		t.Errorf("connections = %d, want 1", counters.connections)
	}
}

func TestSocks5AnonFallbackNoAuth(t *testing.T) {
	cfg := config.Config{} // empty password => no-auth allowed
	pool := config.Pool{"2001:db8::a"}

	client, _ := runSession(t, cfg, pool)
	defer client.Close()

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	readExact(t, client, 2, []byte{0x05, 0x00})
}

func TestSocks5RejectsUnsupportedCommand(t *testing.T) {
	cfg := config.Config{}
	pool := config.Pool{}
	client, _ := runSession(t, cfg, pool)
	defer client.Close()

	client.Write([]byte{0x05, 0x01, 0x00})
	readExact(t, client, 2, []byte{0x05, 0x00})

	// BIND command (0x02), unsupported.
	req := []byte{0x05, 0x02, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	client.Write(req)

	hdr := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(client, hdr); err != nil {
		t.Fatal(err)
	}
	if hdr[1] != repCommandNotSupported {
		t.Fatalf("REP = %#x, want %#x", hdr[1], repCommandNotSupported)
	}
}

func readExact(t *testing.T, r net.Conn, n int, want []byte) {
	t.Helper()
	r.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("got %v, want %v", buf, want)
		}
	}
}
