package dialer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func discardLog() zerolog.Logger { return zerolog.New(io.Discard) }

func TestDialWithoutBindIPUsesDefaultSource(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d := New(2*time.Second, discardLog())
	result, err := d.Dial(context.Background(), "", "127.0.0.1", addr.Port)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer result.Conn.Close()
	if result.Degraded {
		t.Errorf("Degraded = true, want false for a default-source dial")
	}
}

func TestDialFallsBackWhenBindAddressUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		t.Skipf("no IPv6 loopback available: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	// 2001:db8::1 is documentation-only address space (RFC 3849) and will
	// never be assigned to a local interface, so binding to it fails.
	addr := ln.Addr().(*net.TCPAddr)
	d := New(2*time.Second, discardLog())
	result, err := d.Dial(context.Background(), "2001:db8::1", "::1", addr.Port)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer result.Conn.Close()
	if !result.Degraded {
		t.Errorf("Degraded = false, want true after an unbindable source address")
	}
}

func TestDialNetworkSelection(t *testing.T) {
	cases := []struct {
		bindIP, host, want string
	}{
		{"", "93.184.216.34", "tcp4"},
		{"", "::1", "tcp6"},
		{"2001:db8::1", "93.184.216.34", "tcp6"},
	}
	for _, c := range cases {
		if got := dialNetwork(c.bindIP, c.host); got != c.want {
			t.Errorf("dialNetwork(%q, %q) = %q, want %q", c.bindIP, c.host, got, c.want)
		}
	}
}
