// Package listener runs the accept loop shared by the SOCKS5 and HTTP
// proxy front ends: bind once, reload config/pool per accepted connection,
// and dispatch each session into a bounded worker pool.
package listener

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/kuyproxy/sticky-egress-proxy/internal/config"
	"github.com/kuyproxy/sticky-egress-proxy/internal/workerpool"
)

// InitialDeadline bounds the time a freshly accepted connection has to
// begin its protocol handshake before the session itself takes over
// deadline management.
const InitialDeadline = 30 * time.Second

// Backlog is the minimum accept backlog this listener is sized for. It is
// informational only: net.Listen does not take a backlog argument, so the
// kernel's default is used, but it documents the intended sizing per the
// teacher's listen-and-accept shape.
const Backlog = 128

// Handler builds and runs one session over an accepted connection, given
// the config/pool snapshot loaded for that connection.
type Handler func(conn net.Conn, cfg config.Config, pool config.Pool)

// Listener owns one bound socket and dispatches accepted connections into
// a worker pool, reloading Config and Pool from disk on every accept.
type Listener struct {
	Name       string
	ConfigPath string
	PoolPath   string
	Pool       *workerpool.Pool
	Handle     Handler
	Log        zerolog.Logger
}

// Run binds addr and serves until the listener is closed or ctx-like
// cancellation is requested via stop. It returns a non-nil error only when
// binding addr fails, and nil on a clean shutdown (listener closed); any
// other accept error is logged and the loop keeps accepting.
func (l *Listener) Run(addr string, stop <-chan struct{}) error {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", l.Name, addr, err)
	}

	go func() {
		<-stop
		ln.Close()
	}()

	l.Log.Info().Str("listener", l.Name).Str("addr", addr).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.Log.Warn().Str("listener", l.Name).Err(err).Msg("accept error")
			continue
		}

		cfg, err := config.Load(l.ConfigPath)
		if err != nil {
			l.Log.Warn().Str("listener", l.Name).Err(err).Msg("config reload failed, closing connection")
			conn.Close()
			continue
		}
		pool, err := config.LoadPool(l.PoolPath)
		if err != nil {
			l.Log.Warn().Str("listener", l.Name).Err(err).Msg("pool reload failed, closing connection")
			conn.Close()
			continue
		}

		_ = conn.SetDeadline(time.Now().Add(InitialDeadline))

		handle := l.Handle
		l.Pool.Submit(func() {
			handle(conn, cfg, pool)
		})
	}
}
