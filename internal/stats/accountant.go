// Package stats implements the Accountant: process-wide traffic counters
// shared by every session, plus periodic log emission and JSON snapshots.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot holds the Accountant's three counters as read by
// Accountant.Snapshot, suitable for JSON encoding or feeding a metrics
// exporter.
type Snapshot struct {
	Connections int64 `json:"connections"`
	BytesUp     int64 `json:"bytes_up"`
	BytesDown   int64 `json:"bytes_down"`
}

// Accountant holds the three process-wide counters named in the spec.
// All methods are safe for concurrent use; there is no global instance —
// callers construct one and pass it explicitly to every component that
// needs to report traffic.
type Accountant struct {
	connections int64
	bytesUp     int64
	bytesDown   int64
}

// New returns a zeroed Accountant.
func New() *Accountant {
	return &Accountant{}
}

// AddConnection records one successfully authenticated session.
func (a *Accountant) AddConnection() {
	atomic.AddInt64(&a.connections, 1)
}

// AddUp records n bytes read from the client and written upstream.
func (a *Accountant) AddUp(n int64) {
	if n == 0 {
		return
	}
	atomic.AddInt64(&a.bytesUp, n)
}

// AddDown records n bytes read from the remote and written to the client.
func (a *Accountant) AddDown(n int64) {
	if n == 0 {
		return
	}
	atomic.AddInt64(&a.bytesDown, n)
}

// Snapshot returns a consistent-enough view of the three counters. Because
// each counter is read independently, a concurrent writer may be observed
// mid-update, but no individual counter can be observed to go backwards.
func (a *Accountant) Snapshot() Snapshot {
	return Snapshot{
		Connections: atomic.LoadInt64(&a.connections),
		BytesUp:     atomic.LoadInt64(&a.bytesUp),
		BytesDown:   atomic.LoadInt64(&a.bytesDown),
	}
}

// RunSummaryLoop emits one structured log line per interval summarizing the
// counters, until ctx is cancelled. It is meant to be run in its own
// goroutine by the Supervisor.
func RunSummaryLoop(ctx context.Context, a *Accountant, log zerolog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.Snapshot()
			log.Info().
				Int64("connections", s.Connections).
				Int64("bytes_up", s.BytesUp).
				Int64("bytes_down", s.BytesDown).
				Msg("traffic summary")
		}
	}
}
