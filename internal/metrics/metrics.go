// Package metrics exposes the Accountant's counters to Prometheus. It is a
// pure read-side mirror: the Accountant remains the source of truth, and
// this package never mutates it.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kuyproxy/sticky-egress-proxy/internal/stats"
)

// Metrics holds the three gauges mirrored from the Accountant's Snapshot.
// They are gauges, not counters, because they are periodically set from
// the authoritative Accountant value rather than incremented independently
// — that keeps the two views from ever disagreeing about the running
// total.
type Metrics struct {
	connections prometheus.Gauge
	bytesUp     prometheus.Gauge
	bytesDown   prometheus.Gauge
}

// New creates and registers the gauges against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_connections_total",
			Help: "Total authenticated sessions accepted since start.",
		}),
		bytesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_bytes_up_total",
			Help: "Total bytes relayed from clients to remote peers.",
		}),
		bytesDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_bytes_down_total",
			Help: "Total bytes relayed from remote peers to clients.",
		}),
	}
	reg.MustRegister(m.connections, m.bytesUp, m.bytesDown)
	return m
}

// Set updates the gauges from a Snapshot.
func (m *Metrics) Set(s stats.Snapshot) {
	m.connections.Set(float64(s.Connections))
	m.bytesUp.Set(float64(s.BytesUp))
	m.bytesDown.Set(float64(s.BytesDown))
}

// RunSyncLoop periodically copies the Accountant's Snapshot into m until
// ctx is cancelled.
func RunSyncLoop(ctx context.Context, m *Metrics, a *stats.Accountant, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Set(a.Snapshot())
		}
	}
}
