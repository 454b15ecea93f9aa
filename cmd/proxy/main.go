// Command proxy runs the sticky-egress SOCKS5 and HTTP proxy front ends
// side by side, sharing one Accountant, one worker pool, and one logger.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kuyproxy/sticky-egress-proxy/internal/config"
	"github.com/kuyproxy/sticky-egress-proxy/internal/dialer"
	"github.com/kuyproxy/sticky-egress-proxy/internal/httpproxy"
	"github.com/kuyproxy/sticky-egress-proxy/internal/listener"
	"github.com/kuyproxy/sticky-egress-proxy/internal/metrics"
	"github.com/kuyproxy/sticky-egress-proxy/internal/proxylog"
	"github.com/kuyproxy/sticky-egress-proxy/internal/socks5"
	"github.com/kuyproxy/sticky-egress-proxy/internal/stats"
	"github.com/kuyproxy/sticky-egress-proxy/internal/workerpool"
)

// workerPoolSize matches the sizing called for by the original deployment:
// enough concurrency headroom to absorb bursts without unbounded goroutines.
const workerPoolSize = 300

func main() {
	configPath := flag.String("config", "config.cfg", "path to the KEY=VALUE config file")
	poolPath := flag.String("pool", "added_ips.txt", "path to the line-delimited IPv6 address pool")
	statsPath := flag.String("stats", "stats.json", "path to write periodic JSON usage snapshots (empty disables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (empty disables)")
	flag.Parse()

	log := proxylog.New(*logLevel, os.Stdout)
	log.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	pool, err := config.LoadPool(*poolPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *poolPath).Msg("failed to load pool")
	}
	log.Info().Int("pool_size", len(pool)).Msg("loaded initial pool")

	accountant := stats.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := dialer.New(dialer.DefaultConnectTimeout, log)
	workers := workerpool.New(workerPoolSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stats.RunSummaryLoop(ctx, accountant, log, 60*time.Second)
	go stats.RunWriterLoop(ctx, accountant, *statsPath, log, 60*time.Second)
	go metrics.RunSyncLoop(ctx, m, accountant, 5*time.Second)

	if *metricsAddr != "" {
		startMetricsServer(*metricsAddr, reg, log)
	}

	socksListener := &listener.Listener{
		Name:       "socks5",
		ConfigPath: *configPath,
		PoolPath:   *poolPath,
		Pool:       workers,
		Log:        log,
		Handle: func(conn net.Conn, cfg config.Config, pool config.Pool) {
			sess := &socks5.Session{
				Conn:     conn,
				Config:   cfg,
				Pool:     pool,
				Dialer:   d,
				Counters: accountant,
				Log:      log,
			}
			sess.Serve()
		},
	}
	httpListener := &listener.Listener{
		Name:       "http",
		ConfigPath: *configPath,
		PoolPath:   *poolPath,
		Pool:       workers,
		Log:        log,
		Handle: func(conn net.Conn, cfg config.Config, pool config.Pool) {
			sess := &httpproxy.Session{
				Conn:     conn,
				Config:   cfg,
				Pool:     pool,
				Dialer:   d,
				Counters: accountant,
				Log:      log,
			}
			sess.Serve()
		},
	}

	stop := make(chan struct{})
	errCh := make(chan error, 2)
	socksAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.SocksPort()))
	httpAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.HTTPPort()))

	go func() {
		if err := socksListener.Run(socksAddr, stop); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := httpListener.Run(httpAddr, stop); err != nil {
			errCh <- err
		}
	}()

	log.Info().Str("socks_addr", socksAddr).Str("http_addr", httpAddr).Msg("proxies running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("listener failed")
		exitCode = 1
	}

	close(stop)
	cancel()
	// Give the final stats write a moment to land before exit.
	time.Sleep(200 * time.Millisecond)

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// startMetricsServer serves /metrics in the background. This is a plain
// read-only scrape endpoint, not the forbidden control-plane API: it
// exposes Accountant state, it does not accept commands.
func startMetricsServer(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}
