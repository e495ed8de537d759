package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kstaniek/xscope-harness/internal/devsim"
	"github.com/kstaniek/xscope-harness/internal/discovery"
	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

func main() { os.Exit(run(os.Args[1:])) }

func run(args []string) int {
	cfg, showVersion, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	if showVersion {
		fmt.Printf("xscope-devsim %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel), os.Stderr).
		With("app", "xscope-devsim", "run_id", uuid.NewString())
	logging.Set(l)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := devsim.NewServer(serverOptions(cfg, l)...)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	go func() {
		for {
			select {
			case err := <-srv.Errors():
				l.Debug("session_error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		if cfg.logMetricsEvery <= 0 {
			return
		}
		t := time.NewTicker(cfg.logMetricsEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s := metrics.Snap()
				l.Info("metrics_snapshot", "commands", srv.Commands(), "sessions", srv.Sessions(),
					"wire_rx", s.WireRx, "wire_tx", s.WireTx, "malformed_frames", s.Malformed, "errors", s.Errors)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Advertise once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := listenPort(srv.Addr())
		cleanup, err := discovery.Advertise(ctx, instanceName(cfg), port, []string{"version=" + version, "commit=" + commit})
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", discovery.ServiceType, "port", port)
		<-ctx.Done()
		cleanup()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	code := 0
	select {
	case <-ctx.Done():
		l.Info("shutdown_signal")
	case err := <-serveErr:
		if err != nil {
			l.Error("tcp_server_error", "error", err)
			code = 1
		}
	}
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	return code
}

func serverOptions(cfg *appConfig, l *slog.Logger) []devsim.Option {
	opts := []devsim.Option{
		devsim.WithListenAddr(cfg.listenAddr),
		devsim.WithResultCode(byte(cfg.resultCode)),
		devsim.WithAckDelay(cfg.ackDelay),
		devsim.WithResultDelay(cfg.resultDelay),
		devsim.WithSilent(cfg.silent),
		devsim.WithMalformedAck(cfg.malformedAck),
		devsim.WithMalformedResult(cfg.malformedResult),
		devsim.WithExitOnShutdown(!cfg.keepOnShutdown),
		devsim.WithBanner(cfg.banner),
		devsim.WithMaxClients(cfg.maxClients),
		devsim.WithHandshakeTimeout(cfg.handshakeTO),
		devsim.WithReadDeadline(cfg.clientReadTO),
		devsim.WithLogger(l),
	}
	if cfg.chatterEvery > 0 {
		opts = append(opts, devsim.WithChatter(cfg.chatterEvery, cfg.chatter))
	}
	return opts
}

func instanceName(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return "xscope-devsim-" + host
}

// listenPort extracts the port from a bound host:port; 0 if unparsable.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
