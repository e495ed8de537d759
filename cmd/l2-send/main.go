package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/kstaniek/xscope-harness/internal/l2send"
	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

func main() { os.Exit(run(os.Args[1:])) }

func run(args []string) int {
	cfg, rest, showVersion, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	if showVersion {
		fmt.Printf("l2-send %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel), os.Stderr).
		With("app", "l2-send", "run_id", uuid.NewString())
	logging.Set(l)

	j, err := parseJob(rest, cfg)
	if err != nil {
		l.Error("bad_arguments", "error", err)
		return 1
	}
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := l2send.Open(j.iface, j.src, j.dst, append(cfg.senderOptions(), l2send.WithLogger(l))...)
	if err != nil {
		l.Error("open_error", "iface", j.iface, "error", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	sent, err := s.Send(ctx, j.count)
	if err != nil {
		l.Error("send_error", "iface", j.iface, "sent", sent, "requested", j.count, "error", err)
		return 1
	}
	return 0
}
