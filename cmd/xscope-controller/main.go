package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/kstaniek/xscope-harness/internal/capture"
	"github.com/kstaniek/xscope-harness/internal/control"
	"github.com/kstaniek/xscope-harness/internal/endpoint"
	"github.com/kstaniek/xscope-harness/internal/harness"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

func main() { os.Exit(run()) }

func run() int {
	cfg, showVersion, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	if showVersion {
		fmt.Printf("xscope-controller %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	plan, err := parseArgs(flag.Args(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		return 1
	}

	runID := uuid.NewString()
	l := setupLogger(cfg.logFormat, cfg.logLevel, runID)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	mctx, mcancel := context.WithCancel(ctx)
	startMetricsLogger(mctx, cfg.logMetricsEvery, l, &wg)
	defer func() { mcancel(); wg.Wait() }()

	var rec capture.Recorder = capture.NoopRecorder{}
	if cfg.capturePath != "" {
		fr, err := capture.NewFileRecorder(cfg.capturePath)
		if err != nil {
			l.Error("capture_open_error", "path", cfg.capturePath, "error", err)
			return 1
		}
		defer func() { _ = fr.Close() }()
		rec = fr
	}
	rec = capture.Tagged(rec, runID)

	dial, err := dialerFor(cfg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return 1
	}
	plan.Host, plan.Port, err = resolveAddress(ctx, cfg, plan.Host, plan.Port, l)
	if err != nil {
		l.Error("resolve_error", "error", err)
		return 1
	}

	ep := endpoint.New(dial, endpoint.WithLogger(l))
	client := control.NewClient(ep,
		control.WithLogger(l),
		control.WithRecorder(rec),
		control.WithEventQueue(cfg.eventQueue),
		control.WithHandshakePoller(control.NewPoller(cfg.pollInterval, cfg.handshakeTO)),
		control.WithCommandPoller(control.NewPoller(cfg.pollInterval, cfg.commandTO)),
	)
	drv := harness.NewDriver(client, harness.WithLogger(l), harness.WithRecorder(rec))

	// Ready while the channel is up.
	metrics.SetReadinessFunc(func() bool {
		switch drv.Phase() {
		case harness.Connected, harness.CommandInFlight:
			return ctx.Err() == nil
		}
		return false
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	l.Info("run_start", "host", plan.Host, "port", plan.Port, "directive", plan.Directive, "backend", cfg.backend)
	var out harness.Outcome
	if cfg.interactive {
		rl, err := newConsole()
		if err != nil {
			l.Error("console_init_error", "error", err)
			_ = drv.Teardown()
			return 1
		}
		defer func() { _ = rl.Close() }()
		out = drv.Console(ctx, plan, consoleReader{rl}, rl.Stdout())
	} else {
		out = drv.Run(ctx, plan)
	}

	attrs := []any{"directive", out.Directive, "ok", out.OK}
	if out.Code != control.NoResult {
		attrs = append(attrs, "code", out.Code)
	}
	switch {
	case out.Err == nil:
		l.Info("run_complete", attrs...)
	case errors.Is(out.Err, context.Canceled):
		l.Warn("run_cancelled", attrs...)
	default:
		l.Error("run_complete", append(attrs, "error", out.Err)...)
	}
	if cfg.logMetricsEvery > 0 {
		logSnapshot(l)
	}
	return out.ExitCode()
}
