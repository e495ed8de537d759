package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/xscope-harness/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger) {
	snap := metrics.Snap()
	l.Info("metrics_snapshot",
		"connect_acks", snap.ConnectAcks,
		"command_results", snap.CommandResults,
		"prints", snap.Prints,
		"print_bytes", snap.PrintBytes,
		"malformed_events", snap.MalformedEvents,
		"commands", snap.Commands,
		"upload_retries", snap.UploadRetries,
		"handshake_ticks", snap.HandshakeTicks,
		"wire_rx", snap.WireRx,
		"wire_tx", snap.WireTx,
		"malformed_frames", snap.Malformed,
		"errors", snap.Errors,
	)
}
