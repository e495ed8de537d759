package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// Handshaker opens the transport and waits for the device's Connect-Ack.
type Handshaker struct {
	tr     Transport
	shared *Shared
	poll   Poller
	logger *slog.Logger
}

// Open marks the cell Connecting and opens the transport. A failed open
// resets the cell to Disconnected.
func (h *Handshaker) Open(ctx context.Context, host, port string) error {
	h.shared.swapState(Connecting)
	if err := h.tr.Connect(ctx, host, port); err != nil {
		h.shared.swapState(Disconnected)
		metrics.IncError(metrics.ErrHandshake)
		return fmt.Errorf("%w: connect: %w", ErrTransport, err)
	}
	return nil
}

// Await polls until the cell reads Connected or the tick ceiling is spent.
// There is no retry: a timeout is final for the run.
func (h *Handshaker) Await(ctx context.Context) error {
	ticks, err := h.poll.Wait(ctx, func() bool { return h.shared.State() == Connected })
	metrics.SetHandshakeTicks(ticks)
	switch {
	case err == nil:
		h.logger.Info("handshake_ok", "ticks", ticks)
		return nil
	case errors.Is(err, errCeiling):
		metrics.IncError(mapErrToMetric(ErrHandshakeTimeout))
		return fmt.Errorf("%w after %s", ErrHandshakeTimeout, h.poll.Timeout())
	default:
		return err
	}
}

// Connect is Open followed by Await.
func (h *Handshaker) Connect(ctx context.Context, host, port string) error {
	if err := h.Open(ctx, host, port); err != nil {
		return err
	}
	return h.Await(ctx)
}
