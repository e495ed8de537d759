package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/kstaniek/xscope-harness/internal/capture"
	"github.com/kstaniek/xscope-harness/internal/endpoint"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// Channel issues one command at a time and waits for its result byte.
type Channel struct {
	tr       Transport
	shared   *Shared
	poll     Poller
	logger   *slog.Logger
	rec      capture.Recorder
	inFlight atomic.Bool
	// yield runs between resubmissions after ErrChannelFull.
	yield func()
}

// Issue submits cmd and returns the device's result byte. Zero is success;
// interpreting other values is up to the caller. On timeout it returns
// NoResult and ErrCommandTimeout.
//
// A full upload channel is retried immediately and without bound; the
// result wait is bounded by the poller.
func (c *Channel) Issue(ctx context.Context, cmd []byte) (byte, error) {
	if len(cmd) == 0 {
		return NoResult, ErrEmptyCommand
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return NoResult, ErrCommandInFlight
	}
	defer c.inFlight.Store(false)

	c.shared.resetResult()
	yield := c.yield
	if yield == nil {
		yield = runtime.Gosched
	}
	retries := 0
	for {
		err := c.tr.Submit(cmd)
		if err == nil {
			break
		}
		if !errors.Is(err, endpoint.ErrChannelFull) {
			metrics.IncError(mapErrToMetric(ErrTransport))
			return NoResult, fmt.Errorf("%w: submit: %w", ErrTransport, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NoResult, ctxErr
		}
		retries++
		metrics.IncUploadRetry()
		yield()
	}
	metrics.IncCommand()
	c.rec.Record(capture.CommandRecord(cmd, ""))
	c.logger.Debug("command_submitted", "opcode", cmd[0], "len", len(cmd), "retries", retries)

	ticks, err := c.poll.Wait(ctx, func() bool {
		_, ok := c.shared.Result()
		return ok
	})
	switch {
	case err == nil:
	case errors.Is(err, errCeiling):
		metrics.IncCommandResult(metrics.OutcomeTimeout)
		metrics.IncError(mapErrToMetric(ErrCommandTimeout))
		return NoResult, fmt.Errorf("%w after %s", ErrCommandTimeout, c.poll.Timeout())
	default:
		return NoResult, err
	}
	code, _ := c.shared.Result()
	if code == 0 {
		metrics.IncCommandResult(metrics.OutcomeOK)
	} else {
		metrics.IncCommandResult(metrics.OutcomeFailed)
	}
	c.logger.Debug("command_result", "code", code, "ticks", ticks)
	return code, nil
}
