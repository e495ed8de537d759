package control

import (
	"errors"

	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// Sentinel errors; wrapped with %w, classify via errors.Is.
var (
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrCommandTimeout   = errors.New("command timeout")
	// ErrMalformedEvent is logged and counted by the Demux, never returned.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrCommandFailed marks a non-zero result byte.
	ErrCommandFailed   = errors.New("command failed")
	ErrTransport       = errors.New("transport")
	ErrCommandInFlight = errors.New("command already in flight")
	ErrEmptyCommand    = errors.New("empty command")
	ErrClosed          = errors.New("client closed")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		return metrics.ErrHandshake
	case errors.Is(err, ErrCommandTimeout):
		return metrics.ErrCommandTO
	case errors.Is(err, ErrTransport):
		return metrics.ErrLinkWrite
	case errors.Is(err, ErrCommandFailed), errors.Is(err, ErrCommandInFlight), errors.Is(err, ErrEmptyCommand):
		return metrics.ErrCommand
	default:
		return "other"
	}
}
