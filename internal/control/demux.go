package control

import (
	"io"
	"log/slog"

	"github.com/kstaniek/xscope-harness/internal/capture"
	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// Demux routes device events: control probes update the Shared cell,
// everything else is print data forwarded to the diagnostic writer.
type Demux struct {
	shared *Shared
	prints io.Writer
	logger *slog.Logger
	rec    capture.Recorder
}

// NewDemux returns a Demux writing prints to w. A nil logger uses the
// global one; a nil recorder records nothing.
func NewDemux(shared *Shared, w io.Writer, logger *slog.Logger, rec capture.Recorder) *Demux {
	if w == nil {
		w = io.Discard
	}
	if logger == nil {
		logger = logging.L()
	}
	if rec == nil {
		rec = capture.NoopRecorder{}
	}
	return &Demux{shared: shared, prints: w, logger: logger, rec: rec}
}

// Handle dispatches one event. Malformed control events are logged and
// dropped; Handle never fails.
func (d *Demux) Handle(ev event.Event) {
	d.rec.Record(capture.EventRecord(ev))
	kind := ev.Kind()
	metrics.IncEvent(kind.String())
	switch kind {
	case event.KindConnectAck:
		if ev.Length != 1 {
			d.malformed(kind, ev)
			return
		}
		if prev := d.shared.swapState(Connected); prev != Connected {
			d.logger.Debug("connect_ack", "device_time", ev.Timestamp)
		}
	case event.KindCommandResult:
		if ev.Length != 1 {
			d.malformed(kind, ev)
			return
		}
		code := byte(ev.Scalar)
		if len(ev.Payload) > 0 {
			code = ev.Payload[0]
		}
		d.shared.setResult(code)
		d.logger.Debug("command_result_received", "code", code, "device_time", ev.Timestamp)
	default:
		n := int(ev.Length)
		if n > len(ev.Payload) {
			n = len(ev.Payload)
		}
		if n == 0 {
			return
		}
		if _, err := d.prints.Write(ev.Payload[:n]); err != nil {
			d.logger.Debug("print_write_error", "error", err)
			return
		}
		metrics.AddPrintBytes(n)
	}
}

func (d *Demux) malformed(kind event.Kind, ev event.Event) {
	metrics.IncMalformedEvent(kind.String())
	d.logger.Warn("malformed_event", "kind", kind.String(), "id", ev.ID, "length", ev.Length, "error", ErrMalformedEvent)
}
