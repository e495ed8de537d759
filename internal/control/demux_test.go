package control

import (
	"testing"

	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/logging"
)

func newTestDemux() (*Demux, *Shared, *writeRecorder) {
	sh := NewShared()
	w := &writeRecorder{}
	return NewDemux(sh, w, logging.Discard(), nil), sh, w
}

func TestDemuxConnectAckIdempotent(t *testing.T) {
	d, sh, _ := newTestDemux()
	sh.swapState(Connecting)
	d.Handle(event.ConnectAck(1))
	if sh.State() != Connected {
		t.Fatalf("state=%v want connected", sh.State())
	}
	d.Handle(event.ConnectAck(2))
	if sh.State() != Connected {
		t.Fatalf("second ack changed state to %v", sh.State())
	}
}

func TestDemuxMalformedConnectAck(t *testing.T) {
	d, sh, _ := newTestDemux()
	sh.swapState(Connecting)
	d.Handle(event.Event{ID: event.IDConnect, Length: 2, Payload: []byte{1, 1}})
	d.Handle(event.Event{ID: event.IDConnect, Length: 0})
	if sh.State() != Connecting {
		t.Fatalf("malformed ack changed state to %v", sh.State())
	}
}

func TestDemuxMalformedThenValidResult(t *testing.T) {
	d, sh, _ := newTestDemux()
	d.Handle(event.Event{ID: event.IDCommandResult, Length: 2, Payload: []byte{9, 9}})
	if _, ok := sh.Result(); ok {
		t.Fatalf("malformed result was stored")
	}
	d.Handle(event.CommandResult(2, 4))
	code, ok := sh.Result()
	if !ok || code != 4 {
		t.Fatalf("result=%d,%v want 4,true", code, ok)
	}
}

func TestDemuxResultFromScalar(t *testing.T) {
	d, sh, _ := newTestDemux()
	d.Handle(event.Event{ID: event.IDCommandResult, Length: 1, Scalar: 0x107})
	code, ok := sh.Result()
	if !ok || code != 7 {
		t.Fatalf("result=%d,%v want 7,true", code, ok)
	}
}

func TestDemuxResult255Distinct(t *testing.T) {
	d, sh, _ := newTestDemux()
	d.Handle(event.CommandResult(1, 255))
	code, ok := sh.Result()
	if !ok || code != 255 {
		t.Fatalf("result=%d,%v want 255,true", code, ok)
	}
}

func TestDemuxPrintsVerbatimSingleWrite(t *testing.T) {
	d, sh, w := newTestDemux()
	d.Handle(event.Print(7, 1, "mac: link up\n"))
	d.Handle(event.Print(event.IDCommandResult+1, 2, "rx 12 frames\n"))
	d.Handle(event.Event{ID: 9, Length: 0})
	if got := w.String(); got != "mac: link up\nrx 12 frames\n" {
		t.Fatalf("prints=%q", got)
	}
	if w.Writes() != 2 {
		t.Fatalf("writes=%d want 2", w.Writes())
	}
	if sh.State() != Disconnected {
		t.Fatalf("print changed state to %v", sh.State())
	}
	if _, ok := sh.Result(); ok {
		t.Fatalf("print set a result")
	}
}

func TestDemuxPrintClampsToPayload(t *testing.T) {
	d, _, w := newTestDemux()
	d.Handle(event.Event{ID: 3, Length: 10, Payload: []byte("abc")})
	d.Handle(event.Event{ID: 3, Length: 2, Payload: []byte("xyz")})
	if got := w.String(); got != "abcxy" {
		t.Fatalf("prints=%q", got)
	}
}

func TestConnStateString(t *testing.T) {
	if Connecting.String() != "connecting" || ConnState(9).String() != "state(9)" {
		t.Fatalf("unexpected strings")
	}
}
