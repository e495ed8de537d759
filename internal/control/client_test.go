package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/logging"
)

// newScriptedClient returns a client whose pollers are driven by a script
// and whose events are handled inline, so tick counts are exact.
func newScriptedClient(tr *fakeTransport, w *writeRecorder, yield func()) (*Client, *script) {
	s := newScript(tr)
	if w == nil {
		w = &writeRecorder{}
	}
	c := NewClient(tr,
		WithLogger(logging.Discard()),
		WithPrintWriter(w),
		WithSleep(s.sleep),
		WithYield(yield),
		WithInlineDispatch(),
	)
	return c, s
}

func TestHandshakeSucceedsOnAckTick(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	s.at[5] = []event.Event{event.ConnectAck(1)}
	if err := c.Connect(context.Background(), "dut", "1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.ticks != 5 {
		t.Fatalf("handshake took %d ticks, want 5", s.ticks)
	}
	if c.State() != Connected {
		t.Fatalf("state=%v", c.State())
	}
}

func TestHandshakeAckDuringConnect(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	if err := c.Open(context.Background(), "dut", "1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	tr.emit(event.ConnectAck(1))
	if err := c.AwaitConnected(context.Background()); err != nil {
		t.Fatalf("await: %v", err)
	}
	if s.ticks != 1 {
		t.Fatalf("ticks=%d want 1", s.ticks)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	// Malformed acks never count.
	s.every = func(int) []event.Event {
		return []event.Event{{ID: event.IDConnect, Length: 3, Payload: []byte{1, 2, 3}}}
	}
	err := c.Connect(context.Background(), "dut", "1")
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if s.ticks != DefaultHandshakeTicks {
		t.Fatalf("ticks=%d want %d", s.ticks, DefaultHandshakeTicks)
	}
	if c.State() != Connecting {
		t.Fatalf("state=%v want connecting", c.State())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = c.Close()
	if tr.disconnects != 1 {
		t.Fatalf("disconnects=%d want 1", tr.disconnects)
	}
}

func TestHandshakeConnectError(t *testing.T) {
	boom := errors.New("refused")
	tr := &fakeTransport{connectErr: boom}
	c, s := newScriptedClient(tr, nil, nil)
	err := c.Connect(context.Background(), "dut", "1")
	if !errors.Is(err, ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("unexpected error %v", err)
	}
	if s.ticks != 0 || c.State() != Disconnected {
		t.Fatalf("ticks=%d state=%v", s.ticks, c.State())
	}
}

func connectNow(t *testing.T, c *Client, tr *fakeTransport, s *script) {
	t.Helper()
	s.at[1] = []event.Event{event.ConnectAck(1)}
	if err := c.Connect(context.Background(), "dut", "1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.reset()
}

func TestCommandRoundTripOnDeliveryTick(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	connectNow(t, c, tr, s)
	s.at[50] = []event.Event{event.CommandResult(9, 0)}
	code, err := c.Issue(context.Background(), []byte{1})
	if err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if s.ticks != 50 {
		t.Fatalf("ticks=%d want 50", s.ticks)
	}
	if len(tr.accepted) != 1 || tr.accepted[0][0] != 1 {
		t.Fatalf("accepted=%v", tr.accepted)
	}
}

func TestCommandTimeoutWithInterleavedPrints(t *testing.T) {
	tr := &fakeTransport{}
	w := &writeRecorder{}
	c, s := newScriptedClient(tr, w, nil)
	connectNow(t, c, tr, s)
	s.every = func(tick int) []event.Event {
		if tick%100 == 0 {
			return []event.Event{event.Print(5, uint64(tick), "."), {ID: event.IDCommandResult, Length: 0}}
		}
		return nil
	}
	code, err := c.Issue(context.Background(), []byte{2})
	if !errors.Is(err, ErrCommandTimeout) || code != NoResult {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if s.ticks != DefaultCommandTicks {
		t.Fatalf("ticks=%d want %d", s.ticks, DefaultCommandTicks)
	}
	if got := len(w.String()); got != DefaultCommandTicks/100 {
		t.Fatalf("prints=%d", got)
	}
}

func TestCommandChannelFullResubmits(t *testing.T) {
	tr := &fakeTransport{full: 2}
	yields := 0
	c, s := newScriptedClient(tr, nil, func() { yields++ })
	connectNow(t, c, tr, s)
	s.at[50] = []event.Event{event.CommandResult(1, 0)}
	code, err := c.Issue(context.Background(), []byte{1})
	if err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if tr.submits != 3 || yields != 2 || len(tr.accepted) != 1 {
		t.Fatalf("submits=%d yields=%d accepted=%d", tr.submits, yields, len(tr.accepted))
	}
}

func TestCommandNonZeroResult(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	connectNow(t, c, tr, s)
	s.at[3] = []event.Event{event.CommandResult(1, 7)}
	code, err := c.Issue(context.Background(), []byte{1})
	if err != nil || code != 7 {
		t.Fatalf("code=%d err=%v", code, err)
	}
}

func TestCommandStaleResultIsReset(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	connectNow(t, c, tr, s)
	// A late result from an earlier exchange must not satisfy the next one.
	tr.emit(event.CommandResult(1, 0))
	c.ch.poll.Ticks = 10
	_, err := c.Issue(context.Background(), []byte{1})
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCommandMalformedThenValid(t *testing.T) {
	tr := &fakeTransport{}
	c, s := newScriptedClient(tr, nil, nil)
	connectNow(t, c, tr, s)
	s.at[10] = []event.Event{{ID: event.IDCommandResult, Length: 2, Payload: []byte{3, 3}}}
	s.at[20] = []event.Event{event.CommandResult(2, 0)}
	code, err := c.Issue(context.Background(), []byte{1})
	if err != nil || code != 0 || s.ticks != 20 {
		t.Fatalf("code=%d err=%v ticks=%d", code, err, s.ticks)
	}
}

func TestCommandSubmitError(t *testing.T) {
	boom := errors.New("broken pipe")
	tr := &fakeTransport{submitErr: boom}
	c, s := newScriptedClient(tr, nil, nil)
	connectNow(t, c, tr, s)
	_, err := c.Issue(context.Background(), []byte{1})
	if !errors.Is(err, ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("unexpected error %v", err)
	}
	if s.ticks != 0 {
		t.Fatalf("polled after submit error")
	}
}

func TestCommandEmptyAndClosed(t *testing.T) {
	tr := &fakeTransport{}
	c, _ := newScriptedClient(tr, nil, nil)
	if _, err := c.Issue(context.Background(), nil); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	_ = c.Close()
	if _, err := c.Issue(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if c.State() != Disconnected {
		t.Fatalf("state after close=%v", c.State())
	}
}

func TestClientQueuedDispatch(t *testing.T) {
	tr := &fakeTransport{}
	w := &writeRecorder{}
	c := NewClient(tr,
		WithLogger(logging.Discard()),
		WithPrintWriter(w),
		WithEventQueue(4),
		WithHandshakePoller(Poller{Interval: time.Millisecond, Ticks: 2000}),
		WithCommandPoller(Poller{Interval: time.Millisecond, Ticks: 2000}),
	)
	if err := c.Open(context.Background(), "dut", "1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	go tr.emit(event.ConnectAck(1))
	if err := c.AwaitConnected(context.Background()); err != nil {
		t.Fatalf("await: %v", err)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.emit(event.CommandResult(2, 0))
	}()
	code, err := c.Issue(context.Background(), []byte{1})
	if err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}
	for i := 0; i < 3; i++ {
		tr.emit(event.Print(4, uint64(i), "ok\n"))
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := w.String(); got != "ok\nok\nok\n" {
		t.Fatalf("prints after close=%q", got)
	}
	// Events after close are dropped without blocking.
	tr.emit(event.Print(4, 9, "late"))
}

// gatedWriter blocks the first print until release is closed.
type gatedWriter struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return len(p), nil
}

func TestCloseLeavesDisconnectedAfterQueuedAck(t *testing.T) {
	tr := &fakeTransport{}
	w := &gatedWriter{release: make(chan struct{}), entered: make(chan struct{})}
	c := NewClient(tr, WithLogger(logging.Discard()), WithPrintWriter(w), WithEventQueue(4))

	tr.emit(event.Print(4, 1, "hold"))
	<-w.entered
	// Queued behind the blocked print; handled only by the close flush.
	tr.emit(event.ConnectAck(2))

	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		n := tr.disconnects
		tr.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("close never disconnected")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(w.release)
	if err := <-done; err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := c.State(); st != Disconnected {
		t.Fatalf("state after close=%v, want disconnected", st)
	}
}

func TestMapErrToMetric(t *testing.T) {
	if mapErrToMetric(ErrHandshakeTimeout) != "handshake" || mapErrToMetric(errors.New("x")) != "other" {
		t.Fatalf("unexpected mapping")
	}
}
