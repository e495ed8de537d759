package control

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/kstaniek/xscope-harness/internal/endpoint"
	"github.com/kstaniek/xscope-harness/internal/event"
)

// fakeTransport records calls and lets tests inject events.
type fakeTransport struct {
	mu          sync.Mutex
	cb          func(event.Event)
	connectErr  error
	submitErr   error
	full        int // first N submits report a full channel
	connects    int
	disconnects int
	submits     int
	accepted    [][]byte
}

func (f *fakeTransport) Connect(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) Submit(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return f.submitErr
	}
	if f.full > 0 {
		f.full--
		return endpoint.ErrChannelFull
	}
	f.accepted = append(f.accepted, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) OnEvent(fn func(event.Event)) {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
}

func (f *fakeTransport) emit(ev event.Event) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// script drives deterministic ticks: each sleep advances the tick counter
// and emits whatever is scheduled for that tick.
type script struct {
	tr    *fakeTransport
	ticks int
	at    map[int][]event.Event
	every func(tick int) []event.Event
}

func newScript(tr *fakeTransport) *script {
	return &script{tr: tr, at: map[int][]event.Event{}}
}

func (s *script) sleep(time.Duration) {
	s.ticks++
	for _, ev := range s.at[s.ticks] {
		s.tr.emit(ev)
	}
	if s.every != nil {
		for _, ev := range s.every(s.ticks) {
			s.tr.emit(ev)
		}
	}
}

func (s *script) reset() {
	s.ticks = 0
	s.at = map[int][]event.Event{}
	s.every = nil
}

// writeRecorder counts Write calls so tests can check prints are not split.
type writeRecorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
}

func (w *writeRecorder) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	return w.buf.Write(p)
}

func (w *writeRecorder) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *writeRecorder) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
