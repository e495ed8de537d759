package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/transport"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

var (
	// ErrChannelFull is returned by Submit while the previous upload is
	// still queued. The caller may resubmit immediately.
	ErrChannelFull = errors.New("upload channel full")
	// ErrNotConnected is returned by Submit before Connect or after Disconnect.
	ErrNotConnected = errors.New("endpoint not connected")
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("endpoint already connected")
	// ErrEmptyUpload rejects zero-length uploads.
	ErrEmptyUpload = errors.New("empty upload")
)

const defaultQueueDepth = 1

// Endpoint is the host side of the instrumentation channel. It owns one
// Link: a reader goroutine turns event frames into callbacks and an
// AsyncTx worker writes uploads.
type Endpoint struct {
	dial       DialFunc
	queueDepth int
	logger     *slog.Logger

	cb atomic.Pointer[func(event.Event)]

	mu      sync.Mutex
	link    Link
	tx      *transport.AsyncTx[[]byte]
	closing atomic.Bool
	done    chan struct{}
	readErr error
	wg      sync.WaitGroup
}

type Option func(*Endpoint)

// WithQueueDepth sets the upload queue depth (default 1).
func WithQueueDepth(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.queueDepth = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an unconnected endpoint that opens links with dial.
func New(dial DialFunc, opts ...Option) *Endpoint {
	e := &Endpoint{dial: dial, queueDepth: defaultQueueDepth, logger: logging.L()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnEvent registers the event callback. It is invoked on the reader
// goroutine, one event at a time. Register before Connect.
func (e *Endpoint) OnEvent(fn func(event.Event)) {
	if fn == nil {
		e.cb.Store(nil)
		return
	}
	e.cb.Store(&fn)
}

// Connect dials the link and starts the reader and upload workers.
func (e *Endpoint) Connect(ctx context.Context, host, port string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.link != nil {
		return ErrAlreadyConnected
	}
	link, err := e.dial(ctx, host, port)
	if err != nil {
		return fmt.Errorf("dial %s:%s: %w", host, port, err)
	}
	e.link = link
	e.closing.Store(false)
	e.done = make(chan struct{})
	e.readErr = nil
	e.tx = transport.NewAsyncTx(context.Background(), e.queueDepth, func(p []byte) error {
		return link.WriteFrame(wire.UploadFrame(p))
	}, transport.Hooks{
		OnError: func(err error) {
			if e.closing.Load() {
				return
			}
			metrics.IncError(metrics.ErrLinkWrite)
			e.logger.Warn("upload_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrChannelFull)
			return ErrChannelFull
		},
	})
	e.wg.Add(1)
	go e.readLoop(link, e.done)
	e.logger.Debug("endpoint_connected", "host", host, "port", port)
	return nil
}

func (e *Endpoint) readLoop(link Link, done chan struct{}) {
	defer e.wg.Done()
	defer close(done)
	for {
		f, err := link.ReadFrame()
		if err != nil {
			if e.closing.Load() || isClosedErr(err) || errors.Is(err, io.EOF) {
				if !e.closing.Load() {
					e.logger.Info("link_closed_by_peer")
				}
			} else {
				metrics.IncError(metrics.ErrLinkRead)
				e.logger.Warn("link_read_error", "error", err)
			}
			e.mu.Lock()
			e.readErr = err
			e.mu.Unlock()
			return
		}
		if f.Kind != wire.KindEvent {
			e.logger.Debug("unexpected_frame", "kind", string(rune(f.Kind)))
			continue
		}
		if cb := e.cb.Load(); cb != nil {
			(*cb)(f.Event)
		}
	}
}

// Submit queues p for upload. It returns ErrChannelFull when the queue is
// occupied; p is copied so the caller may reuse it.
func (e *Endpoint) Submit(p []byte) error {
	if len(p) == 0 {
		return ErrEmptyUpload
	}
	if len(p) > wire.MaxPayload {
		return fmt.Errorf("%w (%d)", wire.ErrInvalidLength, len(p))
	}
	e.mu.Lock()
	tx := e.tx
	e.mu.Unlock()
	if tx == nil {
		return ErrNotConnected
	}
	err := tx.Send(append([]byte(nil), p...))
	if errors.Is(err, transport.ErrAsyncTxClosed) {
		return ErrNotConnected
	}
	return err
}

// Done is closed when the reader exits (peer hung up or Disconnect).
// Nil before Connect.
func (e *Endpoint) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Err returns the error that stopped the reader, if any.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readErr
}

// Disconnect stops both workers and closes the link. Calling it again, or
// before Connect, is a no-op.
func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	link, tx := e.link, e.tx
	e.link, e.tx = nil, nil
	e.mu.Unlock()
	if link == nil {
		return nil
	}
	e.closing.Store(true)
	// Closing the link first unblocks a worker stuck in WriteFrame.
	err := link.Close()
	tx.Close()
	e.wg.Wait()
	e.logger.Debug("endpoint_disconnected")
	return err
}
