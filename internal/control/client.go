package control

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/xscope-harness/internal/capture"
	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/logging"
)

// Transport is the instrumentation channel as seen by the client.
// Submit returns nil when the bytes were accepted for upload or
// endpoint.ErrChannelFull when they must be resubmitted. OnEvent callbacks
// run on the transport's own goroutine.
type Transport interface {
	Connect(ctx context.Context, host, port string) error
	Disconnect() error
	Submit(p []byte) error
	OnEvent(fn func(event.Event))
}

const defaultEventQueue = 256

// Client wires a Transport to the Demux, Handshaker and Channel. It is
// created per harness run and torn down with Close.
type Client struct {
	tr     Transport
	shared *Shared
	demux  *Demux
	hs     *Handshaker
	ch     *Channel
	logger *slog.Logger

	events    chan event.Event
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

type clientConfig struct {
	logger  *slog.Logger
	prints  io.Writer
	rec     capture.Recorder
	hsPoll  Poller
	cmdPoll Poller
	queue   int
	sleep   func(time.Duration)
	yield   func()
	inline  bool
}

type Option func(*clientConfig)

func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPrintWriter sets where device print output goes (default stderr).
func WithPrintWriter(w io.Writer) Option {
	return func(c *clientConfig) {
		if w != nil {
			c.prints = w
		}
	}
}

func WithRecorder(r capture.Recorder) Option {
	return func(c *clientConfig) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithHandshakePoller overrides the Connect-Ack wait ceiling.
func WithHandshakePoller(p Poller) Option { return func(c *clientConfig) { c.hsPoll = p } }

// WithCommandPoller overrides the result wait ceiling.
func WithCommandPoller(p Poller) Option { return func(c *clientConfig) { c.cmdPoll = p } }

// WithEventQueue sets the depth of the queue between the transport
// callback and the dispatch goroutine.
func WithEventQueue(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.queue = n
		}
	}
}

// WithSleep replaces the sleep used by both pollers (tests).
func WithSleep(fn func(time.Duration)) Option { return func(c *clientConfig) { c.sleep = fn } }

// WithYield replaces the pause between channel-full resubmissions (tests).
func WithYield(fn func()) Option { return func(c *clientConfig) { c.yield = fn } }

// WithInlineDispatch hands events to the Demux directly on the transport's
// goroutine, skipping the queue. Only for transports that already deliver
// serially and never block (replay, tests needing exact tick alignment).
func WithInlineDispatch() Option { return func(c *clientConfig) { c.inline = true } }

// NewClient registers with tr and starts the dispatch goroutine.
func NewClient(tr Transport, opts ...Option) *Client {
	cfg := clientConfig{
		logger:  logging.L(),
		prints:  os.Stderr,
		rec:     capture.NoopRecorder{},
		hsPoll:  Poller{Interval: DefaultPollInterval, Ticks: DefaultHandshakeTicks},
		cmdPoll: Poller{Interval: DefaultPollInterval, Ticks: DefaultCommandTicks},
		queue:   defaultEventQueue,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.sleep != nil {
		cfg.hsPoll.Sleep = cfg.sleep
		cfg.cmdPoll.Sleep = cfg.sleep
	}
	shared := NewShared()
	c := &Client{
		tr:     tr,
		shared: shared,
		demux:  NewDemux(shared, cfg.prints, cfg.logger, cfg.rec),
		hs:     &Handshaker{tr: tr, shared: shared, poll: cfg.hsPoll, logger: cfg.logger},
		ch:     &Channel{tr: tr, shared: shared, poll: cfg.cmdPoll, logger: cfg.logger, rec: cfg.rec, yield: cfg.yield},
		logger: cfg.logger,
		events: make(chan event.Event, cfg.queue),
		stop:   make(chan struct{}),
	}
	if cfg.inline {
		tr.OnEvent(c.demux.Handle)
		return c
	}
	tr.OnEvent(c.deliver)
	c.wg.Add(1)
	go c.dispatch()
	return c
}

// deliver blocks while the queue is full so no control event is lost.
func (c *Client) deliver(ev event.Event) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case ev := <-c.events:
			c.demux.Handle(ev)
		case <-c.stop:
			// Flush what already arrived so trailing prints are not lost.
			for {
				select {
				case ev := <-c.events:
					c.demux.Handle(ev)
				default:
					return
				}
			}
		}
	}
}

// State reports the handshake state.
func (c *Client) State() ConnState { return c.shared.State() }

// Open starts the transport without waiting for the Connect-Ack.
func (c *Client) Open(ctx context.Context, host, port string) error {
	return c.hs.Open(ctx, host, port)
}

// AwaitConnected waits for the Connect-Ack after Open.
func (c *Client) AwaitConnected(ctx context.Context) error { return c.hs.Await(ctx) }

// Connect opens the transport and waits for the Connect-Ack.
func (c *Client) Connect(ctx context.Context, host, port string) error {
	return c.hs.Connect(ctx, host, port)
}

// Issue sends one command and returns its result byte.
func (c *Client) Issue(ctx context.Context, cmd []byte) (byte, error) {
	select {
	case <-c.stop:
		return NoResult, ErrClosed
	default:
	}
	return c.ch.Issue(ctx, cmd)
}

// Close disconnects the transport and stops dispatch. Only the first call
// touches the transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.tr.Disconnect()
		close(c.stop)
		c.wg.Wait()
		// After the flush so a queued ack cannot revive the state.
		c.shared.swapState(Disconnected)
	})
	return c.closeErr
}
