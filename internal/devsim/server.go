// Package devsim is a stand-in for the device under test: a TCP server
// that speaks the instrumentation wire protocol, acknowledges connections
// and answers commands with a configurable result code.
package devsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

// Server owns the TCP listener and the simulated device sessions.
type Server struct {
	mu    sync.RWMutex
	addr  string
	codec *wire.Codec

	resultCode      byte
	ackDelay        time.Duration
	resultDelay     time.Duration
	silent          bool
	malformedAck    bool
	malformedResult bool
	exitOnShutdown  bool
	banner          string
	chatterEvery    time.Duration
	chatter         string

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
	listener  net.Listener
	sessMu    sync.Mutex
	sessions  map[*session]struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
	start     time.Time

	totalAccepted      atomic.Uint64
	totalHandshakeFail atomic.Uint64
	totalCommands      atomic.Uint64
	totalDisconnected  atomic.Uint64
}

const (
	defaultFlushInterval    = 2 * time.Millisecond
	defaultBatchSize        = 32
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
)

type Option func(*Server)

func NewServer(opts ...Option) *Server {
	s := &Server{
		codec:            &wire.Codec{},
		exitOnShutdown:   true,
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		sessions:         make(map[*session]struct{}),
		logger:           logging.L(),
		start:            time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }

// WithResultCode sets the byte returned for every command (default 0).
func WithResultCode(c byte) Option { return func(s *Server) { s.resultCode = c } }

// WithAckDelay postpones the Connect-Ack after attach.
func WithAckDelay(d time.Duration) Option { return func(s *Server) { s.ackDelay = d } }

// WithResultDelay postpones each Command-Result.
func WithResultDelay(d time.Duration) Option { return func(s *Server) { s.resultDelay = d } }

// WithSilent makes the device swallow commands without answering.
func WithSilent(on bool) Option { return func(s *Server) { s.silent = on } }

// WithMalformedAck sends a Connect-Ack with a bad length before the real one.
func WithMalformedAck(on bool) Option { return func(s *Server) { s.malformedAck = on } }

// WithMalformedResult sends a Command-Result with a bad length before each
// real one.
func WithMalformedResult(on bool) Option { return func(s *Server) { s.malformedResult = on } }

// WithExitOnShutdown closes the session after answering a shutdown
// command, as the firmware does (default true).
func WithExitOnShutdown(on bool) Option { return func(s *Server) { s.exitOnShutdown = on } }

// WithBanner prints text right after the Connect-Ack.
func WithBanner(text string) Option { return func(s *Server) { s.banner = text } }

// WithChatter prints text every d while a session is attached.
func WithChatter(d time.Duration, text string) Option {
	return func(s *Server) {
		if d > 0 && text != "" {
			s.chatterEvery, s.chatter = d, text
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

// Commands reports how many uploads the device has received.
func (s *Server) Commands() uint64 { return s.totalCommands.Load() }

// Sessions reports how many sessions are attached.
func (s *Server) Sessions() int { s.sessMu.Lock(); defer s.sessMu.Unlock(); return len(s.sessions) }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// deviceTime is the simulated device timestamp in microseconds.
func (s *Server) deviceTime() uint64 { return uint64(time.Since(s.start) / time.Microsecond) }

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("devsim_listen", "addr", s.Addr(), "result_code", s.resultCode, "silent", s.silent)
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return context.Canceled
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connLogger := s.logger.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	if err := wire.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		s.totalHandshakeFail.Add(1)
		connLogger.Warn("handshake_failed", "error", wrap)
		_ = conn.Close()
		return nil
	}
	if s.maxClients > 0 && s.Sessions() >= s.maxClients {
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	sess := newSession(conn, connLogger, s.batchSize)
	s.sessMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessMu.Unlock()
	connLogger.Info("host_attached")
	s.startWriter(ctx.Done(), sess)
	s.startReader(ctx.Done(), sess)
	s.startAttach(ctx.Done(), sess)
	return nil
}

func (s *Server) removeSession(sess *session) {
	s.sessMu.Lock()
	delete(s.sessions, sess)
	s.sessMu.Unlock()
}

// Shutdown closes the listener and every session, then waits for the
// session goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sessMu.Lock()
	for sess := range s.sessions {
		sess.close()
	}
	s.sessMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "handshake_fail", s.totalHandshakeFail.Load(), "commands", s.totalCommands.Load(), "disconnected", s.totalDisconnected.Load())
		return nil
	}
}
