package endpoint

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/transport"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

// Link is a connected, framed pipe to the instrumentation server.
// ReadFrame is called from a single reader goroutine; WriteFrame may be
// called concurrently with it. Close must unblock a pending ReadFrame.
type Link interface {
	ReadFrame() (wire.Frame, error)
	WriteFrame(wire.Frame) error
	Close() error
}

// DialFunc opens a Link. host and port are interpreted by the
// implementation (TCP address and port, or serial device and baud rate).
type DialFunc func(ctx context.Context, host, port string) (Link, error)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultHelloTimeout = 3 * time.Second
)

// DialTCP returns a DialFunc that connects over TCP and exchanges the hello
// magic before handing out the link. Zero timeouts use defaults.
func DialTCP(dialTimeout, helloTimeout time.Duration) DialFunc {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if helloTimeout <= 0 {
		helloTimeout = defaultHelloTimeout
	}
	return func(ctx context.Context, host, port string) (Link, error) {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
		if err != nil {
			return nil, err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		if err := wire.Handshake(ctx, conn, helloTimeout); err != nil {
			_ = conn.Close()
			metrics.IncError(metrics.ErrHandshake)
			return nil, err
		}
		return NewStreamLink(conn), nil
	}
}

// StreamLink frames wire traffic over a byte stream (usually a net.Conn
// that already completed the hello exchange).
type StreamLink struct {
	conn   net.Conn
	br     *bufio.Reader
	codec  transport.FrameCodec
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewStreamLink wraps conn.
func NewStreamLink(conn net.Conn) *StreamLink {
	return &StreamLink{conn: conn, br: bufio.NewReader(conn), codec: &wire.Codec{}}
}

// ReadFrame blocks until a full frame is decoded.
func (l *StreamLink) ReadFrame() (wire.Frame, error) {
	f, err := l.codec.Decode(l.br)
	if err != nil && l.closed.Load() {
		return f, net.ErrClosed
	}
	return f, err
}

// WriteFrame encodes and writes one frame.
func (l *StreamLink) WriteFrame(f wire.Frame) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.codec.EncodeTo(l.conn, []wire.Frame{f}); err != nil {
		return err
	}
	metrics.IncWireTx()
	return nil
}

// Close closes the connection. Safe to call repeatedly.
func (l *StreamLink) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.conn.Close()
}

// RemoteAddr reports the peer address.
func (l *StreamLink) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

// isClosedErr reports errors that mean the link went away rather than
// misbehaved.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

var _ Link = (*StreamLink)(nil)
