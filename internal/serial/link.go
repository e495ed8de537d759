package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

const (
	readBufSize        = 4096
	defaultReadTimeout = 50 * time.Millisecond
)

// ErrClosed is returned by ReadFrame/WriteFrame after Close.
var ErrClosed = errors.New("serial link closed")

// openPort is a hook for tests (overridden in unit tests).
var openPort = Open

// Link carries wire frames over a serial port.
type Link struct {
	port    Port
	codec   Codec
	acc     bytes.Buffer
	pending []wire.Frame
	buf     []byte
	wmu     sync.Mutex
	closed  atomic.Bool
}

// NewLink wraps an already opened port.
func NewLink(p Port) *Link {
	return &Link{port: p, buf: make([]byte, readBufSize)}
}

// Dial opens device at the given baud rate (decimal text, as it arrives
// from the command line) and returns a frame link over it.
func Dial(_ context.Context, device, baud string) (*Link, error) {
	rate, err := strconv.Atoi(baud)
	if err != nil || rate <= 0 {
		return nil, fmt.Errorf("invalid baud %q", baud)
	}
	p, err := openPort(device, rate, defaultReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return NewLink(p), nil
}

// ReadFrame blocks until one complete frame has been decoded from the port.
// Read timeouts (reported as EOF by the driver) are not errors.
func (l *Link) ReadFrame() (wire.Frame, error) {
	for len(l.pending) == 0 {
		if l.closed.Load() {
			return wire.Frame{}, ErrClosed
		}
		n, err := l.port.Read(l.buf)
		if n > 0 {
			l.acc.Write(l.buf[:n])
			_ = l.codec.DecodeStream(&l.acc, func(f wire.Frame) { l.pending = append(l.pending, f) })
		}
		if err != nil {
			if l.closed.Load() {
				return wire.Frame{}, ErrClosed
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue
			}
			var perr *os.PathError
			if !errors.As(err, &perr) {
				metrics.IncError(metrics.ErrSerialRead)
			}
			return wire.Frame{}, fmt.Errorf("serial read: %w", err)
		}
	}
	f := l.pending[0]
	l.pending[0] = wire.Frame{}
	l.pending = l.pending[1:]
	return f, nil
}

// WriteFrame encodes f and writes the envelope in one call.
func (l *Link) WriteFrame(f wire.Frame) error {
	if l.closed.Load() {
		return ErrClosed
	}
	b, err := l.codec.Encode(f)
	if err != nil {
		return err
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.port.Write(b); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	metrics.IncWireTx()
	return nil
}

// Close releases the port; safe to call multiple times.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.port.Close()
}
