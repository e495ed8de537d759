package l2send

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mdlayher/ethernet"

	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// ErrWrite wraps a failed frame write.
var ErrWrite = errors.New("frame write")

// FrameWriter is the minimal device surface; *Device in production, fakes
// in tests.
type FrameWriter interface {
	WriteFrame([]byte) error
	Close() error
}

// Sender writes a burst of identical frames, optionally sequence-stamped.
type Sender struct {
	w        FrameWriter
	spec     FrameSpec
	gap      time.Duration
	progress int
	logger   *slog.Logger
	sleep    func(time.Duration)
}

type Option func(*Sender)

func WithEtherType(t ethernet.EtherType) Option {
	return func(s *Sender) { s.spec.EtherType = t }
}

func WithPayloadLen(n int) Option {
	return func(s *Sender) { s.spec.PayloadLen = n }
}

// WithSequence stamps a frame counter into each payload.
func WithSequence(on bool) Option {
	return func(s *Sender) { s.spec.Sequence = on }
}

// WithGap pauses between frames; zero floods.
func WithGap(d time.Duration) Option { return func(s *Sender) { s.gap = d } }

// WithProgress logs every n frames; zero disables.
func WithProgress(n int) Option { return func(s *Sender) { s.progress = n } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSender validates addresses and frame geometry up front.
func NewSender(w FrameWriter, src, dst net.HardwareAddr, opts ...Option) (*Sender, error) {
	s := &Sender{
		w: w,
		spec: FrameSpec{
			Destination: dst,
			Source:      src,
			EtherType:   DefaultEtherType,
			PayloadLen:  DefaultPayload,
		},
		logger: logging.L(),
		sleep:  time.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.spec.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open binds a raw socket on iface and returns a Sender over it.
func Open(iface string, src, dst net.HardwareAddr, opts ...Option) (*Sender, error) {
	w, err := openRawSocket(iface)
	if err != nil {
		return nil, err
	}
	s, err := NewSender(w, src, dst, opts...)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return s, nil
}

// Send writes count frames and returns how many were written. It stops at
// the first write error or when ctx is done.
func (s *Sender) Send(ctx context.Context, count int) (int, error) {
	b, err := BuildFrame(s.spec, 0)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	s.logger.Info("l2_send_start", "dst", s.spec.Destination.String(), "src", s.spec.Source.String(),
		"ethertype", fmt.Sprintf("0x%04x", uint16(s.spec.EtherType)), "payload", s.spec.PayloadLen, "count", count)
	sent := 0
	for sent < count {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if s.spec.Sequence {
			stampSequence(b, uint32(sent))
		}
		if err := s.w.WriteFrame(b); err != nil {
			metrics.IncError(metrics.ErrEthWrite)
			return sent, fmt.Errorf("%w %d: %w", ErrWrite, sent, err)
		}
		metrics.AddEthFrame(len(b))
		sent++
		if s.progress > 0 && sent%s.progress == 0 {
			s.logger.Debug("l2_send_progress", "sent", sent)
		}
		if s.gap > 0 && sent < count {
			s.sleep(s.gap)
		}
	}
	s.logger.Info("l2_send_done", "sent", sent, "elapsed", time.Since(start))
	return sent, nil
}

// Close releases the underlying device.
func (s *Sender) Close() error { return s.w.Close() }
