package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/metrics"
)

// Kind is the one-byte frame discriminator.
type Kind byte

const (
	// KindEvent carries a probe record from the device to the host.
	KindEvent Kind = 'E'
	// KindUpload carries command bytes from the host to the device.
	KindUpload Kind = 'U'
)

// MaxPayload bounds event payloads and uploads.
const MaxPayload = 4096

// eventHeaderLen = id(4) + timestamp(8) + scalar(8) + length(4)
const eventHeaderLen = 4 + 8 + 8 + 4

// Frame is one unit on the instrumentation link. Exactly one of Event or
// Upload is meaningful, selected by Kind.
type Frame struct {
	Kind   Kind
	Event  event.Event
	Upload []byte
}

// EventFrame wraps ev in a frame.
func EventFrame(ev event.Event) Frame { return Frame{Kind: KindEvent, Event: ev} }

// UploadFrame wraps p in a frame.
func UploadFrame(p []byte) Frame { return Frame{Kind: KindUpload, Upload: p} }

// Codec encodes/decodes link frames. Stateless and safe for concurrent use.
type Codec struct{}

var (
	// ErrInvalidLength is returned when a declared length is out of range.
	ErrInvalidLength = errors.New("wire: invalid length")
	// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
	ErrTruncatedFrame = errors.New("wire: truncated frame")
	// ErrUnknownKind is returned for an unrecognised frame discriminator.
	ErrUnknownKind = errors.New("wire: unknown frame kind")
)

// Encode packs frames back to back.
func (c *Codec) Encode(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (1 + eventHeaderLen + 16))
	if _, err := c.EncodeTo(&buf, frames); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes the wire representation of frames to w and returns bytes written.
// Event: 'E' | id u32 | timestamp u64 | scalar u64 | length u32 | payload.
// Upload: 'U' | length u32 | payload. All integers big-endian.
func (c *Codec) EncodeTo(w io.Writer, frames []Frame) (int, error) {
	var total int
	for _, f := range frames {
		var hdr []byte
		var payload []byte
		switch f.Kind {
		case KindEvent:
			payload = f.Event.Payload
			if len(payload) > MaxPayload {
				return total, fmt.Errorf("wire encode event: %w (%d)", ErrInvalidLength, len(payload))
			}
			hdr = make([]byte, 1+eventHeaderLen)
			hdr[0] = byte(KindEvent)
			binary.BigEndian.PutUint32(hdr[1:5], f.Event.ID)
			binary.BigEndian.PutUint64(hdr[5:13], f.Event.Timestamp)
			binary.BigEndian.PutUint64(hdr[13:21], f.Event.Scalar)
			binary.BigEndian.PutUint32(hdr[21:25], uint32(len(payload)))
		case KindUpload:
			payload = f.Upload
			if len(payload) == 0 || len(payload) > MaxPayload {
				return total, fmt.Errorf("wire encode upload: %w (%d)", ErrInvalidLength, len(payload))
			}
			hdr = make([]byte, 5)
			hdr[0] = byte(KindUpload)
			binary.BigEndian.PutUint32(hdr[1:5], uint32(len(payload)))
		default:
			return total, fmt.Errorf("wire encode: %w (0x%02X)", ErrUnknownKind, byte(f.Kind))
		}
		n, err := w.Write(hdr)
		total += n
		if err != nil {
			return total, fmt.Errorf("wire encode header: %w", err)
		}
		if len(payload) > 0 {
			n, err = w.Write(payload)
			total += n
			if err != nil {
				return total, fmt.Errorf("wire encode payload: %w", err)
			}
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r.
// It returns io.EOF if called at a clean frame boundary and no more data is available.
//
// The declared event length is taken as the payload byte count, so
// Event.Length always equals len(Event.Payload) for decoded frames.
func (c *Codec) Decode(r io.Reader) (Frame, error) {
	var f Frame
	var kb [1]byte
	if _, err := io.ReadFull(r, kb[:]); err != nil {
		return f, err
	}
	f.Kind = Kind(kb[0])
	switch f.Kind {
	case KindEvent:
		var hdr [eventHeaderLen]byte
		if err := readBody(r, hdr[:]); err != nil {
			return f, err
		}
		f.Event.ID = binary.BigEndian.Uint32(hdr[0:4])
		f.Event.Timestamp = binary.BigEndian.Uint64(hdr[4:12])
		f.Event.Scalar = binary.BigEndian.Uint64(hdr[12:20])
		ln := binary.BigEndian.Uint32(hdr[20:24])
		if ln > MaxPayload {
			metrics.IncMalformed()
			return f, fmt.Errorf("wire decode event: %w (%d)", ErrInvalidLength, ln)
		}
		f.Event.Length = ln
		if ln > 0 {
			f.Event.Payload = make([]byte, ln)
			if err := readBody(r, f.Event.Payload); err != nil {
				return f, err
			}
		}
	case KindUpload:
		var lb [4]byte
		if err := readBody(r, lb[:]); err != nil {
			return f, err
		}
		ln := binary.BigEndian.Uint32(lb[:])
		if ln == 0 || ln > MaxPayload {
			metrics.IncMalformed()
			return f, fmt.Errorf("wire decode upload: %w (%d)", ErrInvalidLength, ln)
		}
		f.Upload = make([]byte, ln)
		if err := readBody(r, f.Upload); err != nil {
			return f, err
		}
	default:
		metrics.IncMalformed()
		return f, fmt.Errorf("wire decode: %w (0x%02X)", ErrUnknownKind, kb[0])
	}
	metrics.IncWireRx()
	return f, nil
}

// readBody fills p; running out of input here is a truncation, not a clean EOF.
func readBody(r io.Reader, p []byte) error {
	if _, err := io.ReadFull(r, p); err != nil {
		metrics.IncMalformed()
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("wire decode: %w", ErrTruncatedFrame)
		}
		return fmt.Errorf("wire decode: %w", err)
	}
	return nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0) invoking onFrame for each.
// It returns the number of frames decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}

// Marshal encodes a single frame.
func Marshal(f Frame) ([]byte, error) {
	var c Codec
	return c.Encode([]Frame{f})
}

// Unmarshal decodes exactly one frame occupying all of b.
func Unmarshal(b []byte) (Frame, error) {
	var c Codec
	r := bytes.NewReader(b)
	f, err := c.Decode(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return f, fmt.Errorf("wire unmarshal: %w", ErrTruncatedFrame)
		}
		return f, err
	}
	if r.Len() != 0 {
		metrics.IncMalformed()
		return f, fmt.Errorf("wire unmarshal: %w (%d trailing bytes)", ErrInvalidLength, r.Len())
	}
	return f, nil
}
