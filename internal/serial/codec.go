package serial

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

const (
	pre0 = 0x2D
	pre1 = 0xD4
	// maxBody leaves room for the largest event frame: kind + header + payload.
	maxBody = 1 + 24 + wire.MaxPayload
)

// Codec wraps wire frames in the UART envelope used by the serial probe
// bridge:
//
//	2D D4 | len u16 BE | body[len] | checksum
//
// checksum = 0x2D + lenHi + lenLo + sum(body) (mod 256)
type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

func envelope(body []byte) []byte {
	n := len(body)
	out := make([]byte, n+5)
	out[0] = pre0
	out[1] = pre1
	binary.BigEndian.PutUint16(out[2:4], uint16(n))
	sum := byte(pre0) + out[2] + out[3]
	for i, b := range body {
		out[4+i] = b
		sum += b
	}
	out[4+n] = sum
	return out
}

// Encode marshals f and wraps it in an envelope.
func (Codec) Encode(f wire.Frame) ([]byte, error) {
	body, err := wire.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("serial encode: %w (%d)", wire.ErrInvalidLength, len(body))
	}
	return envelope(body), nil
}

// DecodeStream consumes complete envelopes from in and emits their decoded
// frames via out. Garbage, bad lengths and checksum mismatches are skipped
// one byte at a time until the stream realigns on a preamble. Incomplete
// trailing data stays in the buffer for the next call.
func (Codec) DecodeStream(in *bytes.Buffer, out func(wire.Frame)) error {
	header := []byte{pre0, pre1}

	for {
		// Compact before taking the slice; compaction rewrites the backing array.
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 4 {
			return nil
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case next buffer starts with preamble second byte
			last := data[len(data)-1]
			in.Reset()
			if last == pre0 {
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(binary.BigEndian.Uint16(data[2:4]))
		if ln < 1 || ln > maxBody {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := 4 + ln + 1
		if len(data) < req {
			return nil
		}

		sum := byte(pre0) + data[2] + data[3]
		for _, b := range data[4 : req-1] {
			sum += b
		}
		if sum != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		fr, err := wire.Unmarshal(data[4 : req-1])
		if err != nil {
			// envelope was intact but its body was not a frame; drop it whole
			in.Next(req)
			continue
		}
		out(fr)
		in.Next(req)
	}
}
