package l2send

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/ethernet"
)

const (
	// DefaultEtherType is the experimental EtherType used by the MAC tests.
	DefaultEtherType ethernet.EtherType = 0x2222

	MinPayload     = 46
	MaxPayload     = 1500
	DefaultPayload = MaxPayload

	headerLen = 14
	fcsLen    = 4
	// preamble+SFD and minimum inter-frame gap, in bits.
	preambleBits = 64
	ifgBits      = 96

	seqLen = 4
)

var ErrPayloadSize = errors.New("payload size out of range")

// FrameSpec describes the frames to build.
type FrameSpec struct {
	Destination net.HardwareAddr
	Source      net.HardwareAddr
	EtherType   ethernet.EtherType
	PayloadLen  int
	// Sequence stamps a big-endian uint32 counter into the first payload bytes.
	Sequence bool
}

func (fs FrameSpec) validate() error {
	if len(fs.Destination) != 6 || len(fs.Source) != 6 {
		return fmt.Errorf("%w: source and destination must be 6 bytes", ErrAddressParse)
	}
	if fs.PayloadLen < MinPayload || fs.PayloadLen > MaxPayload {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrPayloadSize, fs.PayloadLen, MinPayload, MaxPayload)
	}
	return nil
}

// BuildFrame marshals one frame. The payload is filled with an incrementing
// byte pattern; with Sequence set, seq occupies the first four bytes.
func BuildFrame(fs FrameSpec, seq uint32) ([]byte, error) {
	if err := fs.validate(); err != nil {
		return nil, err
	}
	if fs.EtherType == 0 {
		fs.EtherType = DefaultEtherType
	}
	payload := make([]byte, fs.PayloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	if fs.Sequence {
		binary.BigEndian.PutUint32(payload[:seqLen], seq)
	}
	f := ethernet.Frame{
		Destination: fs.Destination,
		Source:      fs.Source,
		EtherType:   fs.EtherType,
		Payload:     payload,
	}
	return f.MarshalBinary()
}

// stampSequence rewrites the sequence field of a frame built by BuildFrame.
func stampSequence(b []byte, seq uint32) {
	binary.BigEndian.PutUint32(b[headerLen:headerLen+seqLen], seq)
}

// FrameBits is the wire cost of one frame with a payload of n bytes,
// including preamble and inter-frame gap.
func FrameBits(n int) int64 {
	return int64((headerLen+n+fcsLen)*8 + preambleBits + ifgBits)
}

// PacketsForDuration is how many back-to-back frames with an n byte payload
// fit in d at the given line rate.
func PacketsForDuration(d time.Duration, n int, bitsPerSec int64) int {
	if d <= 0 || bitsPerSec <= 0 || n < 0 {
		return 0
	}
	total := float64(bitsPerSec) * d.Seconds()
	return int(total / float64(FrameBits(n)))
}
