package transport

import (
	"io"

	"github.com/kstaniek/xscope-harness/internal/wire"
)

// FrameDecoder decodes a single link frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (wire.Frame, error)
}

// MultiFrameDecoder optionally drains multiple frames from a stream.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(wire.Frame)) (int, error)
}

// FrameBatchEncoder can encode batches either to bytes or directly to a writer.
type FrameBatchEncoder interface {
	Encode([]wire.Frame) ([]byte, error)
	EncodeTo(w io.Writer, frames []wire.Frame) (int, error)
}

// FrameCodec is what a stream link needs from its codec.
type FrameCodec interface {
	FrameDecoder
	FrameBatchEncoder
}

// Compile-time assertions that *wire.Codec satisfies the optional capabilities.
var (
	_ FrameDecoder      = (*wire.Codec)(nil)
	_ MultiFrameDecoder = (*wire.Codec)(nil)
	_ FrameBatchEncoder = (*wire.Codec)(nil)
)
