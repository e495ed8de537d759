package control

import (
	"fmt"
	"sync/atomic"
)

// ConnState is the handshake state as seen by the host.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// NoResult is the code reported when a command produced no result.
const NoResult byte = 255

// noResult marks an unset result slot. It is outside the byte range so a
// device that genuinely answers 255 is still distinguishable.
const noResult int32 = -1

// Shared is the state cell written by the Demux and read by the pollers.
// All access is atomic; readers never see a torn value.
type Shared struct {
	state  atomic.Int32
	result atomic.Int32
}

// NewShared returns a cell in Disconnected with no pending result.
func NewShared() *Shared {
	s := &Shared{}
	s.state.Store(int32(Disconnected))
	s.result.Store(noResult)
	return s
}

func (s *Shared) State() ConnState { return ConnState(s.state.Load()) }

func (s *Shared) swapState(n ConnState) ConnState { return ConnState(s.state.Swap(int32(n))) }

// Result returns the pending result, if one has arrived.
func (s *Shared) Result() (byte, bool) {
	v := s.result.Load()
	if v == noResult {
		return 0, false
	}
	return byte(v), true
}

func (s *Shared) setResult(b byte) { s.result.Store(int32(b)) }
func (s *Shared) resetResult()     { s.result.Store(noResult) }
