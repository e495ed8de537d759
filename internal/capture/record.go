package capture

import (
	"time"

	"github.com/kstaniek/xscope-harness/internal/event"
)

// Record is one captured item. CBOR encoding uses integer keys for compactness.
type Record struct {
	// Timestamp is host time when the item was captured.
	Timestamp time.Time `cbor:"1,keyasint"`

	// RunID identifies the harness invocation (UUID).
	RunID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Kind      Kind      `cbor:"4,keyasint"`

	// Probe fields, set for KindEvent.
	ProbeID    uint32 `cbor:"5,keyasint,omitempty"`
	DeviceTime uint64 `cbor:"6,keyasint,omitempty"`
	Length     uint32 `cbor:"7,keyasint,omitempty"`
	Scalar     uint64 `cbor:"8,keyasint,omitempty"`

	// Payload is the event payload or the command bytes.
	Payload []byte `cbor:"9,keyasint,omitempty"`

	// Phase is the new driver phase, set for KindPhase.
	Phase string `cbor:"10,keyasint,omitempty"`

	// Note carries a short free-form annotation (outcome, error text).
	Note string `cbor:"11,keyasint,omitempty"`
}

// Direction of the captured item relative to the host.
type Direction uint8

const (
	DirectionIn    Direction = 0
	DirectionOut   Direction = 1
	DirectionLocal Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Kind of captured item.
type Kind uint8

const (
	KindEvent   Kind = 0
	KindCommand Kind = 1
	KindPhase   Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "EVENT"
	case KindCommand:
		return "COMMAND"
	case KindPhase:
		return "PHASE"
	default:
		return "UNKNOWN"
	}
}

// EventRecord captures an inbound probe event.
func EventRecord(ev event.Event) Record {
	return Record{
		Timestamp:  time.Now(),
		Direction:  DirectionIn,
		Kind:       KindEvent,
		ProbeID:    ev.ID,
		DeviceTime: ev.Timestamp,
		Length:     ev.Length,
		Scalar:     ev.Scalar,
		Payload:    append([]byte(nil), ev.Payload...),
	}
}

// CommandRecord captures command bytes submitted to the device.
func CommandRecord(p []byte, note string) Record {
	return Record{
		Timestamp: time.Now(),
		Direction: DirectionOut,
		Kind:      KindCommand,
		Payload:   append([]byte(nil), p...),
		Note:      note,
	}
}

// PhaseRecord captures a driver phase transition.
func PhaseRecord(phase, note string) Record {
	return Record{
		Timestamp: time.Now(),
		Direction: DirectionLocal,
		Kind:      KindPhase,
		Phase:     phase,
		Note:      note,
	}
}
