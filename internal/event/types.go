package event

import "fmt"

// Well-known probe identifiers used by the device firmware.
const (
	IDConnect       uint32 = 0
	IDCommandResult uint32 = 1
)

// Event is one record delivered by the instrumentation channel.
// Length is the length declared by the device; Payload carries the bytes
// that actually arrived and is normally Length bytes long.
//
// Note: Payload is owned by the receiver once delivered; decoders allocate a
// fresh slice per event.
type Event struct {
	ID        uint32
	Timestamp uint64
	Length    uint32
	Scalar    uint64
	Payload   []byte
}

// Kind classifies an event by identifier.
type Kind uint8

const (
	KindConnectAck Kind = iota
	KindCommandResult
	KindPrint
)

func (k Kind) String() string {
	switch k {
	case KindConnectAck:
		return "connect_ack"
	case KindCommandResult:
		return "command_result"
	case KindPrint:
		return "print"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Classify maps an identifier to its event kind. Anything that is not a
// control probe is print traffic.
func Classify(id uint32) Kind {
	switch id {
	case IDConnect:
		return KindConnectAck
	case IDCommandResult:
		return KindCommandResult
	default:
		return KindPrint
	}
}

// Kind is shorthand for Classify(e.ID).
func (e Event) Kind() Kind { return Classify(e.ID) }

// Clone returns a deep copy (handy for tests and fan-out).
func (e Event) Clone() Event {
	g := e
	if e.Payload != nil {
		g.Payload = append([]byte(nil), e.Payload...)
	}
	return g
}

// ConnectAck builds a well-formed connection acknowledgement.
func ConnectAck(ts uint64) Event {
	return Event{ID: IDConnect, Timestamp: ts, Length: 1, Scalar: 1, Payload: []byte{1}}
}

// CommandResult builds a well-formed command result carrying code.
func CommandResult(ts uint64, code byte) Event {
	return Event{ID: IDCommandResult, Timestamp: ts, Length: 1, Scalar: uint64(code), Payload: []byte{code}}
}

// Print builds a print event for an arbitrary non-control probe id.
func Print(id uint32, ts uint64, text string) Event {
	return Event{ID: id, Timestamp: ts, Length: uint32(len(text)), Payload: []byte(text)}
}
