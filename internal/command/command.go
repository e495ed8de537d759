// Package command encodes the directives understood by the device firmware
// into upload bytes: one opcode byte followed by directive-specific
// arguments.
package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/kstaniek/xscope-harness/internal/l2send"
)

// Opcode is the first byte of every command.
type Opcode byte

// Values are shared with the firmware through the generated header and
// must not be renumbered.
const (
	DeviceShutdown Opcode = iota + 1
	SetDeviceMAC
	SetHostMAC
	SetDUTTxPackets
	SetDUTReceive
	DeviceConnect
	ExitDeviceMAC
)

var (
	ErrUnknownDirective = errors.New("unknown directive")
	ErrUsage            = errors.New("usage")
)

type def struct {
	op        Opcode
	directive string
	symbol    string
	usage     string
	nargs     int
	encode    func(args []string) ([]byte, error)
}

var defs = []def{
	{DeviceShutdown, "shutdown", "CMD_DEVICE_SHUTDOWN", "shutdown", 0, nil},
	{SetDeviceMAC, "set-dut-mac", "CMD_SET_DEVICE_MACADDR", "set-dut-mac <client> <mac>", 2, encodeClientMAC},
	{SetHostMAC, "set-host-mac", "CMD_SET_HOST_MACADDR", "set-host-mac <mac>", 1, encodeMAC},
	{SetDUTTxPackets, "set-tx-packets", "CMD_HOST_SET_DUT_TX_PACKETS", "set-tx-packets <client> <arg1> <arg2>", 3, encodeTxPackets},
	{SetDUTReceive, "set-receive", "CMD_SET_DUT_RECEIVE", "set-receive <client> <0|1>", 2, encodeReceive},
	{DeviceConnect, "device-connect", "CMD_DEVICE_CONNECT", "device-connect", 0, nil},
	{ExitDeviceMAC, "restart-mac", "CMD_EXIT_DEVICE_MAC", "restart-mac", 0, nil},
}

func lookup(directive string) (def, bool) {
	for _, d := range defs {
		if d.directive == directive {
			return d, true
		}
	}
	return def{}, false
}

// Known reports whether directive names a device command.
func Known(directive string) bool { _, ok := lookup(directive); return ok }

// Directives lists the known directive names, sorted.
func Directives() []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.directive)
	}
	sort.Strings(out)
	return out
}

// Usage returns the argument synopsis for directive.
func Usage(directive string) string {
	if d, ok := lookup(directive); ok {
		return d.usage
	}
	return ""
}

// Parse builds the upload bytes for directive and its arguments.
func Parse(directive string, args []string) ([]byte, error) {
	d, ok := lookup(directive)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDirective, directive)
	}
	if len(args) != d.nargs {
		return nil, fmt.Errorf("%w: %s", ErrUsage, d.usage)
	}
	out := []byte{byte(d.op)}
	if d.encode == nil {
		return out, nil
	}
	tail, err := d.encode(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUsage, d.usage, err)
	}
	return append(out, tail...), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a byte", s)
	}
	return byte(v), nil
}

func encodeMAC(args []string) ([]byte, error) {
	mac, err := l2send.ParseMAC(args[0])
	if err != nil {
		return nil, err
	}
	return []byte(mac), nil
}

func encodeClientMAC(args []string) ([]byte, error) {
	client, err := parseByte(args[0])
	if err != nil {
		return nil, err
	}
	mac, err := encodeMAC(args[1:])
	if err != nil {
		return nil, err
	}
	return append([]byte{client}, mac...), nil
}

// encodeTxPackets packs three little-endian int32 values.
func encodeTxPackets(args []string) ([]byte, error) {
	out := make([]byte, 0, 12)
	for _, a := range args {
		v, err := strconv.ParseInt(a, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%q is not an int32", a)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(v)))
	}
	return out, nil
}

func encodeReceive(args []string) ([]byte, error) {
	client, err := parseByte(args[0])
	if err != nil {
		return nil, err
	}
	switch args[1] {
	case "0", "1":
	default:
		return nil, fmt.Errorf("receive flag must be 0 or 1, got %q", args[1])
	}
	return []byte{client, args[1][0] - '0'}, nil
}

// String returns the directive name for o.
func (o Opcode) String() string {
	for _, d := range defs {
		if d.op == o {
			return d.directive
		}
	}
	return "opcode(" + strconv.Itoa(int(o)) + ")"
}
