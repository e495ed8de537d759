// Package l2send floods a host interface with raw Ethernet II frames
// addressed to the device under test.
package l2send

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrAddressParse is returned for a MAC address that is not exactly six
// colon-separated hex octets.
var ErrAddressParse = errors.New("invalid MAC address")

// ParseMAC parses "aa:bb:cc:dd:ee:ff". Unlike net.ParseMAC it accepts only
// the 48-bit colon form; each octet is one or two hex digits.
func ParseMAC(s string) (net.HardwareAddr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: %q: want 6 octets, got %d", ErrAddressParse, s, len(parts))
	}
	mac := make(net.HardwareAddr, 6)
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return nil, fmt.Errorf("%w: %q: octet %d", ErrAddressParse, s, i)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: octet %d", ErrAddressParse, s, i)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// interfaceByName is a test hook.
var interfaceByName = net.InterfaceByName

// InterfaceMAC returns the hardware address of iface.
func InterfaceMAC(iface string) (net.HardwareAddr, error) {
	ifi, err := interfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", iface, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return nil, fmt.Errorf("%w: interface %q has no Ethernet address", ErrAddressParse, iface)
	}
	return ifi.HardwareAddr, nil
}
