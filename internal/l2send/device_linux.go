//go:build linux

package l2send

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Device is an AF_PACKET raw socket bound to one interface.
type Device struct {
	fd int
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }

// OpenDevice binds a raw packet socket to iface. Requires CAP_NET_RAW.
func OpenDevice(iface string) (*Device, error) {
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket(AF_PACKET): %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(packet@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

// WriteFrame writes one complete Ethernet frame (FCS added by the NIC).
func (d *Device) WriteFrame(b []byte) error {
	n, err := unix.Write(d.fd, b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: %d/%d", n, len(b))
	}
	return nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

var openRawSocket = func(iface string) (FrameWriter, error) { return OpenDevice(iface) }
