package endpoint

import (
	"context"

	"github.com/kstaniek/xscope-harness/internal/serial"
)

// DialSerial opens a serial instrumentation link: host is the device path
// and port the baud rate.
func DialSerial(ctx context.Context, device, baud string) (Link, error) {
	l, err := serial.Dial(ctx, device, baud)
	if err != nil {
		return nil, err
	}
	return l, nil
}

var _ DialFunc = DialSerial
