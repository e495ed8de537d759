//go:build !linux

package l2send

import "errors"

// ErrUnsupported is returned on platforms without AF_PACKET sockets.
var ErrUnsupported = errors.New("raw ethernet sockets are only supported on linux")

var openRawSocket = func(string) (FrameWriter, error) { return nil, ErrUnsupported }
