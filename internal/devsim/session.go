package devsim

import (
	"bufio"
	"log/slog"
	"net"
	"sync"

	"github.com/kstaniek/xscope-harness/internal/wire"
)

// printProbeID is the probe the simulated firmware prints on.
const printProbeID uint32 = 2

// session is one attached host.
type session struct {
	conn   net.Conn
	br     *bufio.Reader
	out    chan wire.Frame
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newSession(conn net.Conn, logger *slog.Logger, buf int) *session {
	return &session{
		conn:   conn,
		br:     bufio.NewReader(conn),
		out:    make(chan wire.Frame, buf),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// send queues f for the writer; false once the session is closed.
func (ss *session) send(f wire.Frame) bool {
	select {
	case <-ss.closed:
		return false
	default:
	}
	select {
	case ss.out <- f:
		return true
	case <-ss.closed:
		return false
	}
}

func (ss *session) close() { ss.once.Do(func() { close(ss.closed) }) }
