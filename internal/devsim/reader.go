package devsim

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/xscope-harness/internal/command"
	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

// startReader decodes uploads from the host and answers them.
func (s *Server) startReader(ctxDone <-chan struct{}, ss *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ss.close()
		for {
			_ = ss.conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			f, err := s.codec.Decode(ss.br)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				select {
				case <-ss.closed:
					return
				default:
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				ss.logger.Warn("host_read_error", "error", wrap)
				return
			}
			if f.Kind != wire.KindUpload {
				ss.logger.Debug("unexpected_frame", "kind", string(rune(f.Kind)))
				continue
			}
			if !s.handleCommand(ss, f.Upload) {
				return
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

// handleCommand answers one upload; false ends the session.
func (s *Server) handleCommand(ss *session, p []byte) bool {
	s.totalCommands.Add(1)
	op := command.Opcode(p[0])
	ss.logger.Info("command_received", "command", op.String(), "len", len(p))
	if s.silent {
		return true
	}
	if s.resultDelay > 0 {
		t := time.NewTimer(s.resultDelay)
		select {
		case <-t.C:
		case <-ss.closed:
			t.Stop()
			return false
		}
	}
	ss.send(wire.EventFrame(event.Print(printProbeID, s.deviceTime(), "cmd "+op.String()+"\n")))
	if s.malformedResult {
		ss.send(wire.EventFrame(event.Event{
			ID:        event.IDCommandResult,
			Timestamp: s.deviceTime(),
			Length:    2,
			Payload:   []byte{^s.resultCode, 0},
		}))
	}
	ss.send(wire.EventFrame(event.CommandResult(s.deviceTime(), s.resultCode)))
	if op == command.DeviceShutdown && s.exitOnShutdown {
		ss.logger.Info("device_shutdown")
		ss.close()
		return false
	}
	return true
}
