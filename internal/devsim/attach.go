package devsim

import (
	"time"

	"github.com/kstaniek/xscope-harness/internal/event"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

// startAttach plays the firmware's attach sequence: banner, Connect-Ack,
// then periodic chatter.
func (s *Server) startAttach(ctxDone <-chan struct{}, ss *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.ackDelay > 0 {
			t := time.NewTimer(s.ackDelay)
			select {
			case <-t.C:
			case <-ss.closed:
				t.Stop()
				return
			case <-ctxDone:
				t.Stop()
				return
			}
		}
		if s.banner != "" {
			ss.send(wire.EventFrame(event.Print(printProbeID, s.deviceTime(), s.banner)))
		}
		if s.malformedAck {
			ss.send(wire.EventFrame(event.Event{ID: event.IDConnect, Timestamp: s.deviceTime(), Length: 2, Payload: []byte{1, 1}}))
		}
		if !ss.send(wire.EventFrame(event.ConnectAck(s.deviceTime()))) {
			return
		}
		if s.chatterEvery <= 0 {
			return
		}
		t := time.NewTicker(s.chatterEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if !ss.send(wire.EventFrame(event.Print(printProbeID, s.deviceTime(), s.chatter))) {
					return
				}
			case <-ss.closed:
				return
			case <-ctxDone:
				return
			}
		}
	}()
}
