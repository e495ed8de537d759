package devsim

import (
	"fmt"
	"time"

	"github.com/kstaniek/xscope-harness/internal/metrics"
	"github.com/kstaniek/xscope-harness/internal/wire"
)

// startWriter pushes queued event frames to the host in small batches.
func (s *Server) startWriter(ctxDone <-chan struct{}, ss *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = ss.conn.Close()
			s.removeSession(ss)
			s.totalDisconnected.Add(1)
			ss.logger.Info("host_detached")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]wire.Frame, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			_, err := s.codec.EncodeTo(ss.conn, batch)
			batch = batch[:0]
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			for i := 0; i < n; i++ {
				metrics.IncWireTx()
			}
			return nil
		}
		drain := func() {
			for {
				select {
				case f := <-ss.out:
					batch = append(batch, f)
				default:
					_ = flush()
					return
				}
			}
		}
		for {
			select {
			case f := <-ss.out:
				batch = append(batch, f)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						ss.close()
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					ss.close()
					return
				}
			case <-ss.closed:
				drain()
				return
			case <-ctxDone:
				drain()
				ss.close()
				return
			}
		}
	}()
}
