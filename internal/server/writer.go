package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/metrics"
	"github.com/kstaniek/go-bxcan/internal/transport"
)

// startWriter batches hub frames for one client, flushing when the batch is
// full or the flush interval elapses.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.detach(cl)
			s.stats.disconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		enc, _ := s.opt.codec.(transport.FrameBatchEncoder)
		t := time.NewTicker(s.opt.flushInterval)
		defer t.Stop()
		batch := make([]can.Frame, 0, s.opt.batchSize)
		flush := func() error {
			if len(batch) == 0 || enc == nil {
				batch = batch[:0]
				return nil
			}
			n := len(batch)
			_ = conn.SetWriteDeadline(time.Now().Add(s.opt.ioTimeout))
			_, err := enc.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				return s.fail(ErrConnWrite, err)
			}
			metrics.AddTCPTx(n)
			return nil
		}
		for {
			select {
			case fr := <-cl.Out:
				batch = append(batch, fr)
				if len(batch) >= s.opt.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
