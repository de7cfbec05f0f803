package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/cnl"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/metrics"
	"github.com/kstaniek/go-bxcan/internal/transport"
)

// readBatch bounds how many frames one reader pass hands to Send.
const readBatch = 16

// startReader decodes client frames and hands them to Send until the
// connection fails or the server stops.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			cl.Close()
		}()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.opt.ioTimeout))
			count, err := s.decode(conn, func(fr can.Frame) { s.forward(fr, logger) })
			if err != nil {
				if errors.Is(err, cnl.ErrErrorFrame) {
					logger.Debug("error_frame_ignored")
					continue
				}
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				_ = s.fail(ErrConnRead, err)
				logger.Warn("client_read_error", "error", err)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			case <-cl.Closed:
				return
			default:
			}
		}
	}()
}

func (s *Server) decode(r io.Reader, onFrame func(can.Frame)) (int, error) {
	if md, ok := s.opt.codec.(transport.MultiFrameDecoder); ok {
		return md.DecodeN(r, readBatch, onFrame)
	}
	fr, err := s.opt.codec.Decode(r)
	if err != nil {
		return 0, err
	}
	onFrame(fr)
	return 1, nil
}

// forward applies the frame filter and queues fr for the controller.
// Overflow is counted and dropped; the client stays connected.
func (s *Server) forward(fr can.Frame, logger *slog.Logger) {
	if s.opt.accept != nil && !s.opt.accept(&fr) {
		return
	}
	metrics.IncTCPRx()
	if s.opt.send == nil {
		return
	}
	err := s.opt.send(fr)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrTxOverflow):
		s.stats.ctrlDrops.Add(1)
		logger.Debug("controller_overflow_drop", "frame", fr.String())
	default:
		_ = s.fail(ErrBackendTx, err)
		s.stats.ctrlErrors.Add(1)
		logger.Error("controller_tx_error", "error", err, "frame", fr.String())
	}
}
