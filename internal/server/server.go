// Package server exposes the controller to cannelloni clients over TCP.
// Frames read from a client are queued for transmission; frames the
// controller receives reach every client through the hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/metrics"
)

// SendFunc queues a client frame for transmission on the bus.
type SendFunc func(can.Frame) error

// Server owns the TCP listener and the per-client reader/writer pairs.
type Server struct {
	opt    options
	logger *slog.Logger

	mu       sync.RWMutex
	addr     string
	listener net.Listener

	ready     chan struct{}
	readyOnce sync.Once

	errMu   sync.Mutex
	lastErr error

	sessMu   sync.Mutex
	sessions map[*hub.Client]net.Conn
	wg       sync.WaitGroup

	connSeq atomic.Uint64
	stats   counters
}

type counters struct {
	accepted, handshakeFailed atomic.Uint64
	connected, disconnected   atomic.Uint64
	ctrlDrops, ctrlErrors     atomic.Uint64
}

// Stats are the server's lifetime connection counters.
type Stats struct {
	Accepted         uint64 `json:"accepted"`
	HandshakeFailed  uint64 `json:"handshake_failed"`
	Connected        uint64 `json:"connected"`
	Disconnected     uint64 `json:"disconnected"`
	ControllerDrops  uint64 `json:"controller_drops"`
	ControllerErrors uint64 `json:"controller_errors"`
}

func NewServer(opts ...ServerOption) *Server {
	o := options{
		listen:           ":0",
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		ioTimeout:        defaultIOTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           logging.L(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.listen == "" {
		o.listen = ":0"
	}
	return &Server{
		opt:      o,
		logger:   o.logger,
		addr:     o.listen,
		ready:    make(chan struct{}),
		sessions: make(map[*hub.Client]net.Conn),
	}
}

// Addr is the configured address until Serve binds, then the bound one.
func (s *Server) Addr() string { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// LastError returns the most recent listener or client error.
func (s *Server) LastError() error { s.errMu.Lock(); defer s.errMu.Unlock(); return s.lastErr }

// fail records err, counts it under its metric label and returns it.
func (s *Server) fail(sentinel error, cause error) error {
	err := fmt.Errorf("%w: %v", sentinel, cause)
	metrics.IncError(mapErrToMetric(err))
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
	return err
}

func (s *Server) Stats() Stats {
	return Stats{
		Accepted:         s.stats.accepted.Load(),
		HandshakeFailed:  s.stats.handshakeFailed.Load(),
		Connected:        s.stats.connected.Load(),
		Disconnected:     s.stats.disconnected.Load(),
		ControllerDrops:  s.stats.ctrlDrops.Load(),
		ControllerErrors: s.stats.ctrlErrors.Load(),
	}
}

// Serve binds the listener and accepts clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return s.fail(ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				select {
				case <-time.After(acceptRetryDelay):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return s.fail(ErrAccept, err)
		}
		s.admit(ctx, conn)
	}
}

// admit runs the handshake on conn and, if a slot is free, attaches it to
// the hub with its own reader and writer.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	s.stats.accepted.Add(1)
	l := s.logger.With("conn_id", s.connSeq.Add(1), "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := s.CannelloniHandshake(ctx, conn); err != nil {
		s.stats.handshakeFailed.Add(1)
		l.Warn("handshake_failed", "error", s.fail(ErrHandshake, err))
		_ = conn.Close()
		return
	}
	h := s.opt.hub
	if s.opt.maxClients > 0 && h != nil && h.Count() >= s.opt.maxClients {
		metrics.IncHubReject()
		l.Warn("client_reject_max", "max_clients", s.opt.maxClients)
		_ = conn.Close()
		return
	}
	cl := hub.NewClient(s.opt.clientBuffer())
	if h != nil {
		h.Add(cl)
	}
	s.sessMu.Lock()
	s.sessions[cl] = conn
	s.sessMu.Unlock()
	s.stats.connected.Add(1)
	l.Info("client_connected")
	s.startWriter(ctx.Done(), conn, cl, l)
	s.startReader(ctx.Done(), conn, cl, l)
}

// detach removes cl from the hub and the session table.
func (s *Server) detach(cl *hub.Client) {
	if s.opt.hub != nil {
		s.opt.hub.Remove(cl)
	}
	s.sessMu.Lock()
	delete(s.sessions, cl)
	s.sessMu.Unlock()
}

// Shutdown closes the listener and every client, then waits for the
// per-client goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sessMu.Lock()
	conns := make(map[*hub.Client]net.Conn, len(s.sessions))
	for cl, conn := range s.sessions {
		conns[cl] = conn
	}
	s.sessMu.Unlock()
	for cl, conn := range conns {
		_ = conn.Close()
		s.detach(cl)
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		st := s.Stats()
		s.logger.Info("shutdown_summary",
			"accepted", st.Accepted,
			"handshake_fail", st.HandshakeFailed,
			"connected", st.Connected,
			"disconnected", st.Disconnected,
			"controller_drops", st.ControllerDrops,
			"controller_errors", st.ControllerErrors)
		return nil
	}
}
