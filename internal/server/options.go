package server

import (
	"log/slog"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/transport"
)

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultIOTimeout        = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuffer     = 512
	acceptRetryDelay        = 200 * time.Millisecond
)

// options are the tunables fixed at construction time.
type options struct {
	listen           string
	hub              *hub.Hub
	codec            transport.FrameDecoder
	send             SendFunc
	accept           func(*can.Frame) bool
	flushInterval    time.Duration
	batchSize        int
	ioTimeout        time.Duration
	handshakeTimeout time.Duration
	maxClients       int
	logger           *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*options)

func WithListenAddr(a string) ServerOption            { return func(o *options) { o.listen = a } }
func WithHub(h *hub.Hub) ServerOption                 { return func(o *options) { o.hub = h } }
func WithCodec(c transport.FrameDecoder) ServerOption { return func(o *options) { o.codec = c } }
func WithSend(fn SendFunc) ServerOption               { return func(o *options) { o.send = fn } }

// WithFrameFilter drops client frames for which fn returns false before
// they are queued for the controller.
func WithFrameFilter(fn func(*can.Frame) bool) ServerOption {
	return func(o *options) { o.accept = fn }
}

// WithFlushInterval bounds how long a partial batch waits before it is written.
func WithFlushInterval(d time.Duration) ServerOption {
	return func(o *options) { o.flushInterval = positive(d, o.flushInterval) }
}

func WithBatchSize(n int) ServerOption {
	return func(o *options) { o.batchSize = positive(n, o.batchSize) }
}

// WithReadDeadline sets the per-read idle timeout; writes use it too.
func WithReadDeadline(d time.Duration) ServerOption {
	return func(o *options) { o.ioTimeout = positive(d, o.ioTimeout) }
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(o *options) { o.handshakeTimeout = positive(d, o.handshakeTimeout) }
}

// WithMaxClients rejects connections beyond n once the handshake completes.
func WithMaxClients(n int) ServerOption {
	return func(o *options) { o.maxClients = positive(n, o.maxClients) }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func positive[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

func (o *options) clientBuffer() int {
	if o.hub != nil && o.hub.OutBufSize > 0 {
		return o.hub.OutBufSize
	}
	return defaultClientBuffer
}
