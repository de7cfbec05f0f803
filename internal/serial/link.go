package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/metrics"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// Link is a regs.Block whose registers live behind a monitor on a serial
// line. Every Read, Write and Strobe is one request/response transaction.
//
// regs.Block has no error channel, so a failed transaction reads as zero and
// the first failure is kept for Err. Callers check Err periodically and drop
// the link once it is set.
type Link struct {
	mu      sync.Mutex
	port    Port
	base    uint32
	timeout time.Duration
	codec   Codec
	rx      bytes.Buffer
	buf     []byte
	err     error
	logger  *slog.Logger
}

var _ regs.Block = (*Link)(nil)

type LinkOption func(*Link)

// WithTimeout bounds one transaction (default 100ms).
func WithTimeout(d time.Duration) LinkOption {
	return func(l *Link) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithLinkLogger(lg *slog.Logger) LinkOption {
	return func(l *Link) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLink addresses the block starting at base through port.
func NewLink(port Port, base uint32, opts ...LinkOption) *Link {
	l := &Link{port: port, base: base, timeout: 100 * time.Millisecond, buf: make([]byte, 256), logger: logging.L()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Err returns the first transaction failure, if any.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the underlying port.
func (l *Link) Close() error { return l.port.Close() }

func (l *Link) Read(f regs.Field) uint32 {
	w, _ := l.do(Message{Ins: InsRead, Addr: l.base + f.Offset})
	return f.Extract(w)
}

func (l *Link) Write(f regs.Field, v uint32) {
	if f.Kind == regs.ReadOnly {
		return
	}
	_, _ = l.do(Message{Ins: InsModify, Addr: l.base + f.Offset, Mask: f.Mask(), Value: f.Insert(0, v)})
}

func (l *Link) Strobe(f regs.Field) {
	_, _ = l.do(Message{Ins: InsStore, Addr: l.base + f.Offset, Value: f.Mask()})
}

// Transact sends one request and waits for its reply.
func (l *Link) Transact(req Message) (uint32, error) { return l.do(req) }

func (l *Link) do(req Message) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.transact(req)
	if err != nil {
		metrics.IncError(metrics.ErrLink)
		if l.err == nil {
			l.err = err
			l.logger.Error("link_error", "addr", fmt.Sprintf("0x%08X", req.Addr), "error", err)
		}
		return 0, err
	}
	metrics.IncLinkTransaction()
	return v, nil
}

func (l *Link) transact(req Message) (uint32, error) {
	if _, err := l.port.Write(l.codec.Encode(req)); err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	deadline := time.Now().Add(l.timeout)
	var (
		reply Message
		found bool
	)
	for !found {
		n, err := l.port.Read(l.buf)
		if n > 0 {
			l.rx.Write(l.buf[:n])
			_ = l.codec.DecodeStream(&l.rx, func(m Message) {
				// Replies to earlier, timed out requests are discarded.
				if found || !m.IsReply() || m.Addr != req.Addr {
					return
				}
				if m.Op() == InsError || m.Op() == req.Ins {
					reply, found = m, true
				}
			})
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("serial: read: %w", err)
		}
		if !found && time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: 0x%08X after %s", ErrNoResponse, req.Addr, l.timeout)
		}
	}
	if reply.Op() == InsError {
		return 0, fmt.Errorf("%w: 0x%08X", ErrRejected, req.Addr)
	}
	return reply.Value, nil
}
