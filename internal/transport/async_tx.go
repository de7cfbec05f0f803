package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
)

var (
	// ErrTxOverflow is returned by writers whose queue is full.
	ErrTxOverflow = errors.New("tx overflow")
	// ErrAsyncTxClosed is returned by SendFrame after Close.
	ErrAsyncTxClosed = errors.New("async tx closed")
)

// AsyncTx funnels frames from many producers into one writer goroutine.
// SendFrame never blocks: a full queue goes through Hooks.OnDrop.
//
// A send error matched by Retry.Retryable keeps the frame at the head of the
// queue and is retried with exponential backoff, so frames reach the device
// in the order they were queued. Any other error drops the frame through
// OnError.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
	sleep  func(context.Context, time.Duration) bool
}

// RetryPolicy describes transient send failures.
type RetryPolicy struct {
	Retryable func(error) bool
	Min, Max  time.Duration
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send fails for good (frame not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from SendFrame. If nil, the overflow is silent.
	OnDrop func() error
	// OnRetry is called for every retryable failure.
	OnRetry func(error)
	Retry   RetryPolicy
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	if hooks.Retry.Min <= 0 {
		hooks.Retry.Min = 100 * time.Microsecond
	}
	if hooks.Retry.Max < hooks.Retry.Min {
		hooks.Retry.Max = max(10*time.Millisecond, hooks.Retry.Min)
	}
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
		sleep:  sleepCtx,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if !a.deliver(fr) {
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// deliver sends one frame, retrying transient failures. It returns false
// when the writer is shutting down.
func (a *AsyncTx) deliver(fr can.Frame) bool {
	backoff := a.hooks.Retry.Min
	for {
		err := a.send(fr)
		if err == nil {
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
			return true
		}
		if a.hooks.Retry.Retryable == nil || !a.hooks.Retry.Retryable(err) {
			if a.hooks.OnError != nil {
				a.hooks.OnError(err)
			}
			return true
		}
		if a.hooks.OnRetry != nil {
			a.hooks.OnRetry(err)
		}
		if !a.sleep(a.ctx, backoff) {
			return false
		}
		if backoff < a.hooks.Retry.Max {
			backoff *= 2
			if backoff > a.hooks.Retry.Max {
				backoff = a.hooks.Retry.Max
			}
		}
	}
}

// SendFrame queues a frame or returns the OnDrop error if the queue is full.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Queued returns the number of frames waiting for the writer.
func (a *AsyncTx) Queued() int { return len(a.ch) }

// Close stops the worker and waits for it to exit. Queued frames are discarded.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
