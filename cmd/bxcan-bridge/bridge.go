package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/canif"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/metrics"
	"github.com/kstaniek/go-bxcan/internal/transport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// bridge owns the controller. Every register access goes through mu: the
// receive loop, the transmit queue, the state poller and /status all share
// one controller.
type bridge struct {
	mu     sync.Mutex
	ctrl   *bxcan.Controller
	hub    *hub.Hub
	tx     *transport.AsyncTx
	logger *slog.Logger
	// regsErr reports a failed register backend; may be nil.
	regsErr func() error

	lastConfinement canif.FaultConfinementState
	lastMode        canif.OperationMode
}

func newBridge(ctrl *bxcan.Controller, h *hub.Hub, l *slog.Logger, regsErr func() error) *bridge {
	return &bridge{ctrl: ctrl, hub: h, logger: l, regsErr: regsErr, lastMode: -1}
}

func (b *bridge) locked(fn func(c *bxcan.Controller)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.ctrl)
}

// retry repeats op while it reports canif.ErrWouldBlock, with bounded
// exponential backoff, until it succeeds, fails otherwise or timeout passes.
func retry(ctx context.Context, timeout time.Duration, op func() error) error {
	deadline := time.Now().Add(timeout)
	backoff := bringUpBackoffMin
	for {
		err := op()
		if !canif.IsWouldBlock(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("controller did not leave init handshake within %s: %w", timeout, err)
		}
		sleepFn(backoff)
		backoff = min(backoff*2, bringUpBackoffMax)
	}
}

// bringUp applies cc and starts the controller.
func (b *bridge) bringUp(ctx context.Context, cc *controllerConfig) error {
	var (
		timing canif.TimingParameters
		err    error
	)
	b.locked(func(c *bxcan.Controller) {
		timing, err = cc.timing(canif.TimingSolverFunc(canif.SolveBitTiming), c.MaximumTimingValues())
	})
	if err != nil {
		return fmt.Errorf("bit timing: %w", err)
	}
	filters, err := cc.messageFilters()
	if err != nil {
		return err
	}
	steps := []struct {
		name string
		op   func(c *bxcan.Controller) error
	}{
		{"set_speed", func(c *bxcan.Controller) error { return c.SetSpeed(timing) }},
		{"bus_monitoring", func(c *bxcan.Controller) error { return c.SetBusMonitoring(cc.Silent) }},
		{"loopback", func(c *bxcan.Controller) error { return c.SetLoopback(cc.Loopback) }},
		{"start", func(c *bxcan.Controller) error { return c.Start() }},
	}
	for _, s := range steps {
		err := retry(ctx, bringUpTimeout, func() (err error) {
			b.locked(func(c *bxcan.Controller) { err = s.op(c) })
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	b.locked(func(c *bxcan.Controller) {
		c.ClearFilters()
		for _, f := range filters {
			if _, ferr := c.TryAddFilter(f); ferr != nil {
				err = fmt.Errorf("filter id=0x%X: %w", f.ID, ferr)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	b.logger.Info("controller_started",
		"prescaler", timing.Prescaler, "seg1", timing.Seg1, "seg2", timing.Seg2, "sjw", timing.JumpWidth,
		"bitrate", timing.Bitrate(cc.ClockHz), "silent", cc.Silent, "loopback", cc.Loopback, "filters", len(filters))
	return nil
}

// transmit is the AsyncTx send function. ErrWouldBlock is retried by the
// queue so frames keep their order.
func (b *bridge) transmit(fr can.Frame) (err error) {
	b.locked(func(c *bxcan.Controller) { err = c.Transmit(fr) })
	return err
}

// startTx creates the transmit queue feeding the controller.
func (b *bridge) startTx(ctx context.Context, size int) {
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrCtrlTx)
			b.logger.Warn("controller_tx_error", "error", err)
		},
		OnAfter: metrics.IncCtrlTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCtrlOverflow)
			return fmt.Errorf("controller queue: %w", transport.ErrTxOverflow)
		},
		OnRetry: func(error) { metrics.IncCtrlRetry() },
		Retry:   transport.RetryPolicy{Retryable: canif.IsWouldBlock, Min: 50 * time.Microsecond, Max: 2 * time.Millisecond},
	}
	b.tx = transport.NewAsyncTx(ctx, size, b.transmit, hooks)
}

// SendFrame queues fr for transmission. Used by the TCP server and the
// SocketCAN mirror.
func (b *bridge) SendFrame(fr can.Frame) error { return b.tx.SendFrame(fr) }

// poll drains one received frame and acknowledges finished mailboxes.
// It reports whether a frame was received.
func (b *bridge) poll() (bool, error) {
	var (
		fr      can.Frame
		err     error
		results []bxcan.MailboxResult
	)
	b.locked(func(c *bxcan.Controller) {
		fr, err = c.Receive()
		results = c.PollCompletions()
	})
	for _, r := range results {
		metrics.IncTxCompleted(r.OK)
		if !r.OK {
			b.logger.Debug("tx_failed", "mailbox", r.Mailbox, "arbitration_lost", r.ArbitrationLost, "error", r.Error)
		}
	}
	switch {
	case err == nil:
		metrics.IncCtrlRx()
		b.hub.Broadcast(fr)
		return true, nil
	case canif.IsWouldBlock(err):
		return false, nil
	default:
		return false, err
	}
}

// rxLoop polls the controller until ctx is done, backing off while the
// receive FIFOs stay empty.
func (b *bridge) rxLoop(ctx context.Context) {
	defer b.logger.Info("controller_rx_end")
	backoff := rxBackoffMin
	for ctx.Err() == nil {
		got, err := b.poll()
		if err != nil {
			var hw canif.HardwareError
			if errors.As(err, &hw) && hw == canif.ErrCodeRxOverrun {
				metrics.IncRxOverrun()
				continue
			}
			metrics.IncError(metrics.ErrCtrlRx)
			b.logger.Warn("controller_rx_error", "error", err)
		}
		if got {
			backoff = rxBackoffMin
			continue
		}
		sleepFn(backoff)
		backoff = min(backoff*2, rxBackoffMax)
	}
}

// Status is the controller part of /status.
func (b *bridge) Status() any {
	var st bxcan.Status
	b.locked(func(c *bxcan.Controller) { st = c.Status() })
	return st
}

// sampleState publishes gauges and logs confinement and mode changes. It
// returns the register backend error, if any.
func (b *bridge) sampleState() error {
	var st bxcan.Status
	b.locked(func(c *bxcan.Controller) { st = c.Status() })
	metrics.SetController(metrics.ControllerSample{
		TEC:               st.TxErrors,
		REC:               st.RxErrors,
		Confinement:       int(st.Confinement),
		Mode:              int(st.Mode),
		UnusedFilterBanks: st.UnusedFilterBanks,
		FreeMailboxes:     st.FreeMailboxes,
	})
	if st.Confinement != b.lastConfinement {
		lvl := slog.LevelWarn
		if st.Confinement == canif.ErrorActive {
			lvl = slog.LevelInfo
		}
		b.logger.Log(context.Background(), lvl, "confinement_change",
			"from", b.lastConfinement.String(), "to", st.Confinement.String(),
			"tec", st.TxErrors, "rec", st.RxErrors, "last_error", st.LastError)
		b.lastConfinement = st.Confinement
	}
	if st.Mode != b.lastMode {
		b.logger.Debug("mode_change", "mode", st.Mode.String())
		b.lastMode = st.Mode
	}
	if b.regsErr != nil {
		return b.regsErr()
	}
	return nil
}

// pollState samples the controller every interval. A register backend
// failure is fatal and reported through fail.
func (b *bridge) pollState(ctx context.Context, interval time.Duration, fail func(error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := b.sampleState(); err != nil {
			fail(fmt.Errorf("register backend: %w", err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// close stops the transmit queue.
func (b *bridge) close() {
	if b.tx != nil {
		b.tx.Close()
	}
}
