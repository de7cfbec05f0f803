// Package socketcan mirrors the controller's bus traffic onto a Linux CAN
// interface. Frames the controller receives are written to the interface and
// frames other programs write to it are queued for transmission, so candump
// and cansend work against the bridge.
package socketcan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/metrics"
	"github.com/kstaniek/go-bxcan/internal/transport"
)

// ErrErrorFrame marks a kernel error frame; it carries no bus data.
var ErrErrorFrame = errors.New("socketcan: error frame")

// Dev is the subset of a raw CAN socket the mirror needs.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// Mirror copies frames between the hub and a CAN interface. Writes go
// through a single AsyncTx goroutine; SendFrame never blocks, so the mirror
// can be registered as a hub tap.
type Mirror struct {
	dev    Dev
	tx     *transport.AsyncTx
	toBus  func(can.Frame) error
	logger *slog.Logger
}

// NewMirror starts the write side. toBus receives frames read from the
// interface; it may be nil for a write-only mirror.
func NewMirror(ctx context.Context, dev Dev, buf int, toBus func(can.Frame) error) *Mirror {
	hooks := transport.Hooks{
		OnError: func(err error) { metrics.IncError(metrics.ErrSocketCANWrite) },
		OnAfter: func() { metrics.IncSocketCANTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return fmt.Errorf("socketcan mirror: %w", transport.ErrTxOverflow)
		},
	}
	return &Mirror{
		dev:    dev,
		tx:     transport.NewAsyncTx(ctx, buf, dev.WriteFrame, hooks),
		toBus:  toBus,
		logger: logging.L().With("component", "socketcan"),
	}
}

// SendFrame queues fr for the interface. It returns an error wrapping
// transport.ErrTxOverflow when the queue is full.
func (m *Mirror) SendFrame(fr can.Frame) error { return m.tx.SendFrame(fr) }

// Run reads frames from the interface and hands them to toBus until ctx is
// done or the device fails. Close the mirror to unblock a pending read.
func (m *Mirror) Run(ctx context.Context) error {
	var fr can.Frame
	for ctx.Err() == nil {
		if err := m.dev.ReadFrame(&fr); err != nil {
			if errors.Is(err, ErrErrorFrame) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			metrics.IncError(metrics.ErrSocketCANRead)
			return fmt.Errorf("socketcan read: %w", err)
		}
		metrics.IncSocketCANRx()
		if m.toBus == nil {
			continue
		}
		if err := m.toBus(fr); err != nil {
			m.logger.Debug("socketcan_to_bus_drop", "frame", fr.String(), "error", err)
		}
	}
	return nil
}

// Close stops the writer and closes the device.
func (m *Mirror) Close() error {
	m.tx.Close()
	return m.dev.Close()
}
