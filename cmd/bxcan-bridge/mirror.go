package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/socketcan"
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// startMirror attaches a SocketCAN mirror to the hub. Frames written to the
// interface by other programs are queued for the controller through send.
func startMirror(ctx context.Context, cfg *appConfig, h *hub.Hub, send func(can.Frame) error, l *slog.Logger) (func(), error) {
	if cfg.CanIf == "" {
		return func() {}, nil
	}
	dev, err := openSocketCANDevice(cfg.CanIf)
	if err != nil {
		return nil, fmt.Errorf("socketcan open %s: %w", cfg.CanIf, err)
	}
	m := socketcan.NewMirror(ctx, dev, cfg.TxQueue, send)
	h.AddTap(m)
	l.Info("socketcan_mirror", "if", cfg.CanIf)
	// Not tracked by the wait group: a read blocked on the raw socket is
	// not guaranteed to return when the socket is closed.
	go func() {
		if err := m.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error("socketcan_mirror_stopped", "error", err)
		}
	}()
	return func() { _ = m.Close() }, nil
}
