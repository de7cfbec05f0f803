package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/bxcansim"
	"github.com/kstaniek/go-bxcan/internal/regs"
	"github.com/kstaniek/go-bxcan/internal/serial"
)

// registers is the opened --regs backend.
type registers struct {
	block regs.Block
	// err reports a failed backend; nil when the backend cannot fail.
	err   func() error
	close func() error
}

// Hooks for tests.
var (
	openSerialPort = serial.Open
	mapRegisters   = func(path string, base int64, size int) (regs.Block, func() error, error) {
		m, err := regs.Map(path, base, size)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}
)

func openRegisters(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (*registers, error) {
	base, err := cfg.memBase()
	if err != nil {
		return nil, err
	}
	switch cfg.Regs {
	case "sim":
		sim := bxcansim.New(bxcansim.WithLogger(l))
		simCtx, stop := context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(simCtx, cfg.SimStep)
		}()
		l.Info("regs_open", "backend", "sim", "step", cfg.SimStep)
		return &registers{block: sim, close: func() error { stop(); return nil }}, nil
	case "mmap":
		b, closeFn, err := mapRegisters(cfg.MemDev, int64(base), bxcan.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("map registers: %w", err)
		}
		l.Info("regs_open", "backend", "mmap", "device", cfg.MemDev, "base", cfg.MemBase)
		return &registers{block: b, close: closeFn}, nil
	case "serial":
		port, err := openSerialPort(cfg.Serial, cfg.Baud, cfg.LinkTimeout)
		if err != nil {
			return nil, fmt.Errorf("open serial: %w", err)
		}
		link := serial.NewLink(port, base, serial.WithTimeout(cfg.LinkTimeout), serial.WithLinkLogger(l))
		l.Info("regs_open", "backend", "serial", "device", cfg.Serial, "baud", cfg.Baud, "base", cfg.MemBase)
		return &registers{block: link, err: link.Err, close: link.Close}, nil
	default:
		return nil, fmt.Errorf("unknown regs backend %q (use sim|mmap|serial)", cfg.Regs)
	}
}
