package main

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/regs"
	"github.com/kstaniek/go-bxcan/internal/serial"
)

func TestOpenRegistersSerial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := regs.NewMemory()
	bxcan.ResetValues(mem)
	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) {
		host, dev := net.Pipe()
		mon := &serial.Monitor{Base: bxcan.CAN1Base, Size: bxcan.BlockSize, Words: mem}
		go func() { _ = mon.Serve(ctx, dev) }()
		return host, nil
	}
	defer func() { openSerialPort = serial.Open }()

	cfg := validConfig()
	cfg.Regs = "serial"
	var wg sync.WaitGroup
	rg, err := openRegisters(ctx, cfg, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("openRegisters: %v", err)
	}
	defer rg.close()

	c := bxcan.New(rg.block)
	if !c.IsAsleep() {
		t.Fatalf("reset state must read as asleep through the link")
	}
	c.RequestWakeup()
	if mem.Read(bxcan.MCR_SLEEP) != 0 {
		t.Fatalf("wakeup request did not reach the monitor")
	}
	if rg.err == nil || rg.err() != nil {
		t.Fatalf("serial backend must report link errors, got %p", rg.err)
	}
}

func TestOpenRegistersMmap(t *testing.T) {
	var gotBase int64
	var gotSize int
	mem := regs.NewMemory()
	orig := mapRegisters
	mapRegisters = func(path string, base int64, size int) (regs.Block, func() error, error) {
		gotBase, gotSize = base, size
		return mem, func() error { return nil }, nil
	}
	defer func() { mapRegisters = orig }()

	cfg := validConfig()
	cfg.Regs = "mmap"
	var wg sync.WaitGroup
	rg, err := openRegisters(context.Background(), cfg, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("openRegisters: %v", err)
	}
	if rg.block != regs.Block(mem) || gotBase != bxcan.CAN1Base || gotSize != bxcan.BlockSize {
		t.Fatalf("mapped base=0x%X size=%d", gotBase, gotSize)
	}
	if rg.err != nil {
		t.Fatalf("mmap backend has no link error")
	}
}

func TestOpenRegistersSim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := validConfig()
	var wg sync.WaitGroup
	rg, err := openRegisters(ctx, cfg, logging.Discard(), &wg)
	if err != nil {
		t.Fatalf("openRegisters: %v", err)
	}
	c := bxcan.New(rg.block)
	deadline := time.Now().Add(time.Second)
	for c.Start() != nil {
		if time.Now().After(deadline) {
			t.Fatalf("model never acknowledged the mode request")
		}
		time.Sleep(time.Millisecond)
	}
	_ = rg.close()
	cancel()
	wg.Wait()
}
