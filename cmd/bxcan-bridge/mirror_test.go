package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/hub"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/socketcan"
)

type fakeDev struct {
	mu      sync.Mutex
	reads   chan can.Frame
	written []can.Frame
	closed  chan struct{}
	once    sync.Once
}

func (d *fakeDev) ReadFrame(fr *can.Frame) error {
	select {
	case f := <-d.reads:
		*fr = f
		return nil
	case <-d.closed:
		return io.EOF
	}
}

func (d *fakeDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.written = append(d.written, fr)
	d.mu.Unlock()
	return nil
}

func (d *fakeDev) Close() error { d.once.Do(func() { close(d.closed) }); return nil }

func TestStartMirror(t *testing.T) {
	dev := &fakeDev{reads: make(chan can.Frame, 1), closed: make(chan struct{})}
	orig := openSocketCANDevice
	openSocketCANDevice = func(string) (socketcan.Dev, error) { return dev, nil }
	defer func() { openSocketCANDevice = orig }()

	cfg := validConfig()
	cfg.CanIf = "vcan0"
	h := hub.New()
	toBus := make(chan can.Frame, 1)
	stop, err := startMirror(context.Background(), cfg, h, func(fr can.Frame) error { toBus <- fr; return nil }, logging.Discard())
	if err != nil {
		t.Fatalf("startMirror: %v", err)
	}
	defer stop()

	rx := can.Frame{ID: 0x10, DLC: 1, Data: [8]byte{1}}
	h.Broadcast(rx)
	deadline := time.Now().Add(time.Second)
	for {
		dev.mu.Lock()
		n := len(dev.written)
		dev.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("hub frame not mirrored")
		}
		time.Sleep(time.Millisecond)
	}

	tx := can.Frame{ID: 0x20}
	dev.reads <- tx
	select {
	case fr := <-toBus:
		if fr != tx {
			t.Fatalf("got %v want %v", fr, tx)
		}
	case <-time.After(time.Second):
		t.Fatalf("interface frame not queued for the bus")
	}
}

func TestStartMirrorDisabled(t *testing.T) {
	orig := openSocketCANDevice
	openSocketCANDevice = func(string) (socketcan.Dev, error) {
		t.Fatalf("device opened with mirror disabled")
		return nil, nil
	}
	defer func() { openSocketCANDevice = orig }()
	stop, err := startMirror(context.Background(), validConfig(), hub.New(), nil, logging.Discard())
	if err != nil {
		t.Fatalf("startMirror: %v", err)
	}
	stop()
}

func TestStartMDNS(t *testing.T) {
	var (
		gotInstance, gotService string
		gotPort                 int
		gotTXT                  []string
		shut                    = make(chan struct{})
	)
	orig := registerMDNS
	registerMDNS = func(instance, service string, port int, txt []string) (func(), error) {
		gotInstance, gotService, gotPort, gotTXT = instance, service, port, txt
		return func() { close(shut) }, nil
	}
	defer func() { registerMDNS = orig }()

	cfg := validConfig()
	cfg.MDNSEnable = true
	cfg.MDNSName = "bench"
	cleanup, err := startMDNS(context.Background(), cfg, 20000, 500000)
	if err != nil {
		t.Fatalf("startMDNS: %v", err)
	}
	if gotInstance != "bench" || gotService != mdnsServiceType || gotPort != 20000 {
		t.Fatalf("registered %s %s %d", gotInstance, gotService, gotPort)
	}
	if len(gotTXT) < 2 || gotTXT[0] != "regs=sim" || gotTXT[1] != "bitrate=500000" {
		t.Fatalf("txt %v", gotTXT)
	}
	cleanup()
	select {
	case <-shut:
	case <-time.After(time.Second):
		t.Fatalf("service not shut down")
	}
}
