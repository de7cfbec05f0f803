package serial

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

const testBase = bxcan.CAN1Base

func startMonitor(t *testing.T) (*Link, *regs.Memory) {
	t.Helper()
	host, dev := net.Pipe()
	mem := regs.NewMemory()
	mon := &Monitor{Base: testBase, Size: bxcan.BlockSize, Words: mem}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = mon.Serve(ctx, dev); close(done) }()
	t.Cleanup(func() {
		cancel()
		_ = host.Close()
		_ = dev.Close()
		<-done
	})
	return NewLink(host, testBase, WithTimeout(time.Second), WithLinkLogger(logging.Discard())), mem
}

func TestLinkFieldAccess(t *testing.T) {
	l, mem := startMonitor(t)
	ts1 := regs.Field{Name: "TS1", Offset: 0x1C, Shift: 16, Width: 4}
	mem.Store(0x1C, 0x01230000)
	l.Write(ts1, 0xA)
	if got := mem.Load(0x1C); got != 0x012A0000 {
		t.Fatalf("modify: word 0x%08X", got)
	}
	if got := l.Read(ts1); got != 0xA {
		t.Fatalf("read: %d", got)
	}
	l.Write(regs.Bit("RO", 0x1C, 0, regs.ReadOnly), 1)
	if mem.Load(0x1C)&1 != 0 {
		t.Fatalf("read-only write reached the monitor")
	}
	l.Strobe(regs.Bit("RQCP0", 0x08, 0, regs.Clear1))
	if got := mem.Load(0x08); got != 1 {
		t.Fatalf("strobe must store the field mask only: 0x%08X", got)
	}
	if err := l.Err(); err != nil {
		t.Fatalf("unexpected link error: %v", err)
	}
}

func TestLinkRejectedAddress(t *testing.T) {
	l, _ := startMonitor(t)
	if v := l.Read(regs.Word("OUT", bxcan.BlockSize)); v != 0 {
		t.Fatalf("rejected read returned %d", v)
	}
	if err := l.Err(); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected got %v", err)
	}
}

func TestLinkDrivesController(t *testing.T) {
	l, mem := startMonitor(t)
	bxcan.ResetValues(mem)
	c := bxcan.New(l)
	fr := can.Frame{ID: 0x1F0, DLC: 4, Data: [8]byte{1, 2, 3, 4}}
	if mb, err := c.TransmitMailbox(fr); err != nil || mb != 0 {
		t.Fatalf("transmit: mailbox=%d err=%v", mb, err)
	}
	box := &bxcan.TxMailboxes[0]
	w := bxcan.MailboxWords{
		ID:   mem.Load(box.TIR.Offset),
		DLC:  box.DLC.Extract(mem.Load(box.DLC.Offset)),
		Data: [2]uint32{mem.Load(box.TDLR.Offset), mem.Load(box.TDHR.Offset)},
	}
	if got := bxcan.DecodeMailbox(w); got != fr {
		t.Fatalf("remote mailbox holds %v", got)
	}
	if !c.IsAsleep() {
		t.Fatalf("reset state read over the link should be asleep")
	}
}

// silentPort accepts writes and never answers.
type silentPort struct{}

func (silentPort) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}
func (silentPort) Write(p []byte) (int, error) { return len(p), nil }
func (silentPort) Close() error                { return nil }

func TestLinkTimeout(t *testing.T) {
	l := NewLink(silentPort{}, testBase, WithTimeout(20*time.Millisecond), WithLinkLogger(logging.Discard()))
	start := time.Now()
	_ = l.Read(regs.Word("MSR", 4))
	if err := l.Err(); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not honoured")
	}
}
