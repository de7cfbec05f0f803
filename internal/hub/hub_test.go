package hub

import (
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-bxcan/internal/can"
)

func TestBroadcastDropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient(4)
	h.Add(cl)
	defer h.Remove(cl)

	// Nobody reads cl.Out: a slow client.
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(can.Frame{ID: 0x123})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestBroadcastKickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := NewClient(1)
	fast := NewClient(8)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(fast)

	h.Broadcast(can.Frame{ID: 1})
	if n := h.Broadcast(can.Frame{ID: 2}); n != 1 {
		t.Fatalf("delivered to %d clients", n)
	}
	select {
	case <-slow.Closed:
	default:
		t.Fatalf("slow client not kicked")
	}
	if len(fast.Out) != 2 {
		t.Fatalf("fast client got %d frames", len(fast.Out))
	}
	h.Remove(slow)
	h.Remove(slow)
	if h.Count() != 1 {
		t.Fatalf("count %d", h.Count())
	}
}

func TestBroadcastAcceptFilter(t *testing.T) {
	h := New()
	ext := NewClient(4)
	ext.Accept = func(f can.Frame) bool { return f.Extended }
	h.Add(ext)
	defer h.Remove(ext)

	h.Broadcast(can.Frame{ID: 0x100})
	h.Broadcast(can.Frame{ID: 0x100, Extended: true})
	if len(ext.Out) != 1 || (<-ext.Out).ID != 0x100 {
		t.Fatalf("filter not applied")
	}
}

type recordTap struct {
	got []can.Frame
	err error
}

func (r *recordTap) SendFrame(f can.Frame) error { r.got = append(r.got, f); return r.err }

func TestBroadcastTaps(t *testing.T) {
	h := New()
	ok := &recordTap{}
	failing := &recordTap{err: errors.New("full")}
	h.AddTap(failing)
	h.AddTap(ok)
	h.Broadcast(can.Frame{ID: 7})
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Fatalf("taps got %d/%d", len(ok.got), len(failing.got))
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("kick"); err != nil || p != PolicyKick || p.String() != "kick" {
		t.Fatalf("kick: %v %v", p, err)
	}
	if _, err := ParsePolicy("block"); err == nil {
		t.Fatalf("expected error")
	}
}
