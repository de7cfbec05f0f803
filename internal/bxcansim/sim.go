// Package bxcansim models the bxCAN register block closely enough to run the
// driver without hardware: mode handshakes, mailbox completion, acceptance
// filtering and the three-deep receive FIFOs.
//
// Hardware progress only happens in Step, so tests control exactly when a
// request is acknowledged.
package bxcansim

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// FIFODepth is the number of frames each receive FIFO holds.
const FIFODepth = 3

// Error counter levels mirrored into ESR flags.
const (
	warningLimit = 96
	passiveLimit = 128
)

type rxEntry struct {
	frame can.Frame
	fmi   uint8
}

// Sim is a regs.Block with controller behaviour. It is safe for concurrent use.
type Sim struct {
	mu     sync.Mutex
	mem    *regs.Memory
	logger *slog.Logger

	pending [bxcan.NumTxMailboxes]uint64 // request sequence, 0 when idle
	seq     uint64
	fifo    [bxcan.NumRxFIFOs][]rxEntry
	sent    []can.Frame
	onTx    func(can.Frame)
}

var _ regs.Block = (*Sim)(nil)

type Option func(*Sim)

// WithTransmitHook is called for every frame the controller puts on the bus.
// It runs with the model locked and must not call back into it.
func WithTransmitHook(fn func(can.Frame)) Option { return func(s *Sim) { s.onTx = fn } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Sim) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a controller in its reset state (sleep mode).
func New(opts ...Option) *Sim {
	s := &Sim{mem: regs.NewMemory(), logger: logging.L()}
	bxcan.ResetValues(s.mem)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sim) Read(f regs.Field) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Read(f)
}

func (s *Sim) Write(f regs.Field, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Write(f, v)
	s.latchRequests()
}

func (s *Sim) Strobe(f regs.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch f {
	case bxcan.MCR_RESET:
		s.reset()
		return
	case bxcan.RxFIFOs[0].RFOM:
		s.release(0)
		return
	case bxcan.RxFIFOs[1].RFOM:
		s.release(1)
		return
	}
	for i := range bxcan.TxMailboxes {
		if f == bxcan.TxMailboxes[i].ABRQ {
			s.abort(i)
			return
		}
	}
	s.mem.Strobe(f)
}

// latchRequests turns a freshly set TXRQ into a pending mailbox.
func (s *Sim) latchRequests() {
	for i := range bxcan.TxMailboxes {
		mb := &bxcan.TxMailboxes[i]
		if s.pending[i] != 0 || s.mem.Read(mb.TXRQ) == 0 {
			continue
		}
		s.seq++
		s.pending[i] = s.seq
		s.mem.Set(mb.TME, 0)
	}
}

func (s *Sim) abort(i int) {
	if s.pending[i] == 0 {
		return
	}
	s.finish(i, false)
}

func (s *Sim) finish(i int, ok bool) {
	mb := &bxcan.TxMailboxes[i]
	s.pending[i] = 0
	s.mem.Set(mb.TXRQ, 0)
	s.mem.Set(mb.TXOK, b2u(ok))
	s.mem.Set(mb.TERR, b2u(!ok))
	s.mem.Set(mb.RQCP, 1)
	s.mem.Set(mb.TME, 1)
}

func (s *Sim) reset() {
	s.mem = regs.NewMemory()
	bxcan.ResetValues(s.mem)
	s.pending = [bxcan.NumTxMailboxes]uint64{}
	s.fifo = [bxcan.NumRxFIFOs][]rxEntry{}
}

func (s *Sim) running() bool {
	return s.mem.Read(bxcan.MSR_INAK) == 0 && s.mem.Read(bxcan.MSR_SLAK) == 0
}

// Step acknowledges mode requests and completes every pending transmit
// request in bus priority order.
func (s *Sim) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepMode()
	if !s.running() || s.mem.Read(bxcan.ESR_BOFF) != 0 {
		return
	}
	for _, i := range s.txOrder() {
		s.transmit(i)
	}
}

func (s *Sim) stepMode() {
	inrq := s.mem.Read(bxcan.MCR_INRQ) != 0
	sleep := s.mem.Read(bxcan.MCR_SLEEP) != 0
	switch {
	case inrq && !sleep:
		s.mem.Set(bxcan.MSR_INAK, 1)
		s.mem.Set(bxcan.MSR_SLAK, 0)
	case sleep && !inrq:
		s.mem.Set(bxcan.MSR_INAK, 0)
		s.mem.Set(bxcan.MSR_SLAK, 1)
	case !inrq && !sleep:
		s.mem.Set(bxcan.MSR_INAK, 0)
		s.mem.Set(bxcan.MSR_SLAK, 0)
	}
	if !s.running() {
		s.mem.Set(bxcan.MSR_TXM, 0)
		s.mem.Set(bxcan.MSR_RXM, 0)
	}
}

// txOrder sorts pending mailboxes by identifier, or by request order when
// MCR.TXFP selects FIFO priority.
func (s *Sim) txOrder() []int {
	var order []int
	for i := range s.pending {
		if s.pending[i] != 0 {
			order = append(order, i)
		}
	}
	fifo := s.mem.Read(bxcan.MCR_TXFP) != 0
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if fifo {
			return s.pending[ia] < s.pending[ib]
		}
		wa := s.mem.Read(bxcan.TxMailboxes[ia].TIR) &^ 1
		wb := s.mem.Read(bxcan.TxMailboxes[ib].TIR) &^ 1
		if wa != wb {
			return wa < wb
		}
		return ia < ib
	})
	return order
}

func (s *Sim) transmit(i int) {
	mb := &bxcan.TxMailboxes[i]
	f := bxcan.DecodeMailbox(bxcan.MailboxWords{
		ID:   s.mem.Read(mb.TIR),
		DLC:  s.mem.Read(mb.DLC),
		Data: [2]uint32{s.mem.Read(mb.TDLR), s.mem.Read(mb.TDHR)},
	})
	silent := s.mem.Read(bxcan.BTR_SILM) != 0
	loopback := s.mem.Read(bxcan.BTR_LBKM) != 0
	if silent && !loopback {
		// Nobody can acknowledge a frame that never reaches the bus.
		s.mem.Set(bxcan.ESR_LEC, uint32(bxcan.LECAck))
		s.finish(i, false)
		return
	}
	if !silent {
		s.sent = append(s.sent, f)
		if s.onTx != nil {
			s.onTx(f)
		}
	}
	s.finish(i, true)
	if loopback {
		s.accept(f)
	}
}

// Inject delivers a frame from the bus. It reports whether a filter accepted
// it. Nothing is received while the controller is not running, while the
// filters are being initialized, or in loop back mode.
func (s *Sim) Inject(f can.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running() || s.mem.Read(bxcan.BTR_LBKM) != 0 {
		return false
	}
	return s.accept(f)
}

func (s *Sim) accept(f can.Frame) bool {
	if s.mem.Read(bxcan.FMR_FINIT) != 0 {
		return false
	}
	fifo, fmi, ok := s.match(bxcan.EncodeMailbox(f).ID)
	if !ok {
		return false
	}
	q := s.fifo[fifo]
	e := rxEntry{frame: f, fmi: fmi}
	if len(q) == FIFODepth {
		// FIFO not locked: the newest frame replaces the last one.
		q[FIFODepth-1] = e
		s.mem.Set(bxcan.RxFIFOs[fifo].FOVR, 1)
		s.logger.Debug("sim_rx_overrun", "fifo", fifo, "frame", f.String())
	} else {
		q = append(q, e)
	}
	s.fifo[fifo] = q
	s.loadOutput(fifo)
	return true
}

// match runs the acceptance filters on an identifier word. Only 32-bit banks
// are evaluated; banks are tried in order. The filter match index counts
// filter numbers per FIFO the way the hardware does.
func (s *Sim) match(id uint32) (fifo int, fmi uint8, ok bool) {
	var next [bxcan.NumRxFIFOs]uint32
	for i := range bxcan.FilterBanks {
		b := &bxcan.FilterBanks[i]
		assigned := int(s.mem.Read(b.FFA))
		wide := s.mem.Read(b.FSC) != 0
		list := s.mem.Read(b.FBM) != 0
		base := next[assigned]
		n := uint32(1)
		if !wide {
			n *= 2
		}
		if list {
			n *= 2
		}
		next[assigned] += n
		if s.mem.Read(b.FACT) == 0 || !wide {
			continue
		}
		r1, r2 := s.mem.Read(b.FR1), s.mem.Read(b.FR2)
		switch {
		case !list && (id^r1)&r2 == 0:
			return assigned, uint8(base), true
		case list && id == r1:
			return assigned, uint8(base), true
		case list && id == r2:
			return assigned, uint8(base + 1), true
		}
	}
	return 0, 0, false
}

func (s *Sim) loadOutput(fifo int) {
	q := s.fifo[fifo]
	r := &bxcan.RxFIFOs[fifo]
	s.mem.Set(r.FMP, uint32(len(q)))
	s.mem.Set(r.FULL, b2u(len(q) == FIFODepth))
	if len(q) == 0 {
		return
	}
	w := bxcan.EncodeMailbox(q[0].frame)
	s.mem.Set(r.RIR, w.ID)
	s.mem.Set(r.DLC, w.DLC)
	s.mem.Set(r.FMI, uint32(q[0].fmi))
	s.mem.Set(r.RDLR, w.Data[0])
	s.mem.Set(r.RDHR, w.Data[1])
}

func (s *Sim) release(fifo int) {
	if len(s.fifo[fifo]) == 0 {
		return
	}
	s.fifo[fifo] = s.fifo[fifo][1:]
	s.loadOutput(fifo)
}

// SetErrorCounters loads both counters and the warning and passive flags.
func (s *Sim) SetErrorCounters(rec, tec uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Set(bxcan.ESR_REC, uint32(rec))
	s.mem.Set(bxcan.ESR_TEC, uint32(tec))
	s.mem.Set(bxcan.ESR_EWGF, b2u(rec >= warningLimit || tec >= warningLimit))
	s.mem.Set(bxcan.ESR_EPVF, b2u(rec >= passiveLimit || tec >= passiveLimit))
}

// SetBusOff latches or clears the bus-off flag. Pending mailboxes stay
// pending while the node is off the bus.
func (s *Sim) SetBusOff(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Set(bxcan.ESR_BOFF, b2u(on))
	if on {
		s.mem.Set(bxcan.ESR_TEC, 255)
	}
}

// SetBusActivity drives the MSR transmit and receive flags.
func (s *Sim) SetBusActivity(transmitting, receiving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Set(bxcan.MSR_TXM, b2u(transmitting))
	s.mem.Set(bxcan.MSR_RXM, b2u(receiving))
}

// Sent returns and forgets the frames put on the bus so far.
func (s *Sim) Sent() []can.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// Pending returns the number of frames waiting in a receive FIFO.
func (s *Sim) Pending(fifo int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fifo[fifo])
}

// Run calls Step every interval until ctx is done.
func (s *Sim) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Step()
		}
	}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
