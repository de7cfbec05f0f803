package bxcan

import (
	"github.com/kstaniek/go-bxcan/internal/canif"
)

// maxTiming follows from the BTR field widths (10, 4, 3 and 2 bits).
var maxTiming = canif.TimingParameters{
	Prescaler: BTR_BRP.Max() + 1,
	Seg1:      BTR_TS1.Max() + 1,
	Seg2:      BTR_TS2.Max() + 1,
	JumpWidth: BTR_SJW.Max() + 1,
}

// MaximumTimingValues returns {1024, 16, 8, 4}.
func (c *Controller) MaximumTimingValues() canif.TimingParameters { return maxTiming }

// SetSpeed programs the bit timing register. Values outside [1, maximum] are
// rejected with canif.ErrInvalidTiming before anything is written.
//
// BTR only accepts writes in initialization mode. If the controller is
// running, SetSpeed requests that mode and returns canif.ErrWouldBlock; call
// it again with the same parameters until it returns nil. The controller is
// restarted afterwards unless it was already stopped by the caller.
func (c *Controller) SetSpeed(p canif.TimingParameters) error {
	if err := p.CheckWithin(maxTiming); err != nil {
		return err
	}
	return c.configure(func() {
		c.regs.Write(BTR_BRP, p.Prescaler-1)
		c.regs.Write(BTR_TS1, p.Seg1-1)
		c.regs.Write(BTR_TS2, p.Seg2-1)
		c.regs.Write(BTR_SJW, p.JumpWidth-1)
	})
}

// Timing reads back the programmed parameters.
func (c *Controller) Timing() canif.TimingParameters {
	return canif.TimingParameters{
		Prescaler: c.regs.Read(BTR_BRP) + 1,
		Seg1:      c.regs.Read(BTR_TS1) + 1,
		Seg2:      c.regs.Read(BTR_TS2) + 1,
		JumpWidth: c.regs.Read(BTR_SJW) + 1,
	}
}

// SetBusMonitoring switches silent mode, with the same handshake as SetSpeed.
func (c *Controller) SetBusMonitoring(on bool) error {
	return c.configure(func() { c.regs.Write(BTR_SILM, b2u(on)) })
}

// SetLoopback switches loop back mode, with the same handshake as SetSpeed.
func (c *Controller) SetLoopback(on bool) error {
	return c.configure(func() { c.regs.Write(BTR_LBKM, b2u(on)) })
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
