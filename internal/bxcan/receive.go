package bxcan

import (
	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/canif"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// Received is a frame together with where the hardware stored it.
type Received struct {
	Frame       can.Frame
	FIFO        int
	FilterMatch uint8
}

// Receive returns the oldest pending frame of FIFO 0, then FIFO 1.
func (c *Controller) Receive() (can.Frame, error) {
	r, err := c.ReceiveWithMatch()
	return r.Frame, err
}

// ReceiveWithMatch is Receive reporting the FIFO and filter match index.
// Empty FIFOs yield canif.ErrWouldBlock. An overrun is acknowledged and
// reported once as canif.ErrCodeRxOverrun; frames still queued are returned
// by the following calls.
func (c *Controller) ReceiveWithMatch() (Received, error) {
	for i := range RxFIFOs {
		q := &RxFIFOs[i]
		if regs.IsSet(c.regs, q.FOVR) {
			c.regs.Strobe(q.FOVR)
			c.logger.Warn("rx_overrun", "fifo", i)
			return Received{}, canif.ErrCodeRxOverrun
		}
		if c.regs.Read(q.FMP) == 0 {
			continue
		}
		w := MailboxWords{
			ID:   c.regs.Read(q.RIR),
			DLC:  c.regs.Read(q.DLC),
			Data: [2]uint32{c.regs.Read(q.RDLR), c.regs.Read(q.RDHR)},
		}
		fmi := uint8(c.regs.Read(q.FMI))
		if regs.IsSet(c.regs, q.FULL) {
			c.regs.Strobe(q.FULL)
		}
		c.regs.Strobe(q.RFOM)
		fr := DecodeMailbox(w)
		// DLC 9..15 is legal on the wire and still means eight data bytes.
		fr.DLC = min(fr.DLC, can.MaxDLC)
		return Received{Frame: fr, FIFO: i, FilterMatch: fmi}, nil
	}
	return Received{}, canif.ErrWouldBlock
}
