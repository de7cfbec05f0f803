package bxcan

import (
	"fmt"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/canif"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// Transmit places f in the first free mailbox and requests transmission.
func (c *Controller) Transmit(f can.Frame) error {
	_, err := c.TransmitMailbox(f)
	return err
}

// TransmitMailbox is Transmit reporting which mailbox (0..2) took the frame.
// Mailboxes are scanned in order; when all three are pending it returns
// canif.ErrWouldBlock without writing anything. An invalid frame is rejected
// before any register access.
func (c *Controller) TransmitMailbox(f can.Frame) (int, error) {
	if err := f.Validate(); err != nil {
		return -1, fmt.Errorf("%w: %w", canif.ErrInvalidFrame, err)
	}
	for i := range TxMailboxes {
		mb := &TxMailboxes[i]
		if !regs.IsSet(c.regs, mb.TME) {
			continue
		}
		w := EncodeMailbox(f)
		c.regs.Write(mb.TIR, w.ID)
		c.regs.Write(mb.DLC, w.DLC)
		c.regs.Write(mb.TDLR, w.Data[0])
		c.regs.Write(mb.TDHR, w.Data[1])
		c.regs.Write(mb.TXRQ, 1)
		return i, nil
	}
	return -1, canif.ErrWouldBlock
}

// FreeMailboxes counts mailboxes ready for a new frame.
func (c *Controller) FreeMailboxes() int {
	n := 0
	for i := range TxMailboxes {
		if regs.IsSet(c.regs, TxMailboxes[i].TME) {
			n++
		}
	}
	return n
}

// MailboxResult is the outcome of one finished transmit request.
type MailboxResult struct {
	Mailbox         int
	OK              bool
	ArbitrationLost bool
	Error           bool
}

// Err returns nil for a successful transmission and canif.ErrCodeTxFailed otherwise.
func (r MailboxResult) Err() error {
	if r.OK {
		return nil
	}
	return canif.ErrCodeTxFailed
}

// PollCompletions acknowledges every mailbox whose last request completed and
// reports how it ended.
func (c *Controller) PollCompletions() []MailboxResult {
	var out []MailboxResult
	for i := range TxMailboxes {
		mb := &TxMailboxes[i]
		if !regs.IsSet(c.regs, mb.RQCP) {
			continue
		}
		out = append(out, MailboxResult{
			Mailbox:         i,
			OK:              regs.IsSet(c.regs, mb.TXOK),
			ArbitrationLost: regs.IsSet(c.regs, mb.ALST),
			Error:           regs.IsSet(c.regs, mb.TERR),
		})
		c.regs.Strobe(mb.TXOK)
		c.regs.Strobe(mb.ALST)
		c.regs.Strobe(mb.TERR)
		c.regs.Strobe(mb.RQCP)
	}
	return out
}
