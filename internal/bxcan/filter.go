package bxcan

import (
	"math/bits"

	"github.com/kstaniek/go-bxcan/internal/canif"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// AddFilter programs f into the first inactive filter bank. When every bank is
// in use the call does nothing; use TryAddFilter to learn about it.
// Adding a filter that is already active is a caller error and is not detected.
func (c *Controller) AddFilter(f canif.MessageFilter) {
	if _, err := c.TryAddFilter(f); err != nil {
		c.logger.Debug("filter_not_added", "id", f.ID, "extended", f.Extended, "error", err)
	}
}

// TryAddFilter is AddFilter returning the bank used, or
// canif.ErrNoFreeFilterBank / canif.ErrInvalidFilter.
func (c *Controller) TryAddFilter(f canif.MessageFilter) (int, error) {
	if err := f.Validate(); err != nil {
		return -1, err
	}
	for i := range FilterBanks {
		b := &FilterBanks[i]
		if regs.IsSet(c.regs, b.FACT) {
			continue
		}
		id, mask := filterWords(f)
		// The bank must be fully programmed before it is activated.
		c.regs.Write(FMR_FINIT, 1)
		c.regs.Write(b.FSC, 1)
		c.regs.Write(b.FBM, 0)
		c.regs.Write(b.FFA, 0)
		c.regs.Write(b.FR1, id)
		c.regs.Write(b.FR2, mask)
		c.regs.Write(b.FACT, 1)
		c.regs.Write(FMR_FINIT, 0)
		return i, nil
	}
	return -1, canif.ErrNoFreeFilterBank
}

// RemoveFilter deactivates the active bank holding f's identifier, if any.
func (c *Controller) RemoveFilter(f canif.MessageFilter) {
	id, _ := filterWords(f)
	for i := range FilterBanks {
		b := &FilterBanks[i]
		if regs.IsSet(c.regs, b.FACT) && c.regs.Read(b.FR1) == id {
			c.regs.Write(b.FACT, 0)
			return
		}
	}
}

// ClearFilters deactivates all banks.
func (c *Controller) ClearFilters() {
	c.regs.Write(FA1R_ALL, 0)
}

// UnusedFilterBankCount returns the number of inactive banks.
func (c *Controller) UnusedFilterBankCount() uint32 {
	return uint32(NumFilterBanks - bits.OnesCount32(c.regs.Read(FA1R_ALL)))
}

// filterWords returns the identifier and mask registers for a 32-bit mask
// mode bank. Without a mask every bit must match, so the filter admits data
// frames of that exact identifier and format. With a mask the IDE bit is
// always compared, so a standard filter never admits extended frames.
func filterWords(f canif.MessageFilter) (id, mask uint32) {
	id = encodeID(f.ID, f.Extended, false)
	if !f.HasMask {
		return id, 0xFFFFFFFF
	}
	if f.Extended {
		return id, f.Mask<<extIDShift | idIDE
	}
	return id, f.Mask<<stdIDShift | idIDE
}
