// Package bxcan drives the bxCAN controller found in STM32F4 parts through a
// regs.Block handle and exposes it as a canif.Interface.
//
// A Controller is not safe for concurrent use. Wrap it with canif.Synchronized
// when a transmit path and a receive path run in different goroutines.
package bxcan

import (
	"log/slog"

	"github.com/kstaniek/go-bxcan/internal/canif"
	"github.com/kstaniek/go-bxcan/internal/logging"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// Controller adapts one bxCAN register block to canif.Interface.
type Controller struct {
	regs   regs.Block
	rule   canif.ConfinementRule
	logger *slog.Logger

	// initRequested is set when the driver entered initialization mode on its
	// own to apply a configuration change and must leave it afterwards.
	initRequested bool
}

var _ canif.Interface = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithConfinementRule replaces canif.StandardRule.
func WithConfinementRule(r canif.ConfinementRule) Option {
	return func(c *Controller) {
		if r != nil {
			c.rule = r
		}
	}
}

// WithLogger sets the logger; nil keeps logging.L().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New wraps a register block. No register is touched.
func New(b regs.Block, opts ...Option) *Controller {
	c := &Controller{regs: b, rule: canif.StandardRule, logger: logging.L()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start leaves initialization mode (and sleep). It returns ErrWouldBlock
// until the hardware reports normal mode.
func (c *Controller) Start() error {
	c.regs.Write(MCR_SLEEP, 0)
	c.regs.Write(MCR_INRQ, 0)
	c.initRequested = false
	if regs.IsSet(c.regs, MSR_INAK) || regs.IsSet(c.regs, MSR_SLAK) {
		return canif.ErrWouldBlock
	}
	return nil
}

// Stop requests initialization mode and keeps the controller there until
// Start. It returns ErrWouldBlock until the hardware acknowledges.
func (c *Controller) Stop() error {
	c.regs.Write(MCR_SLEEP, 0)
	c.regs.Write(MCR_INRQ, 1)
	c.initRequested = false
	if !regs.IsSet(c.regs, MSR_INAK) {
		return canif.ErrWouldBlock
	}
	return nil
}

// configure runs apply inside initialization mode. When the controller is not
// yet initializing it requests the mode and returns ErrWouldBlock; the caller
// retries with the same arguments. Leaving the mode again only happens when
// this driver entered it.
func (c *Controller) configure(apply func()) error {
	if !regs.IsSet(c.regs, MSR_INAK) {
		c.regs.Write(MCR_SLEEP, 0)
		c.regs.Write(MCR_INRQ, 1)
		c.initRequested = true
		return canif.ErrWouldBlock
	}
	apply()
	if c.initRequested {
		c.regs.Write(MCR_INRQ, 0)
		c.initRequested = false
	}
	return nil
}
