package bxcan

import (
	"github.com/kstaniek/go-bxcan/internal/canif"
	"github.com/kstaniek/go-bxcan/internal/regs"
)

// CurrentOperationMode derives the mode from MSR on every call. Sleep and
// initialization take precedence over the transmit and receive flags.
func (c *Controller) CurrentOperationMode() canif.OperationMode {
	switch {
	case c.IsAsleep() || regs.IsSet(c.regs, MSR_INAK):
		return canif.Integrating
	case regs.IsSet(c.regs, MSR_TXM):
		return canif.Transmitter
	case regs.IsSet(c.regs, MSR_RXM):
		return canif.Receiver
	default:
		return canif.Idle
	}
}

// IsAsleep reports MSR.SLAK, the acknowledged sleep state.
func (c *Controller) IsAsleep() bool { return regs.IsSet(c.regs, MSR_SLAK) }

// RequestSleepMode sets MCR.SLEEP; IsAsleep follows once the hardware acknowledges.
func (c *Controller) RequestSleepMode() { c.regs.Write(MCR_SLEEP, 1) }

// RequestWakeup clears MCR.SLEEP.
func (c *Controller) RequestWakeup() { c.regs.Write(MCR_SLEEP, 0) }

// InBusMonitoringMode reports the silent mode bit.
func (c *Controller) InBusMonitoringMode() bool { return regs.IsSet(c.regs, BTR_SILM) }

// ReceiveErrorCount returns ESR.REC.
func (c *Controller) ReceiveErrorCount() uint32 { return c.regs.Read(ESR_REC) }

// TransmitErrorCount returns ESR.TEC.
func (c *Controller) TransmitErrorCount() uint32 { return c.regs.Read(ESR_TEC) }

// FaultConfinementState classifies the node from both error counters using
// the configured rule. The counters are eight bits wide and cannot express
// bus-off on their own, so the hardware's latched bus-off flag also yields BusOff.
func (c *Controller) FaultConfinementState() canif.FaultConfinementState {
	if regs.IsSet(c.regs, ESR_BOFF) {
		return canif.BusOff
	}
	return c.rule.Classify(c.ReceiveErrorCount(), c.TransmitErrorCount())
}

// LastErrorCode names the ESR.LEC values.
type LastErrorCode uint8

const (
	LECNone LastErrorCode = iota
	LECStuff
	LECForm
	LECAck
	LECBitRecessive
	LECBitDominant
	LECCRC
	LECSoftware
)

func (e LastErrorCode) String() string {
	switch e {
	case LECNone:
		return "none"
	case LECStuff:
		return "stuff"
	case LECForm:
		return "form"
	case LECAck:
		return "ack"
	case LECBitRecessive:
		return "bit_recessive"
	case LECBitDominant:
		return "bit_dominant"
	case LECCRC:
		return "crc"
	default:
		return "software"
	}
}

// LastErrorCode returns the error recorded for the last bus transfer.
func (c *Controller) LastErrorCode() LastErrorCode { return LastErrorCode(c.regs.Read(ESR_LEC)) }

// Status is a point-in-time view of every derived state.
type Status struct {
	Mode              canif.OperationMode         `json:"mode"`
	Asleep            bool                        `json:"asleep"`
	Initializing      bool                        `json:"initializing"`
	BusMonitoring     bool                        `json:"bus_monitoring"`
	Loopback          bool                        `json:"loopback"`
	Confinement       canif.FaultConfinementState `json:"confinement"`
	RxErrors          uint32                      `json:"rx_errors"`
	TxErrors          uint32                      `json:"tx_errors"`
	LastError         string                      `json:"last_error"`
	UnusedFilterBanks uint32                      `json:"unused_filter_banks"`
	FreeMailboxes     int                         `json:"free_mailboxes"`
	Timing            canif.TimingParameters      `json:"timing"`
}

// Status reads every status register once per field.
func (c *Controller) Status() Status {
	return Status{
		Mode:              c.CurrentOperationMode(),
		Asleep:            c.IsAsleep(),
		Initializing:      regs.IsSet(c.regs, MSR_INAK),
		BusMonitoring:     c.InBusMonitoringMode(),
		Loopback:          regs.IsSet(c.regs, BTR_LBKM),
		Confinement:       c.FaultConfinementState(),
		RxErrors:          c.ReceiveErrorCount(),
		TxErrors:          c.TransmitErrorCount(),
		LastError:         c.LastErrorCode().String(),
		UnusedFilterBanks: c.UnusedFilterBankCount(),
		FreeMailboxes:     c.FreeMailboxes(),
		Timing:            c.Timing(),
	}
}
