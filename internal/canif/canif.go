// Package canif defines the portable CAN controller contract implemented by
// hardware drivers, together with the value types and error channels it uses.
//
// Every operation is non-blocking: it either completes a bounded register
// transaction or reports ErrWouldBlock, and the caller polls again later.
package canif

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-bxcan/internal/can"
)

// Interface is the capability set a CAN controller driver offers.
// Implementations are not required to be safe for concurrent use; see Synchronized.
type Interface interface {
	// Receive returns the next frame accepted by the hardware filters, or ErrWouldBlock.
	Receive() (can.Frame, error)
	// Transmit queues a frame in a free hardware slot, or returns ErrWouldBlock.
	Transmit(can.Frame) error
	// SetSpeed programs the arbitration phase bit timing.
	SetSpeed(TimingParameters) error
	// MaximumTimingValues returns the largest values the hardware accepts.
	MaximumTimingValues() TimingParameters
	CurrentOperationMode() OperationMode
	// InBusMonitoringMode reports whether the controller is configured not to send dominant bits.
	InBusMonitoringMode() bool
	// UnusedFilterBankCount is zero when no hardware filtering exists or when the bank is full.
	UnusedFilterBankCount() uint32
	AddFilter(MessageFilter)
	// RemoveFilter removes a single filter if it exists.
	RemoveFilter(MessageFilter)
	// ClearFilters removes every filter.
	ClearFilters()
	IsAsleep() bool
	// RequestSleepMode and RequestWakeup only issue requests; poll IsAsleep for the transition.
	RequestSleepMode()
	RequestWakeup()
	FaultConfinementState() FaultConfinementState
	ReceiveErrorCount() uint32
	TransmitErrorCount() uint32
}

// ErrWouldBlock signals that the operation cannot complete yet and should be retried.
var ErrWouldBlock = errors.New("canif: would block")

// Caller contract violations. Drivers detect them before touching any register.
var (
	ErrInvalidFrame     = errors.New("canif: invalid frame")
	ErrInvalidTiming    = errors.New("canif: invalid timing parameters")
	ErrInvalidFilter    = errors.New("canif: invalid filter")
	ErrNoFreeFilterBank = errors.New("canif: no free filter bank")
)

// HardwareError carries a 16-bit controller fault code.
type HardwareError uint16

// Hardware fault codes reported through HardwareError.
const (
	ErrCodeRxOverrun HardwareError = 0x0001
	ErrCodeTxFailed  HardwareError = 0x0002
)

func (e HardwareError) Error() string {
	switch e {
	case ErrCodeRxOverrun:
		return "canif: hardware error 0x0001 (receive fifo overrun)"
	case ErrCodeTxFailed:
		return "canif: hardware error 0x0002 (transmission failed)"
	default:
		return fmt.Sprintf("canif: hardware error 0x%04X", uint16(e))
	}
}

// IsWouldBlock reports whether err is the retry-later signal.
func IsWouldBlock(err error) bool { return errors.Is(err, ErrWouldBlock) }

// OperationMode is the node state as defined by CAN-FD, also present in classic CAN.
type OperationMode int

const (
	Integrating OperationMode = iota
	Idle
	Receiver
	Transmitter
)

func (m OperationMode) String() string {
	switch m {
	case Integrating:
		return "integrating"
	case Idle:
		return "idle"
	case Receiver:
		return "receiver"
	case Transmitter:
		return "transmitter"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m OperationMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// MessageFilter admits incoming frames whose identifier matches ID under Mask.
// Without a mask (HasMask false) the identifier must match exactly.
type MessageFilter struct {
	ID       uint32
	Extended bool
	Mask     uint32
	HasMask  bool
}

// ExactFilter matches one identifier.
func ExactFilter(id uint32, extended bool) MessageFilter {
	return MessageFilter{ID: id, Extended: extended}
}

// MaskFilter matches identifiers equal to id on every bit set in mask.
func MaskFilter(id, mask uint32, extended bool) MessageFilter {
	return MessageFilter{ID: id, Extended: extended, Mask: mask, HasMask: true}
}

// Validate checks the identifier and mask widths.
func (f MessageFilter) Validate() error {
	limit := uint32(can.CAN_SFF_MASK)
	if f.Extended {
		limit = can.CAN_EFF_MASK
	}
	if f.ID > limit {
		return fmt.Errorf("%w: id 0x%X", ErrInvalidFilter, f.ID)
	}
	if f.HasMask && f.Mask > limit {
		return fmt.Errorf("%w: mask 0x%X", ErrInvalidFilter, f.Mask)
	}
	return nil
}
