package canif

import "fmt"

// FaultConfinementState is the CAN error-management classification of a node.
type FaultConfinementState int

const (
	ErrorActive FaultConfinementState = iota
	ErrorPassive
	BusOff
)

func (s FaultConfinementState) String() string {
	switch s {
	case ErrorActive:
		return "error_active"
	case ErrorPassive:
		return "error_passive"
	case BusOff:
		return "bus_off"
	default:
		return fmt.Sprintf("confinement(%d)", int(s))
	}
}

func (s FaultConfinementState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConfinementRule classifies a node from its receive and transmit error counts.
type ConfinementRule interface {
	Classify(rx, tx uint32) FaultConfinementState
}

// ConfinementRuleFunc adapts a function to ConfinementRule.
type ConfinementRuleFunc func(rx, tx uint32) FaultConfinementState

func (f ConfinementRuleFunc) Classify(rx, tx uint32) FaultConfinementState { return f(rx, tx) }

// Thresholds from the CAN 2.0 error-management model.
const (
	ErrorPassiveThreshold = 128
	BusOffThreshold       = 256
)

// ThresholdRule implements ConfinementRule with configurable limits.
// A node goes error passive when either counter reaches Passive, and bus off
// when the transmit counter reaches BusOff.
type ThresholdRule struct {
	Passive uint32
	BusOff  uint32
}

// StandardRule is the CAN 2.0 rule (128 / 256).
var StandardRule = ThresholdRule{Passive: ErrorPassiveThreshold, BusOff: BusOffThreshold}

func (r ThresholdRule) Classify(rx, tx uint32) FaultConfinementState {
	switch {
	case tx >= r.BusOff:
		return BusOff
	case tx >= r.Passive || rx >= r.Passive:
		return ErrorPassive
	default:
		return ErrorActive
	}
}

// ConfinementStateFromErrorCounts applies StandardRule.
func ConfinementStateFromErrorCounts(rx, tx uint32) FaultConfinementState {
	return StandardRule.Classify(rx, tx)
}
