package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDLC is the largest data length code of a classic CAN frame.
const MaxDLC = 8

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidDLC = errors.New("can: invalid data length code")
)

// Frame is a classic CAN 2.0A/2.0B frame as seen by the portable interface.
// ID holds 11 bits when Extended is false and 29 bits otherwise.
// Only the first DLC bytes of Data are meaningful on the bus, but all eight
// are carried through the controller's mailbox words unchanged.
type Frame struct {
	ID       uint32
	Extended bool
	Remote   bool
	DLC      uint8
	Data     [8]byte
}

// Validate reports whether the identifier and DLC fit the frame format.
func (f Frame) Validate() error {
	if f.DLC > MaxDLC {
		return fmt.Errorf("%w: %d", ErrInvalidDLC, f.DLC)
	}
	limit := uint32(CAN_SFF_MASK)
	if f.Extended {
		limit = CAN_EFF_MASK
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns the valid data bytes (nil for remote frames).
func (f Frame) Payload() []byte {
	if f.Remote {
		return nil
	}
	n := int(f.DLC)
	if n > MaxDLC {
		n = MaxDLC
	}
	return f.Data[:n]
}

// CANID packs the identifier and flags the way SocketCAN and cannelloni do.
func (f Frame) CANID() uint32 {
	if f.Extended {
		id := (f.ID & CAN_EFF_MASK) | CAN_EFF_FLAG
		if f.Remote {
			id |= CAN_RTR_FLAG
		}
		return id
	}
	id := f.ID & CAN_SFF_MASK
	if f.Remote {
		id |= CAN_RTR_FLAG
	}
	return id
}

// FromCANID builds a frame from a SocketCAN style identifier and payload.
// Payload beyond eight bytes is truncated; dlc above 8 is clamped.
func FromCANID(canID uint32, dlc uint8, data []byte) Frame {
	var f Frame
	f.Extended = canID&CAN_EFF_FLAG != 0
	f.Remote = canID&CAN_RTR_FLAG != 0
	if f.Extended {
		f.ID = canID & CAN_EFF_MASK
	} else {
		f.ID = canID & CAN_SFF_MASK
	}
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	f.DLC = dlc
	copy(f.Data[:], data)
	return f
}

// String formats the frame like candump: 123#DEADBEEF, 1ABCDEF0#R.
func (f Frame) String() string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	if f.Remote {
		return fmt.Sprintf("%s#R%d", id, f.DLC)
	}
	return fmt.Sprintf("%s#%X", id, f.Payload())
}
