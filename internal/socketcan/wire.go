package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/go-bxcan/internal/can"
)

// frameSize is sizeof(struct can_frame), the classic CAN MTU.
const frameSize = 16

// struct can_frame (linux/can.h), host byte order:
//
//	can_id  u32  [0:4]  identifier plus EFF/RTR/ERR flags
//	len     u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func marshalFrame(fr can.Frame) [frameSize]byte {
	var buf [frameSize]byte
	binary.NativeEndian.PutUint32(buf[0:4], fr.CANID())
	buf[4] = fr.DLC
	copy(buf[8:], fr.Payload())
	return buf
}

func unmarshalFrame(buf []byte) (can.Frame, error) {
	if len(buf) != frameSize {
		return can.Frame{}, fmt.Errorf("socketcan: short read: %d", len(buf))
	}
	id := binary.NativeEndian.Uint32(buf[0:4])
	if id&can.CAN_ERR_FLAG != 0 {
		return can.Frame{}, ErrErrorFrame
	}
	fr := can.FromCANID(id, buf[4], nil)
	if !fr.Remote {
		copy(fr.Data[:fr.DLC], buf[8:])
	}
	return fr, nil
}
