package bxcan

import (
	"encoding/binary"

	"github.com/kstaniek/go-bxcan/internal/can"
)

// Identifier word layout shared by TIxR, RIxR and 32-bit filter registers.
const (
	idTXRQ     = 1 << 0
	idRTR      = 1 << 1
	idIDE      = 1 << 2
	stdIDShift = 21
	extIDShift = 3
)

// MailboxWords is the register image of one frame in a mailbox.
//
// Data holds the payload exactly as the controller stores it: byte i of the
// frame lives in bits 8*(i%4) of word i/4, low word first. This is the
// controller's bit layout, not a serialization format.
type MailboxWords struct {
	ID   uint32
	DLC  uint32
	Data [2]uint32
}

// EncodeMailbox maps a frame to mailbox words. The request-transmission bit is
// left clear. The frame is assumed valid; see can.Frame.Validate.
func EncodeMailbox(f can.Frame) MailboxWords {
	return MailboxWords{
		ID:  encodeID(f.ID, f.Extended, f.Remote),
		DLC: uint32(f.DLC),
		Data: [2]uint32{
			binary.LittleEndian.Uint32(f.Data[0:4]),
			binary.LittleEndian.Uint32(f.Data[4:8]),
		},
	}
}

// DecodeMailbox is the inverse of EncodeMailbox. Bit 0 of the identifier word
// (TXRQ on transmit mailboxes, reserved on receive) is ignored.
func DecodeMailbox(w MailboxWords) can.Frame {
	var f can.Frame
	f.Extended = w.ID&idIDE != 0
	f.Remote = w.ID&idRTR != 0
	if f.Extended {
		f.ID = w.ID >> extIDShift
	} else {
		f.ID = w.ID >> stdIDShift
	}
	f.DLC = uint8(w.DLC & 0xF)
	binary.LittleEndian.PutUint32(f.Data[0:4], w.Data[0])
	binary.LittleEndian.PutUint32(f.Data[4:8], w.Data[1])
	return f
}

func encodeID(id uint32, extended, remote bool) uint32 {
	var w uint32
	if extended {
		w = id<<extIDShift | idIDE
	} else {
		w = id << stdIDShift
	}
	if remote {
		w |= idRTR
	}
	return w
}
