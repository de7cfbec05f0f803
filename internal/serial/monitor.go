package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// WordStore is raw 32-bit register storage; regs.Memory implements it.
type WordStore interface {
	Load(offset uint32) uint32
	Store(offset, v uint32)
}

// Monitor is the device side of the link: it answers requests against a
// WordStore mapped at base. Addresses outside [base, base+size) are rejected.
type Monitor struct {
	Base  uint32
	Size  uint32
	Words WordStore
}

// Serve answers requests on port until ctx is done or the port fails.
func (m *Monitor) Serve(ctx context.Context, port Port) error {
	var (
		codec Codec
		in    bytes.Buffer
		buf   = make([]byte, 256)
	)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			in.Write(buf[:n])
			var werr error
			_ = codec.DecodeStream(&in, func(req Message) {
				if req.IsReply() || werr != nil {
					return
				}
				_, werr = port.Write(codec.Encode(m.handle(req)))
			})
			if werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return ctx.Err()
}

func (m *Monitor) handle(req Message) Message {
	off := req.Addr - m.Base
	if req.Addr < m.Base || off+4 > m.Size || off%4 != 0 {
		return Message{Ins: InsError | replyBit, Addr: req.Addr}
	}
	switch req.Ins {
	case InsRead:
	case InsModify:
		w := m.Words.Load(off)
		m.Words.Store(off, w&^req.Mask|req.Value&req.Mask)
	case InsStore:
		m.Words.Store(off, req.Value)
	default:
		return Message{Ins: InsError | replyBit, Addr: req.Addr}
	}
	return Message{Ins: req.Ins | replyBit, Addr: req.Addr, Value: m.Words.Load(off)}
}
