package serial

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/kstaniek/go-bxcan/internal/metrics"
)

// Instruction codes of the register monitor protocol. Responses echo the
// instruction with the reply bit set.
const (
	InsRead   byte = 0x01 // ADDR -> word
	InsModify byte = 0x02 // ADDR MASK VALUE: word = word&^MASK | VALUE&MASK
	InsStore  byte = 0x03 // ADDR VALUE: raw store, used for write-one bits
	InsError  byte = 0x7F // ADDR: monitor rejected the address

	replyBit byte = 0x80
)

const (
	pre0 = 0x2D
	pre1 = 0xD4
)

var (
	ErrRejected   = errors.New("serial: monitor rejected request")
	ErrNoResponse = errors.New("serial: no response")
)

// Message is one request or response. Mask is only carried by InsModify
// requests; Value is unused by InsRead requests.
type Message struct {
	Ins   byte
	Addr  uint32
	Mask  uint32
	Value uint32
}

// IsReply reports whether m travels monitor -> host.
func (m Message) IsReply() bool { return m.Ins&replyBit != 0 }

// Op strips the reply bit.
func (m Message) Op() byte { return m.Ins &^ replyBit }

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// envelope builds a UART frame:
// [0x2D, 0xD4, len+1, data..., checksum]
// checksum = (len+1) + 0x2D + sum(data) (mod 256)
func envelope(data []byte) []byte {
	n := len(data)
	frame := make([]byte, n+4)

	frame[0] = pre0
	frame[1] = pre1
	frame[2] = byte(n + 1)

	sum := frame[2] + pre0
	for i, b := range data {
		frame[3+i] = b
		sum += b
	}
	frame[3+n] = sum
	return frame
}

// payloadLen is the body size for an instruction, or -1 when unknown.
func payloadLen(ins byte) int {
	switch ins {
	case InsRead, InsError, InsError | replyBit:
		return 1 + 4
	case InsStore, InsRead | replyBit, InsStore | replyBit, InsModify | replyBit:
		return 1 + 8
	case InsModify:
		return 1 + 12
	default:
		return -1
	}
}

// Encode wraps m in the UART envelope.
func (Codec) Encode(m Message) []byte {
	n := payloadLen(m.Ins)
	if n < 0 {
		n = 1 + 8
	}
	tab := make([]byte, n)
	tab[0] = m.Ins
	binary.BigEndian.PutUint32(tab[1:5], m.Addr)
	switch {
	case n == 1+12:
		binary.BigEndian.PutUint32(tab[5:9], m.Mask)
		binary.BigEndian.PutUint32(tab[9:13], m.Value)
	case n == 1+8:
		binary.BigEndian.PutUint32(tab[5:9], m.Value)
	}
	return envelope(tab)
}

// DecodeStream reads from in and emits complete messages via out.
// Garbage, unknown instructions and bad checksums are skipped one byte at a
// time and counted as malformed. It returns nil when more input is needed.
//
// Example read reply of word 0x00000C02 at 0x40006404:
// 2D D4    - preamble
// 0A       - len = 10 = INS(1) + ADDR(4) + VALUE(4) + checksum(1)
// 81       - INS read | reply
// 40 00 64 04 - address
// 00 00 0C 02 - value
// 6E       - checksum = 0x2D + len + sum(data bytes after len)
func (Codec) DecodeStream(in *bytes.Buffer, out func(Message)) error {
	header := []byte{pre0, pre1}

	for {
		data := in.Bytes()
		_ = CompactBuffer(in)
		if len(data) < 3 {
			return nil
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case next buffer starts with preamble second byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		if len(data) < 4 {
			return nil
		}
		ln := int(data[2]) // data bytes + 1 checksum
		want := payloadLen(data[3])
		if want < 0 || ln != want+1 {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := 3 + ln
		if len(data) < req {
			return nil
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		body := data[3 : req-1]
		m := Message{Ins: body[0], Addr: binary.BigEndian.Uint32(body[1:5])}
		switch len(body) {
		case 13:
			m.Mask = binary.BigEndian.Uint32(body[5:9])
			m.Value = binary.BigEndian.Uint32(body[9:13])
		case 9:
			m.Value = binary.BigEndian.Uint32(body[5:9])
		}
		in.Next(req)
		out(m)
	}
}
