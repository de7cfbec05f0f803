// Package cnl implements the cannelloni TCP framing used between the bridge
// and its clients: a fixed hello exchange followed by a stream of frames.
package cnl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/metrics"
)

// Codec encodes/decodes cannelloni frames. Stateless and safe for concurrent use.
type Codec struct{}

var (
	// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
	ErrInvalidLength = errors.New("cannelloni: invalid length")
	// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
	ErrTruncatedFrame = errors.New("cannelloni: truncated frame")
	// ErrErrorFrame is returned for frames carrying the SocketCAN error flag;
	// a controller cannot transmit them.
	ErrErrorFrame = errors.New("cannelloni: error frame")
)

// wire size of one frame: id(4) + len(1) + payload(0..8)
const maxFrameSize = 4 + 1 + can.MaxDLC

// Encode packs frames into a single cannelloni packet.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * maxFrameSize)
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes written.
// Each frame is a big-endian SocketCAN identifier, the DLC, then the payload.
// Remote frames carry their DLC but no payload.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var (
		total int
		rec   [maxFrameSize]byte
	)
	for _, f := range frames {
		binary.BigEndian.PutUint32(rec[0:4], f.CANID())
		dlc := f.DLC
		if dlc > can.MaxDLC {
			dlc = can.MaxDLC
		}
		rec[4] = dlc
		n := 5 + copy(rec[5:], f.Payload())
		wn, err := w.Write(rec[:n])
		total += wn
		if err != nil {
			return total, fmt.Errorf("cannelloni encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r.
// It returns io.EOF if called at a clean frame boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		return can.Frame{}, err
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("cannelloni decode length: %w", ErrTruncatedFrame)
	}
	id := binary.BigEndian.Uint32(hdr[:4])
	ln := hdr[4] & 0x7F // high bit reserved for CAN FD
	if ln > can.MaxDLC {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("cannelloni decode: %w (%d)", ErrInvalidLength, ln)
	}
	f := can.FromCANID(id, ln, nil)
	if !f.Remote && ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return f, fmt.Errorf("cannelloni decode payload: %w", ErrTruncatedFrame)
			}
			return f, fmt.Errorf("cannelloni decode payload: %w", err)
		}
	}
	if id&can.CAN_ERR_FLAG != 0 {
		metrics.IncMalformed()
		return f, ErrErrorFrame
	}
	return f, nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0) invoking onFrame for each.
// It returns the number of frames decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
