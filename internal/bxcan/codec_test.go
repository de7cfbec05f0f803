package bxcan

import (
	"testing"

	"github.com/kstaniek/go-bxcan/internal/can"
)

func TestEncodeMailboxLayout(t *testing.T) {
	tests := []struct {
		name string
		f    can.Frame
		want MailboxWords
	}{
		{
			name: "standard",
			f:    can.Frame{ID: 0x123, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
			want: MailboxWords{ID: 0x24600000, DLC: 8, Data: [2]uint32{0x04030201, 0x08070605}},
		},
		{
			name: "extended",
			f:    can.Frame{ID: 0x1ABCDEF0, Extended: true, DLC: 2, Data: [8]byte{0xAA, 0x55}},
			want: MailboxWords{ID: 0xD5E6F784, DLC: 2, Data: [2]uint32{0x000055AA, 0}},
		},
		{
			name: "remote",
			f:    can.Frame{ID: 0x7FF, Remote: true, DLC: 4},
			want: MailboxWords{ID: 0xFFE00002, DLC: 4},
		},
		{
			name: "extended remote",
			f:    can.Frame{ID: 1, Extended: true, Remote: true},
			want: MailboxWords{ID: 0x0000000E},
		},
	}
	for _, tc := range tests {
		got := EncodeMailbox(tc.f)
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
		if back := DecodeMailbox(got); back != tc.f {
			t.Fatalf("%s: decode %+v want %+v", tc.name, back, tc.f)
		}
	}
}

func TestDecodeMailboxIgnoresRequestBit(t *testing.T) {
	w := MailboxWords{ID: 0x24600000 | idTXRQ, DLC: 0xF1}
	f := DecodeMailbox(w)
	if f.ID != 0x123 || f.Extended || f.Remote || f.DLC != 1 {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func FuzzMailboxRoundTrip(f *testing.F) {
	f.Add(uint32(0x123), false, false, uint8(8), uint64(0x0102030405060708))
	f.Add(uint32(0x1FFFFFFF), true, true, uint8(0), uint64(0))
	f.Fuzz(func(t *testing.T, id uint32, ext, rtr bool, dlc uint8, data uint64) {
		fr := can.Frame{ID: id, Extended: ext, Remote: rtr, DLC: dlc}
		for i := range fr.Data {
			fr.Data[i] = byte(data >> (8 * i))
		}
		if fr.Validate() != nil {
			return
		}
		if got := DecodeMailbox(EncodeMailbox(fr)); got != fr {
			t.Fatalf("round trip %+v -> %+v", fr, got)
		}
	})
}

func BenchmarkEncodeMailbox(b *testing.B) {
	fr := can.Frame{ID: 0x18FF50E5, Extended: true, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	for i := 0; i < b.N; i++ {
		_ = EncodeMailbox(fr)
	}
}
