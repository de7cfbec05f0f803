package regs

import "testing"

func TestFieldMaskAndMax(t *testing.T) {
	tests := []struct {
		f        Field
		mask     uint32
		maxValue uint32
	}{
		{Field{Shift: 0, Width: 10}, 0x3FF, 1023},
		{Field{Shift: 16, Width: 4}, 0x000F0000, 15},
		{Field{Shift: 31, Width: 1}, 0x80000000, 1},
		{Word("W", 0), 0xFFFFFFFF, 0xFFFFFFFF},
	}
	for _, tc := range tests {
		if got := tc.f.Mask(); got != tc.mask {
			t.Fatalf("%v: mask 0x%X want 0x%X", tc.f, got, tc.mask)
		}
		if got := tc.f.Max(); got != tc.maxValue {
			t.Fatalf("%v: max %d want %d", tc.f, got, tc.maxValue)
		}
	}
}

func TestFieldInsertExtract(t *testing.T) {
	f := Field{Shift: 20, Width: 3}
	w := f.Insert(0xFFFFFFFF, 0)
	if w != 0xFF8FFFFF {
		t.Fatalf("insert cleared wrong bits: 0x%08X", w)
	}
	w = f.Insert(w, 0xF) // overflow truncated to field width
	if f.Extract(w) != 7 || w != 0xFFFFFFFF {
		t.Fatalf("insert overflow: 0x%08X", w)
	}
}

func TestMemoryKinds(t *testing.T) {
	m := NewMemory()
	rw := Field{Name: "RW", Offset: 0x10, Shift: 4, Width: 4}
	ro := Bit("RO", 0x10, 0, ReadOnly)
	c1 := Bit("C1", 0x14, 3, Clear1)
	s1 := Bit("S1", 0x14, 5, Set1)

	m.Write(rw, 0xA)
	if m.Read(rw) != 0xA || m.Load(0x10) != 0xA0 {
		t.Fatalf("rw write: 0x%X", m.Load(0x10))
	}
	m.Write(ro, 1)
	if IsSet(m, ro) {
		t.Fatalf("read-only field must ignore writes")
	}
	m.Set(ro, 1)
	if !IsSet(m, ro) || m.Read(rw) != 0xA {
		t.Fatalf("Set must force read-only field without touching neighbours: 0x%X", m.Load(0x10))
	}

	m.Set(c1, 1)
	m.Strobe(c1)
	if IsSet(m, c1) {
		t.Fatalf("strobe on rc_w1 should clear")
	}
	m.Strobe(s1)
	if !IsSet(m, s1) {
		t.Fatalf("strobe on rs should set")
	}
	SetBit(m, Bit("X", 0x18, 1, ReadWrite))
	ClearBit(m, Bit("Y", 0x18, 0, ReadWrite))
	if m.Load(0x18) != 0x2 {
		t.Fatalf("bit helpers: 0x%X", m.Load(0x18))
	}
	if len(m.Snapshot()) != 3 {
		t.Fatalf("snapshot size %d", len(m.Snapshot()))
	}
}
