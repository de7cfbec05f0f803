package regs

import "sync"

// Memory is an in-process register file. Field kinds are honoured: Strobe on a
// Clear1 field clears its bits, Strobe on a Set1 field sets them.
type Memory struct {
	mu    sync.Mutex
	words map[uint32]uint32
}

// NewMemory returns an empty (all zero) register file.
func NewMemory() *Memory { return &Memory{words: make(map[uint32]uint32)} }

func (m *Memory) Read(f Field) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f.Extract(m.words[f.Offset])
}

// Write ignores ReadOnly fields like the hardware does; use Set to force them.
func (m *Memory) Write(f Field, v uint32) {
	if f.Kind == ReadOnly {
		return
	}
	m.mu.Lock()
	m.words[f.Offset] = f.Insert(m.words[f.Offset], v)
	m.mu.Unlock()
}

func (m *Memory) Strobe(f Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch f.Kind {
	case Clear1:
		m.words[f.Offset] &^= f.Mask()
	default:
		m.words[f.Offset] |= f.Mask()
	}
}

// Load returns the raw register word at offset.
func (m *Memory) Load(offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[offset]
}

// Store replaces the raw register word at offset.
func (m *Memory) Store(offset, v uint32) {
	m.mu.Lock()
	m.words[offset] = v
	m.mu.Unlock()
}

// Set forces a field to v regardless of its kind, as hardware would.
func (m *Memory) Set(f Field, v uint32) {
	m.mu.Lock()
	m.words[f.Offset] = f.Insert(m.words[f.Offset], v)
	m.mu.Unlock()
}

// Snapshot copies every register that has been touched.
func (m *Memory) Snapshot() map[uint32]uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint32]uint32, len(m.words))
	for k, v := range m.words {
		out[k] = v
	}
	return out
}
