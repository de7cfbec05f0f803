//go:build !linux

package regs

// Mapped is unavailable outside linux.
type Mapped struct{}

func Map(path string, base int64, size int) (*Mapped, error) { return nil, ErrUnsupported }

func (m *Mapped) Close() error           { return nil }
func (m *Mapped) Read(f Field) uint32    { return 0 }
func (m *Mapped) Write(f Field, v uint32) {}
func (m *Mapped) Strobe(f Field)         {}
