//go:build linux

package regs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapped accesses a register block through an mmap of /dev/mem or a UIO device.
type Mapped struct {
	mem []byte // whole pages as returned by mmap
	win []byte // the register block inside mem
}

// Map maps size bytes of path starting at physical offset base. base need not
// be page aligned; the surrounding pages are mapped and offsets stay relative
// to base.
func Map(path string, base int64, size int) (*Mapped, error) {
	page := int64(os.Getpagesize())
	delta := base % page
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)
	mem, err := unix.Mmap(fd, base-delta, size+int(delta), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s@0x%X: %w", path, base, err)
	}
	return &Mapped{mem: mem, win: mem[delta:]}, nil
}

// Close unmaps the block.
func (m *Mapped) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem, m.win = nil, nil
	return err
}

func (m *Mapped) word(off uint32) *uint32 {
	if int(off)+4 > len(m.win) || off%4 != 0 {
		panic(fmt.Sprintf("regs: offset 0x%X outside mapped block", off))
	}
	return (*uint32)(unsafe.Pointer(&m.win[off]))
}

func (m *Mapped) Read(f Field) uint32 {
	return f.Extract(atomic.LoadUint32(m.word(f.Offset)))
}

func (m *Mapped) Write(f Field, v uint32) {
	p := m.word(f.Offset)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, f.Insert(old, v)) {
			return
		}
	}
}

// Strobe stores only the field bits. Registers holding rc_w1 or rs flags
// ignore zeros written to their other bits.
func (m *Mapped) Strobe(f Field) {
	atomic.StoreUint32(m.word(f.Offset), f.Mask())
}
