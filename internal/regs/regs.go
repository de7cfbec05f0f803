// Package regs provides named access to the 32-bit registers of a memory
// mapped peripheral. Drivers describe bit-fields with Field values and never
// compute addresses themselves.
package regs

import (
	"errors"
	"fmt"
)

// Kind describes how software may access a field.
type Kind uint8

const (
	ReadWrite Kind = iota
	ReadOnly
	// Clear1 fields are status flags cleared by writing ones (rc_w1).
	Clear1
	// Set1 fields are requests set by writing ones and cleared by hardware (rs).
	Set1
)

func (k Kind) String() string {
	switch k {
	case ReadWrite:
		return "rw"
	case ReadOnly:
		return "r"
	case Clear1:
		return "rc_w1"
	case Set1:
		return "rs"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field is a contiguous bit range inside one register.
type Field struct {
	Name   string
	Offset uint32 // byte offset of the register inside the block
	Shift  uint8
	Width  uint8
	Kind   Kind
}

// Mask returns the field's bits in register position.
func (f Field) Mask() uint32 {
	if f.Width >= 32 {
		return 0xFFFFFFFF
	}
	return ((1 << f.Width) - 1) << f.Shift
}

// Max is the largest value the field holds.
func (f Field) Max() uint32 { return f.Mask() >> f.Shift }

func (f Field) String() string {
	return fmt.Sprintf("%s[0x%03X:%d+%d]", f.Name, f.Offset, f.Shift, f.Width)
}

// Word returns a field covering the full register at offset.
func Word(name string, offset uint32) Field {
	return Field{Name: name, Offset: offset, Width: 32}
}

// Bit returns a single-bit field.
func Bit(name string, offset uint32, bit uint8, kind Kind) Field {
	return Field{Name: name, Offset: offset, Shift: bit, Width: 1, Kind: kind}
}

// Block is a handle to one peripheral's register block. Every method is
// atomic with respect to the addressed field.
type Block interface {
	// Read returns the field value, right aligned.
	Read(Field) uint32
	// Write replaces the field value, leaving the rest of the register intact.
	Write(Field, uint32)
	// Strobe writes ones to the field bits only; used for Clear1 and Set1 fields.
	Strobe(Field)
}

// ErrUnsupported is returned by backends that are not available on this platform.
var ErrUnsupported = errors.New("regs: unsupported on this platform")

// Insert places v into word at f's position.
func (f Field) Insert(word, v uint32) uint32 {
	m := f.Mask()
	return (word &^ m) | ((v << f.Shift) & m)
}

// Extract returns f's value from word.
func (f Field) Extract(word uint32) uint32 {
	return (word & f.Mask()) >> f.Shift
}

// IsSet is shorthand for a non-zero single-bit read.
func IsSet(b Block, f Field) bool { return b.Read(f) != 0 }

// SetBit writes 1 to a single-bit read/write field.
func SetBit(b Block, f Field) { b.Write(f, 1) }

// ClearBit writes 0 to a single-bit read/write field.
func ClearBit(b Block, f Field) { b.Write(f, 0) }
