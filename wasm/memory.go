package wasm

import (
	"encoding/binary"
	"fmt"
)

// PageSize is the linear memory growth unit.
const PageSize = 65536

// Memory is a little-endian linear memory. Growing it allocates a new
// buffer, copies the old contents and drops the old buffer, so slices
// obtained from Bytes must not be kept across Grow.
type Memory struct {
	buf      []byte
	maxPages int
}

// NewMemory creates a memory of initialPages pages that can grow to
// maxPages pages.
func NewMemory(initialPages, maxPages int) *Memory {
	if initialPages < 0 {
		initialPages = 0
	}
	if maxPages < initialPages {
		maxPages = initialPages
	}
	return &Memory{
		buf:      make([]byte, initialPages*PageSize),
		maxPages: maxPages,
	}
}

// Size returns the current size in bytes.
func (m *Memory) Size() int {
	return len(m.buf)
}

// Pages returns the current size in pages.
func (m *Memory) Pages() int {
	return len(m.buf) / PageSize
}

// MaxPages returns the growth limit.
func (m *Memory) MaxPages() int {
	return m.maxPages
}

// Bytes returns the current buffer.
func (m *Memory) Bytes() []byte {
	return m.buf
}

// Grow adds n pages. It returns false and leaves the memory untouched when
// the result would exceed the page limit.
func (m *Memory) Grow(n int) bool {
	if n < 0 || m.Pages()+n > m.maxPages {
		return false
	}
	if n == 0 {
		return true
	}
	next := make([]byte, len(m.buf)+n*PageSize)
	copy(next, m.buf)
	m.buf = next
	return true
}

func (m *Memory) check(addr uint64, n int) error {
	if addr > uint64(len(m.buf)) || uint64(len(m.buf))-addr < uint64(n) {
		return trapf("out of bounds memory access at %#x (+%d), memory size %d", addr, n, len(m.buf))
	}
	return nil
}

func (m *Memory) Load8(addr uint64) (uint8, error) {
	if err := m.check(addr, 1); err != nil {
		return 0, err
	}
	return m.buf[addr], nil
}

func (m *Memory) Load16(addr uint64) (uint16, error) {
	if err := m.check(addr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.buf[addr:]), nil
}

func (m *Memory) Load32(addr uint64) (uint32, error) {
	if err := m.check(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[addr:]), nil
}

func (m *Memory) Load64(addr uint64) (uint64, error) {
	if err := m.check(addr, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.buf[addr:]), nil
}

func (m *Memory) Store8(addr uint64, v uint8) error {
	if err := m.check(addr, 1); err != nil {
		return err
	}
	m.buf[addr] = v
	return nil
}

func (m *Memory) Store16(addr uint64, v uint16) error {
	if err := m.check(addr, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.buf[addr:], v)
	return nil
}

func (m *Memory) Store32(addr uint64, v uint32) error {
	if err := m.check(addr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[addr:], v)
	return nil
}

func (m *Memory) Store64(addr uint64, v uint64) error {
	if err := m.check(addr, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.buf[addr:], v)
	return nil
}

// LoadValue performs the memory read of a load operation.
func (m *Memory) LoadValue(op Op, addr uint64) (Value, error) {
	switch op {
	case OpI32Load:
		v, err := m.Load32(addr)
		return Value{Type: I32, Bits: uint64(v)}, err
	case OpI64Load:
		v, err := m.Load64(addr)
		return Value{Type: I64, Bits: v}, err
	case OpF32Load:
		v, err := m.Load32(addr)
		return Value{Type: F32, Bits: uint64(v)}, err
	case OpF64Load:
		v, err := m.Load64(addr)
		return Value{Type: F64, Bits: v}, err
	case OpI32Load8S:
		v, err := m.Load8(addr)
		return I32Value(int32(int8(v))), err
	case OpI32Load8U:
		v, err := m.Load8(addr)
		return I32Value(int32(v)), err
	case OpI32Load16S:
		v, err := m.Load16(addr)
		return I32Value(int32(int16(v))), err
	case OpI32Load16U:
		v, err := m.Load16(addr)
		return I32Value(int32(v)), err
	}
	return Value{}, trapf("%s is not a load", op)
}

// StoreValue performs the memory write of a store operation.
func (m *Memory) StoreValue(op Op, addr uint64, v Value) error {
	if want := op.Info().Pop; len(want) != 1 || want[0] != v.Type {
		return fmt.Errorf("%w: %s cannot store %s", ErrTypeMismatch, op, v.Type)
	}
	switch op {
	case OpI32Store, OpF32Store:
		return m.Store32(addr, uint32(v.Bits))
	case OpI64Store, OpF64Store:
		return m.Store64(addr, v.Bits)
	case OpI32Store8:
		return m.Store8(addr, uint8(v.Bits))
	case OpI32Store16:
		return m.Store16(addr, uint16(v.Bits))
	}
	return trapf("%s is not a store", op)
}
