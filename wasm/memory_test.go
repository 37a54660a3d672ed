package wasm

import "testing"

func TestMemoryGrowPreservesContents(t *testing.T) {
	m := NewMemory(1, 4)
	if err := m.Store32(0, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if !m.Grow(2) {
		t.Fatal("grow by 2 pages failed")
	}
	if m.Pages() != 3 || m.Size() != 3*PageSize {
		t.Errorf("size: got %d pages (%d bytes), want 3", m.Pages(), m.Size())
	}
	v, err := m.Load32(0)
	if err != nil || v != 0xDEADBEEF {
		t.Errorf("offset 0 after grow: got %#x, %v", v, err)
	}
	// New pages are addressable and zeroed.
	v, err = m.Load32(3*PageSize - 4)
	if err != nil || v != 0 {
		t.Errorf("last word: got %#x, %v, want 0", v, err)
	}
}

func TestMemoryGrowPastLimit(t *testing.T) {
	m := NewMemory(1, 2)
	if err := m.Store8(10, 7); err != nil {
		t.Fatal(err)
	}
	if m.Grow(2) {
		t.Fatal("grow past the limit succeeded")
	}
	if m.Pages() != 1 {
		t.Errorf("pages after refused grow: got %d, want 1", m.Pages())
	}
	if b, _ := m.Load8(10); b != 7 {
		t.Errorf("contents after refused grow: got %d, want 7", b)
	}
	if !m.Grow(0) {
		t.Error("grow by 0 should succeed")
	}
	if m.Grow(-1) {
		t.Error("grow by -1 should fail")
	}
}

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(1, 1)
	if _, err := m.Load8(PageSize - 1); err != nil {
		t.Errorf("last byte: %v", err)
	}
	if _, err := m.Load32(PageSize - 2); !IsTrap(err) {
		t.Errorf("straddling load: got %v, want trap", err)
	}
	if err := m.Store8(PageSize, 1); !IsTrap(err) {
		t.Errorf("store past end: got %v, want trap", err)
	}
	if _, err := m.Load64(^uint64(0)); !IsTrap(err) {
		t.Errorf("huge address: got %v, want trap", err)
	}
}

func TestMemoryLittleEndianAndExtension(t *testing.T) {
	m := NewMemory(1, 1)
	if err := m.Store32(8, 0x01020304); err != nil {
		t.Fatal(err)
	}
	if b, _ := m.Load8(8); b != 0x04 {
		t.Errorf("low byte: got %#x, want 0x04", b)
	}
	if err := m.Store8(0, 0xFF); err != nil {
		t.Fatal(err)
	}
	v, _ := m.LoadValue(OpI32Load8S, 0)
	if v != I32Value(-1) {
		t.Errorf("load8_s: got %v, want i32:-1", v)
	}
	v, _ = m.LoadValue(OpI32Load8U, 0)
	if v != I32Value(255) {
		t.Errorf("load8_u: got %v, want i32:255", v)
	}
	if err := m.StoreValue(OpI32Store, 0, F32Value(1)); err == nil {
		t.Error("storing f32 with i32.store should fail")
	}
}
