package index

// Slot is one entry of a class's virtual dispatch table.
type Slot struct {
	Decl     MethodSig `cbor:"1,keyasint"` // first declaration of the slot
	Impl     MethodSig `cbor:"2,keyasint"` // implementation seen by this class
	Abstract bool      `cbor:"3,keyasint,omitempty"`
}

// VTable holds the virtual slots of a class. Slot ids are shared along the
// inheritance chain: a subclass starts from a copy of its parent's table,
// overrides in place and appends new slots at the end.
type VTable struct {
	slots []Slot
}

// NewVTable creates a vtable inheriting the slots of parent, which may be nil.
func NewVTable(parent *VTable) *VTable {
	vt := &VTable{}
	if parent != nil {
		vt.slots = make([]Slot, len(parent.slots), len(parent.slots)+8)
		copy(vt.slots, parent.slots)
	}
	return vt
}

// Lookup returns the slot id for a method, or -1 if the method has no slot.
func (vt *VTable) Lookup(sig MethodSig) int {
	for i, s := range vt.slots {
		if s.Decl.SameSlot(sig) {
			return i
		}
	}
	return -1
}

// AddMethod overrides the slot matching sig or appends a new one, and
// returns the slot id.
func (vt *VTable) AddMethod(sig MethodSig, abstract bool) int {
	if i := vt.Lookup(sig); i >= 0 {
		vt.slots[i].Impl = sig
		vt.slots[i].Abstract = abstract
		return i
	}
	vt.slots = append(vt.slots, Slot{Decl: sig, Impl: sig, Abstract: abstract})
	return len(vt.slots) - 1
}

// Slot returns the slot with the given id.
func (vt *VTable) Slot(id int) (Slot, bool) {
	if id < 0 || id >= len(vt.slots) {
		return Slot{}, false
	}
	return vt.slots[id], true
}

// Len returns the number of slots.
func (vt *VTable) Len() int {
	return len(vt.slots)
}

// Slots returns a copy of all slots.
func (vt *VTable) Slots() []Slot {
	out := make([]Slot, len(vt.slots))
	copy(out, vt.slots)
	return out
}

// isVirtual reports whether a method takes part in virtual dispatch.
func isVirtual(sig MethodSig) bool {
	return !sig.Static && sig.Name != "<init>" && sig.Name != "<clinit>"
}
