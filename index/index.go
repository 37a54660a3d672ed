// Package index holds the signature tables that back code generation:
// instance and static field layouts, class ids, the function table and the
// dispatch ids used for virtual, interface and dynamic calls.
//
// A GlobalIndex is produced once by a Builder and is read-only afterwards,
// so it can be shared by every later pass without locking.
package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jvmwasm.index")

// ObjectHeader is the number of bytes in front of the first instance field.
// The low 24 bits of the header word hold the class id.
const ObjectHeader = 4

// ClassIDMask extracts the class id from an object header word.
const ClassIDMask = 0xFFFFFF

// Binding selects how an unresolved call site is dispatched.
type Binding uint8

const (
	Virtual   Binding = iota // vtable slot, resolved through the indirect table
	Interface                // interface method id, resolved through the itable
	Dynamic                  // late-bound call site, offset into the indirect table
)

func (b Binding) String() string {
	switch b {
	case Virtual:
		return "virtual"
	case Interface:
		return "interface"
	case Dynamic:
		return "dynamic"
	}
	return fmt.Sprintf("Binding(%d)", uint8(b))
}

// UnknownSignatureError reports a lookup of a signature that was never
// registered. The front end produced an inconsistent program; translation of
// the unit must stop.
type UnknownSignatureError struct {
	What string // "field", "method", "class", or a binding name
	Sig  string
}

func (e *UnknownSignatureError) Error() string {
	return fmt.Sprintf("index: unknown %s %s", e.What, e.Sig)
}

// IsUnknownSignature reports whether err wraps an UnknownSignatureError.
func IsUnknownSignature(err error) bool {
	var use *UnknownSignatureError
	return errors.As(err, &use)
}

type siteKey struct {
	binding Binding
	sig     MethodSig
}

// GlobalIndex maps signatures to offsets, ids and resolution sets.
type GlobalIndex struct {
	pointer64 bool
	staticEnd int

	classes []*ClassRecord
	byName  map[string]*ClassRecord
	itables map[int32]map[int32]int32

	fields map[FieldSig]int

	functions []MethodSig
	funcIndex map[MethodSig]int32

	dispatch map[siteKey]*DispatchRecord
}

func newGlobalIndex(pointer64 bool) *GlobalIndex {
	return &GlobalIndex{
		pointer64: pointer64,
		byName:    make(map[string]*ClassRecord),
		itables:   make(map[int32]map[int32]int32),
		fields:    make(map[FieldSig]int),
		funcIndex: make(map[MethodSig]int32),
		dispatch:  make(map[siteKey]*DispatchRecord),
	}
}

// Pointer64 reports whether references are 64 bits wide.
func (g *GlobalIndex) Pointer64() bool {
	return g.pointer64
}

// StaticEnd returns the first address after the static data region.
func (g *GlobalIndex) StaticEnd() int {
	return g.staticEnd
}

// FieldOffset returns the byte offset of a field: within the object for
// instance fields, within the owning class's static block for static ones.
func (g *GlobalIndex) FieldOffset(sig FieldSig) (int, bool) {
	off, ok := g.fields[sig]
	return off, ok
}

// Field is FieldOffset with an error for unregistered fields.
func (g *GlobalIndex) Field(sig FieldSig) (int, error) {
	off, ok := g.fields[sig]
	if !ok {
		return 0, &UnknownSignatureError{What: "field", Sig: sig.String()}
	}
	return off, nil
}

func (g *GlobalIndex) class(name string) (*ClassRecord, error) {
	c, ok := g.byName[name]
	if !ok {
		return nil, &UnknownSignatureError{What: "class", Sig: name}
	}
	return c, nil
}

// StaticBase returns the address of a class's static data block.
func (g *GlobalIndex) StaticBase(class string) (int, error) {
	c, err := g.class(class)
	if err != nil {
		return 0, err
	}
	return c.StaticBase, nil
}

// StaticAddress returns the absolute address of a static field.
func (g *GlobalIndex) StaticAddress(sig FieldSig) (int, error) {
	if !sig.Static {
		return 0, fmt.Errorf("index: %s is not static", sig)
	}
	base, err := g.StaticBase(sig.Class)
	if err != nil {
		return 0, err
	}
	off, err := g.Field(sig)
	if err != nil {
		return 0, err
	}
	return base + off, nil
}

// ClassID returns the id stored in the header of instances of a class.
func (g *GlobalIndex) ClassID(class string) (int32, error) {
	c, err := g.class(class)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// InstanceSize returns the size in bytes of an instance, header included.
func (g *GlobalIndex) InstanceSize(class string) (int, error) {
	c, err := g.class(class)
	if err != nil {
		return 0, err
	}
	return c.InstanceSize, nil
}

// Classes returns the class names in id order.
func (g *GlobalIndex) Classes() []string {
	names := make([]string, len(g.classes))
	for i, c := range g.classes {
		names[i] = c.Name
	}
	return names
}

// FunctionTable returns the concrete methods in function table order. The
// position of a method is the table index used by indirect calls.
func (g *GlobalIndex) FunctionTable() []MethodSig {
	out := make([]MethodSig, len(g.functions))
	copy(out, g.functions)
	return out
}

// FunctionIndex returns the function table index of a concrete method.
func (g *GlobalIndex) FunctionIndex(sig MethodSig) (int32, error) {
	idx, ok := g.funcIndex[sig]
	if !ok {
		return 0, &UnknownSignatureError{What: "method", Sig: sig.String()}
	}
	return idx, nil
}

func (g *GlobalIndex) site(b Binding, sig MethodSig) (*DispatchRecord, error) {
	d, ok := g.dispatch[siteKey{b, sig}]
	if !ok {
		return nil, &UnknownSignatureError{What: b.String() + " call site", Sig: sig.String()}
	}
	return d, nil
}

// DispatchID returns the id a call site passes to its resolution helper:
// the vtable slot for virtual calls, the interface method id for interface
// calls and the indirect table offset for dynamic call sites.
func (g *GlobalIndex) DispatchID(b Binding, sig MethodSig) (int32, error) {
	d, err := g.site(b, sig)
	if err != nil {
		return 0, err
	}
	return d.ID, nil
}

// ResolutionSet returns the concrete methods a call site may reach, sorted
// by symbol name.
func (g *GlobalIndex) ResolutionSet(b Binding, sig MethodSig) ([]MethodSig, error) {
	d, err := g.site(b, sig)
	if err != nil {
		return nil, err
	}
	out := make([]MethodSig, len(d.Targets))
	copy(out, d.Targets)
	return out, nil
}

func (g *GlobalIndex) classByID(classID int32) (*ClassRecord, error) {
	if classID < 1 || int(classID) > len(g.classes) {
		return nil, fmt.Errorf("index: invalid class id %d", classID)
	}
	return g.classes[classID-1], nil
}

// ResolveInterface maps an interface method id to a function table index
// for instances of the given class.
func (g *GlobalIndex) ResolveInterface(classID, id int32) (int32, error) {
	c, err := g.classByID(classID)
	if err != nil {
		return 0, err
	}
	idx, ok := g.itables[c.ID][id]
	if !ok {
		return 0, fmt.Errorf("index: class %s has no implementation for interface method %d", c.Name, id)
	}
	return idx, nil
}

// ResolveIndirect reads the indirect table of the given class at offset.
// Offsets below the vtable size are virtual slots, the rest belong to
// dynamic call sites.
func (g *GlobalIndex) ResolveIndirect(classID, offset int32) (int32, error) {
	c, err := g.classByID(classID)
	if err != nil {
		return 0, err
	}
	if offset < 0 || int(offset) >= len(c.Indirect) {
		return 0, fmt.Errorf("index: offset %d outside indirect table of %s", offset, c.Name)
	}
	idx := c.Indirect[offset]
	if idx < 0 {
		return 0, fmt.Errorf("index: abstract method at offset %d of %s", offset, c.Name)
	}
	return idx, nil
}

func sortMethods(sigs []MethodSig) []MethodSig {
	sort.Slice(sigs, func(i, j int) bool {
		return sigs[i].FuncName() < sigs[j].FuncName()
	})
	out := sigs[:0]
	for i, s := range sigs {
		if i > 0 && s == sigs[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// MustField is Field for callers that treat an unknown field as fatal. It
// panics with the *UnknownSignatureError.
func (g *GlobalIndex) MustField(sig FieldSig) int {
	off, err := g.Field(sig)
	if err != nil {
		panic(err)
	}
	return off
}

// MustFunctionIndex is FunctionIndex, panicking on unknown methods.
func (g *GlobalIndex) MustFunctionIndex(sig MethodSig) int32 {
	idx, err := g.FunctionIndex(sig)
	if err != nil {
		panic(err)
	}
	return idx
}

// MustDispatchID is DispatchID, panicking on unknown call sites.
func (g *GlobalIndex) MustDispatchID(b Binding, sig MethodSig) int32 {
	id, err := g.DispatchID(b, sig)
	if err != nil {
		panic(err)
	}
	return id
}
