package highlevel

import (
	"fmt"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

// Builder creates high-level instructions against a frozen index. Every
// lookup of an unregistered signature fails with the index's
// *UnknownSignatureError.
type Builder struct {
	idx *index.GlobalIndex
	cfg Config
}

// NewBuilder returns a builder. cfg.Pointer64 must match the index.
func NewBuilder(idx *index.GlobalIndex, cfg Config) (*Builder, error) {
	if idx.Pointer64() != cfg.Pointer64 {
		return nil, fmt.Errorf("highlevel: index and config disagree on pointer width")
	}
	return &Builder{idx: idx, cfg: cfg}, nil
}

// Config returns the builder's configuration.
func (b *Builder) Config() Config { return b.cfg }

func (b *Builder) field(sig index.FieldSig) (int, access, error) {
	acc, err := accessFor(sig.Kind(), b.cfg.Pointer64)
	if err != nil {
		return 0, access{}, fmt.Errorf("%s: %w", sig, err)
	}
	var off int
	if sig.Static {
		off, err = b.idx.StaticAddress(sig)
	} else {
		off, err = b.idx.Field(sig)
	}
	return off, acc, err
}

// FieldGet returns a read of sig.
func (b *Builder) FieldGet(sig index.FieldSig) (FieldGet, error) {
	off, acc, err := b.field(sig)
	if err != nil {
		return FieldGet{}, err
	}
	return FieldGet{Field: sig, Offset: off, acc: acc, cfg: b.cfg}, nil
}

// FieldSet returns a write of sig. reversed selects the [value, self]
// operand order.
func (b *Builder) FieldSet(sig index.FieldSig, reversed bool) (FieldSet, error) {
	off, acc, err := b.field(sig)
	if err != nil {
		return FieldSet{}, err
	}
	return FieldSet{Field: sig, Offset: off, Reversed: reversed && !sig.Static, acc: acc, cfg: b.cfg}, nil
}

// Call returns a statically resolved call of a concrete method.
func (b *Builder) Call(sig index.MethodSig) (ResolvedCall, error) {
	if _, err := b.idx.FunctionIndex(sig); err != nil {
		return ResolvedCall{}, err
	}
	ft, err := MethodType(sig, b.cfg.Pointer64)
	if err != nil {
		return ResolvedCall{}, err
	}
	return ResolvedCall{Method: sig, Type: ft, cfg: b.cfg}, nil
}

func (b *Builder) unresolved(binding index.Binding, sig index.MethodSig) (UnresolvedCall, error) {
	id, err := b.idx.DispatchID(binding, sig)
	if err != nil {
		return UnresolvedCall{}, err
	}
	targets, err := b.idx.ResolutionSet(binding, sig)
	if err != nil {
		return UnresolvedCall{}, err
	}
	ft, err := MethodType(sig, b.cfg.Pointer64)
	if err != nil {
		return UnresolvedCall{}, err
	}
	if sig.Static {
		return UnresolvedCall{}, fmt.Errorf("highlevel: %s call of static method %s", binding, sig)
	}
	for _, t := range targets {
		tt, err := MethodType(t, b.cfg.Pointer64)
		if err != nil {
			return UnresolvedCall{}, err
		}
		if !tt.Equal(ft) {
			return UnresolvedCall{}, fmt.Errorf("highlevel: target %s of %s has signature %s, want %s", t, sig, tt, ft)
		}
	}
	if len(targets) == 0 {
		log.Warningf("%s call of %s has no implementations", binding, sig)
	}
	return UnresolvedCall{
		Binding:      binding,
		Method:       sig,
		ResolutionID: id,
		Targets:      targets,
		Type:         ft,
		cfg:          b.cfg,
	}, nil
}

// InterfaceCall returns a call dispatched through the interface tables.
func (b *Builder) InterfaceCall(sig index.MethodSig) (UnresolvedCall, error) {
	return b.unresolved(index.Interface, sig)
}

// VirtualCall returns a call dispatched through the vtable slot of sig.
func (b *Builder) VirtualCall(sig index.MethodSig) (UnresolvedCall, error) {
	return b.unresolved(index.Virtual, sig)
}

// DynamicCall returns a call of a registered dynamic call site.
func (b *Builder) DynamicCall(site index.MethodSig) (UnresolvedCall, error) {
	return b.unresolved(index.Dynamic, site)
}

// Shuffle returns a stack shuffle over the given types, bottom first.
func (b *Builder) Shuffle(kind ShuffleKind, types ...wasm.ValType) (Shuffle, error) {
	return NewShuffle(kind, b.cfg, types...)
}

// Table returns the function table names in index order, for
// wasm.Engine.SetTable and wasm.Module.Table.
func (b *Builder) Table() []string {
	fns := b.idx.FunctionTable()
	names := make([]string, len(fns))
	for i, m := range fns {
		names[i] = m.FuncName()
	}
	return names
}
