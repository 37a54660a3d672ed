package highlevel

import (
	"fmt"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

// FieldGet reads a field. Instance fields pop the object address; static
// fields read from the class's static block.
//
// Stack: [self] -> [value], or [] -> [value] when static.
type FieldGet struct {
	Field index.FieldSig
	// Offset is the field offset within the object, or the absolute
	// address for static fields.
	Offset int
	acc    access
	cfg    Config
}

// Address returns the memory address of the field in the object at self.
// self is ignored for static fields.
func (f FieldGet) Address(self uint64) uint64 {
	if f.Field.Static {
		return uint64(f.Offset)
	}
	return self + uint64(f.Offset)
}

func (f FieldGet) Execute(e *wasm.Engine) (wasm.Signal, error) {
	var self uint64
	if !f.Field.Static {
		var err error
		if self, err = e.PopAddress(); err != nil {
			return wasm.Continue, err
		}
	}
	v, err := e.Memory().LoadValue(f.acc.load, f.Address(self))
	if err != nil {
		return wasm.Continue, err
	}
	e.Push(v)
	return wasm.Continue, nil
}

func (f FieldGet) Lower() []wasm.Instruction {
	switch {
	case f.cfg.FieldCalls && f.Field.Static:
		return []wasm.Instruction{f.cfg.ptrConst(f.Offset), f.helper("getStaticField")}
	case f.cfg.FieldCalls:
		return []wasm.Instruction{wasm.I32Const(int32(f.Offset)), f.helper("getField")}
	case f.Field.Static:
		return []wasm.Instruction{f.cfg.ptrConst(f.Offset), f.acc.load}
	}
	return []wasm.Instruction{f.cfg.ptrConst(f.Offset), f.cfg.ptrAdd(), f.acc.load}
}

// Op returns the load instruction used for the field's storage kind.
func (f FieldGet) Op() wasm.Op { return f.acc.load }

func (f FieldGet) helper(prefix string) wasm.Call {
	fn := getHelper(prefix, f.acc, f.cfg)
	return wasm.Call{Name: fn.Name, Type: fn.Type()}
}

func (f FieldGet) StackEffect() (pop, push []wasm.ValType) {
	if !f.Field.Static {
		pop = []wasm.ValType{f.cfg.Ptr()}
	}
	return pop, []wasm.ValType{f.acc.typ}
}

func (f FieldGet) String() string {
	return fmt.Sprintf("getfield %s @%d", f.Field, f.Offset)
}

// FieldSet writes a field. Without Reversed the stack holds [self, value];
// with Reversed it holds [value, self]. Static fields take only [value].
type FieldSet struct {
	Field    index.FieldSig
	Offset   int
	Reversed bool
	acc      access
	cfg      Config
}

// Address returns the memory address of the field in the object at self.
func (f FieldSet) Address(self uint64) uint64 {
	if f.Field.Static {
		return uint64(f.Offset)
	}
	return self + uint64(f.Offset)
}

func (f FieldSet) Execute(e *wasm.Engine) (wasm.Signal, error) {
	var (
		self  uint64
		value wasm.Value
		err   error
	)
	switch {
	case f.Field.Static:
		value, err = e.PopType(f.acc.typ)
	case f.Reversed:
		if self, err = e.PopAddress(); err == nil {
			value, err = e.PopType(f.acc.typ)
		}
	default:
		if value, err = e.PopType(f.acc.typ); err == nil {
			self, err = e.PopAddress()
		}
	}
	if err != nil {
		return wasm.Continue, err
	}
	return wasm.Continue, e.Memory().StoreValue(f.acc.store, f.Address(self), value)
}

func (f FieldSet) Lower() []wasm.Instruction {
	ptr := f.cfg.Ptr()
	if f.cfg.FieldCalls {
		var fn *wasm.Function
		switch {
		case f.Field.Static:
			fn = setHelper("setStaticField", f.acc, f.cfg)
			return []wasm.Instruction{f.cfg.ptrConst(f.Offset), wasm.Call{Name: fn.Name, Type: fn.Type()}}
		case f.Reversed:
			fn = setHelper("setFieldVIO", f.acc, f.cfg)
		default:
			fn = setHelper("setField", f.acc, f.cfg)
		}
		return []wasm.Instruction{wasm.I32Const(int32(f.Offset)), wasm.Call{Name: fn.Name, Type: fn.Type()}}
	}
	switch {
	case f.Field.Static:
		return []wasm.Instruction{
			f.cfg.ptrConst(f.Offset),
			swapCall(f.acc.typ, ptr),
			f.acc.store,
		}
	case f.Reversed:
		return []wasm.Instruction{
			f.cfg.ptrConst(f.Offset),
			f.cfg.ptrAdd(),
			swapCall(f.acc.typ, ptr),
			f.acc.store,
		}
	}
	return []wasm.Instruction{
		swapCall(ptr, f.acc.typ),
		f.cfg.ptrConst(f.Offset),
		f.cfg.ptrAdd(),
		swapCall(f.acc.typ, ptr),
		f.acc.store,
	}
}

// Op returns the store instruction used for the field's storage kind.
func (f FieldSet) Op() wasm.Op { return f.acc.store }

func (f FieldSet) StackEffect() (pop, push []wasm.ValType) {
	switch {
	case f.Field.Static:
		return []wasm.ValType{f.acc.typ}, nil
	case f.Reversed:
		return []wasm.ValType{f.acc.typ, f.cfg.Ptr()}, nil
	}
	return []wasm.ValType{f.cfg.Ptr(), f.acc.typ}, nil
}

func (f FieldSet) String() string {
	if f.Reversed {
		return fmt.Sprintf("putfield.vio %s @%d", f.Field, f.Offset)
	}
	return fmt.Sprintf("putfield %s @%d", f.Field, f.Offset)
}
