// Package highlevel provides the instructions a front end emits before
// memory layout and dispatch are spelled out: field accesses, resolved and
// unresolved calls, and operand stack shuffles.
//
// Every instruction can run directly on a wasm.Engine and can lower itself
// into plain wasm instructions. Both paths have the same effect on the
// stack and on memory.
package highlevel

import (
	"fmt"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jvmwasm.highlevel")

// Config controls how instructions lower. It is passed explicitly to
// every constructor.
type Config struct {
	// FieldCalls routes field accesses through helper functions instead of
	// inline address arithmetic.
	FieldCalls bool

	// Pointer64 selects i64 addresses.
	Pointer64 bool

	// StackPushID, when not negative, wraps every call in
	// stackPush(StackPushID) and stackPop().
	StackPushID int

	// ExportHelpers exports the helper functions from the module.
	ExportHelpers bool
}

// DefaultConfig returns inline field access, 32-bit pointers and no
// stack tracing.
func DefaultConfig() Config {
	return Config{StackPushID: -1}
}

// Ptr returns the address type.
func (c Config) Ptr() wasm.ValType {
	return wasm.PointerType(c.Pointer64)
}

func (c Config) ptrConst(v int) wasm.Const {
	return wasm.PtrConst(uint64(v), c.Pointer64)
}

func (c Config) ptrAdd() wasm.Op {
	if c.Pointer64 {
		return wasm.OpI64Add
	}
	return wasm.OpI32Add
}

func (c Config) tracing() bool {
	return c.StackPushID >= 0
}

func (c Config) builtin(name string) wasm.Call {
	ft, ok := wasm.BuiltinType(name, c.Pointer64)
	if !ok {
		panic("highlevel: missing builtin " + name)
	}
	return wasm.Call{Name: name, Type: ft}
}

// ValType maps a storage kind to its operand stack type. Sub-word kinds
// widen to i32; references are pointer-sized.
func ValType(k index.Kind, pointer64 bool) (wasm.ValType, error) {
	switch k {
	case index.KindBoolean, index.KindByte, index.KindChar, index.KindShort, index.KindInt:
		return wasm.I32, nil
	case index.KindLong:
		return wasm.I64, nil
	case index.KindFloat:
		return wasm.F32, nil
	case index.KindDouble:
		return wasm.F64, nil
	case index.KindRef:
		return wasm.PointerType(pointer64), nil
	}
	return 0, fmt.Errorf("highlevel: %s has no stack type", k)
}

// MethodType returns the wasm signature of a method's implementation. Instance
// methods take the receiver as their first parameter.
func MethodType(m index.MethodSig, pointer64 bool) (wasm.FuncType, error) {
	params, result, err := index.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return wasm.FuncType{}, err
	}
	var ft wasm.FuncType
	if !m.Static {
		ft.Params = append(ft.Params, wasm.PointerType(pointer64))
	}
	for _, k := range params {
		t, err := ValType(k, pointer64)
		if err != nil {
			return wasm.FuncType{}, fmt.Errorf("%s: %w", m, err)
		}
		ft.Params = append(ft.Params, t)
	}
	if result != index.KindVoid {
		t, err := ValType(result, pointer64)
		if err != nil {
			return wasm.FuncType{}, fmt.Errorf("%s: %w", m, err)
		}
		ft.Results = []wasm.ValType{t}
	}
	return ft, nil
}

// access describes how one storage kind is read and written.
type access struct {
	typ      wasm.ValType
	load     wasm.Op
	store    wasm.Op
	loadSfx  string
	storeSfx string
}

func accessFor(k index.Kind, pointer64 bool) (access, error) {
	switch k {
	case index.KindBoolean, index.KindByte:
		return access{wasm.I32, wasm.OpI32Load8S, wasm.OpI32Store8, "S8", "I8"}, nil
	case index.KindShort:
		return access{wasm.I32, wasm.OpI32Load16S, wasm.OpI32Store16, "S16", "I16"}, nil
	case index.KindChar:
		return access{wasm.I32, wasm.OpI32Load16U, wasm.OpI32Store16, "U16", "I16"}, nil
	case index.KindInt:
		return access{wasm.I32, wasm.OpI32Load, wasm.OpI32Store, "I32", "I32"}, nil
	case index.KindLong:
		return access{wasm.I64, wasm.OpI64Load, wasm.OpI64Store, "I64", "I64"}, nil
	case index.KindFloat:
		return access{wasm.F32, wasm.OpF32Load, wasm.OpF32Store, "F32", "F32"}, nil
	case index.KindDouble:
		return access{wasm.F64, wasm.OpF64Load, wasm.OpF64Store, "F64", "F64"}, nil
	case index.KindRef:
		if pointer64 {
			return accessFor(index.KindLong, true)
		}
		return accessFor(index.KindInt, false)
	}
	return access{}, fmt.Errorf("highlevel: no field access for kind %s", k)
}

// allAccesses lists the distinct accesses in helper order.
func allAccesses() []access {
	var out []access
	for _, k := range []index.Kind{index.KindByte, index.KindShort, index.KindChar, index.KindInt, index.KindLong, index.KindFloat, index.KindDouble} {
		a, _ := accessFor(k, false)
		out = append(out, a)
	}
	return out
}

// Must returns ins, panicking if err is set. Use it where an unknown
// signature means the program being translated is inconsistent.
func Must[T wasm.Instruction](ins T, err error) T {
	if err != nil {
		panic(err)
	}
	return ins
}
