// Package wasm implements the low-level target of the compiler: a typed
// stack-machine instruction set over a single growable linear memory, an
// interpreter for it, and text and binary writers.
//
// High-level instructions from other packages plug into the same Engine by
// implementing Instruction, and expand into low-level ones through Lower.
package wasm

import (
	"fmt"
	"math"
	"strings"
)

// ValType is the type of an operand stack value.
type ValType uint8

const (
	I32 ValType = iota + 1
	I64
	F32
	F64
)

func (t ValType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseValType parses "i32", "i64", "f32" or "f64".
func ParseValType(s string) (ValType, error) {
	switch s {
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	}
	return 0, fmt.Errorf("wasm: unknown value type %q", s)
}

// PointerType returns the value type used for addresses.
func PointerType(pointer64 bool) ValType {
	if pointer64 {
		return I64
	}
	return I32
}

// TypesEqual reports whether two type lists are identical.
func TypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeList(ts []ValType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (ft FuncType) Equal(other FuncType) bool {
	return TypesEqual(ft.Params, other.Params) && TypesEqual(ft.Results, other.Results)
}

func (ft FuncType) String() string {
	return "(" + typeList(ft.Params) + ") -> (" + typeList(ft.Results) + ")"
}

// Key returns a short identifier usable as a type name, e.g. "fi32i32_i64".
func (ft FuncType) Key() string {
	var sb strings.Builder
	sb.WriteByte('f')
	for _, p := range ft.Params {
		sb.WriteString(p.String())
	}
	sb.WriteByte('_')
	for _, r := range ft.Results {
		sb.WriteString(r.String())
	}
	return sb.String()
}

// Value is a typed operand stack value. Bits holds the raw representation:
// sign-extended integers, IEEE bits for floats.
type Value struct {
	Type ValType
	Bits uint64
}

// I32Value returns an i32 value.
func I32Value(v int32) Value { return Value{Type: I32, Bits: uint64(uint32(v))} }

// I64Value returns an i64 value.
func I64Value(v int64) Value { return Value{Type: I64, Bits: uint64(v)} }

// F32Value returns an f32 value.
func F32Value(v float32) Value { return Value{Type: F32, Bits: uint64(math.Float32bits(v))} }

// F64Value returns an f64 value.
func F64Value(v float64) Value { return Value{Type: F64, Bits: math.Float64bits(v)} }

// ZeroValue returns the zero value of a type.
func ZeroValue(t ValType) Value { return Value{Type: t} }

// AddressValue returns an address as a pointer-typed value.
func AddressValue(addr uint64, pointer64 bool) Value {
	if pointer64 {
		return I64Value(int64(addr))
	}
	return I32Value(int32(uint32(addr)))
}

func (v Value) I32() int32   { return int32(uint32(v.Bits)) }
func (v Value) I64() int64   { return int64(v.Bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.Bits) }

// Address interprets an i32 or i64 value as an unsigned memory address.
func (v Value) Address() (uint64, error) {
	switch v.Type {
	case I32:
		return uint64(uint32(v.Bits)), nil
	case I64:
		return v.Bits, nil
	}
	return 0, fmt.Errorf("%w: %s used as address", ErrTypeMismatch, v.Type)
}

func (v Value) String() string {
	switch v.Type {
	case I32:
		return fmt.Sprintf("i32:%d", v.I32())
	case I64:
		return fmt.Sprintf("i64:%d", v.I64())
	case F32:
		return fmt.Sprintf("f32:%g", v.F32())
	case F64:
		return fmt.Sprintf("f64:%g", v.F64())
	}
	return fmt.Sprintf("?:%#x", v.Bits)
}

// SignalKind distinguishes the ways control leaves an instruction.
type SignalKind uint8

const (
	SignalContinue SignalKind = iota
	SignalReturn
	SignalBranch
)

// Signal is the control result of executing an instruction. Continue falls
// through to the next instruction; Return unwinds to the enclosing function;
// Branch unwinds to the enclosing block carrying Label.
type Signal struct {
	Kind  SignalKind
	Label string
}

var (
	Continue = Signal{Kind: SignalContinue}
	Return   = Signal{Kind: SignalReturn}
)

// Branch returns a signal targeting the block labeled label.
func Branch(label string) Signal {
	return Signal{Kind: SignalBranch, Label: label}
}

func (s Signal) String() string {
	switch s.Kind {
	case SignalContinue:
		return "continue"
	case SignalReturn:
		return "return"
	case SignalBranch:
		return "branch " + s.Label
	}
	return "signal?"
}

// Local is a named, typed function local.
type Local struct {
	Name string  `cbor:"1,keyasint"`
	Type ValType `cbor:"2,keyasint"`
}

// Function is a function defined in the module.
type Function struct {
	Name    string
	Params  []ValType
	Results []ValType
	Locals  []Local
	Body    []Instruction
	Export  bool
}

// Type returns the function's signature.
func (f *Function) Type() FuncType {
	return FuncType{Params: f.Params, Results: f.Results}
}

// HostFunc is a function implemented by the embedder. Impl receives the
// arguments bottom first and returns the results bottom first.
type HostFunc struct {
	Name string
	Type FuncType
	Impl func(e *Engine, args []Value) ([]Value, error)
}
