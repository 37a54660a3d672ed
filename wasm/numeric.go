package wasm

import (
	"fmt"
	"math"
)

// FloatCompare orders a and b as -1, 0 or 1. If either operand is NaN the
// comparison is unordered and ifNaN is returned instead. The "g" and "l"
// variants of the source machine's float compare pass +1 and -1.
func FloatCompare(a, b float64, ifNaN int32) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return ifNaN
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolValue(b bool) Value {
	if b {
		return I32Value(1)
	}
	return I32Value(0)
}

// truncSat converts like the saturating truncation instructions: NaN
// becomes 0 and out-of-range values clamp to the integer limits.
func truncSat(f float64, lo, hi float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= lo:
		return lo
	case f >= hi:
		return hi
	}
	return math.Trunc(f)
}

// eval computes a unary, binary, compare or convert operation. args are
// ordered bottom first.
func eval(op Op, args []Value) (Value, error) {
	info := op.Info()
	if len(args) != len(info.Pop) {
		return Value{}, fmt.Errorf("wasm: %s takes %d operands, got %d", op, len(info.Pop), len(args))
	}
	for i, t := range info.Pop {
		if args[i].Type != t {
			return Value{}, fmt.Errorf("%w: %s operand %d is %s, want %s", ErrTypeMismatch, op, i, args[i].Type, t)
		}
	}
	if len(args) == 1 {
		return evalUnary(op, args[0])
	}
	return evalBinary(op, args[0], args[1])
}

func evalUnary(op Op, a Value) (Value, error) {
	switch op {
	case OpI32Eqz:
		return boolValue(a.I32() == 0), nil
	case OpI64Eqz:
		return boolValue(a.I64() == 0), nil

	case OpF32Abs:
		return Value{Type: F32, Bits: a.Bits &^ (1 << 31)}, nil
	case OpF32Neg:
		return Value{Type: F32, Bits: a.Bits ^ (1 << 31)}, nil
	case OpF32Ceil:
		return F32Value(float32(math.Ceil(float64(a.F32())))), nil
	case OpF32Floor:
		return F32Value(float32(math.Floor(float64(a.F32())))), nil
	case OpF32Sqrt:
		return F32Value(float32(math.Sqrt(float64(a.F32())))), nil
	case OpF64Abs:
		return Value{Type: F64, Bits: a.Bits &^ (1 << 63)}, nil
	case OpF64Neg:
		return Value{Type: F64, Bits: a.Bits ^ (1 << 63)}, nil
	case OpF64Ceil:
		return F64Value(math.Ceil(a.F64())), nil
	case OpF64Floor:
		return F64Value(math.Floor(a.F64())), nil
	case OpF64Sqrt:
		return F64Value(math.Sqrt(a.F64())), nil

	case OpI32WrapI64:
		return I32Value(int32(a.I64())), nil
	case OpI64ExtendI32S:
		return I64Value(int64(a.I32())), nil
	case OpI64ExtendI32U:
		return I64Value(int64(uint32(a.I32()))), nil
	case OpF32ConvertI32S:
		return F32Value(float32(a.I32())), nil
	case OpF32ConvertI64S:
		return F32Value(float32(a.I64())), nil
	case OpF64ConvertI32S:
		return F64Value(float64(a.I32())), nil
	case OpF64ConvertI64S:
		return F64Value(float64(a.I64())), nil
	case OpF32DemoteF64:
		return F32Value(float32(a.F64())), nil
	case OpF64PromoteF32:
		return F64Value(float64(a.F32())), nil
	case OpI32TruncSatF32S:
		return I32Value(int32(truncSat(float64(a.F32()), math.MinInt32, math.MaxInt32))), nil
	case OpI32TruncSatF64S:
		return I32Value(int32(truncSat(a.F64(), math.MinInt32, math.MaxInt32))), nil
	case OpI64TruncSatF32S:
		return I64Value(truncSat64(float64(a.F32()))), nil
	case OpI64TruncSatF64S:
		return I64Value(truncSat64(a.F64())), nil
	case OpI32ReinterpretF32:
		return Value{Type: I32, Bits: a.Bits}, nil
	case OpI64ReinterpretF64:
		return Value{Type: I64, Bits: a.Bits}, nil
	case OpF32ReinterpretI32:
		return Value{Type: F32, Bits: a.Bits}, nil
	case OpF64ReinterpretI64:
		return Value{Type: F64, Bits: a.Bits}, nil
	case OpI32Extend8S:
		return I32Value(int32(int8(a.I32()))), nil
	case OpI32Extend16S:
		return I32Value(int32(int16(a.I32()))), nil
	}
	return Value{}, fmt.Errorf("wasm: %s is not a unary operation", op)
}

// truncSat64 handles the i64 bounds, which float64 cannot represent
// exactly at the top end.
func truncSat64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= 9223372036854775807.0:
		return math.MaxInt64
	case f <= -9223372036854775808.0:
		return math.MinInt64
	}
	return int64(f)
}

func evalBinary(op Op, a, b Value) (Value, error) {
	switch op {
	// i32
	case OpI32Eq:
		return boolValue(a.I32() == b.I32()), nil
	case OpI32Ne:
		return boolValue(a.I32() != b.I32()), nil
	case OpI32LtS:
		return boolValue(a.I32() < b.I32()), nil
	case OpI32LtU:
		return boolValue(uint32(a.I32()) < uint32(b.I32())), nil
	case OpI32GtS:
		return boolValue(a.I32() > b.I32()), nil
	case OpI32GtU:
		return boolValue(uint32(a.I32()) > uint32(b.I32())), nil
	case OpI32LeS:
		return boolValue(a.I32() <= b.I32()), nil
	case OpI32LeU:
		return boolValue(uint32(a.I32()) <= uint32(b.I32())), nil
	case OpI32GeS:
		return boolValue(a.I32() >= b.I32()), nil
	case OpI32GeU:
		return boolValue(uint32(a.I32()) >= uint32(b.I32())), nil
	case OpI32Add:
		return I32Value(a.I32() + b.I32()), nil
	case OpI32Sub:
		return I32Value(a.I32() - b.I32()), nil
	case OpI32Mul:
		return I32Value(a.I32() * b.I32()), nil
	case OpI32DivS:
		if b.I32() == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			return Value{}, trapf("integer overflow")
		}
		return I32Value(a.I32() / b.I32()), nil
	case OpI32DivU:
		if b.I32() == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		return I32Value(int32(uint32(a.I32()) / uint32(b.I32()))), nil
	case OpI32RemS:
		if b.I32() == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		if b.I32() == -1 {
			return I32Value(0), nil
		}
		return I32Value(a.I32() % b.I32()), nil
	case OpI32RemU:
		if b.I32() == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		return I32Value(int32(uint32(a.I32()) % uint32(b.I32()))), nil
	case OpI32And:
		return I32Value(a.I32() & b.I32()), nil
	case OpI32Or:
		return I32Value(a.I32() | b.I32()), nil
	case OpI32Xor:
		return I32Value(a.I32() ^ b.I32()), nil
	case OpI32Shl:
		return I32Value(a.I32() << (uint32(b.I32()) & 31)), nil
	case OpI32ShrS:
		return I32Value(a.I32() >> (uint32(b.I32()) & 31)), nil
	case OpI32ShrU:
		return I32Value(int32(uint32(a.I32()) >> (uint32(b.I32()) & 31))), nil

	// i64
	case OpI64Eq:
		return boolValue(a.I64() == b.I64()), nil
	case OpI64Ne:
		return boolValue(a.I64() != b.I64()), nil
	case OpI64LtS:
		return boolValue(a.I64() < b.I64()), nil
	case OpI64LtU:
		return boolValue(a.Bits < b.Bits), nil
	case OpI64GtS:
		return boolValue(a.I64() > b.I64()), nil
	case OpI64GtU:
		return boolValue(a.Bits > b.Bits), nil
	case OpI64LeS:
		return boolValue(a.I64() <= b.I64()), nil
	case OpI64LeU:
		return boolValue(a.Bits <= b.Bits), nil
	case OpI64GeS:
		return boolValue(a.I64() >= b.I64()), nil
	case OpI64GeU:
		return boolValue(a.Bits >= b.Bits), nil
	case OpI64Add:
		return I64Value(a.I64() + b.I64()), nil
	case OpI64Sub:
		return I64Value(a.I64() - b.I64()), nil
	case OpI64Mul:
		return I64Value(a.I64() * b.I64()), nil
	case OpI64DivS:
		if b.I64() == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			return Value{}, trapf("integer overflow")
		}
		return I64Value(a.I64() / b.I64()), nil
	case OpI64DivU:
		if b.Bits == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		return I64Value(int64(a.Bits / b.Bits)), nil
	case OpI64RemS:
		if b.I64() == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		if b.I64() == -1 {
			return I64Value(0), nil
		}
		return I64Value(a.I64() % b.I64()), nil
	case OpI64RemU:
		if b.Bits == 0 {
			return Value{}, trapf("integer divide by zero")
		}
		return I64Value(int64(a.Bits % b.Bits)), nil
	case OpI64And:
		return I64Value(a.I64() & b.I64()), nil
	case OpI64Or:
		return I64Value(a.I64() | b.I64()), nil
	case OpI64Xor:
		return I64Value(a.I64() ^ b.I64()), nil
	case OpI64Shl:
		return I64Value(a.I64() << (b.Bits & 63)), nil
	case OpI64ShrS:
		return I64Value(a.I64() >> (b.Bits & 63)), nil
	case OpI64ShrU:
		return I64Value(int64(a.Bits >> (b.Bits & 63))), nil

	// f32
	case OpF32Eq:
		return boolValue(a.F32() == b.F32()), nil
	case OpF32Ne:
		return boolValue(a.F32() != b.F32()), nil
	case OpF32Lt:
		return boolValue(a.F32() < b.F32()), nil
	case OpF32Gt:
		return boolValue(a.F32() > b.F32()), nil
	case OpF32Le:
		return boolValue(a.F32() <= b.F32()), nil
	case OpF32Ge:
		return boolValue(a.F32() >= b.F32()), nil
	case OpF32Add:
		return F32Value(a.F32() + b.F32()), nil
	case OpF32Sub:
		return F32Value(a.F32() - b.F32()), nil
	case OpF32Mul:
		return F32Value(a.F32() * b.F32()), nil
	case OpF32Div:
		return F32Value(a.F32() / b.F32()), nil

	// f64
	case OpF64Eq:
		return boolValue(a.F64() == b.F64()), nil
	case OpF64Ne:
		return boolValue(a.F64() != b.F64()), nil
	case OpF64Lt:
		return boolValue(a.F64() < b.F64()), nil
	case OpF64Gt:
		return boolValue(a.F64() > b.F64()), nil
	case OpF64Le:
		return boolValue(a.F64() <= b.F64()), nil
	case OpF64Ge:
		return boolValue(a.F64() >= b.F64()), nil
	case OpF64Add:
		return F64Value(a.F64() + b.F64()), nil
	case OpF64Sub:
		return F64Value(a.F64() - b.F64()), nil
	case OpF64Mul:
		return F64Value(a.F64() * b.F64()), nil
	case OpF64Div:
		return F64Value(a.F64() / b.F64()), nil
	}
	return Value{}, fmt.Errorf("wasm: %s is not a binary operation", op)
}
