package wasm

import (
	"errors"
	"fmt"
)

var (
	// ErrStackUnderflow is returned when an instruction pops more values
	// than the current frame holds.
	ErrStackUnderflow = errors.New("wasm: stack underflow")

	// ErrTypeMismatch is returned when an operand has the wrong type.
	ErrTypeMismatch = errors.New("wasm: type mismatch")

	// ErrStackImbalance is returned when a function leaves fewer values
	// on the stack than it declares as results.
	ErrStackImbalance = errors.New("wasm: stack imbalance")

	// ErrNotLowered is returned when an instruction list that must be
	// fully lowered contains a high-level or comment instruction.
	ErrNotLowered = errors.New("wasm: instruction list not lowered")
)

// TrapError is a runtime trap: unreachable code, an out-of-bounds memory
// access, an integer division by zero or a failed indirect call.
type TrapError struct {
	Reason string
}

func (e *TrapError) Error() string {
	return "wasm: trap: " + e.Reason
}

// IsTrap reports whether err wraps a TrapError.
func IsTrap(err error) bool {
	var te *TrapError
	return errors.As(err, &te)
}

func trapf(format string, args ...any) error {
	return &TrapError{Reason: fmt.Sprintf(format, args...)}
}

// UnknownFunctionError reports a call to a function that is neither
// defined in the module nor provided by the host.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("wasm: unknown function %s", e.Name)
}
