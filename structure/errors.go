package structure

import (
	"errors"
	"fmt"

	"github.com/chazu/jvmwasm/wasm"
)

var (
	// ErrIterationLimit is returned when the reduction loop runs more
	// than Options.MaxIterations times.
	ErrIterationLimit = errors.New("structure: iteration limit reached")

	// ErrInvalidGraph is returned for an empty graph or a successor index
	// outside the node list.
	ErrInvalidGraph = errors.New("structure: invalid graph")

	errTerminal = errors.New("code never reaches the successor")
)

// StackMismatchError reports operand stacks that do not line up. To is -1
// when the code of From does not produce its declared output; otherwise
// From's output differs from To's input.
type StackMismatchError struct {
	From, To int
	Got      []wasm.ValType
	Want     []wasm.ValType
	Err      error
}

func (e *StackMismatchError) Error() string {
	if e.To < 0 {
		if e.Err != nil {
			return fmt.Sprintf("structure: node %d: %v", e.From, e.Err)
		}
		return fmt.Sprintf("structure: node %d ends with %v, declares %v", e.From, e.Got, e.Want)
	}
	return fmt.Sprintf("structure: edge %d -> %d carries %v, successor takes %v", e.From, e.To, e.Got, e.Want)
}

func (e *StackMismatchError) Unwrap() error { return e.Err }

// IsStackMismatch reports whether err wraps a StackMismatchError.
func IsStackMismatch(err error) bool {
	var se *StackMismatchError
	return errors.As(err, &se)
}

// IrreducibleError reports a cycle with more than one entry. Nodes lists
// the nodes of the cycle.
type IrreducibleError struct {
	Nodes []int
}

func (e *IrreducibleError) Error() string {
	return fmt.Sprintf("structure: irreducible control flow through nodes %v", e.Nodes)
}

// IsIrreducible reports whether err wraps an IrreducibleError.
func IsIrreducible(err error) bool {
	var ie *IrreducibleError
	return errors.As(err, &ie)
}
