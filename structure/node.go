// Package structure turns control-flow graphs of basic blocks into
// structured code built only from if and loop constructs.
package structure

import (
	"fmt"

	"github.com/chazu/jvmwasm/wasm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jvmwasm.structure")

// Kind says how control leaves a node.
type Kind uint8

const (
	// KindSequence continues at Next.
	KindSequence Kind = iota
	// KindBranch pops the i32 its code pushed last and continues at
	// IfTrue when it is non-zero, IfFalse otherwise.
	KindBranch
	// KindReturn leaves the function.
	KindReturn
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindBranch:
		return "branch"
	case KindReturn:
		return "return"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Node is a basic block. Successors are indices into the node list it
// belongs to; node 0 is the entry.
//
// In is the operand stack on entry and Out the stack on exit, excluding
// the condition of a branch.
type Node struct {
	Code    []wasm.Instruction
	In      []wasm.ValType
	Out     []wasm.ValType
	Kind    Kind
	Next    int
	IfTrue  int
	IfFalse int
}

// Sequence creates a node that continues at next.
func Sequence(code []wasm.Instruction, in, out []wasm.ValType, next int) *Node {
	return &Node{Code: code, In: in, Out: out, Kind: KindSequence, Next: next}
}

// Branch creates a node that branches on the i32 its code leaves on top of
// out.
func Branch(code []wasm.Instruction, in, out []wasm.ValType, ifTrue, ifFalse int) *Node {
	return &Node{Code: code, In: in, Out: out, Kind: KindBranch, IfTrue: ifTrue, IfFalse: ifFalse}
}

// Return creates a node that leaves the function with out on the stack.
func Return(code []wasm.Instruction, in, out []wasm.ValType) *Node {
	return &Node{Code: code, In: in, Out: out, Kind: KindReturn}
}

// Successors returns the nodes control may continue at.
func (n *Node) Successors() []int {
	switch n.Kind {
	case KindSequence:
		return []int{n.Next}
	case KindBranch:
		if n.IfTrue == n.IfFalse {
			return []int{n.IfTrue}
		}
		return []int{n.IfTrue, n.IfFalse}
	}
	return nil
}

func (n *Node) clone() *Node {
	c := *n
	c.Code = append([]wasm.Instruction(nil), n.Code...)
	return &c
}

// redirect replaces successor from by to.
func (n *Node) redirect(from, to int) {
	switch n.Kind {
	case KindSequence:
		if n.Next == from {
			n.Next = to
		}
	case KindBranch:
		if n.IfTrue == from {
			n.IfTrue = to
		}
		if n.IfFalse == from {
			n.IfFalse = to
		}
	}
}

func (n *Node) String() string {
	switch n.Kind {
	case KindSequence:
		return fmt.Sprintf("sequence -> %d, %d instructions", n.Next, len(n.Code))
	case KindBranch:
		return fmt.Sprintf("branch -> %d | %d, %d instructions", n.IfTrue, n.IfFalse, len(n.Code))
	}
	return fmt.Sprintf("return, %d instructions", len(n.Code))
}

// concat joins instruction lists into a fresh slice.
func concat(parts ...[]wasm.Instruction) []wasm.Instruction {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]wasm.Instruction, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
