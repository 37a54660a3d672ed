// Package expr rebuilds statement trees with nested expressions from
// stack-oriented wasm code, and emits them as Go source.
package expr

import (
	"fmt"
	"strings"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jvmwasm.expr")

// Expr is a side-effect free value.
type Expr interface {
	Type() wasm.ValType
	String() string
	expr()
}

// Statement is an element of a reconstructed body.
type Statement interface {
	String() string
	stmt()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Const is a literal.
type Const struct {
	Value wasm.Value
}

func (e *Const) Type() wasm.ValType { return e.Value.Type }
func (e *Const) expr()              {}

func (e *Const) String() string {
	s := e.Value.String()
	return s[strings.IndexByte(s, ':')+1:]
}

// Var reads a parameter, local, temporary or global.
type Var struct {
	Name   string
	VType  wasm.ValType
	Global bool
}

func (e *Var) Type() wasm.ValType { return e.VType }
func (e *Var) expr()              {}

func (e *Var) String() string {
	if e.Global {
		return "$" + e.Name
	}
	return e.Name
}

// Binary applies a two-operand operation. Op is the original instruction.
type Binary struct {
	Op   wasm.Op
	X, Y Expr
}

func (e *Binary) Type() wasm.ValType { return e.Op.Info().Push[0] }
func (e *Binary) expr()              {}

func (e *Binary) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Op, e.X, e.Y)
}

// Unary applies a one-operand operation or conversion.
type Unary struct {
	Op wasm.Op
	X  Expr
}

func (e *Unary) Type() wasm.ValType { return e.Op.Info().Push[0] }
func (e *Unary) expr()              {}

func (e *Unary) String() string {
	return fmt.Sprintf("%s(%s)", e.Op, e.X)
}

// Call is a call of a function known to be pure, inlined into the
// expression that uses its single result.
type Call struct {
	Func   string
	Args   []Expr
	Result wasm.ValType
}

func (e *Call) Type() wasm.ValType { return e.Result }
func (e *Call) expr()              {}

func (e *Call) String() string {
	return e.Func + "(" + joinExprs(e.Args) + ")"
}

// FieldGet reads a field with the load Op. Self is nil for static fields,
// whose Offset is an absolute address.
type FieldGet struct {
	Field  index.FieldSig
	Offset int
	Op     wasm.Op
	Self   Expr
	VType  wasm.ValType
}

func (e *FieldGet) Type() wasm.ValType { return e.VType }
func (e *FieldGet) expr()              {}

func (e *FieldGet) String() string {
	if e.Self == nil {
		return e.Field.Class + "." + e.Field.Name
	}
	return e.Self.String() + "." + e.Field.Name
}

// Load reads memory.
type Load struct {
	Op   wasm.Op
	Addr Expr
}

func (e *Load) Type() wasm.ValType { return e.Op.Info().Push[0] }
func (e *Load) expr()              {}

func (e *Load) String() string {
	return fmt.Sprintf("%s[%s]", e.Op, e.Addr)
}

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// sameExpr reports whether a and b denote the same value. Variables and
// constants compare structurally, everything else by identity.
func sameExpr(a, b Expr) bool {
	switch a := a.(type) {
	case *Var:
		bv, ok := b.(*Var)
		return ok && *a == *bv
	case *Const:
		bc, ok := b.(*Const)
		return ok && *a == *bc
	}
	return a == b
}

// walkVars calls fn for every variable read by e.
func walkVars(e Expr, fn func(*Var)) {
	switch e := e.(type) {
	case *Var:
		fn(e)
	case *Binary:
		walkVars(e.X, fn)
		walkVars(e.Y, fn)
	case *Unary:
		walkVars(e.X, fn)
	case *Call:
		for _, a := range e.Args {
			walkVars(a, fn)
		}
	case *FieldGet:
		if e.Self != nil {
			walkVars(e.Self, fn)
		}
	case *Load:
		walkVars(e.Addr, fn)
	}
}

func readsVar(e Expr, pred func(*Var) bool) bool {
	found := false
	walkVars(e, func(v *Var) {
		if pred(v) {
			found = true
		}
	})
	return found
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Declaration introduces a variable. A nil Init declares the zero value.
type Declaration struct {
	Name  string
	VType wasm.ValType
	Init  Expr
}

func (s *Declaration) stmt() {}

func (s *Declaration) String() string {
	if s.Init == nil {
		return fmt.Sprintf("var %s %s", s.Name, s.VType)
	}
	return fmt.Sprintf("var %s %s = %s", s.Name, s.VType, s.Init)
}

// Assignment writes a parameter, local or global.
type Assignment struct {
	Name   string
	Global bool
	Value  Expr
}

func (s *Assignment) stmt() {}

func (s *Assignment) String() string {
	if s.Global {
		return fmt.Sprintf("$%s = %s", s.Name, s.Value)
	}
	return fmt.Sprintf("%s = %s", s.Name, s.Value)
}

// FieldAssignment writes a field with the store Op. Self is nil for static
// fields.
type FieldAssignment struct {
	Field  index.FieldSig
	Offset int
	Op     wasm.Op
	Self   Expr
	Value  Expr
}

func (s *FieldAssignment) stmt() {}

func (s *FieldAssignment) String() string {
	if s.Self == nil {
		return fmt.Sprintf("%s.%s = %s", s.Field.Class, s.Field.Name, s.Value)
	}
	return fmt.Sprintf("%s.%s = %s", s.Self, s.Field.Name, s.Value)
}

// Store writes memory.
type Store struct {
	Op    wasm.Op
	Addr  Expr
	Value Expr
}

func (s *Store) stmt() {}

func (s *Store) String() string {
	return fmt.Sprintf("%s[%s] = %s", s.Op, s.Addr, s.Value)
}

// ExprCall is a call without results. Index is set for indirect calls and
// selects the function table entry.
type ExprCall struct {
	Func  string
	Index Expr
	Type  wasm.FuncType
	Args  []Expr
}

func (s *ExprCall) stmt() {}

func (s *ExprCall) String() string {
	return callString(s.Func, s.Index, s.Args)
}

func callString(fn string, idx Expr, args []Expr) string {
	if idx != nil {
		return fmt.Sprintf("table[%s](%s)", idx, joinExprs(args))
	}
	return fn + "(" + joinExprs(args) + ")"
}

// ResultType says what happens to the results of a CallAssignment.
type ResultType uint8

const (
	// AssignResult binds the results to the named variables.
	AssignResult ResultType = iota
	// ReturnType returns the results from the enclosing function.
	ReturnType
)

// CallAssignment is a call whose results are bound to Results, or returned
// directly when ResultType is ReturnType.
type CallAssignment struct {
	Func       string
	Index      Expr
	Type       wasm.FuncType
	Args       []Expr
	Results    []string
	ResultType ResultType
}

func (s *CallAssignment) stmt() {}

func (s *CallAssignment) String() string {
	call := callString(s.Func, s.Index, s.Args)
	if s.ResultType == ReturnType {
		return "return " + call
	}
	return strings.Join(s.Results, ", ") + " := " + call
}

// IfElse runs Then when Cond is non-zero, Else otherwise.
type IfElse struct {
	Cond Expr
	Then []Statement
	Else []Statement
}

func (s *IfElse) stmt() {}

func (s *IfElse) String() string {
	return fmt.Sprintf("if %s { %d } else { %d }", s.Cond, len(s.Then), len(s.Else))
}

// AlwaysReturns reports whether both branches always return.
func (s *IfElse) AlwaysReturns() bool {
	return AlwaysReturns(s.Then) && AlwaysReturns(s.Else)
}

// Loop repeats Body until a Break names it. Continue restarts it.
type Loop struct {
	Label string
	Body  []Statement
}

func (s *Loop) stmt() {}

func (s *Loop) String() string {
	return fmt.Sprintf("%s: loop { %d }", s.Label, len(s.Body))
}

// Continue restarts the loop Label.
type Continue struct {
	Label string
}

func (s *Continue) stmt()          {}
func (s *Continue) String() string { return "continue " + s.Label }

// Break leaves the loop Label.
type Break struct {
	Label string
}

func (s *Break) stmt()          {}
func (s *Break) String() string { return "break " + s.Label }

// Return leaves the function with Values.
type Return struct {
	Values []Expr
}

func (s *Return) stmt() {}

func (s *Return) String() string {
	if len(s.Values) == 0 {
		return "return"
	}
	return "return " + joinExprs(s.Values)
}

// Unreachable traps.
type Unreachable struct{}

func (s *Unreachable) stmt()          {}
func (s *Unreachable) String() string { return "unreachable" }

// AlwaysReturns reports whether control never falls off the end of
// stmts: the list ends in a return, a trap, a returning call, an IfElse
// whose branches both return, or a loop nothing breaks out of.
func AlwaysReturns(stmts []Statement) bool {
	for _, s := range stmts {
		switch s := s.(type) {
		case *Return, *Unreachable:
			return true
		case *CallAssignment:
			if s.ResultType == ReturnType {
				return true
			}
		case *IfElse:
			if s.AlwaysReturns() {
				return true
			}
		case *Loop:
			if !breaks(s.Body, s.Label) {
				return true
			}
		}
	}
	return false
}

// breaks reports whether stmts contain a Break of label.
func breaks(stmts []Statement, label string) bool {
	for _, s := range stmts {
		switch s := s.(type) {
		case *Break:
			if s.Label == label {
				return true
			}
		case *IfElse:
			if breaks(s.Then, label) || breaks(s.Else, label) {
				return true
			}
		case *Loop:
			if breaks(s.Body, label) {
				return true
			}
		}
	}
	return false
}

// Body is a reconstructed function.
type Body struct {
	Name    string
	Params  []wasm.ValType
	Results []wasm.ValType
	Locals  []wasm.Local
	Stmts   []Statement
}

// ParamName returns the variable name of parameter i.
func ParamName(i int) string {
	return fmt.Sprintf("p%d", i)
}

// Format renders the body as indented pseudo code, one statement per line.
func (b *Body) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(", b.Name)
	for i, p := range b.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", ParamName(i), p)
	}
	sb.WriteString(")")
	for _, r := range b.Results {
		sb.WriteString(" " + r.String())
	}
	sb.WriteString(" {\n")
	formatStmts(&sb, b.Stmts, 1)
	sb.WriteString("}\n")
	return sb.String()
}

func formatStmts(sb *strings.Builder, stmts []Statement, depth int) {
	pad := strings.Repeat("  ", depth)
	for _, s := range stmts {
		switch s := s.(type) {
		case *IfElse:
			fmt.Fprintf(sb, "%sif %s {\n", pad, s.Cond)
			formatStmts(sb, s.Then, depth+1)
			if len(s.Else) > 0 {
				sb.WriteString(pad + "} else {\n")
				formatStmts(sb, s.Else, depth+1)
			}
			sb.WriteString(pad + "}\n")
		case *Loop:
			fmt.Fprintf(sb, "%s%s: loop {\n", pad, s.Label)
			formatStmts(sb, s.Body, depth+1)
			sb.WriteString(pad + "}\n")
		default:
			sb.WriteString(pad + s.String() + "\n")
		}
	}
}
