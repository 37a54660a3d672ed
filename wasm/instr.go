package wasm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Instruction is anything the Engine can execute. The low-level set is
// Op, Const, LocalGet, LocalSet, ParamGet, GlobalGet, GlobalSet, Call,
// CallIndirect, If, Loop, Jump, JumpIf and Comment.
type Instruction interface {
	Execute(e *Engine) (Signal, error)
	String() string
}

// HighLevel is an instruction that can expand into low-level ones. Lower
// returns only low-level instructions; CheckLowered holds for its result.
type HighLevel interface {
	Instruction
	Lower() []Instruction
}

// StackEffecter is implemented by instructions outside the low-level set
// so that stack shapes can be simulated without lowering them first.
type StackEffecter interface {
	StackEffect() (pop, push []ValType)
}

// Execute runs a plain operation.
func (op Op) Execute(e *Engine) (Signal, error) {
	info := op.Info()
	switch info.Class {
	case ClassControl:
		switch op {
		case OpUnreachable:
			return Continue, trapf("unreachable")
		case OpNop:
			return Continue, nil
		case OpReturn:
			return Return, nil
		case OpDrop:
			_, err := e.Pop()
			return Continue, err
		}
	case ClassLoad:
		addr, err := e.PopAddress()
		if err != nil {
			return Continue, err
		}
		v, err := e.memory.LoadValue(op, addr)
		if err != nil {
			return Continue, err
		}
		e.Push(v)
		return Continue, nil
	case ClassStore:
		v, err := e.PopType(info.Pop[0])
		if err != nil {
			return Continue, err
		}
		addr, err := e.PopAddress()
		if err != nil {
			return Continue, err
		}
		return Continue, e.memory.StoreValue(op, addr, v)
	default:
		args, err := e.popN(len(info.Pop))
		if err != nil {
			return Continue, err
		}
		v, err := eval(op, args)
		if err != nil {
			return Continue, err
		}
		e.Push(v)
		return Continue, nil
	}
	return Continue, fmt.Errorf("wasm: cannot execute %s", op)
}

// Const pushes a constant.
type Const struct {
	Value Value
}

func I32Const(v int32) Const   { return Const{Value: I32Value(v)} }
func I64Const(v int64) Const   { return Const{Value: I64Value(v)} }
func F32Const(v float32) Const { return Const{Value: F32Value(v)} }
func F64Const(v float64) Const { return Const{Value: F64Value(v)} }

// PtrConst pushes an address with the given pointer width.
func PtrConst(addr uint64, pointer64 bool) Const {
	return Const{Value: AddressValue(addr, pointer64)}
}

func (c Const) Execute(e *Engine) (Signal, error) {
	e.Push(c.Value)
	return Continue, nil
}

func (c Const) String() string {
	switch c.Value.Type {
	case I32:
		return "i32.const " + strconv.FormatInt(int64(c.Value.I32()), 10)
	case I64:
		return "i64.const " + strconv.FormatInt(c.Value.I64(), 10)
	case F32:
		return "f32.const " + formatFloat(float64(c.Value.F32()), 32)
	case F64:
		return "f64.const " + formatFloat(c.Value.F64(), 64)
	}
	return "const ?"
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

// LocalGet pushes a function local.
type LocalGet struct {
	Name string
	Type ValType
}

func (i LocalGet) Execute(e *Engine) (Signal, error) {
	fr, err := e.currentFrame()
	if err != nil {
		return Continue, err
	}
	v, ok := fr.locals[i.Name]
	if !ok {
		return Continue, fmt.Errorf("wasm: %s: undeclared local %s", fr.fn.Name, i.Name)
	}
	if v.Type != i.Type {
		return Continue, fmt.Errorf("%w: local %s is %s, read as %s", ErrTypeMismatch, i.Name, v.Type, i.Type)
	}
	e.Push(v)
	return Continue, nil
}

func (i LocalGet) String() string { return "local.get $" + i.Name }

// LocalSet pops into a function local.
type LocalSet struct {
	Name string
	Type ValType
}

func (i LocalSet) Execute(e *Engine) (Signal, error) {
	fr, err := e.currentFrame()
	if err != nil {
		return Continue, err
	}
	old, ok := fr.locals[i.Name]
	if !ok {
		return Continue, fmt.Errorf("wasm: %s: undeclared local %s", fr.fn.Name, i.Name)
	}
	if old.Type != i.Type {
		return Continue, fmt.Errorf("%w: local %s is %s, written as %s", ErrTypeMismatch, i.Name, old.Type, i.Type)
	}
	v, err := e.PopType(i.Type)
	if err != nil {
		return Continue, err
	}
	fr.locals[i.Name] = v
	return Continue, nil
}

func (i LocalSet) String() string { return "local.set $" + i.Name }

// ParamGet pushes a function parameter.
type ParamGet struct {
	Index int
	Type  ValType
}

func (i ParamGet) Execute(e *Engine) (Signal, error) {
	fr, err := e.currentFrame()
	if err != nil {
		return Continue, err
	}
	if i.Index < 0 || i.Index >= len(fr.params) {
		return Continue, fmt.Errorf("wasm: %s has no parameter %d", fr.fn.Name, i.Index)
	}
	v := fr.params[i.Index]
	if v.Type != i.Type {
		return Continue, fmt.Errorf("%w: parameter %d is %s, read as %s", ErrTypeMismatch, i.Index, v.Type, i.Type)
	}
	e.Push(v)
	return Continue, nil
}

func (i ParamGet) String() string { return "local.get " + strconv.Itoa(i.Index) }

// GlobalGet pushes a module global.
type GlobalGet struct {
	Name string
	Type ValType
}

func (i GlobalGet) Execute(e *Engine) (Signal, error) {
	v, ok := e.globals[i.Name]
	if !ok {
		return Continue, fmt.Errorf("wasm: undefined global %s", i.Name)
	}
	if v.Type != i.Type {
		return Continue, fmt.Errorf("%w: global %s is %s, read as %s", ErrTypeMismatch, i.Name, v.Type, i.Type)
	}
	e.Push(v)
	return Continue, nil
}

func (i GlobalGet) String() string { return "global.get $" + i.Name }

// GlobalSet pops into a module global.
type GlobalSet struct {
	Name string
	Type ValType
}

func (i GlobalSet) Execute(e *Engine) (Signal, error) {
	if _, ok := e.globals[i.Name]; !ok {
		return Continue, fmt.Errorf("wasm: undefined global %s", i.Name)
	}
	v, err := e.PopType(i.Type)
	if err != nil {
		return Continue, err
	}
	e.globals[i.Name] = v
	return Continue, nil
}

func (i GlobalSet) String() string { return "global.set $" + i.Name }

// Call calls a function by name. Type is the callee's declared signature.
type Call struct {
	Name string
	Type FuncType
}

func (i Call) Execute(e *Engine) (Signal, error) {
	return Continue, e.invoke(i.Name, &i.Type)
}

func (i Call) String() string { return "call $" + i.Name }

// CallIndirect pops a function table index and calls the function found
// there, which must have signature Type. Options lists the functions the
// index may resolve to; it is carried for table compaction and not checked
// at run time.
type CallIndirect struct {
	Type    FuncType
	Options []string
}

func (i CallIndirect) Execute(e *Engine) (Signal, error) {
	idx, err := e.PopType(I32)
	if err != nil {
		return Continue, err
	}
	name, err := e.tableEntry(idx.I32())
	if err != nil {
		return Continue, err
	}
	callee, ok := e.funcType(name)
	if !ok {
		log.Warningf("indirect call to missing function %s", name)
		return Continue, &UnknownFunctionError{Name: name}
	}
	if !callee.Equal(i.Type) {
		return Continue, trapf("indirect call type mismatch: %s is %s, expected %s", name, callee, i.Type)
	}
	return Continue, e.invoke(name, nil)
}

func (i CallIndirect) String() string { return "call_indirect (type $" + i.Type.Key() + ")" }

// If pops an i32 condition and runs Then when it is non-zero, Else
// otherwise. Both branches share the enclosing operand stack.
type If struct {
	Params  []ValType
	Results []ValType
	Then    []Instruction
	Else    []Instruction
}

func (i If) Execute(e *Engine) (Signal, error) {
	cond, err := e.PopType(I32)
	if err != nil {
		return Continue, err
	}
	if cond.I32() != 0 {
		return e.Run(i.Then)
	}
	return e.Run(i.Else)
}

func (i If) String() string {
	return "if" + blockType(i.Params, i.Results)
}

// Loop runs Body repeatedly while it ends with a branch to Label; falling
// off the end of Body leaves the loop.
type Loop struct {
	Label   string
	Params  []ValType
	Results []ValType
	Body    []Instruction
}

func (i Loop) Execute(e *Engine) (Signal, error) {
	for {
		sig, err := e.Run(i.Body)
		if err != nil {
			return Continue, err
		}
		if sig.Kind == SignalBranch && sig.Label == i.Label {
			continue
		}
		return sig, nil
	}
}

func (i Loop) String() string {
	return "loop $" + i.Label + blockType(i.Params, i.Results)
}

func blockType(params, results []ValType) string {
	var sb strings.Builder
	if len(params) > 0 {
		sb.WriteString(" (param " + typeList(params) + ")")
	}
	if len(results) > 0 {
		sb.WriteString(" (result " + typeList(results) + ")")
	}
	return sb.String()
}

// Jump branches to the enclosing loop labeled Label, restarting it.
type Jump struct {
	Label string
}

func (i Jump) Execute(*Engine) (Signal, error) {
	return Branch(i.Label), nil
}

func (i Jump) String() string { return "br $" + i.Label }

// JumpIf pops an i32 and branches to Label when it is non-zero.
type JumpIf struct {
	Label string
}

func (i JumpIf) Execute(e *Engine) (Signal, error) {
	cond, err := e.PopType(I32)
	if err != nil {
		return Continue, err
	}
	if cond.I32() != 0 {
		return Branch(i.Label), nil
	}
	return Continue, nil
}

func (i JumpIf) String() string { return "br_if $" + i.Label }

// Comment has no effect; it annotates text output.
type Comment struct {
	Text string
}

func (Comment) Execute(*Engine) (Signal, error) { return Continue, nil }

func (c Comment) String() string { return ";; " + c.Text }

// IsTerminal reports whether control can never fall through the end of
// code: it ends in return, unreachable or a branch, or in an if whose
// branches are both terminal, or in a loop whose body is terminal.
func IsTerminal(code []Instruction) bool {
	for i := len(code) - 1; i >= 0; i-- {
		switch ins := code[i].(type) {
		case Comment:
			continue
		case Op:
			return ins.IsTerminal()
		case Jump:
			return true
		case If:
			return IsTerminal(ins.Then) && IsTerminal(ins.Else)
		case Loop:
			return IsTerminal(ins.Body)
		default:
			return false
		}
	}
	return false
}
