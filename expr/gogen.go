package expr

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/chazu/jvmwasm/wasm"
	"github.com/dave/jennifer/jen"
)

// GoOptions controls Go emission.
type GoOptions struct {
	// Package is the package clause of the generated file.
	Package string
	// Receiver is the type the functions become methods of. Defaults to
	// "Instance".
	Receiver string
}

// The generated methods assume the receiver type provides:
//
//	I32Load(addr uint64) int32 and friends, one per memory instruction,
//	named after it (I32Load8S, F64Store, ...), taking uint64 addresses;
//	I32DivS(x, y int32) int32 and the other trapping or saturating
//	operations, named the same way;
//	Table []any holding function values for indirect calls;
//	one method per called function and one field per global.
const recv = "m"

// EmitGo writes bodies as methods of a Go source file.
func EmitGo(w io.Writer, opts GoOptions, bodies ...*Body) error {
	f, err := GoFile(opts, bodies...)
	if err != nil {
		return err
	}
	return f.Render(w)
}

// GoFile builds the jennifer file for bodies.
func GoFile(opts GoOptions, bodies ...*Body) (*jen.File, error) {
	if opts.Package == "" {
		opts.Package = "generated"
	}
	if opts.Receiver == "" {
		opts.Receiver = "Instance"
	}
	f := jen.NewFile(opts.Package)
	f.HeaderComment("Code generated by jvmwasm. DO NOT EDIT.")

	for _, b := range bodies {
		fn, err := goFunc(opts, b)
		if err != nil {
			return nil, fmt.Errorf("expr: %s: %w", b.Name, err)
		}
		f.Add(fn)
		f.Line()
	}

	f.Func().Id("b2i").Params(jen.Id("b").Bool()).Int32().Block(
		jen.If(jen.Id("b")).Block(jen.Return(jen.Lit(1))),
		jen.Return(jen.Lit(0)),
	)
	return f, nil
}

type goEmitter struct {
	used   map[string]bool // variables read somewhere in the body
	labels map[string]bool // loop labels named by a continue or break
}

func goFunc(opts GoOptions, b *Body) (*jen.Statement, error) {
	g := &goEmitter{used: make(map[string]bool), labels: make(map[string]bool)}
	g.scan(b.Stmts)

	params := make([]jen.Code, len(b.Params))
	for i, t := range b.Params {
		params[i] = jen.Id(ParamName(i)).Add(goType(t))
	}
	results := make([]jen.Code, len(b.Results))
	for i, t := range b.Results {
		results[i] = goType(t)
	}
	body, err := g.stmts(b.Stmts)
	if err != nil {
		return nil, err
	}

	fn := jen.Func().Params(jen.Id(recv).Op("*").Id(opts.Receiver)).Id(GoIdent(b.Name)).Params(params...)
	switch len(results) {
	case 0:
	case 1:
		fn.Add(results[0])
	default:
		fn.Parens(jen.List(results...))
	}
	return fn.Block(body...), nil
}

// GoIdent maps a wasm name to a Go identifier.
func GoIdent(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

// goOpName turns "i32.load8_s" into "I32Load8S".
func goOpName(o wasm.Op) string {
	var sb strings.Builder
	upper := true
	for _, r := range o.String() {
		if r == '.' || r == '_' {
			upper = true
			continue
		}
		if upper && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		upper = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func goType(t wasm.ValType) *jen.Statement {
	switch t {
	case wasm.I64:
		return jen.Int64()
	case wasm.F32:
		return jen.Float32()
	case wasm.F64:
		return jen.Float64()
	}
	return jen.Int32()
}

func unsignedType(t wasm.ValType) *jen.Statement {
	if t == wasm.I64 {
		return jen.Uint64()
	}
	return jen.Uint32()
}

// scan records which variables are read and which labels are targeted, so
// that the output has neither unused variables nor unused labels.
func (g *goEmitter) scan(stmts []Statement) {
	read := func(es ...Expr) {
		for _, e := range es {
			if e != nil {
				walkVars(e, func(v *Var) { g.used[v.Name] = true })
			}
		}
	}
	for _, s := range stmts {
		switch s := s.(type) {
		case *Declaration:
			read(s.Init)
		case *Assignment:
			read(s.Value)
		case *FieldAssignment:
			read(s.Self, s.Value)
		case *Store:
			read(s.Addr, s.Value)
		case *ExprCall:
			read(s.Index)
			read(s.Args...)
		case *CallAssignment:
			read(s.Index)
			read(s.Args...)
		case *IfElse:
			read(s.Cond)
			g.scan(s.Then)
			g.scan(s.Else)
		case *Loop:
			g.scan(s.Body)
		case *Continue:
			g.labels[s.Label] = true
		case *Break:
			g.labels[s.Label] = true
		case *Return:
			read(s.Values...)
		}
	}
}

func (g *goEmitter) stmts(stmts []Statement) ([]jen.Code, error) {
	out := make([]jen.Code, 0, len(stmts))
	for _, s := range stmts {
		code, err := g.stmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, code...)
	}
	return out, nil
}

func (g *goEmitter) stmt(s Statement) ([]jen.Code, error) {
	switch s := s.(type) {
	case *Declaration:
		decl := jen.Var().Id(s.Name).Add(goType(s.VType))
		if s.Init != nil {
			decl.Op("=").Add(g.expr(s.Init))
		}
		if !g.used[s.Name] {
			return []jen.Code{decl, jen.Id("_").Op("=").Id(s.Name)}, nil
		}
		return []jen.Code{decl}, nil

	case *Assignment:
		return []jen.Code{g.variable(s.Name, s.Global).Op("=").Add(g.expr(s.Value))}, nil

	case *FieldAssignment:
		addr := g.fieldAddr(s.Self, s.Offset)
		return []jen.Code{
			jen.Comment(s.String()),
			jen.Id(recv).Dot(goOpName(s.Op)).Call(addr, g.expr(s.Value)),
		}, nil

	case *Store:
		return []jen.Code{jen.Id(recv).Dot(goOpName(s.Op)).Call(g.address(s.Addr), g.expr(s.Value))}, nil

	case *ExprCall:
		return []jen.Code{g.call(s.Func, s.Index, s.Type, s.Args)}, nil

	case *CallAssignment:
		call := g.call(s.Func, s.Index, s.Type, s.Args)
		if s.ResultType == ReturnType {
			return []jen.Code{jen.Return(call)}, nil
		}
		names := make([]jen.Code, len(s.Results))
		define := "="
		for i, n := range s.Results {
			if g.used[n] {
				names[i] = jen.Id(n)
				define = ":="
			} else {
				names[i] = jen.Id("_")
			}
		}
		return []jen.Code{jen.List(names...).Op(define).Add(call)}, nil

	case *IfElse:
		then, err := g.stmts(s.Then)
		if err != nil {
			return nil, err
		}
		st := jen.If(g.cond(s.Cond)).Block(then...)
		if len(s.Else) > 0 {
			els, err := g.stmts(s.Else)
			if err != nil {
				return nil, err
			}
			st.Else().Block(els...)
		}
		return []jen.Code{st}, nil

	case *Loop:
		body, err := g.stmts(s.Body)
		if err != nil {
			return nil, err
		}
		if g.labels[s.Label] {
			return []jen.Code{jen.Id(GoIdent(s.Label)).Op(":").Line().For().Block(body...)}, nil
		}
		return []jen.Code{jen.For().Block(body...)}, nil

	case *Continue:
		return []jen.Code{jen.Continue().Id(GoIdent(s.Label))}, nil

	case *Break:
		return []jen.Code{jen.Break().Id(GoIdent(s.Label))}, nil

	case *Return:
		vals := make([]jen.Code, len(s.Values))
		for i, v := range s.Values {
			vals[i] = g.expr(v)
		}
		return []jen.Code{jen.Return(vals...)}, nil

	case *Unreachable:
		return []jen.Code{jen.Panic(jen.Lit("unreachable"))}, nil
	}
	return nil, fmt.Errorf("unsupported statement %T", s)
}

func (g *goEmitter) variable(name string, global bool) *jen.Statement {
	if global {
		return jen.Id(recv).Dot(GoIdent(name))
	}
	return jen.Id(name)
}

func (g *goEmitter) call(name string, idx Expr, ft wasm.FuncType, args []Expr) *jen.Statement {
	vals := make([]jen.Code, len(args))
	for i, a := range args {
		vals[i] = g.expr(a)
	}
	if idx == nil {
		return jen.Id(recv).Dot(GoIdent(name)).Call(vals...)
	}
	params := make([]jen.Code, len(ft.Params))
	for i, t := range ft.Params {
		params[i] = goType(t)
	}
	sig := jen.Func().Params(params...)
	switch len(ft.Results) {
	case 0:
	case 1:
		sig.Add(goType(ft.Results[0]))
	default:
		results := make([]jen.Code, len(ft.Results))
		for i, t := range ft.Results {
			results[i] = goType(t)
		}
		sig.Parens(jen.List(results...))
	}
	return jen.Id(recv).Dot("Table").Index(g.expr(idx)).Assert(sig).Call(vals...)
}

// address converts a pointer-typed expression to the uint64 the memory
// accessors take.
func (g *goEmitter) address(e Expr) *jen.Statement {
	if e.Type() == wasm.I64 {
		return jen.Uint64().Call(g.expr(e))
	}
	return jen.Uint64().Call(jen.Uint32().Call(g.expr(e)))
}

func (g *goEmitter) fieldAddr(self Expr, offset int) *jen.Statement {
	if self == nil {
		return jen.Lit(uint64(offset))
	}
	var off *jen.Statement
	if self.Type() == wasm.I64 {
		off = jen.Lit(int64(offset))
	} else {
		off = jen.Lit(int32(offset))
	}
	if self.Type() == wasm.I64 {
		return jen.Uint64().Call(g.expr(self).Op("+").Add(off))
	}
	return jen.Uint64().Call(jen.Uint32().Call(g.expr(self).Op("+").Add(off)))
}

// cond renders an i32 used as a branch condition as a Go bool.
func (g *goEmitter) cond(e Expr) *jen.Statement {
	switch e := e.(type) {
	case *Binary:
		if e.Op.IsCompare() {
			return g.compare(e.Op, e.X, e.Y)
		}
	case *Unary:
		if e.Op.IsCompare() {
			return g.expr(e.X).Op("==").Lit(0)
		}
	}
	return g.expr(e).Op("!=").Lit(0)
}

var compareOps = map[string]string{
	"eq": "==", "ne": "!=",
	"lt": "<", "gt": ">", "le": "<=", "ge": ">=",
	"lt_s": "<", "gt_s": ">", "le_s": "<=", "ge_s": ">=",
	"lt_u": "<", "gt_u": ">", "le_u": "<=", "ge_u": ">=",
}

func opSuffix(o wasm.Op) string {
	name := o.String()
	return name[strings.IndexByte(name, '.')+1:]
}

func (g *goEmitter) compare(o wasm.Op, x, y Expr) *jen.Statement {
	sfx := opSuffix(o)
	if strings.HasSuffix(sfx, "_u") {
		t := x.Type()
		return unsignedType(t).Call(g.expr(x)).Op(compareOps[sfx]).Add(unsignedType(t).Call(g.expr(y)))
	}
	return g.paren(x).Op(compareOps[sfx]).Add(g.paren(y))
}

// paren wraps composite operands so operator precedence survives.
func (g *goEmitter) paren(e Expr) *jen.Statement {
	if _, ok := e.(*Binary); ok {
		return jen.Parens(g.expr(e))
	}
	return g.expr(e)
}

var binaryOps = map[string]string{
	"add": "+", "sub": "-", "mul": "*",
	"and": "&", "or": "|", "xor": "^",
}

func (g *goEmitter) expr(e Expr) *jen.Statement {
	switch e := e.(type) {
	case *Const:
		return goConst(e.Value)
	case *Var:
		return g.variable(e.Name, e.Global)
	case *Binary:
		return g.binary(e)
	case *Unary:
		return g.unary(e)
	case *Call:
		args := make([]jen.Code, len(e.Args))
		for i, a := range e.Args {
			args[i] = g.expr(a)
		}
		return jen.Id(recv).Dot(GoIdent(e.Func)).Call(args...)
	case *FieldGet:
		return jen.Id(recv).Dot(goOpName(e.Op)).Call(g.fieldAddr(e.Self, e.Offset))
	case *Load:
		return jen.Id(recv).Dot(goOpName(e.Op)).Call(g.address(e.Addr))
	}
	return jen.Panic(jen.Lit(fmt.Sprintf("unsupported expression %T", e)))
}

func (g *goEmitter) binary(e *Binary) *jen.Statement {
	info := e.Op.Info()
	if info.Class == wasm.ClassCompare {
		return jen.Id("b2i").Call(g.compare(e.Op, e.X, e.Y))
	}
	sfx := opSuffix(e.Op)
	t := info.Push[0]
	if op, ok := binaryOps[sfx]; ok {
		return g.paren(e.X).Op(op).Add(g.paren(e.Y))
	}
	if sfx == "div" && (t == wasm.F32 || t == wasm.F64) {
		return g.paren(e.X).Op("/").Add(g.paren(e.Y))
	}

	// Shift counts are taken modulo the operand width.
	mask := jen.Lit(31)
	if t == wasm.I64 {
		mask = jen.Lit(63)
	}
	count := jen.Parens(unsignedType(t).Call(g.expr(e.Y)).Op("&").Add(mask))
	switch sfx {
	case "shl":
		return g.paren(e.X).Op("<<").Add(count)
	case "shr_s":
		return g.paren(e.X).Op(">>").Add(count)
	case "shr_u":
		return goType(t).Call(unsignedType(t).Call(g.expr(e.X)).Op(">>").Add(count))
	}
	return jen.Id(recv).Dot(goOpName(e.Op)).Call(g.expr(e.X), g.expr(e.Y))
}

func (g *goEmitter) unary(e *Unary) *jen.Statement {
	x := g.expr(e.X)
	switch e.Op {
	case wasm.OpI32Eqz, wasm.OpI64Eqz:
		return jen.Id("b2i").Call(x.Op("==").Lit(0))
	case wasm.OpF32Neg, wasm.OpF64Neg:
		return jen.Op("-").Add(g.paren(e.X))
	case wasm.OpF64Abs:
		return jen.Qual("math", "Abs").Call(x)
	case wasm.OpF64Ceil:
		return jen.Qual("math", "Ceil").Call(x)
	case wasm.OpF64Floor:
		return jen.Qual("math", "Floor").Call(x)
	case wasm.OpF64Sqrt:
		return jen.Qual("math", "Sqrt").Call(x)
	case wasm.OpF32Abs:
		return jen.Float32().Call(jen.Qual("math", "Abs").Call(jen.Float64().Call(x)))
	case wasm.OpF32Ceil:
		return jen.Float32().Call(jen.Qual("math", "Ceil").Call(jen.Float64().Call(x)))
	case wasm.OpF32Floor:
		return jen.Float32().Call(jen.Qual("math", "Floor").Call(jen.Float64().Call(x)))
	case wasm.OpF32Sqrt:
		return jen.Float32().Call(jen.Qual("math", "Sqrt").Call(jen.Float64().Call(x)))
	case wasm.OpI32WrapI64:
		return jen.Int32().Call(x)
	case wasm.OpI64ExtendI32S:
		return jen.Int64().Call(x)
	case wasm.OpI64ExtendI32U:
		return jen.Int64().Call(jen.Uint32().Call(x))
	case wasm.OpF32ConvertI32S, wasm.OpF32ConvertI64S, wasm.OpF32DemoteF64:
		return jen.Float32().Call(x)
	case wasm.OpF64ConvertI32S, wasm.OpF64ConvertI64S, wasm.OpF64PromoteF32:
		return jen.Float64().Call(x)
	case wasm.OpI32ReinterpretF32:
		return jen.Int32().Call(jen.Qual("math", "Float32bits").Call(x))
	case wasm.OpI64ReinterpretF64:
		return jen.Int64().Call(jen.Qual("math", "Float64bits").Call(x))
	case wasm.OpF32ReinterpretI32:
		return jen.Qual("math", "Float32frombits").Call(jen.Uint32().Call(x))
	case wasm.OpF64ReinterpretI64:
		return jen.Qual("math", "Float64frombits").Call(jen.Uint64().Call(x))
	case wasm.OpI32Extend8S:
		return jen.Int32().Call(jen.Int8().Call(x))
	case wasm.OpI32Extend16S:
		return jen.Int32().Call(jen.Int16().Call(x))
	}
	return jen.Id(recv).Dot(goOpName(e.Op)).Call(x)
}

func goConst(v wasm.Value) *jen.Statement {
	switch v.Type {
	case wasm.I64:
		return jen.Lit(v.I64())
	case wasm.F32:
		f := v.F32()
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return jen.Qual("math", "Float32frombits").Call(jen.Lit(uint32(v.Bits)))
		}
		return jen.Lit(f)
	case wasm.F64:
		f := v.F64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return jen.Qual("math", "Float64frombits").Call(jen.Lit(v.Bits))
		}
		return jen.Lit(f)
	}
	return jen.Lit(v.I32())
}
