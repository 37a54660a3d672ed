package expr

import (
	"fmt"

	"github.com/chazu/jvmwasm/highlevel"
	"github.com/chazu/jvmwasm/wasm"
)

// Options controls reconstruction.
type Options struct {
	// PureFunctions names functions without side effects. Their calls with
	// a single result are inlined into expressions.
	PureFunctions map[string]bool

	// StackTraces keeps stackPush and stackPop calls. Otherwise they are
	// dropped.
	StackTraces bool

	// Fields keeps high-level field accesses as FieldGet and
	// FieldAssignment instead of lowering them to loads and stores.
	Fields bool
}

// The float compare builtins only read their operands.
var pureBuiltins = map[string]bool{
	wasm.HostFcmpl: true,
	wasm.HostFcmpg: true,
	wasm.HostDcmpl: true,
	wasm.HostDcmpg: true,
}

type loopFrame struct {
	label string
	entry []*Var
}

type reconstructor struct {
	opts   Options
	fn     *wasm.Function
	locals map[string]wasm.ValType
	stack  []Expr
	out    []Statement
	loops  []loopFrame
	tmp    int
}

// Reconstruct rebuilds fn as a statement tree. Operand stack positions
// become nested expressions; values that must survive a write to a
// variable they read, a memory load or a call are bound to temporaries
// named tmp0, tmp1 and so on. Parameters are named p0, p1 and so on.
func Reconstruct(fn *wasm.Function, opts Options) (*Body, error) {
	r := &reconstructor{
		opts:   opts,
		fn:     fn,
		locals: make(map[string]wasm.ValType, len(fn.Locals)),
	}
	stmts := make([]Statement, 0, len(fn.Locals)+len(fn.Body))
	for _, l := range fn.Locals {
		r.locals[l.Name] = l.Type
		stmts = append(stmts, &Declaration{Name: l.Name, VType: l.Type})
	}

	body, terminal, err := r.block(fn.Body)
	if err != nil {
		return nil, fmt.Errorf("expr: %s: %w", fn.Name, err)
	}
	stmts = append(stmts, body...)
	if !terminal && !AlwaysReturns(stmts) {
		vals, err := r.popTypes(fn.Results)
		if err != nil {
			return nil, fmt.Errorf("expr: %s: fallthrough return: %w", fn.Name, err)
		}
		stmts = append(stmts, &Return{Values: vals})
		log.Debugf("%s: appended fallthrough return", fn.Name)
	}

	return &Body{
		Name:    fn.Name,
		Params:  fn.Params,
		Results: fn.Results,
		Locals:  fn.Locals,
		Stmts:   fuseReturns(stmts),
	}, nil
}

func (r *reconstructor) emit(s Statement) {
	r.out = append(r.out, s)
}

func (r *reconstructor) push(e Expr) {
	r.stack = append(r.stack, e)
}

func (r *reconstructor) pop(t wasm.ValType) (Expr, error) {
	if len(r.stack) == 0 {
		return nil, wasm.ErrStackUnderflow
	}
	e := r.stack[len(r.stack)-1]
	if e.Type() != t {
		return nil, fmt.Errorf("%w: want %s, got %s", wasm.ErrTypeMismatch, t, e)
	}
	r.stack = r.stack[:len(r.stack)-1]
	return e, nil
}

func (r *reconstructor) popAddress() (Expr, error) {
	if len(r.stack) == 0 {
		return nil, wasm.ErrStackUnderflow
	}
	t := r.stack[len(r.stack)-1].Type()
	if t != wasm.I32 && t != wasm.I64 {
		return nil, fmt.Errorf("%w: want address, got %s", wasm.ErrTypeMismatch, t)
	}
	return r.pop(t)
}

// popTypes pops len(ts) values and returns them bottom first.
func (r *reconstructor) popTypes(ts []wasm.ValType) ([]Expr, error) {
	out := make([]Expr, len(ts))
	for i := len(ts) - 1; i >= 0; i-- {
		e, err := r.pop(ts[i])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (r *reconstructor) temp() string {
	name := fmt.Sprintf("tmp%d", r.tmp)
	r.tmp++
	return name
}

// bind declares a temporary holding e.
func (r *reconstructor) bind(e Expr) *Var {
	v := &Var{Name: r.temp(), VType: e.Type()}
	r.emit(&Declaration{Name: v.Name, VType: v.VType, Init: e})
	return v
}

// spill binds every stack element that reads a variable matching pred.
func (r *reconstructor) spill(pred func(*Var) bool) {
	bound := make(map[Expr]*Var)
	for i, e := range r.stack {
		if !readsVar(e, pred) {
			continue
		}
		if v, ok := bound[e]; ok {
			r.stack[i] = v
			continue
		}
		v := r.bind(e)
		bound[e] = v
		r.stack[i] = v
	}
}

// block reconstructs code into a fresh statement list. terminal reports
// that control never reaches the end of code.
func (r *reconstructor) block(code []wasm.Instruction) (stmts []Statement, terminal bool, err error) {
	saved := r.out
	r.out = nil
	defer func() { r.out = saved }()
	terminal, err = r.steps(code)
	return r.out, terminal, err
}

func (r *reconstructor) steps(code []wasm.Instruction) (bool, error) {
	for i, ins := range code {
		terminal, err := r.step(ins)
		if err != nil {
			return false, fmt.Errorf("at %d (%s): %w", i, ins, err)
		}
		if terminal {
			// The rest of code is dead.
			return true, nil
		}
	}
	return false, nil
}

func (r *reconstructor) step(ins wasm.Instruction) (bool, error) {
	switch ins := ins.(type) {
	case wasm.Op:
		return r.op(ins)
	case wasm.Const:
		r.push(&Const{Value: ins.Value})
	case wasm.LocalGet:
		if _, ok := r.locals[ins.Name]; !ok {
			return false, fmt.Errorf("expr: unknown local %s", ins.Name)
		}
		r.push(&Var{Name: ins.Name, VType: ins.Type})
	case wasm.LocalSet:
		v, err := r.pop(ins.Type)
		if err != nil {
			return false, err
		}
		r.spill(func(x *Var) bool { return !x.Global && x.Name == ins.Name })
		r.emit(&Assignment{Name: ins.Name, Value: v})
	case wasm.ParamGet:
		if ins.Index < 0 || ins.Index >= len(r.fn.Params) {
			return false, fmt.Errorf("expr: parameter %d out of range", ins.Index)
		}
		r.push(&Var{Name: ParamName(ins.Index), VType: r.fn.Params[ins.Index]})
	case wasm.GlobalGet:
		r.push(&Var{Name: ins.Name, VType: ins.Type, Global: true})
	case wasm.GlobalSet:
		v, err := r.pop(ins.Type)
		if err != nil {
			return false, err
		}
		r.spill(func(x *Var) bool { return x.Global && x.Name == ins.Name })
		r.emit(&Assignment{Name: ins.Name, Global: true, Value: v})
	case wasm.Call:
		return false, r.call(ins.Name, nil, ins.Type)
	case wasm.CallIndirect:
		idx, err := r.pop(wasm.I32)
		if err != nil {
			return false, err
		}
		return false, r.call("", idx, ins.Type)
	case wasm.If:
		return r.ifElse(ins)
	case wasm.Loop:
		return r.loop(ins)
	case wasm.Jump:
		return true, r.jump(ins.Label, nil)
	case wasm.JumpIf:
		cond, err := r.pop(wasm.I32)
		if err != nil {
			return false, err
		}
		return false, r.jump(ins.Label, cond)
	case wasm.Comment:
	case highlevel.FieldGet:
		if !r.opts.Fields {
			return r.steps(ins.Lower())
		}
		return false, r.fieldGet(ins)
	case highlevel.FieldSet:
		if !r.opts.Fields {
			return r.steps(ins.Lower())
		}
		return false, r.fieldSet(ins)
	case highlevel.Shuffle:
		return false, r.shuffle(ins)
	case wasm.HighLevel:
		return r.steps(ins.Lower())
	default:
		return false, fmt.Errorf("expr: unsupported instruction %T", ins)
	}
	return false, nil
}

func (r *reconstructor) op(o wasm.Op) (bool, error) {
	info := o.Info()
	switch info.Class {
	case wasm.ClassControl:
		switch o {
		case wasm.OpUnreachable:
			r.emit(&Unreachable{})
			return true, nil
		case wasm.OpReturn:
			vals, err := r.popTypes(r.fn.Results)
			if err != nil {
				return false, err
			}
			r.emit(&Return{Values: vals})
			return true, nil
		case wasm.OpDrop:
			if len(r.stack) == 0 {
				return false, wasm.ErrStackUnderflow
			}
			r.stack = r.stack[:len(r.stack)-1]
		}
		return false, nil
	case wasm.ClassLoad:
		addr, err := r.popAddress()
		if err != nil {
			return false, err
		}
		r.push(r.bind(&Load{Op: o, Addr: addr}))
		return false, nil
	case wasm.ClassStore:
		v, err := r.pop(info.Pop[0])
		if err != nil {
			return false, err
		}
		addr, err := r.popAddress()
		if err != nil {
			return false, err
		}
		r.emit(&Store{Op: o, Addr: addr, Value: v})
		return false, nil
	}

	args, err := r.popTypes(info.Pop)
	if err != nil {
		return false, err
	}
	switch len(args) {
	case 1:
		r.push(&Unary{Op: o, X: args[0]})
	case 2:
		r.push(&Binary{Op: o, X: args[0], Y: args[1]})
	default:
		return false, fmt.Errorf("expr: %s takes %d operands", o, len(args))
	}
	return false, nil
}

func (r *reconstructor) call(name string, idx Expr, ft wasm.FuncType) error {
	if idx == nil {
		switch name {
		case wasm.HostStackPush, wasm.HostStackPop:
			if !r.opts.StackTraces {
				_, err := r.popTypes(ft.Params)
				return err
			}
		}
		if s, ok := highlevel.ParseShuffle(name, highlevel.DefaultConfig()); ok && wasm.TypesEqual(s.Types, ft.Params) {
			return r.shuffle(s)
		}
	}

	args, err := r.popTypes(ft.Params)
	if err != nil {
		return err
	}
	if idx == nil && len(ft.Results) == 1 && (r.opts.PureFunctions[name] || pureBuiltins[name]) {
		r.push(&Call{Func: name, Args: args, Result: ft.Results[0]})
		return nil
	}

	// The callee may write globals.
	r.spill(func(v *Var) bool { return v.Global })

	if len(ft.Results) == 0 {
		r.emit(&ExprCall{Func: name, Index: idx, Type: ft, Args: args})
		return nil
	}
	results := make([]string, len(ft.Results))
	for i := range results {
		results[i] = r.temp()
	}
	r.emit(&CallAssignment{Func: name, Index: idx, Type: ft, Args: args, Results: results})
	for i, t := range ft.Results {
		r.push(&Var{Name: results[i], VType: t})
	}
	return nil
}

func (r *reconstructor) shuffle(s highlevel.Shuffle) error {
	vals, err := r.popTypes(s.Types)
	if err != nil {
		return err
	}
	for _, p := range s.Perm() {
		r.push(vals[p])
	}
	return nil
}

func (r *reconstructor) fieldGet(f highlevel.FieldGet) error {
	pop, push := f.StackEffect()
	get := &FieldGet{Field: f.Field, Offset: f.Offset, Op: f.Op(), VType: push[0]}
	if len(pop) > 0 {
		self, err := r.popAddress()
		if err != nil {
			return err
		}
		get.Self = self
	}
	r.push(r.bind(get))
	return nil
}

func (r *reconstructor) fieldSet(f highlevel.FieldSet) error {
	pop, _ := f.StackEffect()
	set := &FieldAssignment{Field: f.Field, Offset: f.Offset, Op: f.Op()}
	var err error
	switch {
	case f.Field.Static:
		set.Value, err = r.pop(pop[0])
	case f.Reversed:
		if set.Self, err = r.popAddress(); err == nil {
			set.Value, err = r.pop(pop[0])
		}
	default:
		if set.Value, err = r.pop(pop[1]); err == nil {
			set.Self, err = r.popAddress()
		}
	}
	if err != nil {
		return err
	}
	r.emit(set)
	return nil
}

// merge reconciles the stacks on which control reaches the end of a
// block. Elements still identical to base keep their expression; the
// rest are carried in variables declared before the block and assigned
// at the end of every branch. It returns the declarations and the
// merged stack.
func (r *reconstructor) merge(base []Expr, ends [][]Expr, bodies []*[]Statement) ([]Statement, []Expr, error) {
	n := len(ends[0])
	for _, st := range ends[1:] {
		if len(st) != n {
			return nil, nil, fmt.Errorf("%w: branches leave %d and %d values", wasm.ErrStackImbalance, n, len(st))
		}
	}
	for j := 0; j < n; j++ {
		for _, st := range ends[1:] {
			if st[j].Type() != ends[0][j].Type() {
				return nil, nil, fmt.Errorf("%w: branches disagree on %s and %s", wasm.ErrStackImbalance, ends[0][j].Type(), st[j].Type())
			}
		}
	}

	k := 0
	for ; k < n && k < len(base); k++ {
		same := true
		for _, st := range ends {
			if !sameExpr(st[k], base[k]) {
				same = false
				break
			}
		}
		if !same {
			break
		}
	}

	var decls []Statement
	merged := append([]Expr(nil), base[:k]...)
	for j := k; j < n; j++ {
		v := &Var{Name: r.temp(), VType: ends[0][j].Type()}
		decls = append(decls, &Declaration{Name: v.Name, VType: v.VType})
		for b, st := range ends {
			*bodies[b] = append(*bodies[b], &Assignment{Name: v.Name, Value: st[j]})
		}
		merged = append(merged, v)
	}
	return decls, merged, nil
}

func (r *reconstructor) ifElse(ins wasm.If) (bool, error) {
	cond, err := r.pop(wasm.I32)
	if err != nil {
		return false, err
	}
	if c, ok := cond.(*Const); ok {
		if c.Value.I32() != 0 {
			return r.steps(ins.Then)
		}
		return r.steps(ins.Else)
	}

	base := r.stack
	r.stack = append([]Expr(nil), base...)
	thenStmts, thenTerm, err := r.block(ins.Then)
	if err != nil {
		return false, fmt.Errorf("then: %w", err)
	}
	thenStack := r.stack
	r.stack = append([]Expr(nil), base...)
	elseStmts, elseTerm, err := r.block(ins.Else)
	if err != nil {
		return false, fmt.Errorf("else: %w", err)
	}
	elseStack := r.stack

	var (
		ends   [][]Expr
		bodies []*[]Statement
	)
	if !thenTerm {
		ends = append(ends, thenStack)
		bodies = append(bodies, &thenStmts)
	}
	if !elseTerm {
		ends = append(ends, elseStack)
		bodies = append(bodies, &elseStmts)
	}
	if len(ends) == 0 {
		r.emit(&IfElse{Cond: cond, Then: thenStmts, Else: elseStmts})
		r.stack = nil
		return true, nil
	}
	decls, merged, err := r.merge(base, ends, bodies)
	if err != nil {
		return false, err
	}
	for _, d := range decls {
		r.emit(d)
	}
	r.emit(&IfElse{Cond: cond, Then: thenStmts, Else: elseStmts})
	r.stack = merged
	return false, nil
}

func (r *reconstructor) loop(ins wasm.Loop) (bool, error) {
	// Values live across iterations move into variables that every
	// continue reassigns.
	entry := make([]*Var, len(r.stack))
	for i, e := range r.stack {
		entry[i] = r.bind(e)
		r.stack[i] = entry[i]
	}
	base := make([]Expr, len(entry))
	for i, v := range entry {
		base[i] = v
	}

	r.loops = append(r.loops, loopFrame{label: ins.Label, entry: entry})
	body, terminal, err := r.block(ins.Body)
	r.loops = r.loops[:len(r.loops)-1]
	if err != nil {
		return false, fmt.Errorf("loop %s: %w", ins.Label, err)
	}
	if terminal {
		r.emit(&Loop{Label: ins.Label, Body: body})
		r.stack = nil
		return true, nil
	}

	decls, merged, err := r.merge(base, [][]Expr{r.stack}, []*[]Statement{&body})
	if err != nil {
		return false, err
	}
	body = append(body, &Break{Label: ins.Label})
	for _, d := range decls {
		r.emit(d)
	}
	r.emit(&Loop{Label: ins.Label, Body: body})
	r.stack = merged
	return false, nil
}

// jump restarts the loop label, when cond is nil unconditionally.
func (r *reconstructor) jump(label string, cond Expr) error {
	var frame *loopFrame
	for i := len(r.loops) - 1; i >= 0; i-- {
		if r.loops[i].label == label {
			frame = &r.loops[i]
			break
		}
	}
	if frame == nil {
		return fmt.Errorf("expr: branch to unknown loop %s", label)
	}
	if len(r.stack) != len(frame.entry) {
		return fmt.Errorf("%w: br %s with %d values, loop entered with %d", wasm.ErrStackImbalance, label, len(r.stack), len(frame.entry))
	}

	saved := r.out
	r.out = nil

	var changed []int
	for j, e := range r.stack {
		if e.Type() != frame.entry[j].Type() {
			r.out = saved
			return fmt.Errorf("%w: br %s with %s where loop has %s", wasm.ErrStackImbalance, label, e.Type(), frame.entry[j].Type())
		}
		if !sameExpr(e, frame.entry[j]) {
			changed = append(changed, j)
		}
	}
	vals := make([]Expr, len(r.stack))
	copy(vals, r.stack)
	if len(changed) > 1 {
		// Evaluate all new values before overwriting any of them.
		for _, j := range changed {
			vals[j] = r.bind(vals[j])
		}
	}
	for _, j := range changed {
		r.emit(&Assignment{Name: frame.entry[j].Name, Value: vals[j]})
	}
	r.emit(&Continue{Label: label})
	seq := r.out
	r.out = saved

	if cond == nil {
		r.out = append(r.out, seq...)
		return nil
	}
	r.emit(&IfElse{Cond: cond, Then: seq})
	return nil
}

// fuseReturns turns "results := f(args); return results" into a
// returning call.
func fuseReturns(stmts []Statement) []Statement {
	out := stmts[:0]
	for i := 0; i < len(stmts); i++ {
		switch s := stmts[i].(type) {
		case *IfElse:
			s.Then = fuseReturns(s.Then)
			s.Else = fuseReturns(s.Else)
		case *Loop:
			s.Body = fuseReturns(s.Body)
		case *CallAssignment:
			if i+1 < len(stmts) && returnsExactly(stmts[i+1], s.Results) {
				s.ResultType = ReturnType
				s.Results = nil
				out = append(out, s)
				i++
				continue
			}
		}
		out = append(out, stmts[i])
	}
	return out
}

func returnsExactly(s Statement, names []string) bool {
	ret, ok := s.(*Return)
	if !ok || len(ret.Values) != len(names) {
		return false
	}
	for i, v := range ret.Values {
		if vv, ok := v.(*Var); !ok || vv.Global || vv.Name != names[i] {
			return false
		}
	}
	return true
}
