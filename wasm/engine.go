package wasm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jvmwasm.wasm")

// Names of the functions every engine provides to generated code.
const (
	HostGrow             = "grow"
	HostFcmpl            = "fcmpl"
	HostFcmpg            = "fcmpg"
	HostDcmpl            = "dcmpl"
	HostDcmpg            = "dcmpg"
	HostResolveInterface = "resolveInterface"
	HostResolveIndirect  = "resolveIndirect"
	HostStackPush        = "stackPush"
	HostStackPop         = "stackPop"
	HostTrackAlloc       = "trackAlloc"
)

// classIDMask selects the class id from an object header word. It matches
// index.ClassIDMask.
const classIDMask = 0xFFFFFF

// Resolver answers the dispatch questions of resolveInterface and
// resolveIndirect. A *index.GlobalIndex is a Resolver.
type Resolver interface {
	ResolveInterface(classID, id int32) (int32, error)
	ResolveIndirect(classID, offset int32) (int32, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// InitialPages is the initial memory size. Default 1.
	InitialPages int
	// MaxPages bounds memory growth. Default 256.
	MaxPages int
	// Pointer64 selects i64 addresses.
	Pointer64 bool
	// MaxCallDepth bounds recursion. Default 1024.
	MaxCallDepth int
	// MaxSteps traps a top-level call after that many instructions.
	// Zero means no limit.
	MaxSteps uint64
	// Resolver backs the dispatch builtins. It may be nil when no
	// dynamic dispatch is executed.
	Resolver Resolver
	// Trace logs every executed instruction at debug level.
	Trace bool
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.InitialPages <= 0 {
		c.InitialPages = 1
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 256
	}
	if c.MaxPages < c.InitialPages {
		c.MaxPages = c.InitialPages
	}
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = 1024
	}
	return c
}

type frame struct {
	fn     *Function
	params []Value
	locals map[string]Value
	base   int
}

// Engine executes instructions over an operand stack, a linear memory,
// module globals, and a function table. An Engine is not safe for
// concurrent use.
type Engine struct {
	cfg     EngineConfig
	stack   []Value
	memory  *Memory
	globals map[string]Value
	funcs   map[string]*Function
	hosts   map[string]*HostFunc
	table   []string
	frames  []*frame
	steps   uint64

	traceStack []int32
	caches     *InlineCacheTable
	profile    *Profile
}

// NewEngine creates an engine with the builtin host functions installed.
func NewEngine(cfg EngineConfig) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		memory:  NewMemory(cfg.InitialPages, cfg.MaxPages),
		globals: make(map[string]Value),
		funcs:   make(map[string]*Function),
		hosts:   make(map[string]*HostFunc),
		caches:  NewInlineCacheTable(),
		profile: NewProfile(),
	}
	for _, h := range builtins(cfg.Pointer64) {
		e.hosts[h.Name] = h
	}
	return e
}

// Config returns the engine configuration with defaults applied.
func (e *Engine) Config() EngineConfig { return e.cfg }

// Memory returns the linear memory.
func (e *Engine) Memory() *Memory { return e.memory }

// Profile returns the engine's call and allocation counters.
func (e *Engine) Profile() *Profile { return e.profile }

// InlineCaches returns the dispatch caches.
func (e *Engine) InlineCaches() *InlineCacheTable { return e.caches }

// TraceStack returns the ids pushed by stackPush and not yet popped.
func (e *Engine) TraceStack() []int32 {
	return append([]int32(nil), e.traceStack...)
}

// ResetMemory replaces the memory with a fresh zeroed one.
func (e *Engine) ResetMemory() {
	e.memory = NewMemory(e.cfg.InitialPages, e.cfg.MaxPages)
}

// AddFunctions registers module functions.
func (e *Engine) AddFunctions(fns ...*Function) error {
	for _, fn := range fns {
		if _, dup := e.funcs[fn.Name]; dup {
			return fmt.Errorf("wasm: duplicate function %s", fn.Name)
		}
		e.funcs[fn.Name] = fn
	}
	return nil
}

// AddHost registers or replaces a host function.
func (e *Engine) AddHost(h *HostFunc) {
	e.hosts[h.Name] = h
}

// DefineGlobal creates or overwrites a global.
func (e *Engine) DefineGlobal(name string, v Value) {
	e.globals[name] = v
}

// Global returns a global's current value.
func (e *Engine) Global(name string) (Value, bool) {
	v, ok := e.globals[name]
	return v, ok
}

// SetTable installs the function table used by call_indirect.
func (e *Engine) SetTable(names []string) {
	e.table = append([]string(nil), names...)
}

// Load installs a module's functions, globals and table.
func (e *Engine) Load(m *Module) error {
	if err := e.AddFunctions(m.Functions...); err != nil {
		return err
	}
	for _, g := range m.Globals {
		e.DefineGlobal(g.Name, g.Init)
	}
	if m.Table != nil {
		e.SetTable(m.Table)
	}
	return nil
}

// Push pushes a value.
func (e *Engine) Push(v Value) {
	e.stack = append(e.stack, v)
}

func (e *Engine) base() int {
	if n := len(e.frames); n > 0 {
		return e.frames[n-1].base
	}
	return 0
}

// Pop pops a value of any type.
func (e *Engine) Pop() (Value, error) {
	n := len(e.stack)
	if n <= e.base() {
		return Value{}, ErrStackUnderflow
	}
	v := e.stack[n-1]
	e.stack = e.stack[:n-1]
	return v, nil
}

// PopType pops a value that must have type t.
func (e *Engine) PopType(t ValType) (Value, error) {
	v, err := e.Pop()
	if err != nil {
		return v, err
	}
	if v.Type != t {
		return v, fmt.Errorf("%w: popped %s, want %s", ErrTypeMismatch, v.Type, t)
	}
	return v, nil
}

// PopAddress pops a pointer-width value as an address.
func (e *Engine) PopAddress() (uint64, error) {
	v, err := e.PopType(PointerType(e.cfg.Pointer64))
	if err != nil {
		return 0, err
	}
	return v.Address()
}

// popN pops n values of any type, returned bottom first.
func (e *Engine) popN(n int) ([]Value, error) {
	if len(e.stack)-e.base() < n {
		return nil, ErrStackUnderflow
	}
	vals := make([]Value, n)
	copy(vals, e.stack[len(e.stack)-n:])
	e.stack = e.stack[:len(e.stack)-n]
	return vals, nil
}

func (e *Engine) popTypes(ts []ValType) ([]Value, error) {
	vals, err := e.popN(len(ts))
	if err != nil {
		return nil, err
	}
	for i, t := range ts {
		if vals[i].Type != t {
			return nil, fmt.Errorf("%w: operand %d is %s, want %s", ErrTypeMismatch, i, vals[i].Type, t)
		}
	}
	return vals, nil
}

// Stack returns a copy of the operand stack, bottom first.
func (e *Engine) Stack() []Value {
	return append([]Value(nil), e.stack...)
}

// Height returns the number of values on the operand stack.
func (e *Engine) Height() int { return len(e.stack) }

// Run executes code in the current frame.
func (e *Engine) Run(code []Instruction) (Signal, error) {
	for _, ins := range code {
		e.profile.recordInstruction()
		e.steps++
		if e.cfg.MaxSteps > 0 && e.steps > e.cfg.MaxSteps {
			return Continue, trapf("step limit %d exceeded", e.cfg.MaxSteps)
		}
		if e.cfg.Trace {
			log.Debugf("[%d] %s", len(e.stack), ins)
		}
		sig, err := ins.Execute(e)
		if err != nil {
			return Continue, err
		}
		if sig.Kind != SignalContinue {
			return sig, nil
		}
	}
	return Continue, nil
}

// Call invokes a function with args and returns its results, bottom first.
func (e *Engine) Call(name string, args ...Value) ([]Value, error) {
	ft, ok := e.funcType(name)
	if !ok {
		return nil, &UnknownFunctionError{Name: name}
	}
	if len(args) != len(ft.Params) {
		return nil, fmt.Errorf("wasm: %s takes %d arguments, got %d", name, len(ft.Params), len(args))
	}
	e.steps = 0
	base := len(e.stack)
	for _, a := range args {
		e.Push(a)
	}
	err := e.invoke(name, nil)
	if err != nil {
		if len(e.stack) > base {
			e.stack = e.stack[:base]
		}
		return nil, err
	}
	res := append([]Value(nil), e.stack[len(e.stack)-len(ft.Results):]...)
	e.stack = e.stack[:base]
	return res, nil
}

func (e *Engine) currentFrame() (*frame, error) {
	if len(e.frames) == 0 {
		return nil, fmt.Errorf("wasm: no active function")
	}
	return e.frames[len(e.frames)-1], nil
}

func (e *Engine) funcType(name string) (FuncType, bool) {
	if fn, ok := e.funcs[name]; ok {
		return fn.Type(), true
	}
	if h, ok := e.hosts[name]; ok {
		return h.Type, true
	}
	return FuncType{}, false
}

func (e *Engine) tableEntry(idx int32) (string, error) {
	if idx < 0 || int(idx) >= len(e.table) || e.table[idx] == "" {
		return "", trapf("undefined table element %d", idx)
	}
	return e.table[idx], nil
}

func (e *Engine) invoke(name string, declared *FuncType) error {
	ft, ok := e.funcType(name)
	if !ok {
		log.Warningf("call to unknown function %s", name)
		return &UnknownFunctionError{Name: name}
	}
	if declared != nil && !declared.Equal(ft) {
		return fmt.Errorf("%w: call %s declared %s, callee is %s", ErrTypeMismatch, name, *declared, ft)
	}
	if fn, ok := e.funcs[name]; ok {
		return e.callFunction(fn)
	}
	return e.callHost(e.hosts[name])
}

func (e *Engine) callFunction(fn *Function) error {
	if len(e.frames) >= e.cfg.MaxCallDepth {
		return trapf("call stack exhausted in %s", fn.Name)
	}
	params, err := e.popTypes(fn.Params)
	if err != nil {
		return fmt.Errorf("calling %s: %w", fn.Name, err)
	}
	fr := &frame{
		fn:     fn,
		params: params,
		locals: make(map[string]Value, len(fn.Locals)),
		base:   len(e.stack),
	}
	for _, l := range fn.Locals {
		fr.locals[l.Name] = ZeroValue(l.Type)
	}
	e.frames = append(e.frames, fr)
	e.profile.RecordCall(fn.Name)

	sig, err := e.Run(fn.Body)
	e.frames = e.frames[:len(e.frames)-1]
	if err != nil {
		return err
	}
	if sig.Kind == SignalBranch {
		return fmt.Errorf("wasm: %s: branch to unknown label %s", fn.Name, sig.Label)
	}

	height := len(e.stack) - fr.base
	want := len(fn.Results)
	if height < want || (sig.Kind == SignalContinue && height != want) {
		return fmt.Errorf("%w: %s left %d values, declares %d results", ErrStackImbalance, fn.Name, height, want)
	}
	results := e.stack[len(e.stack)-want:]
	for i, t := range fn.Results {
		if results[i].Type != t {
			return fmt.Errorf("%w: %s result %d is %s, want %s", ErrTypeMismatch, fn.Name, i, results[i].Type, t)
		}
	}
	if height > want {
		copy(e.stack[fr.base:], results)
		e.stack = e.stack[:fr.base+want]
	}
	return nil
}

func (e *Engine) callHost(h *HostFunc) error {
	args, err := e.popTypes(h.Type.Params)
	if err != nil {
		return fmt.Errorf("calling %s: %w", h.Name, err)
	}
	e.profile.RecordCall(h.Name)
	res, err := h.Impl(e, args)
	if err != nil {
		return err
	}
	if len(res) != len(h.Type.Results) {
		return fmt.Errorf("%w: host %s returned %d values, declares %d", ErrStackImbalance, h.Name, len(res), len(h.Type.Results))
	}
	for i, v := range res {
		if v.Type != h.Type.Results[i] {
			return fmt.Errorf("%w: host %s result %d is %s", ErrTypeMismatch, h.Name, i, v.Type)
		}
		e.Push(v)
	}
	return nil
}

// classOf reads the class id from the header of the object at addr.
func (e *Engine) classOf(addr Value) (int32, error) {
	a, err := addr.Address()
	if err != nil {
		return 0, err
	}
	if a == 0 {
		return 0, trapf("null receiver")
	}
	header, err := e.memory.Load32(a)
	if err != nil {
		return 0, err
	}
	return int32(header & classIDMask), nil
}

func (e *Engine) resolve(indirect bool, self Value, id int32) (int32, error) {
	if e.cfg.Resolver == nil {
		return 0, fmt.Errorf("wasm: no resolver configured")
	}
	classID, err := e.classOf(self)
	if err != nil {
		return 0, err
	}
	ic := e.caches.GetOrCreate(indirect, id)
	if target, ok := ic.Lookup(classID); ok {
		return target, nil
	}
	var target int32
	if indirect {
		target, err = e.cfg.Resolver.ResolveIndirect(classID, id)
	} else {
		target, err = e.cfg.Resolver.ResolveInterface(classID, id)
	}
	if err != nil {
		return 0, &TrapError{Reason: err.Error()}
	}
	ic.Update(classID, target)
	return target, nil
}

// BuiltinType returns the signature of a builtin host function.
func BuiltinType(name string, pointer64 bool) (FuncType, bool) {
	for _, h := range builtins(pointer64) {
		if h.Name == name {
			return h.Type, true
		}
	}
	return FuncType{}, false
}

func builtins(pointer64 bool) []*HostFunc {
	ptr := PointerType(pointer64)
	fcmp := func(name string, ifNaN int32) *HostFunc {
		return &HostFunc{
			Name: name,
			Type: FuncType{Params: f32x2, Results: i32},
			Impl: func(_ *Engine, a []Value) ([]Value, error) {
				return []Value{I32Value(FloatCompare(float64(a[0].F32()), float64(a[1].F32()), ifNaN))}, nil
			},
		}
	}
	dcmp := func(name string, ifNaN int32) *HostFunc {
		return &HostFunc{
			Name: name,
			Type: FuncType{Params: f64x2, Results: i32},
			Impl: func(_ *Engine, a []Value) ([]Value, error) {
				return []Value{I32Value(FloatCompare(a[0].F64(), a[1].F64(), ifNaN))}, nil
			},
		}
	}
	resolver := func(name string, indirect bool) *HostFunc {
		return &HostFunc{
			Name: name,
			Type: FuncType{Params: []ValType{ptr, I32}, Results: i32},
			Impl: func(e *Engine, a []Value) ([]Value, error) {
				target, err := e.resolve(indirect, a[0], a[1].I32())
				if err != nil {
					return nil, err
				}
				return []Value{I32Value(target)}, nil
			},
		}
	}
	return []*HostFunc{
		{
			Name: HostGrow,
			Type: FuncType{Params: i32, Results: i32},
			Impl: func(e *Engine, a []Value) ([]Value, error) {
				if e.memory.Grow(int(a[0].I32())) {
					return []Value{I32Value(1)}, nil
				}
				log.Warningf("memory growth by %d pages refused at %d pages", a[0].I32(), e.memory.Pages())
				return []Value{I32Value(0)}, nil
			},
		},
		fcmp(HostFcmpl, -1),
		fcmp(HostFcmpg, 1),
		dcmp(HostDcmpl, -1),
		dcmp(HostDcmpg, 1),
		resolver(HostResolveInterface, false),
		resolver(HostResolveIndirect, true),
		{
			Name: HostStackPush,
			Type: FuncType{Params: i32},
			Impl: func(e *Engine, a []Value) ([]Value, error) {
				e.traceStack = append(e.traceStack, a[0].I32())
				return nil, nil
			},
		},
		{
			Name: HostStackPop,
			Type: FuncType{},
			Impl: func(e *Engine, _ []Value) ([]Value, error) {
				if len(e.traceStack) == 0 {
					return nil, fmt.Errorf("wasm: stackPop with empty trace stack")
				}
				e.traceStack = e.traceStack[:len(e.traceStack)-1]
				return nil, nil
			},
		},
		{
			Name: HostTrackAlloc,
			Type: FuncType{Params: i32},
			Impl: func(e *Engine, a []Value) ([]Value, error) {
				e.profile.RecordAlloc(a[0].I32())
				return nil, nil
			},
		},
	}
}
