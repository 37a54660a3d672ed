package highlevel

import (
	"testing"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

var (
	sigIM    = index.MethodSig{Class: "I", Name: "m", Descriptor: "()I"}
	sigAM    = index.MethodSig{Class: "A", Name: "m", Descriptor: "()I"}
	sigBM    = index.MethodSig{Class: "B", Name: "m", Descriptor: "()I"}
	sigBaseF = index.MethodSig{Class: "Base", Name: "f", Descriptor: "()I"}
	sigAF    = index.MethodSig{Class: "A", Name: "f", Descriptor: "()I"}
	sigSite  = index.MethodSig{Class: "Site", Name: "run", Descriptor: "()I"}
	sigMax   = index.MethodSig{Class: "M", Name: "max", Descriptor: "(II)I", Static: true}
)

// buildDispatch creates
//
//	interface I { m()I }
//	class Base implements I { f()I }
//	class A extends Base { m, f }   class B extends Base { m }
func buildDispatch(t *testing.T) *index.GlobalIndex {
	t.Helper()
	b := index.NewBuilder(index.Options{})
	for _, err := range []error{
		b.AddClass(index.ClassSig{Name: "I", Interface: true}),
		b.AddClass(index.ClassSig{Name: "Base", Interfaces: []string{"I"}}),
		b.AddClass(index.ClassSig{Name: "A", Super: "Base"}),
		b.AddClass(index.ClassSig{Name: "B", Super: "Base"}),
		b.AddClass(index.ClassSig{Name: "M"}),
		b.AddMethod(sigIM, true),
		b.AddMethod(sigBaseF, false),
		b.AddMethod(index.MethodSig{Class: "Base", Name: "m", Descriptor: "()I"}, true),
		b.AddMethod(sigAM, false),
		b.AddMethod(sigAF, false),
		b.AddMethod(sigBM, false),
		b.AddMethod(sigMax, false),
		b.AddDynamicSite(sigSite, sigBM),
	} {
		if err != nil {
			t.Fatalf("builder: %v", err)
		}
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return g
}

func constMethod(sig index.MethodSig, v int32) *wasm.Function {
	return &wasm.Function{
		Name:    sig.FuncName(),
		Params:  []wasm.ValType{wasm.I32},
		Results: []wasm.ValType{wasm.I32},
		Body:    []wasm.Instruction{wasm.I32Const(v)},
	}
}

// dispatchEngine loads the method bodies and places one object of each
// concrete class: Base at 64, A at 128, B at 192.
func dispatchEngine(t *testing.T, g *index.GlobalIndex, b *Builder) *wasm.Engine {
	t.Helper()
	e := newEngine(t, b.Config(), g)
	maxFn := &wasm.Function{
		Name:    sigMax.FuncName(),
		Params:  []wasm.ValType{wasm.I32, wasm.I32},
		Results: []wasm.ValType{wasm.I32},
		Body: []wasm.Instruction{
			wasm.ParamGet{Index: 0, Type: wasm.I32},
			wasm.ParamGet{Index: 1, Type: wasm.I32},
			wasm.OpI32GtS,
			wasm.If{
				Results: []wasm.ValType{wasm.I32},
				Then:    []wasm.Instruction{wasm.ParamGet{Index: 0, Type: wasm.I32}},
				Else:    []wasm.Instruction{wasm.ParamGet{Index: 1, Type: wasm.I32}},
			},
		},
	}
	err := e.AddFunctions(
		constMethod(sigAM, 1),
		constMethod(sigBM, 2),
		constMethod(sigAF, 10),
		constMethod(sigBaseF, 20),
		maxFn,
	)
	if err != nil {
		t.Fatal(err)
	}
	e.SetTable(b.Table())
	for addr, class := range map[uint64]string{64: "Base", 128: "A", 192: "B"} {
		id, err := g.ClassID(class)
		if err != nil {
			t.Fatal(err)
		}
		if err := e.Memory().Store32(addr, uint32(id)); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func callOn(t *testing.T, e *wasm.Engine, self uint64, call wasm.Instruction) int32 {
	t.Helper()
	e.Push(wasm.I32Value(int32(self)))
	e.Push(wasm.I32Value(int32(self)))
	if _, err := e.Run([]wasm.Instruction{call}); err != nil {
		t.Fatalf("%s on %d: %v", call, self, err)
	}
	v, err := e.PopType(wasm.I32)
	if err != nil {
		t.Fatalf("%s on %d: %v", call, self, err)
	}
	if e.Height() != 0 {
		t.Errorf("%s on %d left %d values", call, self, e.Height())
	}
	return v.I32()
}

func TestInterfaceCall(t *testing.T) {
	g := buildDispatch(t)
	b, _ := NewBuilder(g, DefaultConfig())
	e := dispatchEngine(t, g, b)

	call := Must(b.InterfaceCall(sigIM))
	if opts := call.Options(); len(opts) != 2 || opts[0] != sigAM.FuncName() || opts[1] != sigBM.FuncName() {
		t.Errorf("Options() = %v", opts)
	}
	for _, tt := range []struct {
		self uint64
		want int32
	}{{128, 1}, {192, 2}, {128, 1}} {
		if got := callOn(t, e, tt.self, call); got != tt.want {
			t.Errorf("I.m on %d = %d, want %d", tt.self, got, tt.want)
		}
	}
	mono, poly, mega, hits, misses := e.InlineCaches().Stats()
	if mono != 0 || poly != 1 || mega != 0 {
		t.Errorf("cache states = %d/%d/%d, want 0/1/0", mono, poly, mega)
	}
	if hits != 1 || misses != 2 {
		t.Errorf("hits=%d misses=%d, want 1 and 2", hits, misses)
	}

	// Abstract on Base.
	e.Push(wasm.I32Value(64))
	e.Push(wasm.I32Value(64))
	if _, err := e.Run([]wasm.Instruction{call}); !wasm.IsTrap(err) {
		t.Errorf("I.m on Base: got %v, want trap", err)
	}
}

func TestVirtualCall(t *testing.T) {
	g := buildDispatch(t)
	b, _ := NewBuilder(g, DefaultConfig())
	e := dispatchEngine(t, g, b)

	call := Must(b.VirtualCall(sigBaseF))
	for _, tt := range []struct {
		self uint64
		want int32
	}{{64, 20}, {128, 10}, {192, 20}} {
		if got := callOn(t, e, tt.self, call); got != tt.want {
			t.Errorf("Base.f on %d = %d, want %d", tt.self, got, tt.want)
		}
	}
}

func TestDynamicCall(t *testing.T) {
	g := buildDispatch(t)
	b, _ := NewBuilder(g, DefaultConfig())
	e := dispatchEngine(t, g, b)

	call := Must(b.DynamicCall(sigSite))
	if got := callOn(t, e, 192, call); got != 2 {
		t.Errorf("Site.run on B = %d, want 2", got)
	}
}

func TestUnresolvedCallLowering(t *testing.T) {
	g := buildDispatch(t)
	b, _ := NewBuilder(g, DefaultConfig())
	call := Must(b.InterfaceCall(sigIM))
	id, _ := g.DispatchID(index.Interface, sigIM)

	low := call.Lower()
	if err := wasm.CheckLowered(low); err != nil {
		t.Fatal(err)
	}
	if len(low) != 3 {
		t.Fatalf("lowered to %d instructions, want 3", len(low))
	}
	if low[0] != wasm.Instruction(wasm.I32Const(id)) {
		t.Errorf("first instruction %s, want i32.const %d", low[0], id)
	}
	if low[1].String() != "call $"+wasm.HostResolveInterface {
		t.Errorf("second instruction %s", low[1])
	}
	ci, ok := low[2].(wasm.CallIndirect)
	if !ok || !ci.Type.Equal(call.Type) {
		t.Errorf("third instruction %s, want call_indirect %s", low[2], call.Type)
	}

	pop, push := call.StackEffect()
	if len(pop) != 2 || len(push) != 1 {
		t.Errorf("stack effect %v -> %v, want [self, self] -> [i32]", pop, push)
	}
}

func TestResolvedCall(t *testing.T) {
	g := buildDispatch(t)
	b, _ := NewBuilder(g, DefaultConfig())
	e := dispatchEngine(t, g, b)

	call := Must(b.Call(sigMax))
	e.Push(wasm.I32Value(3))
	e.Push(wasm.I32Value(9))
	if _, err := e.Run([]wasm.Instruction{call}); err != nil {
		t.Fatal(err)
	}
	if v, _ := e.Pop(); v != wasm.I32Value(9) {
		t.Errorf("max(3, 9) = %v, want i32:9", v)
	}

	if _, err := b.Call(sigIM); !index.IsUnknownSignature(err) {
		t.Errorf("Call of abstract method: got %v, want UnknownSignatureError", err)
	}
	if _, err := b.InterfaceCall(sigAM); !index.IsUnknownSignature(err) {
		t.Errorf("InterfaceCall of class method: got %v, want UnknownSignatureError", err)
	}
}

func TestStackTraceWrapping(t *testing.T) {
	g := buildDispatch(t)
	cfg := DefaultConfig()
	cfg.StackPushID = 7
	b, _ := NewBuilder(g, cfg)

	low := Must(b.Call(sigMax)).Lower()
	want := []string{"i32.const 7", "call $" + wasm.HostStackPush, "call $" + sigMax.FuncName(), "call $" + wasm.HostStackPop}
	if len(low) != len(want) {
		t.Fatalf("lowered to %s", wasm.FormatCode(low))
	}
	for i := range want {
		if low[i].String() != want[i] {
			t.Errorf("instruction %d = %s, want %s", i, low[i], want[i])
		}
	}

	e := dispatchEngine(t, g, b)
	call := Must(b.VirtualCall(sigBaseF))
	if got := callOn(t, e, 128, call); got != 10 {
		t.Errorf("traced call = %d, want 10", got)
	}
	if n := len(e.TraceStack()); n != 0 {
		t.Errorf("trace stack has %d entries after return, want 0", n)
	}
}
