package highlevel

import (
	"bytes"
	"testing"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

func newEngine(t *testing.T, cfg Config, resolver wasm.Resolver) *wasm.Engine {
	t.Helper()
	e := wasm.NewEngine(wasm.EngineConfig{Pointer64: cfg.Pointer64, Resolver: resolver})
	if err := e.AddFunctions(HelperFunctions(cfg)...); err != nil {
		t.Fatalf("AddFunctions: %v", err)
	}
	return e
}

var fieldCases = []struct {
	desc  string
	value func(ptr64 bool) wasm.Value
}{
	{"Z", func(bool) wasm.Value { return wasm.I32Value(1) }},
	{"B", func(bool) wasm.Value { return wasm.I32Value(-5) }},
	{"S", func(bool) wasm.Value { return wasm.I32Value(-300) }},
	{"C", func(bool) wasm.Value { return wasm.I32Value(0xFFFF) }},
	{"I", func(bool) wasm.Value { return wasm.I32Value(42) }},
	{"J", func(bool) wasm.Value { return wasm.I64Value(1 << 40) }},
	{"F", func(bool) wasm.Value { return wasm.F32Value(1.5) }},
	{"D", func(bool) wasm.Value { return wasm.F64Value(-2.25) }},
	{"Ljava/lang/Object;", func(p bool) wasm.Value { return wasm.AddressValue(4096, p) }},
}

func fieldName(i int) string { return "f" + string(rune('a'+i)) }

// buildFields registers one instance and one static field per case on
// class Obj.
func buildFields(t *testing.T, pointer64 bool) *index.GlobalIndex {
	t.Helper()
	b := index.NewBuilder(index.Options{Pointer64: pointer64, StaticStart: 1024})
	if err := b.AddClass(index.ClassSig{Name: "Obj"}); err != nil {
		t.Fatal(err)
	}
	for i, c := range fieldCases {
		for _, static := range []bool{false, true} {
			f := index.FieldSig{Class: "Obj", Name: fieldName(i), Descriptor: c.desc, Static: static}
			if err := b.AddField(f); err != nil {
				t.Fatal(err)
			}
		}
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return g
}

type runResult struct {
	stack  []wasm.Value
	memory []byte
}

func runBoth(t *testing.T, cfg Config, code []wasm.Instruction) (direct, lowered runResult) {
	t.Helper()
	low := wasm.LowerAll(code)
	if err := wasm.CheckLowered(low); err != nil {
		t.Fatalf("lowering left high-level code: %v", err)
	}
	for _, run := range []struct {
		code []wasm.Instruction
		out  *runResult
	}{{code, &direct}, {low, &lowered}} {
		e := newEngine(t, cfg, nil)
		if _, err := e.Run(run.code); err != nil {
			t.Fatalf("run %s: %v", wasm.FormatCode(run.code), err)
		}
		run.out.stack = e.Stack()
		run.out.memory = append([]byte(nil), e.Memory().Bytes()...)
	}
	return direct, lowered
}

func sameStack(a, b []wasm.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFieldExecuteMatchesLowering(t *testing.T) {
	for _, ptr64 := range []bool{false, true} {
		for _, fieldCalls := range []bool{false, true} {
			cfg := DefaultConfig()
			cfg.Pointer64 = ptr64
			cfg.FieldCalls = fieldCalls
			g := buildFields(t, ptr64)
			b, err := NewBuilder(g, cfg)
			if err != nil {
				t.Fatal(err)
			}
			self := wasm.PtrConst(256, ptr64)

			for i, c := range fieldCases {
				v := wasm.Const{Value: c.value(ptr64)}
				inst := index.FieldSig{Class: "Obj", Name: fieldName(i), Descriptor: c.desc}
				static := inst
				static.Static = true

				code := []wasm.Instruction{
					// self.f = v
					self, v, Must(b.FieldSet(inst, false)),
					// self.f = v, value under object
					v, self, Must(b.FieldSet(inst, true)),
					// Obj.f = v
					v, Must(b.FieldSet(static, false)),
					self, Must(b.FieldGet(inst)),
					Must(b.FieldGet(static)),
				}
				direct, lowered := runBoth(t, cfg, code)
				if !sameStack(direct.stack, lowered.stack) {
					t.Errorf("ptr64=%v calls=%v %s: stack %v after execute, %v after lowering",
						ptr64, fieldCalls, c.desc, direct.stack, lowered.stack)
				}
				if !bytes.Equal(direct.memory, lowered.memory) {
					t.Errorf("ptr64=%v calls=%v %s: memory differs", ptr64, fieldCalls, c.desc)
				}
				want := c.value(ptr64)
				if len(direct.stack) != 2 || direct.stack[0] != want || direct.stack[1] != want {
					t.Errorf("ptr64=%v calls=%v %s: got %v, want [%v %v]", ptr64, fieldCalls, c.desc, direct.stack, want, want)
				}
			}
		}
	}
}

func TestStaticIntField(t *testing.T) {
	b := index.NewBuilder(index.Options{StaticStart: 1024})
	mustAdd := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	mustAdd(b.AddClass(index.ClassSig{Name: "D"}))
	mustAdd(b.AddClass(index.ClassSig{Name: "C"}))
	mustAdd(b.AddField(index.FieldSig{Class: "D", Name: "s", Descriptor: "S", Static: true}))
	mustAdd(b.AddField(index.FieldSig{Class: "C", Name: "a", Descriptor: "J", Static: true}))
	fx := index.FieldSig{Class: "C", Name: "x", Descriptor: "I", Static: true}
	mustAdd(b.AddField(fx))
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	base, _ := g.StaticBase("C")

	for _, fieldCalls := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.FieldCalls = fieldCalls
		hb, err := NewBuilder(g, cfg)
		if err != nil {
			t.Fatal(err)
		}
		set := Must(hb.FieldSet(fx, false))
		get := Must(hb.FieldGet(fx))
		if got := set.Address(0); got != uint64(base+8) {
			t.Errorf("address = %d, want %d", got, base+8)
		}

		e := newEngine(t, cfg, nil)
		code := wasm.LowerAll([]wasm.Instruction{wasm.I32Const(42), set, get})
		if _, err := e.Run(code); err != nil {
			t.Fatalf("calls=%v: %v", fieldCalls, err)
		}
		v, err := e.Pop()
		if err != nil || v != wasm.I32Value(42) {
			t.Errorf("calls=%v: got %v, %v, want i32:42", fieldCalls, v, err)
		}
		raw, _ := e.Memory().Load32(uint64(base + 8))
		if raw != 42 {
			t.Errorf("calls=%v: memory holds %d, want 42", fieldCalls, raw)
		}
	}
}

func TestFieldAddress(t *testing.T) {
	g := buildFields(t, false)
	b, _ := NewBuilder(g, DefaultConfig())
	f := index.FieldSig{Class: "Obj", Name: fieldName(4), Descriptor: "I"}
	get := Must(b.FieldGet(f))
	off, _ := g.Field(f)
	if got := get.Address(256); got != uint64(256+off) {
		t.Errorf("Address(256) = %d, want %d", got, 256+off)
	}
}

func TestFieldLowering(t *testing.T) {
	g := buildFields(t, false)
	b, _ := NewBuilder(g, DefaultConfig())
	f := index.FieldSig{Class: "Obj", Name: fieldName(4), Descriptor: "I"}
	off, _ := g.Field(f)

	got := wasm.FormatCode(Must(b.FieldSet(f, false)).Lower())
	want := wasm.FormatCode([]wasm.Instruction{
		wasm.Call{Name: "swapi32i32"},
		wasm.I32Const(int32(off)),
		wasm.OpI32Add,
		wasm.Call{Name: "swapi32i32"},
		wasm.OpI32Store,
	})
	if got != want {
		t.Errorf("inline lowering:\n%s\nwant:\n%s", got, want)
	}

	cfg := DefaultConfig()
	cfg.FieldCalls = true
	b, _ = NewBuilder(g, cfg)
	low := Must(b.FieldGet(f)).Lower()
	if len(low) != 2 || low[1].String() != "call $getFieldI32" {
		t.Errorf("call lowering = %s", wasm.FormatCode(low))
	}
}

func TestUnknownField(t *testing.T) {
	g := buildFields(t, false)
	b, _ := NewBuilder(g, DefaultConfig())
	_, err := b.FieldGet(index.FieldSig{Class: "Obj", Name: "nope", Descriptor: "I"})
	if !index.IsUnknownSignature(err) {
		t.Errorf("got %v, want UnknownSignatureError", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Must did not panic")
		}
	}()
	Must(b.FieldSet(index.FieldSig{Class: "Nope", Name: "x", Descriptor: "I", Static: true}, false))
}

func TestPointerWidthMismatch(t *testing.T) {
	g := buildFields(t, true)
	if _, err := NewBuilder(g, DefaultConfig()); err == nil {
		t.Error("expected error for 32-bit config over 64-bit index")
	}
}
