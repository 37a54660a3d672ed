package highlevel

import (
	"testing"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

func TestShufflePermutations(t *testing.T) {
	a, b, c := wasm.I32Value(1), wasm.F64Value(2), wasm.I64Value(3)
	tests := []struct {
		kind  ShuffleKind
		types []wasm.ValType
		in    []wasm.Value
		want  []wasm.Value
		name  string
	}{
		{Dup, []wasm.ValType{wasm.I32}, []wasm.Value{a}, []wasm.Value{a, a}, "dupi32"},
		{Swap, []wasm.ValType{wasm.I32, wasm.F64}, []wasm.Value{a, b}, []wasm.Value{b, a}, "swapi32f64"},
		{DupX1, []wasm.ValType{wasm.I32, wasm.F64}, []wasm.Value{a, b}, []wasm.Value{b, a, b}, "dupx1i32f64"},
		{DupX2, []wasm.ValType{wasm.I32, wasm.F64, wasm.I64}, []wasm.Value{a, b, c}, []wasm.Value{c, a, b, c}, "dupx2i32f64i64"},
		{Dup2, []wasm.ValType{wasm.I32, wasm.F64}, []wasm.Value{a, b}, []wasm.Value{a, b, a, b}, "dup2i32f64"},
	}
	cfg := DefaultConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewShuffle(tt.kind, cfg, tt.types...)
			if err != nil {
				t.Fatal(err)
			}
			if s.HelperName() != tt.name {
				t.Errorf("HelperName() = %q, want %q", s.HelperName(), tt.name)
			}

			code := make([]wasm.Instruction, 0, len(tt.in)+1)
			for _, v := range tt.in {
				code = append(code, wasm.Const{Value: v})
			}
			code = append(code, s)
			direct, lowered := runBoth(t, cfg, code)
			if !sameStack(direct.stack, tt.want) {
				t.Errorf("execute: got %v, want %v", direct.stack, tt.want)
			}
			if !sameStack(lowered.stack, tt.want) {
				t.Errorf("lowered: got %v, want %v", lowered.stack, tt.want)
			}

			parsed, ok := ParseShuffle(tt.name, cfg)
			if !ok || parsed.Kind != tt.kind || !wasm.TypesEqual(parsed.Types, tt.types) {
				t.Errorf("ParseShuffle(%q) = %v, %v", tt.name, parsed, ok)
			}
		})
	}
}

func TestShuffleArity(t *testing.T) {
	if _, err := NewShuffle(DupX1, DefaultConfig(), wasm.I32); err == nil {
		t.Error("expected arity error")
	}
	for _, name := range []string{"dupx1i32", "swapi32i16", "rot3i32i32i32", "dup"} {
		if _, ok := ParseShuffle(name, DefaultConfig()); ok {
			t.Errorf("ParseShuffle(%q) succeeded", name)
		}
	}
}

func TestShuffleTypeCheck(t *testing.T) {
	e := newEngine(t, DefaultConfig(), nil)
	e.Push(wasm.F32Value(1))
	if _, err := e.Run([]wasm.Instruction{NewDup(wasm.I32, DefaultConfig())}); err == nil {
		t.Error("expected type error")
	}
}

func TestHelperFunctionsValidate(t *testing.T) {
	for _, ptr64 := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Pointer64 = ptr64
		cfg.ExportHelpers = true
		helpers := HelperFunctions(cfg)
		// 32 field helpers, 116 shuffles.
		if len(helpers) != 148 {
			t.Errorf("ptr64=%v: got %d helpers, want 148", ptr64, len(helpers))
		}
		seen := make(map[string]bool)
		for _, fn := range helpers {
			if seen[fn.Name] {
				t.Errorf("duplicate helper %s", fn.Name)
			}
			seen[fn.Name] = true
			if !fn.Export {
				t.Errorf("%s not exported", fn.Name)
			}
			if err := wasm.SimulateFunction(fn); err != nil {
				t.Errorf("ptr64=%v %s: %v", ptr64, fn.Name, err)
			}
		}
	}
}

func TestHelpersFor(t *testing.T) {
	g := buildFields(t, false)
	b, _ := NewBuilder(g, DefaultConfig())
	f := index.FieldSig{Class: "Obj", Name: fieldName(4), Descriptor: "I"}
	fn := &wasm.Function{
		Name:   "store",
		Params: []wasm.ValType{wasm.I32, wasm.I32},
		Body: []wasm.Instruction{
			wasm.ParamGet{Index: 0, Type: wasm.I32},
			wasm.ParamGet{Index: 1, Type: wasm.I32},
			Must(b.FieldSet(f, false)),
		},
	}
	helpers := HelpersFor(b.Config(), fn)
	if len(helpers) != 1 || helpers[0].Name != "swapi32i32" {
		names := make([]string, len(helpers))
		for i, h := range helpers {
			names[i] = h.Name
		}
		t.Errorf("HelpersFor = %v, want [swapi32i32]", names)
	}
}
