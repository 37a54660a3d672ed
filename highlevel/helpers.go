package highlevel

import (
	"sort"

	"github.com/chazu/jvmwasm/wasm"
)

// Field helpers take the object address and an i32 offset and combine them
// the same way inline lowering does.

func (c Config) offsetToPtr(code []wasm.Instruction) []wasm.Instruction {
	if c.Pointer64 {
		return append(code, wasm.OpI64ExtendI32U)
	}
	return code
}

func getHelper(prefix string, a access, cfg Config) *wasm.Function {
	ptr := cfg.Ptr()
	fn := &wasm.Function{
		Name:    prefix + a.loadSfx,
		Results: []wasm.ValType{a.typ},
		Export:  cfg.ExportHelpers,
	}
	if prefix == "getStaticField" {
		fn.Params = []wasm.ValType{ptr}
		fn.Body = []wasm.Instruction{wasm.ParamGet{Index: 0, Type: ptr}, a.load}
		return fn
	}
	fn.Params = []wasm.ValType{ptr, wasm.I32}
	body := []wasm.Instruction{wasm.ParamGet{Index: 0, Type: ptr}, wasm.ParamGet{Index: 1, Type: wasm.I32}}
	body = cfg.offsetToPtr(body)
	fn.Body = append(body, cfg.ptrAdd(), a.load)
	return fn
}

func setHelper(prefix string, a access, cfg Config) *wasm.Function {
	ptr := cfg.Ptr()
	fn := &wasm.Function{Name: prefix + a.storeSfx, Export: cfg.ExportHelpers}
	switch prefix {
	case "setStaticField":
		fn.Params = []wasm.ValType{a.typ, ptr}
		fn.Body = []wasm.Instruction{
			wasm.ParamGet{Index: 1, Type: ptr},
			wasm.ParamGet{Index: 0, Type: a.typ},
			a.store,
		}
		return fn
	case "setFieldVIO":
		fn.Params = []wasm.ValType{a.typ, ptr, wasm.I32}
		body := []wasm.Instruction{wasm.ParamGet{Index: 1, Type: ptr}, wasm.ParamGet{Index: 2, Type: wasm.I32}}
		body = cfg.offsetToPtr(body)
		fn.Body = append(body, cfg.ptrAdd(), wasm.ParamGet{Index: 0, Type: a.typ}, a.store)
		return fn
	}
	fn.Params = []wasm.ValType{ptr, a.typ, wasm.I32}
	body := []wasm.Instruction{wasm.ParamGet{Index: 0, Type: ptr}, wasm.ParamGet{Index: 2, Type: wasm.I32}}
	body = cfg.offsetToPtr(body)
	fn.Body = append(body, cfg.ptrAdd(), wasm.ParamGet{Index: 1, Type: a.typ}, a.store)
	return fn
}

var valTypes = []wasm.ValType{wasm.I32, wasm.I64, wasm.F32, wasm.F64}

// allShuffles enumerates every shuffle over every combination of types.
func allShuffles(cfg Config) []Shuffle {
	var out []Shuffle
	for kind := Dup; kind <= Swap; kind++ {
		n := kind.Arity()
		idx := make([]int, n)
		for {
			types := make([]wasm.ValType, n)
			for i, j := range idx {
				types[i] = valTypes[j]
			}
			out = append(out, Shuffle{Kind: kind, Types: types, cfg: cfg})

			// Odometer increment over idx.
			i := n - 1
			for i >= 0 {
				idx[i]++
				if idx[i] < len(valTypes) {
					break
				}
				idx[i] = 0
				i--
			}
			if i < 0 {
				break
			}
		}
	}
	return out
}

// HelperFunctions returns every field access and shuffle helper that
// lowered code may call, sorted by name.
func HelperFunctions(cfg Config) []*wasm.Function {
	seen := make(map[string]*wasm.Function)
	for _, a := range allAccesses() {
		for _, fn := range []*wasm.Function{
			getHelper("getField", a, cfg),
			getHelper("getStaticField", a, cfg),
			setHelper("setField", a, cfg),
			setHelper("setFieldVIO", a, cfg),
			setHelper("setStaticField", a, cfg),
		} {
			seen[fn.Name] = fn
		}
	}
	for _, s := range allShuffles(cfg) {
		fn := s.function()
		seen[fn.Name] = fn
	}
	out := make([]*wasm.Function, 0, len(seen))
	for _, fn := range seen {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HelpersFor returns only the helpers called from the given functions
// after lowering.
func HelpersFor(cfg Config, fns ...*wasm.Function) []*wasm.Function {
	called := make(map[string]bool)
	var walk func(code []wasm.Instruction)
	walk = func(code []wasm.Instruction) {
		for _, ins := range code {
			switch ins := ins.(type) {
			case wasm.Call:
				called[ins.Name] = true
			case wasm.If:
				walk(ins.Then)
				walk(ins.Else)
			case wasm.Loop:
				walk(ins.Body)
			}
		}
	}
	for _, fn := range fns {
		walk(wasm.LowerAll(fn.Body))
	}
	var out []*wasm.Function
	for _, fn := range HelperFunctions(cfg) {
		if called[fn.Name] {
			out = append(out, fn)
		}
	}
	return out
}
