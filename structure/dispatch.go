package structure

import (
	"fmt"
	"sort"

	"github.com/chazu/jvmwasm/wasm"
)

const (
	labelLocal    = "lbl"
	dispatchLabel = "dispatch"
)

// dispatch lowers whatever is left of the graph to a single loop that
// selects the next node by the value of a label local. Operand stack
// values crossing an edge live in locals named by position and type.
func (g *graph) dispatch(in []wasm.ValType) *Result {
	live := g.live()
	ids := make(map[int]int32, len(live))
	for k, i := range live {
		ids[i] = int32(k)
	}
	slots := make(map[string]wasm.ValType)
	slot := func(pos int, t wasm.ValType) string {
		name := fmt.Sprintf("s%d_%s", pos, t)
		slots[name] = t
		return name
	}
	spill := func(ts []wasm.ValType) []wasm.Instruction {
		var code []wasm.Instruction
		for pos := len(ts) - 1; pos >= 0; pos-- {
			code = append(code, wasm.LocalSet{Name: slot(pos, ts[pos]), Type: ts[pos]})
		}
		return code
	}
	fill := func(ts []wasm.ValType) []wasm.Instruction {
		var code []wasm.Instruction
		for pos, t := range ts {
			code = append(code, wasm.LocalGet{Name: slot(pos, t), Type: t})
		}
		return code
	}
	goTo := func(out []wasm.ValType, target int) []wasm.Instruction {
		return concat(spill(out), []wasm.Instruction{
			wasm.I32Const(ids[target]),
			wasm.LocalSet{Name: labelLocal, Type: wasm.I32},
			wasm.Jump{Label: dispatchLabel},
		})
	}

	var body []wasm.Instruction
	for _, i := range live {
		n := g.nodes[i]
		code := concat(fill(n.In), n.Code)
		switch n.Kind {
		case KindSequence:
			code = concat(code, goTo(n.Out, n.Next))
		case KindBranch:
			code = append(code, wasm.If{Params: n.Out, Then: goTo(n.Out, n.IfTrue), Else: goTo(n.Out, n.IfFalse)})
		}
		body = append(body,
			wasm.Comment{Text: fmt.Sprintf("node %d", i)},
			wasm.LocalGet{Name: labelLocal, Type: wasm.I32},
			wasm.I32Const(ids[i]),
			wasm.OpI32Eq,
			wasm.If{Then: code},
		)
	}
	body = append(body, wasm.OpUnreachable)

	code := concat(spill(in), []wasm.Instruction{
		wasm.I32Const(ids[g.entry]),
		wasm.LocalSet{Name: labelLocal, Type: wasm.I32},
		wasm.Loop{Label: dispatchLabel, Body: body},
	})

	locals := []wasm.Local{{Name: labelLocal, Type: wasm.I32}}
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		locals = append(locals, wasm.Local{Name: name, Type: slots[name]})
	}
	return &Result{
		Code:       code,
		In:         in,
		Locals:     locals,
		Reductions: g.reductions,
		Fallback:   true,
	}
}
