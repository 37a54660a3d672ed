package highlevel

import (
	"fmt"
	"strings"

	"github.com/chazu/jvmwasm/wasm"
)

// ShuffleKind names an operand stack permutation.
type ShuffleKind uint8

const (
	Dup   ShuffleKind = iota // a -> a a
	DupX1                    // a b -> b a b
	DupX2                    // a b c -> c a b c
	Dup2                     // a b -> a b a b
	Swap                     // a b -> b a
)

var shuffleInfo = [...]struct {
	name string
	perm []int // result positions, bottom first, as indices into the consumed values
}{
	Dup:   {"dup", []int{0, 0}},
	DupX1: {"dupx1", []int{1, 0, 1}},
	DupX2: {"dupx2", []int{2, 0, 1, 2}},
	Dup2:  {"dup2", []int{0, 1, 0, 1}},
	Swap:  {"swap", []int{1, 0}},
}

// Arity returns how many values the shuffle consumes.
func (k ShuffleKind) Arity() int {
	n := 0
	for _, p := range shuffleInfo[k].perm {
		if p+1 > n {
			n = p + 1
		}
	}
	return n
}

func (k ShuffleKind) String() string {
	if int(k) < len(shuffleInfo) {
		return shuffleInfo[k].name
	}
	return fmt.Sprintf("shuffle(%d)", uint8(k))
}

// Shuffle permutes the top of the operand stack. Types lists the consumed
// values bottom first. It lowers to a call of a helper function named after
// the kind and the types, e.g. dupx1i32f64.
type Shuffle struct {
	Kind  ShuffleKind
	Types []wasm.ValType
	cfg   Config
}

// NewShuffle checks that types matches the arity of kind.
func NewShuffle(kind ShuffleKind, cfg Config, types ...wasm.ValType) (Shuffle, error) {
	if int(kind) >= len(shuffleInfo) {
		return Shuffle{}, fmt.Errorf("highlevel: unknown shuffle %d", kind)
	}
	if len(types) != kind.Arity() {
		return Shuffle{}, fmt.Errorf("highlevel: %s takes %d values, got %d", kind, kind.Arity(), len(types))
	}
	return Shuffle{Kind: kind, Types: append([]wasm.ValType(nil), types...), cfg: cfg}, nil
}

// NewSwap returns a swap of the two top values, a below b.
func NewSwap(a, b wasm.ValType, cfg Config) Shuffle {
	return Shuffle{Kind: Swap, Types: []wasm.ValType{a, b}, cfg: cfg}
}

// NewDup returns a duplication of the top value.
func NewDup(t wasm.ValType, cfg Config) Shuffle {
	return Shuffle{Kind: Dup, Types: []wasm.ValType{t}, cfg: cfg}
}

// HelperName returns the name of the helper function the shuffle calls.
func (s Shuffle) HelperName() string {
	var sb strings.Builder
	sb.WriteString(s.Kind.String())
	for _, t := range s.Types {
		sb.WriteString(t.String())
	}
	return sb.String()
}

// Results returns the types left on the stack, bottom first.
func (s Shuffle) Results() []wasm.ValType {
	perm := shuffleInfo[s.Kind].perm
	out := make([]wasm.ValType, len(perm))
	for i, p := range perm {
		out[i] = s.Types[p]
	}
	return out
}

// Perm returns, for each result position bottom first, the index of the
// consumed value it copies.
func (s Shuffle) Perm() []int {
	return append([]int(nil), shuffleInfo[s.Kind].perm...)
}

// Apply permutes values, given bottom first.
func (s Shuffle) Apply(vals []wasm.Value) []wasm.Value {
	perm := shuffleInfo[s.Kind].perm
	out := make([]wasm.Value, len(perm))
	for i, p := range perm {
		out[i] = vals[p]
	}
	return out
}

func (s Shuffle) Execute(e *wasm.Engine) (wasm.Signal, error) {
	vals := make([]wasm.Value, len(s.Types))
	for i := len(s.Types) - 1; i >= 0; i-- {
		v, err := e.PopType(s.Types[i])
		if err != nil {
			return wasm.Continue, fmt.Errorf("%s: %w", s, err)
		}
		vals[i] = v
	}
	for _, v := range s.Apply(vals) {
		e.Push(v)
	}
	return wasm.Continue, nil
}

func (s Shuffle) Lower() []wasm.Instruction {
	return []wasm.Instruction{wasm.Call{Name: s.HelperName(), Type: s.funcType()}}
}

// swapCall is the lowered form of a swap of a under b.
func swapCall(a, b wasm.ValType) wasm.Call {
	s := Shuffle{Kind: Swap, Types: []wasm.ValType{a, b}}
	return wasm.Call{Name: s.HelperName(), Type: s.funcType()}
}

func (s Shuffle) funcType() wasm.FuncType {
	return wasm.FuncType{Params: s.Types, Results: s.Results()}
}

func (s Shuffle) StackEffect() (pop, push []wasm.ValType) {
	return s.Types, s.Results()
}

func (s Shuffle) String() string {
	return s.HelperName()
}

// function returns the helper implementing the shuffle.
func (s Shuffle) function() *wasm.Function {
	body := make([]wasm.Instruction, 0, len(shuffleInfo[s.Kind].perm))
	for _, p := range shuffleInfo[s.Kind].perm {
		body = append(body, wasm.ParamGet{Index: p, Type: s.Types[p]})
	}
	return &wasm.Function{
		Name:    s.HelperName(),
		Params:  s.Types,
		Results: s.Results(),
		Body:    body,
		Export:  s.cfg.ExportHelpers,
	}
}

// ParseShuffle recognizes a shuffle helper name such as "swapf32i64" and
// returns the shuffle it implements.
func ParseShuffle(name string, cfg Config) (Shuffle, bool) {
	// Longest prefixes first: "dup" is a prefix of the others.
	for _, kind := range []ShuffleKind{DupX1, DupX2, Dup2, Swap, Dup} {
		prefix := shuffleInfo[kind].name
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if len(rest) != 3*kind.Arity() {
			continue
		}
		types := make([]wasm.ValType, 0, kind.Arity())
		for i := 0; i < len(rest); i += 3 {
			t, err := wasm.ParseValType(rest[i : i+3])
			if err != nil {
				return Shuffle{}, false
			}
			types = append(types, t)
		}
		return Shuffle{Kind: kind, Types: types, cfg: cfg}, true
	}
	return Shuffle{}, false
}
