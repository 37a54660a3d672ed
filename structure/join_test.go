package structure

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/chazu/jvmwasm/expr"
	"github.com/chazu/jvmwasm/wasm"
)

var (
	i32 = []wasm.ValType{wasm.I32}

	emitCall   = wasm.Call{Name: "emit", Type: wasm.FuncType{Params: i32}}
	chooseCall = wasm.Call{Name: "choose", Type: wasm.FuncType{Results: i32}}

	errTraceLimit = errors.New("trace limit")
)

const traceLimit = 40

// harness runs graphs and structured code on an engine whose host
// functions record node visits and feed branch decisions.
type harness struct {
	engine  *wasm.Engine
	trace   []int32
	choices []int32
}

func newHarness(choices []int32) *harness {
	h := &harness{choices: choices}
	e := wasm.NewEngine(wasm.EngineConfig{MaxSteps: 1 << 20})
	e.AddHost(&wasm.HostFunc{
		Name: "emit",
		Type: emitCall.Type,
		Impl: func(_ *wasm.Engine, args []wasm.Value) ([]wasm.Value, error) {
			if len(h.trace) >= traceLimit {
				return nil, errTraceLimit
			}
			h.trace = append(h.trace, args[0].I32())
			return nil, nil
		},
	})
	e.AddHost(&wasm.HostFunc{
		Name: "choose",
		Type: chooseCall.Type,
		Impl: func(*wasm.Engine, []wasm.Value) ([]wasm.Value, error) {
			var v int32
			if len(h.choices) > 0 {
				v, h.choices = h.choices[0], h.choices[1:]
			}
			return []wasm.Value{wasm.I32Value(v)}, nil
		},
	})
	e.DefineGlobal("result", wasm.I32Value(-1))
	h.engine = e
	return h
}

type outcome struct {
	trace   []int32
	limited bool
	result  int32
}

func (h *harness) outcome(t *testing.T, err error) outcome {
	t.Helper()
	if err != nil && !errors.Is(err, errTraceLimit) {
		t.Fatalf("run failed: %v", err)
	}
	g, _ := h.engine.Global("result")
	return outcome{trace: h.trace, limited: err != nil, result: g.I32()}
}

// interpret walks the graph node by node.
func interpret(t *testing.T, nodes []*Node, choices []int32) outcome {
	t.Helper()
	h := newHarness(choices)
	cur := 0
	for {
		n := nodes[cur]
		sig, err := h.engine.Run(n.Code)
		if err != nil {
			return h.outcome(t, err)
		}
		if n.Kind == KindReturn || sig.Kind == wasm.SignalReturn {
			return h.outcome(t, nil)
		}
		if n.Kind == KindSequence {
			cur = n.Next
			continue
		}
		cond, err := h.engine.PopType(wasm.I32)
		if err != nil {
			t.Fatalf("node %d: %v", cur, err)
		}
		if cond.I32() != 0 {
			cur = n.IfTrue
		} else {
			cur = n.IfFalse
		}
	}
}

// execute runs structured code as the body of a function.
func execute(t *testing.T, res *Result, choices []int32) outcome {
	t.Helper()
	h := newHarness(choices)
	if err := h.engine.AddFunctions(res.Function("f", nil, nil)); err != nil {
		t.Fatalf("AddFunctions: %v", err)
	}
	_, err := h.engine.Call("f")
	return h.outcome(t, err)
}

// choicePatterns returns every sequence of four branch decisions.
func choicePatterns() [][]int32 {
	var out [][]int32
	for p := 0; p < 16; p++ {
		c := make([]int32, 4)
		for bit := range c {
			c[bit] = int32(p >> bit & 1)
		}
		out = append(out, c)
	}
	return out
}

func checkEquivalent(t *testing.T, nodes []*Node, res *Result) {
	t.Helper()
	for _, choices := range choicePatterns() {
		want := interpret(t, nodes, choices)
		got := execute(t, res, choices)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("choices %v: got %+v, want %+v\ngraph: %v\ncode:\n%s",
				choices, got, want, nodes, wasm.FormatCode(res.Code))
		}
	}
}

// ----------------------------------------------------------------------------
// Graph construction
// ----------------------------------------------------------------------------

func visit(i int) []wasm.Instruction {
	return []wasm.Instruction{wasm.I32Const(int32(i)), emitCall}
}

func seq(i, next int) *Node { return Sequence(visit(i), nil, nil, next) }

func br(i, t, f int) *Node {
	return Branch(append(visit(i), chooseCall), nil, nil, t, f)
}

// ret builds a return node; odd nodes are padded past the duplication
// limit.
func ret(i int) *Node {
	code := visit(i)
	if i%2 == 1 {
		code = append(code, wasm.OpNop)
	}
	return Return(code, nil, nil)
}

// shape decodes choice k of 1+n+n*n for node i of an n-node graph.
func shape(i, n, k int) *Node {
	switch {
	case k == 0:
		return ret(i)
	case k <= n:
		return seq(i, k-1)
	}
	k -= n + 1
	return br(i, k/n, k%n)
}

// reducible collapses the graph with the T1 (drop self loops) and T2
// (merge a node into its only predecessor) transformations.
func reducible(nodes []*Node) bool {
	succ := make(map[int]map[int]bool)
	work := []int{0}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		if succ[i] != nil {
			continue
		}
		succ[i] = make(map[int]bool)
		for _, s := range nodes[i].Successors() {
			succ[i][s] = true
			work = append(work, s)
		}
	}
	for changed := true; changed; {
		changed = false
		for i := range succ {
			delete(succ[i], i)
		}
		for m := range succ {
			if m == 0 {
				continue
			}
			var preds []int
			for p, ss := range succ {
				if ss[m] {
					preds = append(preds, p)
				}
			}
			if len(preds) != 1 {
				continue
			}
			p := preds[0]
			delete(succ[p], m)
			for s := range succ[m] {
				succ[p][s] = true
			}
			delete(succ, m)
			changed = true
			break
		}
	}
	return len(succ) == 1
}

func checkGraph(t *testing.T, nodes []*Node) {
	t.Helper()
	res, err := JoinNodes(nodes, Options{})
	if !reducible(nodes) {
		if !IsIrreducible(err) {
			t.Fatalf("graph %v: got %v, want irreducible", nodes, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("graph %v: %v", nodes, err)
	}
	if err := wasm.SimulateFunction(res.Function("f", nil, nil)); err != nil {
		t.Fatalf("graph %v: %v\ncode:\n%s", nodes, err, wasm.FormatCode(res.Code))
	}
	checkEquivalent(t, nodes, res)
}

// checkAllGraphs checks every graph of n nodes.
func checkAllGraphs(t *testing.T, n int) {
	k := 1 + n + n*n
	total := 1
	for i := 0; i < n; i++ {
		total *= k
	}
	for g := 0; g < total; g++ {
		nodes := make([]*Node, n)
		for i, code := 0, g; i < n; i, code = i+1, code/k {
			nodes[i] = shape(i, n, code%k)
		}
		checkGraph(t, nodes)
	}
}

func TestJoinNodesAllSmallGraphs(t *testing.T) {
	for n := 1; n <= 3; n++ {
		checkAllGraphs(t, n)
	}
}

func TestJoinNodesAllFourNodeGraphs(t *testing.T) {
	if testing.Short() {
		t.Skip("194481 graphs")
	}
	checkAllGraphs(t, 4)
}

func TestJoinNodesRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{4, 5} {
		k := 1 + n + n*n
		for g := 0; g < 300; g++ {
			nodes := make([]*Node, n)
			for i := range nodes {
				nodes[i] = shape(i, n, rng.Intn(k))
			}
			checkGraph(t, nodes)
		}
	}
}

// ----------------------------------------------------------------------------
// Specific shapes
// ----------------------------------------------------------------------------

func TestFirstReduction(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*Node
		want  Rule
	}{
		{"equal targets", []*Node{br(0, 1, 1), ret(1)}, RuleEqualTargets},
		{"endless", []*Node{seq(0, 0)}, RuleEndlessLoop},
		{"while", []*Node{seq(0, 1), br(1, 1, 2), ret(2)}, RuleWhileLoop},
		{"small circle", []*Node{seq(0, 1), br(1, 2, 3), seq(2, 1), ret(3)}, RuleSmallCircle},
		{"if-then", []*Node{br(0, 1, 2), seq(1, 2), ret(2)}, RuleIfThen},
		{"if-else", []*Node{br(0, 1, 2), seq(1, 3), seq(2, 3), ret(3)}, RuleIfElse},
		{"terminating", []*Node{br(0, 1, 2), ret(1), ret(2)}, RuleTerminatingBranch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := JoinNodes(tt.nodes, Options{Name: tt.name})
			if err != nil {
				t.Fatalf("JoinNodes: %v", err)
			}
			if len(res.Reductions) == 0 {
				t.Fatal("no reductions")
			}
			if got := res.Reductions[0].Rule; got != tt.want {
				t.Errorf("first rule got %s, want %s", got, tt.want)
			}
			if res.Fallback {
				t.Error("unexpected fallback")
			}
			checkEquivalent(t, tt.nodes, res)
		})
	}
}

func TestInputNodesUnchanged(t *testing.T) {
	nodes := []*Node{br(0, 1, 2), seq(1, 2), ret(2)}
	before := wasm.FormatCode(nodes[2].Code)
	if _, err := JoinNodes(nodes, Options{}); err != nil {
		t.Fatalf("JoinNodes: %v", err)
	}
	if got := wasm.FormatCode(nodes[2].Code); got != before {
		t.Errorf("return node changed: got %q, want %q", got, before)
	}
	if nodes[0].Kind != KindBranch {
		t.Errorf("entry kind got %s, want branch", nodes[0].Kind)
	}
}

// counter carries an i32 around a while loop on the operand stack.
func counter() []*Node {
	return []*Node{
		Sequence([]wasm.Instruction{wasm.I32Const(5)}, nil, i32, 1),
		Branch(concat(visit(1), []wasm.Instruction{
			wasm.I32Const(1), wasm.OpI32Add, chooseCall,
		}), i32, i32, 1, 2),
		Return(concat(visit(2), []wasm.Instruction{
			wasm.GlobalSet{Name: "result", Type: wasm.I32},
		}), i32, nil),
	}
}

func TestBlocksDeclareCarriedStack(t *testing.T) {
	push5 := []wasm.Instruction{wasm.I32Const(5), chooseCall}
	add := func(i int, v int32) []wasm.Instruction {
		return concat(visit(i), []wasm.Instruction{wasm.I32Const(v), wasm.OpI32Add})
	}
	store := []wasm.Instruction{wasm.GlobalSet{Name: "result", Type: wasm.I32}}

	tests := []struct {
		name  string
		nodes []*Node
	}{
		{"if-then", []*Node{
			Branch(push5, nil, i32, 1, 2),
			Sequence(add(1, 1), i32, i32, 2),
			Return(store, i32, nil),
		}},
		{"if-else", []*Node{
			Branch(push5, nil, i32, 1, 2),
			Sequence(add(1, 1), i32, i32, 3),
			Sequence(add(2, 10), i32, i32, 3),
			Return(store, i32, nil),
		}},
		{"terminating", []*Node{
			Branch(push5, nil, i32, 1, 2),
			Return(concat(visit(1), store), i32, nil),
			Sequence(add(2, 1), i32, i32, 3),
			Return(concat(visit(3), store), i32, nil),
		}},
		{"while", counter()},
		{"small circle", []*Node{
			Sequence([]wasm.Instruction{wasm.I32Const(3)}, nil, i32, 1),
			Branch(concat(visit(1), []wasm.Instruction{chooseCall}), i32, i32, 2, 3),
			Sequence(add(2, 1), i32, i32, 1),
			Return(store, i32, nil),
		}},
		{"dispatch", multiExit()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := JoinNodes(tt.nodes, Options{Name: tt.name})
			if err != nil {
				t.Fatalf("JoinNodes: %v", err)
			}
			if err := wasm.SimulateFunction(res.Function("f", nil, nil)); err != nil {
				t.Fatalf("%v\ncode:\n%s", err, wasm.FormatCode(res.Code))
			}
			checkEquivalent(t, tt.nodes, res)
		})
	}
}

func TestIfThenTypesCarriedValue(t *testing.T) {
	nodes := []*Node{
		Branch([]wasm.Instruction{wasm.I32Const(5), chooseCall}, nil, i32, 1, 2),
		Sequence([]wasm.Instruction{wasm.I32Const(1), wasm.OpI32Add}, i32, i32, 2),
		Return([]wasm.Instruction{wasm.GlobalSet{Name: "result", Type: wasm.I32}}, i32, nil),
	}
	res, err := JoinNodes(nodes, Options{})
	if err != nil {
		t.Fatalf("JoinNodes: %v", err)
	}
	var found bool
	for _, ins := range res.Code {
		if b, ok := ins.(wasm.If); ok {
			found = true
			if !wasm.TypesEqual(b.Params, i32) || !wasm.TypesEqual(b.Results, i32) {
				t.Errorf("if declares params %v results %v, want [i32] [i32]", b.Params, b.Results)
			}
		}
	}
	if !found {
		t.Fatalf("no if in:\n%s", wasm.FormatCode(res.Code))
	}
	for choice, want := range map[int32]int32{0: 5, 1: 6} {
		if got := execute(t, res, []int32{choice}).result; got != want {
			t.Errorf("choice %d: result got %d, want %d", choice, got, want)
		}
	}
}

// multiExit is a loop with two exits that meet again later, which no
// rule reduces.
func multiExit() []*Node {
	step := func(i int, extra ...wasm.Instruction) []wasm.Instruction {
		return concat(visit(i), extra)
	}
	return []*Node{
		Sequence([]wasm.Instruction{wasm.I32Const(3)}, nil, i32, 1),
		Branch(step(1, chooseCall), i32, i32, 2, 3),
		Branch(step(2, wasm.I32Const(1), wasm.OpI32Add, chooseCall), i32, i32, 1, 4),
		Sequence(step(3, wasm.I32Const(10), wasm.OpI32Mul), i32, i32, 5),
		Sequence(step(4, wasm.I32Const(100), wasm.OpI32Add), i32, i32, 5),
		Return(step(5, wasm.GlobalSet{Name: "result", Type: wasm.I32}), i32, nil),
	}
}

func TestStackCarriedThroughLoop(t *testing.T) {
	nodes := counter()
	res, err := JoinNodes(nodes, Options{})
	if err != nil {
		t.Fatalf("JoinNodes: %v", err)
	}
	if res.Fallback {
		t.Error("unexpected fallback")
	}
	checkEquivalent(t, nodes, res)

	got := execute(t, res, []int32{1, 1, 0})
	if got.result != 8 {
		t.Errorf("result got %d, want 8", got.result)
	}
}

func TestDispatchFallback(t *testing.T) {
	nodes := multiExit()
	res, err := JoinNodes(nodes, Options{Name: "multiExit"})
	if err != nil {
		t.Fatalf("JoinNodes: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("got structured code, want dispatch fallback:\n%s", wasm.FormatCode(res.Code))
	}
	if res.Locals[0].Name != labelLocal {
		t.Errorf("first local got %s, want %s", res.Locals[0].Name, labelLocal)
	}
	found := false
	for _, l := range res.Locals {
		if l.Name == "s0_i32" && l.Type == wasm.I32 {
			found = true
		}
	}
	if !found {
		t.Errorf("no stack slot local in %v", res.Locals)
	}
	checkEquivalent(t, nodes, res)

	// 3, one pass through node 2 adds 1, then out through node 4.
	got := execute(t, res, []int32{1, 0})
	if got.result != 104 {
		t.Errorf("result got %d, want 104", got.result)
	}
}

func TestResultsReconstruct(t *testing.T) {
	for name, nodes := range map[string][]*Node{
		"counter":    counter(),
		"multiExit":  multiExit(),
		"smallCycle": {seq(0, 1), br(1, 2, 3), seq(2, 1), ret(3)},
	} {
		res, err := JoinNodes(nodes, Options{Name: name})
		if err != nil {
			t.Fatalf("%s: JoinNodes: %v", name, err)
		}
		fn := res.Function(name, nil, nil)
		if err := wasm.SimulateFunction(fn); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if _, err := expr.Reconstruct(fn, expr.Options{}); err != nil {
			t.Errorf("%s: Reconstruct: %v", name, err)
		}
	}
}

func TestConstantBranchesFoldBeforeReducibility(t *testing.T) {
	// Without folding, 1 and 2 form a cycle entered at both nodes.
	nodes := []*Node{
		Branch(concat(visit(0), []wasm.Instruction{wasm.I32Const(1)}), nil, nil, 1, 2),
		seq(1, 2),
		br(2, 1, 3),
		ret(3),
	}
	res, err := JoinNodes(nodes, Options{})
	if err != nil {
		t.Fatalf("JoinNodes: %v", err)
	}
	checkEquivalent(t, nodes, res)
}

func TestIrreducible(t *testing.T) {
	nodes := []*Node{br(0, 1, 2), seq(1, 2), seq(2, 1)}
	_, err := JoinNodes(nodes, Options{})
	var ie *IrreducibleError
	if !errors.As(err, &ie) {
		t.Fatalf("got %v, want IrreducibleError", err)
	}
	if !reflect.DeepEqual(ie.Nodes, []int{1, 2}) {
		t.Errorf("nodes got %v, want [1 2]", ie.Nodes)
	}
}

func TestIterationLimit(t *testing.T) {
	_, err := JoinNodes(counter(), Options{MaxIterations: 1})
	if !errors.Is(err, ErrIterationLimit) {
		t.Errorf("got %v, want ErrIterationLimit", err)
	}
}

func TestInvalidGraphs(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []*Node
		mismatch bool
	}{
		{"empty", nil, false},
		{"nil node", []*Node{seq(0, 1), nil}, false},
		{"successor out of range", []*Node{seq(0, 3)}, false},
		{"output not produced", []*Node{Sequence([]wasm.Instruction{wasm.I32Const(1)}, nil, nil, 1), ret(1)}, true},
		{"branch without condition", []*Node{Branch(visit(0), nil, nil, 1, 1), ret(1)}, true},
		{"edge mismatch", []*Node{Sequence([]wasm.Instruction{wasm.I32Const(1)}, nil, i32, 1), ret(1)}, true},
		{"terminal sequence", []*Node{Sequence([]wasm.Instruction{wasm.OpUnreachable}, nil, nil, 1), ret(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JoinNodes(tt.nodes, Options{})
			if err == nil {
				t.Fatal("got nil error")
			}
			if got := IsStackMismatch(err); got != tt.mismatch {
				t.Errorf("IsStackMismatch got %v, want %v (%v)", got, tt.mismatch, err)
			}
			if !tt.mismatch && !errors.Is(err, ErrInvalidGraph) {
				t.Errorf("got %v, want ErrInvalidGraph", err)
			}
		})
	}
}

func TestEdgeMismatchNamesNodes(t *testing.T) {
	nodes := []*Node{Sequence([]wasm.Instruction{wasm.I32Const(1)}, nil, i32, 1), ret(1)}
	_, err := JoinNodes(nodes, Options{})
	var se *StackMismatchError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StackMismatchError", err)
	}
	if se.From != 0 || se.To != 1 {
		t.Errorf("edge got %d -> %d, want 0 -> 1", se.From, se.To)
	}
}
