package structure

import (
	"fmt"

	"github.com/chazu/jvmwasm/wasm"
)

// Rule names a graph reduction.
type Rule uint8

const (
	RuleEqualTargets Rule = iota
	RuleConstantBranch
	RuleSequence
	RuleEndlessLoop
	RuleWhileLoop
	RuleSmallCircle
	RuleIfThen
	RuleIfElse
	RuleTerminatingBranch
	RuleDuplicateReturn
)

var ruleNames = [...]string{
	RuleEqualTargets:      "equal-targets",
	RuleConstantBranch:    "constant-branch",
	RuleSequence:          "sequence",
	RuleEndlessLoop:       "endless-loop",
	RuleWhileLoop:         "while-loop",
	RuleSmallCircle:       "small-circle",
	RuleIfThen:            "if-then",
	RuleIfElse:            "if-else",
	RuleTerminatingBranch: "terminating-branch",
	RuleDuplicateReturn:   "duplicate-return",
}

func (r Rule) String() string {
	if int(r) < len(ruleNames) {
		return ruleNames[r]
	}
	return fmt.Sprintf("rule(%d)", uint8(r))
}

// Reduction records one rule application: the nodes it consumed and the
// node that replaced them.
type Reduction struct {
	Rule     Rule
	Consumed []int
	Node     int
}

type ruleFunc func(g *graph, h int, preds [][]int) bool

// rules in priority order.
var rules = []ruleFunc{
	(*graph).equalTargets,
	(*graph).constantBranch,
	(*graph).sequence,
	(*graph).endlessLoop,
	(*graph).whileLoop,
	(*graph).smallCircle,
	(*graph).ifThen,
	(*graph).ifElse,
	(*graph).terminatingBranch,
	(*graph).duplicateReturn,
}

// reduce applies the first rule that matches, trying rules in priority
// order and headers in ascending order.
func (g *graph) reduce() bool {
	preds := g.predecessors()
	live := g.live()
	for _, rule := range rules {
		for _, h := range live {
			if rule(g, h, preds) {
				return true
			}
		}
	}
	return false
}

// replace swaps the consumed nodes for n. Edges into consumed[0] move to
// the new node; the other consumed nodes must have no predecessors outside
// the region.
func (g *graph) replace(rule Rule, n *Node, consumed ...int) {
	id := len(g.nodes)
	g.nodes = append(g.nodes, n)
	header := consumed[0]
	for _, c := range consumed {
		g.nodes[c] = nil
	}
	for _, m := range g.nodes {
		if m != nil {
			m.redirect(header, id)
		}
	}
	if g.entry == header {
		g.entry = id
	}
	g.reductions = append(g.reductions, Reduction{Rule: rule, Consumed: consumed, Node: id})
	log.Debugf("%s: %s %v -> %d (%s)", g.name, rule, consumed, id, n)
}

func (g *graph) label() string {
	l := fmt.Sprintf("loop%d", g.labels)
	g.labels++
	return l
}

// only reports whether h is b's sole predecessor and b can be absorbed.
func (g *graph) only(b, h int, preds [][]int) bool {
	return b != h && b != g.entry && len(preds[b]) == 1 && preds[b][0] == h
}

// easy reports whether n is small enough to copy into its predecessors.
func (g *graph) easy(n *Node) bool {
	if n.Kind != KindReturn {
		return false
	}
	count := 0
	for _, ins := range n.Code {
		switch ins.(type) {
		case wasm.Comment:
			continue
		case wasm.If, wasm.Loop:
			return false
		}
		count++
	}
	return count <= g.duplicateLimit
}

// test returns the code of branch node a, arranged so the condition left
// on the stack is non-zero exactly when a continues at its true side when
// toTrue holds, or at its false side otherwise.
func test(a *Node, toTrue bool) []wasm.Instruction {
	if toTrue {
		return concat(a.Code)
	}
	return concat(a.Code, []wasm.Instruction{wasm.OpI32Eqz})
}

// side is one way out of a branch node: control goes to b, and c is the
// other successor. toTrue holds for the true side.
type side struct {
	b, c   int
	toTrue bool
}

// sides returns a branch node's sides, the true side first.
func sides(a *Node) [2]side {
	return [2]side{
		{a.IfTrue, a.IfFalse, true},
		{a.IfFalse, a.IfTrue, false},
	}
}

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

func (g *graph) equalTargets(h int, _ [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindBranch || a.IfTrue != a.IfFalse {
		return false
	}
	code := concat(a.Code, []wasm.Instruction{wasm.OpDrop})
	g.replace(RuleEqualTargets, Sequence(code, a.In, a.Out, a.IfTrue), h)
	return true
}

func (g *graph) constantBranch(h int, _ [][]int) bool {
	a := g.nodes[h]
	v, ok := constCondition(a)
	if !ok {
		return false
	}
	target := a.IfFalse
	if v != 0 {
		target = a.IfTrue
	}
	code := concat(a.Code[:len(a.Code)-1])
	g.replace(RuleConstantBranch, Sequence(code, a.In, a.Out, target), h)
	return true
}

func (g *graph) sequence(h int, preds [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindSequence || !g.only(a.Next, h, preds) {
		return false
	}
	b := g.nodes[a.Next]
	n := b.clone()
	n.Code = concat(a.Code, b.Code)
	n.In = a.In
	g.replace(RuleSequence, n, h, a.Next)
	return true
}

func (g *graph) endlessLoop(h int, _ [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindSequence || a.Next != h {
		return false
	}
	l := g.label()
	body := concat(a.Code, []wasm.Instruction{wasm.Jump{Label: l}})
	code := []wasm.Instruction{wasm.Loop{Label: l, Params: a.In, Body: body}}
	g.replace(RuleEndlessLoop, Return(code, a.In, a.Out), h)
	return true
}

func (g *graph) whileLoop(h int, _ [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindBranch || (a.IfTrue == h) == (a.IfFalse == h) {
		return false
	}
	exit := a.IfTrue
	if exit == h {
		exit = a.IfFalse
	}
	l := g.label()
	body := concat(test(a, a.IfTrue == h), []wasm.Instruction{wasm.JumpIf{Label: l}})
	code := []wasm.Instruction{wasm.Loop{Label: l, Params: a.In, Results: a.Out, Body: body}}
	g.replace(RuleWhileLoop, Sequence(code, a.In, a.Out, exit), h)
	return true
}

// smallCircle folds a two-node cycle a -> b -> a where b is reached only
// from a, and b either always returns to a or leaves towards a's other
// successor.
func (g *graph) smallCircle(h int, preds [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindBranch || a.IfTrue == a.IfFalse || a.IfTrue == h || a.IfFalse == h {
		return false
	}
	for _, s := range sides(a) {
		if !g.only(s.b, h, preds) {
			continue
		}
		b := g.nodes[s.b]
		var always, negate bool
		switch {
		case b.Kind == KindSequence && b.Next == h:
			always = true
		case b.Kind == KindBranch && b.IfTrue == h && b.IfFalse == s.c:
		case b.Kind == KindBranch && b.IfFalse == h && b.IfTrue == s.c:
			negate = true
		default:
			continue
		}
		l := g.label()
		then := concat(b.Code)
		switch {
		case always:
			then = append(then, wasm.Jump{Label: l})
		case negate:
			then = append(then, wasm.OpI32Eqz, wasm.JumpIf{Label: l})
		default:
			then = append(then, wasm.JumpIf{Label: l})
		}
		body := concat(test(a, s.toTrue), []wasm.Instruction{wasm.If{Params: a.Out, Results: a.Out, Then: then}})
		code := []wasm.Instruction{wasm.Loop{Label: l, Params: a.In, Results: a.Out, Body: body}}
		g.replace(RuleSmallCircle, Sequence(code, a.In, a.Out, s.c), h, s.b)
		return true
	}
	return false
}

func (g *graph) ifThen(h int, preds [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindBranch || a.IfTrue == a.IfFalse {
		return false
	}
	for _, s := range sides(a) {
		if s.c == h || !g.only(s.b, h, preds) {
			continue
		}
		b := g.nodes[s.b]
		if b.Kind != KindSequence || b.Next != s.c {
			continue
		}
		code := concat(test(a, s.toTrue), []wasm.Instruction{wasm.If{Params: a.Out, Results: b.Out, Then: concat(b.Code)}})
		g.replace(RuleIfThen, Sequence(code, a.In, a.Out, s.c), h, s.b)
		return true
	}
	return false
}

func (g *graph) ifElse(h int, preds [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindBranch || a.IfTrue == a.IfFalse {
		return false
	}
	if !g.only(a.IfTrue, h, preds) || !g.only(a.IfFalse, h, preds) {
		return false
	}
	b, c := g.nodes[a.IfTrue], g.nodes[a.IfFalse]
	if b.Kind != KindSequence || c.Kind != KindSequence || b.Next != c.Next {
		return false
	}
	code := concat(a.Code, []wasm.Instruction{wasm.If{Params: a.Out, Results: b.Out, Then: concat(b.Code), Else: concat(c.Code)}})
	g.replace(RuleIfElse, Sequence(code, a.In, b.Out, b.Next), h, a.IfTrue, a.IfFalse)
	return true
}

// terminatingBranch inlines return nodes into the branch that reaches
// them. A return node reached from elsewhere too is copied when it is
// easy, and left in place.
func (g *graph) terminatingBranch(h int, preds [][]int) bool {
	a := g.nodes[h]
	if a.Kind != KindBranch || a.IfTrue == a.IfFalse || a.IfTrue == h || a.IfFalse == h {
		return false
	}
	returns := func(i int) bool {
		n := g.nodes[i]
		return n.Kind == KindReturn && (g.only(i, h, preds) || g.easy(n))
	}
	consumed := []int{h}
	absorb := func(i int) {
		if g.only(i, h, preds) {
			consumed = append(consumed, i)
		}
	}
	t, f := g.nodes[a.IfTrue], g.nodes[a.IfFalse]
	if returns(a.IfTrue) && returns(a.IfFalse) {
		absorb(a.IfTrue)
		absorb(a.IfFalse)
		code := concat(a.Code, []wasm.Instruction{wasm.If{Params: a.Out, Then: concat(t.Code), Else: concat(f.Code)}})
		g.replace(RuleTerminatingBranch, Return(code, a.In, t.Out), consumed...)
		return true
	}
	for _, s := range sides(a) {
		if !returns(s.b) {
			continue
		}
		absorb(s.b)
		code := concat(test(a, s.toTrue), []wasm.Instruction{wasm.If{Params: a.Out, Results: a.Out, Then: concat(g.nodes[s.b].Code)}})
		g.replace(RuleTerminatingBranch, Sequence(code, a.In, a.Out, s.c), consumed...)
		return true
	}
	return false
}

// duplicateReturn copies an easy return node into one of its sequence
// predecessors.
func (g *graph) duplicateReturn(h int, preds [][]int) bool {
	r := g.nodes[h]
	if !g.easy(r) {
		return false
	}
	for _, p := range preds[h] {
		n := g.nodes[p]
		if p == h || n.Kind != KindSequence {
			continue
		}
		g.replace(RuleDuplicateReturn, Return(concat(n.Code, r.Code), n.In, r.Out), p)
		return true
	}
	return false
}
