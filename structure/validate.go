package structure

import (
	"fmt"
	"sort"

	"github.com/chazu/jvmwasm/wasm"
	"golang.org/x/tools/container/intsets"
)

// check verifies successor indices and that every node's code produces its
// declared output, which in turn matches each successor's input. Return
// nodes whose code can fall through get an explicit return appended.
func (g *graph) check() error {
	for i, n := range g.nodes {
		if n == nil {
			return fmt.Errorf("%w: node %d is nil", ErrInvalidGraph, i)
		}
		for _, s := range n.Successors() {
			if s < 0 || s >= len(g.nodes) || g.nodes[s] == nil {
				return fmt.Errorf("%w: node %d continues at %d", ErrInvalidGraph, i, s)
			}
		}
	}
	for i, n := range g.nodes {
		out, terminal, err := wasm.Simulate(n.Code, n.In)
		if err != nil {
			return &StackMismatchError{From: i, To: -1, Err: err}
		}
		if terminal {
			if n.Kind != KindReturn {
				return &StackMismatchError{From: i, To: -1, Err: errTerminal}
			}
			continue
		}
		want := n.Out
		if n.Kind == KindBranch {
			want = append(append([]wasm.ValType(nil), n.Out...), wasm.I32)
		}
		if !wasm.TypesEqual(out, want) {
			return &StackMismatchError{From: i, To: -1, Got: out, Want: want}
		}
		if n.Kind == KindReturn {
			n.Code = append(n.Code, wasm.OpReturn)
		}
	}
	for i, n := range g.nodes {
		for _, s := range n.Successors() {
			if in := g.nodes[s].In; !wasm.TypesEqual(n.Out, in) {
				return &StackMismatchError{From: i, To: s, Got: n.Out, Want: in}
			}
		}
	}
	return nil
}

// constCondition reports the constant a branch node tests, if its code
// ends by pushing one.
func constCondition(n *Node) (int32, bool) {
	if n.Kind != KindBranch || len(n.Code) == 0 {
		return 0, false
	}
	c, ok := n.Code[len(n.Code)-1].(wasm.Const)
	if !ok || c.Value.Type != wasm.I32 {
		return 0, false
	}
	return c.Value.I32(), true
}

// foldConstants turns branches on constants into sequences in place.
func (g *graph) foldConstants() {
	for i, n := range g.nodes {
		v, ok := constCondition(n)
		if !ok {
			continue
		}
		target := n.IfFalse
		if v != 0 {
			target = n.IfTrue
		}
		log.Debugf("%s: node %d branches on constant %d", g.name, i, v)
		g.nodes[i] = Sequence(n.Code[:len(n.Code)-1], n.In, n.Out, target)
	}
}

// prune drops nodes that cannot be reached from the entry.
func (g *graph) prune() {
	var seen intsets.Sparse
	work := []int{g.entry}
	seen.Insert(g.entry)
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range g.nodes[i].Successors() {
			if seen.Insert(s) {
				work = append(work, s)
			}
		}
	}
	for i, n := range g.nodes {
		if n != nil && !seen.Has(i) {
			g.nodes[i] = nil
		}
	}
}

// live returns the indices of the nodes still in the graph, ascending.
func (g *graph) live() []int {
	out := make([]int, 0, len(g.nodes))
	for i, n := range g.nodes {
		if n != nil {
			out = append(out, i)
		}
	}
	return out
}

// predecessors maps each node to the distinct nodes that continue at it,
// ascending.
func (g *graph) predecessors() [][]int {
	preds := make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, s := range n.Successors() {
			preds[s] = append(preds[s], i)
		}
	}
	return preds
}

// dominators computes, for every live node, the set of nodes that lie on
// every path from the entry to it.
func (g *graph) dominators(preds [][]int) []*intsets.Sparse {
	live := g.live()
	var all intsets.Sparse
	for _, i := range live {
		all.Insert(i)
	}
	dom := make([]*intsets.Sparse, len(g.nodes))
	for _, i := range live {
		dom[i] = new(intsets.Sparse)
		if i == g.entry {
			dom[i].Insert(i)
		} else {
			dom[i].Copy(&all)
		}
	}
	for changed := true; changed; {
		changed = false
		for _, i := range live {
			if i == g.entry {
				continue
			}
			var next intsets.Sparse
			first := true
			for _, p := range preds[i] {
				if first {
					next.Copy(dom[p])
					first = false
				} else {
					next.IntersectionWith(dom[p])
				}
			}
			next.Insert(i)
			if !next.Equals(dom[i]) {
				dom[i].Copy(&next)
				changed = true
			}
		}
	}
	return dom
}

// checkReducible fails when the graph has a cycle that can be entered at
// more than one node. With back edges (edges to a dominator) removed a
// reducible graph is acyclic.
func (g *graph) checkReducible() error {
	preds := g.predecessors()
	dom := g.dominators(preds)

	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.nodes))
	var path []int
	var cycle []int
	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		path = append(path, i)
		for _, s := range g.nodes[i].Successors() {
			if dom[i].Has(s) {
				continue
			}
			switch color[s] {
			case grey:
				for k := len(path) - 1; k >= 0; k-- {
					cycle = append(cycle, path[k])
					if path[k] == s {
						break
					}
				}
				return false
			case white:
				if !visit(s) {
					return false
				}
			}
		}
		path = path[:len(path)-1]
		color[i] = black
		return true
	}
	if !visit(g.entry) {
		sort.Ints(cycle)
		return &IrreducibleError{Nodes: cycle}
	}
	return nil
}
