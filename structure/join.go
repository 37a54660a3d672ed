package structure

import (
	"fmt"

	"github.com/chazu/jvmwasm/wasm"
)

const (
	// DefaultMaxIterations caps the reductions applied to one graph.
	DefaultMaxIterations = 10000
	// DefaultDuplicateLimit is the largest return node, in instructions,
	// that is copied into its predecessors.
	DefaultDuplicateLimit = 3
)

// Options controls JoinNodes.
type Options struct {
	// Name identifies the graph in logs and dump files.
	Name string
	// MaxIterations caps the number of reductions. Zero means
	// DefaultMaxIterations.
	MaxIterations int
	// DuplicateLimit is the largest return node copied into its
	// predecessors. Zero means DefaultDuplicateLimit.
	DuplicateLimit int
	// DumpDir, when set, receives a CBOR dump of every graph that fails.
	DumpDir string
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "graph"
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.DuplicateLimit <= 0 {
		o.DuplicateLimit = DefaultDuplicateLimit
	}
	return o
}

// Result is the structured form of a graph: code that takes In from the
// operand stack and always returns.
type Result struct {
	Code []wasm.Instruction
	In   []wasm.ValType
	// Locals introduced by the dispatch fallback.
	Locals     []wasm.Local
	Reductions []Reduction
	// Fallback is set when the graph needed the dispatch loop.
	Fallback bool
}

// Function wraps the result as a function body. The graph's entry must
// take an empty stack.
func (r *Result) Function(name string, params, results []wasm.ValType) *wasm.Function {
	return &wasm.Function{
		Name:    name,
		Params:  params,
		Results: results,
		Locals:  r.Locals,
		Body:    r.Code,
	}
}

type graph struct {
	name           string
	nodes          []*Node
	entry          int
	labels         int
	duplicateLimit int
	reductions     []Reduction
}

// JoinNodes converts the graph rooted at nodes[0] into structured code.
// The nodes are not modified.
//
// Validation errors come back as *StackMismatchError or wrap
// ErrInvalidGraph; graphs with multi-entry cycles return *IrreducibleError.
// When opts.DumpDir is set, failing graphs are written there for replay.
func JoinNodes(nodes []*Node, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	res, err := joinNodes(nodes, opts)
	if err != nil && opts.DumpDir != "" {
		path, derr := WriteDump(opts.DumpDir, opts.Name, nodes)
		if derr != nil {
			log.Errorf("%s: dump failed: %s", opts.Name, derr)
		} else {
			log.Warningf("%s: %s; graph dumped to %s", opts.Name, err, path)
		}
	}
	return res, err
}

func joinNodes(nodes []*Node, opts Options) (*Result, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}
	g := &graph{
		name:           opts.Name,
		nodes:          make([]*Node, len(nodes)),
		duplicateLimit: opts.DuplicateLimit,
	}
	for i, n := range nodes {
		if n != nil {
			g.nodes[i] = n.clone()
		}
	}
	if err := g.check(); err != nil {
		return nil, err
	}
	in := g.nodes[g.entry].In
	g.foldConstants()
	g.prune()
	if err := g.checkReducible(); err != nil {
		return nil, err
	}

	for iter := 0; !g.done(); iter++ {
		if iter >= opts.MaxIterations {
			return nil, fmt.Errorf("%w: %s after %d reductions", ErrIterationLimit, g.name, iter)
		}
		if !g.reduce() {
			log.Warningf("%s: no rule applies to %d nodes, using dispatch loop", g.name, len(g.live()))
			return g.dispatch(in), nil
		}
		g.prune()
	}
	return &Result{
		Code:       g.nodes[g.entry].Code,
		In:         in,
		Reductions: g.reductions,
	}, nil
}

// done reports whether the graph is a single return node.
func (g *graph) done() bool {
	live := g.live()
	return len(live) == 1 && g.nodes[g.entry].Kind == KindReturn
}
