package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/jvmwasm/expr"
	"github.com/chazu/jvmwasm/manifest"
	"github.com/chazu/jvmwasm/structure"
	"github.com/chazu/jvmwasm/wasm"
)

// handleReplayCommand processes the `jvmwasm replay` subcommand.
// Usage:
//
//	jvmwasm replay dumps/A.m.graph.cbor          # structured WAT on stdout
//	jvmwasm replay -go -o a.go dumps/A.m.graph.cbor
func handleReplayCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	asGo := fs.Bool("go", false, "Emit Go source instead of WAT")
	output := fs.String("o", "", "Output file (default stdout)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: replay takes exactly one dump file")
		os.Exit(2)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if err := replay(w, fs.Arg(0), m, *asGo); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// replay structures a dumped graph and writes the result.
func replay(w io.Writer, path string, m *manifest.Manifest, asGo bool) error {
	g, err := structure.ReadDump(path)
	if err != nil {
		return err
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%s: empty graph", path)
	}
	if len(g.Nodes[0].In) > 0 {
		return fmt.Errorf("%s: entry node takes %v from the stack; only function bodies can be replayed", path, g.Nodes[0].In)
	}

	opts := m.Structure(g.Name)
	// A replay must not overwrite the dump it reads.
	opts.DumpDir = ""
	res, err := structure.JoinNodes(g.Nodes, opts)
	if err != nil {
		return err
	}
	fn := res.Function(g.Name, nil, results(g.Nodes))
	if res.Fallback {
		fmt.Fprintf(os.Stderr, "%s: structured with the dispatch loop fallback\n", g.Name)
	}

	if !asGo {
		_, err := io.WriteString(w, wasm.FormatFunction(fn))
		return err
	}
	body, err := expr.Reconstruct(fn, m.Reconstruct())
	if err != nil {
		return err
	}
	return expr.EmitGo(w, m.Go(), body)
}

// results returns the stack left by the graph's first return node.
func results(nodes []*structure.Node) []wasm.ValType {
	for _, n := range nodes {
		if n != nil && n.Kind == structure.KindReturn {
			return n.Out
		}
	}
	return nil
}
