package structure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/jvmwasm/wasm"
)

func TestGraphRoundTrip(t *testing.T) {
	nodes := multiExit()
	data, err := MarshalGraph("multiExit", nodes)
	if err != nil {
		t.Fatalf("MarshalGraph: %v", err)
	}
	g, err := UnmarshalGraph(data)
	if err != nil {
		t.Fatalf("UnmarshalGraph: %v", err)
	}
	if g.Name != "multiExit" {
		t.Errorf("name got %q, want multiExit", g.Name)
	}
	if len(g.Nodes) != len(nodes) {
		t.Fatalf("got %d nodes, want %d", len(g.Nodes), len(nodes))
	}
	for i, n := range g.Nodes {
		want := nodes[i]
		if n.Kind != want.Kind || n.Next != want.Next || n.IfTrue != want.IfTrue || n.IfFalse != want.IfFalse {
			t.Errorf("node %d got %s, want %s", i, n, want)
		}
		if !wasm.TypesEqual(n.In, want.In) || !wasm.TypesEqual(n.Out, want.Out) {
			t.Errorf("node %d stacks got %v/%v, want %v/%v", i, n.In, n.Out, want.In, want.Out)
		}
		if got, w := wasm.FormatCode(n.Code), wasm.FormatCode(want.Code); got != w {
			t.Errorf("node %d code got\n%s\nwant\n%s", i, got, w)
		}
	}

	again, err := MarshalGraph(g.Name, g.Nodes)
	if err != nil {
		t.Fatalf("MarshalGraph: %v", err)
	}
	if string(again) != string(data) {
		t.Error("encoding is not canonical")
	}
}

func TestFailingGraphIsDumped(t *testing.T) {
	dir := t.TempDir()
	nodes := []*Node{br(0, 1, 2), seq(1, 2), seq(2, 1)}
	_, err := JoinNodes(nodes, Options{Name: "pkg/Cls.m", DumpDir: dir})
	if !IsIrreducible(err) {
		t.Fatalf("got %v, want irreducible", err)
	}
	path := filepath.Join(dir, "pkg_Cls.m"+DumpExt)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	g, err := ReadDump(path)
	if err != nil {
		t.Fatalf("ReadDump: %v", err)
	}
	if g.Name != "pkg/Cls.m" || len(g.Nodes) != 3 {
		t.Errorf("got %q with %d nodes, want pkg/Cls.m with 3", g.Name, len(g.Nodes))
	}
	if _, err := JoinNodes(g.Nodes, Options{}); !IsIrreducible(err) {
		t.Errorf("replay got %v, want irreducible", err)
	}
}

func TestSuccessfulGraphIsNotDumped(t *testing.T) {
	dir := t.TempDir()
	if _, err := JoinNodes(counter(), Options{DumpDir: dir}); err != nil {
		t.Fatalf("JoinNodes: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d files, want none", len(entries))
	}
}
