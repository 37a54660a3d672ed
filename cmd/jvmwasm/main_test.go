package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/manifest"
	"github.com/chazu/jvmwasm/structure"
	"github.com/chazu/jvmwasm/wasm"
)

// countGraph adds one to a stack value while the global n counts down.
func countGraph() []*structure.Node {
	i32 := []wasm.ValType{wasm.I32}
	n := wasm.GlobalGet{Name: "n", Type: wasm.I32}
	return []*structure.Node{
		structure.Sequence([]wasm.Instruction{wasm.I32Const(0)}, nil, i32, 1),
		structure.Branch([]wasm.Instruction{
			n, wasm.I32Const(1), wasm.OpI32Sub, wasm.GlobalSet{Name: "n", Type: wasm.I32},
			wasm.I32Const(1), wasm.OpI32Add,
			n,
		}, i32, i32, 1, 2),
		structure.Return(nil, i32, i32),
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	path, err := structure.WriteDump(dir, "count", countGraph())
	if err != nil {
		t.Fatalf("WriteDump: %v", err)
	}

	var wat bytes.Buffer
	if err := replay(&wat, path, manifest.Default(), false); err != nil {
		t.Fatalf("replay: %v", err)
	}
	for _, want := range []string{"$count", "loop $loop0", "br_if $loop0"} {
		if !strings.Contains(wat.String(), want) {
			t.Errorf("WAT lacks %q:\n%s", want, wat.String())
		}
	}

	var src bytes.Buffer
	if err := replay(&src, path, manifest.Default(), true); err != nil {
		t.Fatalf("replay -go: %v", err)
	}
	for _, want := range []string{"package generated", "func (m *Instance) count() int32 {", "m.n"} {
		if !strings.Contains(src.String(), want) {
			t.Errorf("Go output lacks %q:\n%s", want, src.String())
		}
	}
}

func TestReplayRejectsStackInput(t *testing.T) {
	dir := t.TempDir()
	nodes := []*structure.Node{structure.Return(nil, []wasm.ValType{wasm.I32}, []wasm.ValType{wasm.I32})}
	path, err := structure.WriteDump(dir, "arg", nodes)
	if err != nil {
		t.Fatalf("WriteDump: %v", err)
	}
	var out bytes.Buffer
	if err := replay(&out, path, manifest.Default(), false); err == nil {
		t.Error("got nil error for an entry node with stack input")
	}
}

func TestPrintIndex(t *testing.T) {
	b := index.NewBuilder(index.Options{})
	if err := b.AddClass(index.ClassSig{Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddField(index.FieldSig{Class: "A", Name: "x", Descriptor: "I"}); err != nil {
		t.Fatal(err)
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	var out bytes.Buffer
	if err := printIndex(&out, g); err != nil {
		t.Fatalf("printIndex: %v", err)
	}
	for _, want := range []string{"pointer width 32", "CLASS", "A.x:I"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}
