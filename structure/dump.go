package structure

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/jvmwasm/wasm"
	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("structure: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DumpExt is the file extension of graph dumps.
const DumpExt = ".graph.cbor"

type nodeRecord struct {
	Kind    Kind           `cbor:"1,keyasint"`
	Code    []wasm.Record  `cbor:"2,keyasint,omitempty"`
	In      []wasm.ValType `cbor:"3,keyasint,omitempty"`
	Out     []wasm.ValType `cbor:"4,keyasint,omitempty"`
	Next    int            `cbor:"5,keyasint,omitempty"`
	IfTrue  int            `cbor:"6,keyasint,omitempty"`
	IfFalse int            `cbor:"7,keyasint,omitempty"`
}

type graphRecord struct {
	Name  string       `cbor:"1,keyasint"`
	Nodes []nodeRecord `cbor:"2,keyasint"`
}

// Graph is a named node list as stored in a dump.
type Graph struct {
	Name  string
	Nodes []*Node
}

// MarshalGraph encodes a graph as canonical CBOR. High-level instructions
// are stored lowered.
func MarshalGraph(name string, nodes []*Node) ([]byte, error) {
	rec := graphRecord{Name: name, Nodes: make([]nodeRecord, len(nodes))}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("%w: node %d is nil", ErrInvalidGraph, i)
		}
		code, err := wasm.ToRecords(n.Code)
		if err != nil {
			return nil, fmt.Errorf("structure: node %d: %w", i, err)
		}
		rec.Nodes[i] = nodeRecord{
			Kind:    n.Kind,
			Code:    code,
			In:      n.In,
			Out:     n.Out,
			Next:    n.Next,
			IfTrue:  n.IfTrue,
			IfFalse: n.IfFalse,
		}
	}
	return cborEncMode.Marshal(rec)
}

// UnmarshalGraph decodes a graph written by MarshalGraph.
func UnmarshalGraph(data []byte) (*Graph, error) {
	var rec graphRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("structure: unmarshal graph: %w", err)
	}
	g := &Graph{Name: rec.Name, Nodes: make([]*Node, len(rec.Nodes))}
	for i, r := range rec.Nodes {
		code, err := wasm.FromRecords(r.Code)
		if err != nil {
			return nil, fmt.Errorf("structure: node %d: %w", i, err)
		}
		g.Nodes[i] = &Node{
			Code:    code,
			In:      r.In,
			Out:     r.Out,
			Kind:    r.Kind,
			Next:    r.Next,
			IfTrue:  r.IfTrue,
			IfFalse: r.IfFalse,
		}
	}
	return g, nil
}

// WriteDump writes a graph to dir and returns the file's path.
func WriteDump(dir, name string, nodes []*Node) (string, error) {
	data, err := MarshalGraph(name, nodes)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("structure: create dump dir: %w", err)
	}
	file := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	path := filepath.Join(dir, file+DumpExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("structure: write dump: %w", err)
	}
	return path, nil
}

// ReadDump loads a graph written by WriteDump.
func ReadDump(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("structure: read dump: %w", err)
	}
	return UnmarshalGraph(data)
}
