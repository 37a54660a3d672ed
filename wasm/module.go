package wasm

import "fmt"

// Import is a host function the module expects from its embedder.
type Import struct {
	Name string
	Type FuncType
}

// Global is a module global and its initial value.
type Global struct {
	Name    string
	Init    Value
	Mutable bool
}

// Module is a complete unit of generated code.
type Module struct {
	Imports   []Import
	Functions []*Function
	Globals   []Global
	// Table lists function names by table index.
	Table []string
	// Memory limits in pages.
	MemoryPages    int
	MaxMemoryPages int
}

// BuiltinImports returns the imports for every builtin host function.
func BuiltinImports(pointer64 bool) []Import {
	hs := builtins(pointer64)
	imports := make([]Import, len(hs))
	for i, h := range hs {
		imports[i] = Import{Name: h.Name, Type: h.Type}
	}
	return imports
}

// Function returns the module function called name, or nil.
func (m *Module) Function(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Validate checks names are unique, table entries exist, and every
// function body balances its stack.
func (m *Module) Validate() error {
	names := make(map[string]bool)
	for _, imp := range m.Imports {
		if names[imp.Name] {
			return fmt.Errorf("wasm: duplicate function %s", imp.Name)
		}
		names[imp.Name] = true
	}
	for _, fn := range m.Functions {
		if names[fn.Name] {
			return fmt.Errorf("wasm: duplicate function %s", fn.Name)
		}
		names[fn.Name] = true
	}
	for i, name := range m.Table {
		if !names[name] {
			return fmt.Errorf("wasm: table entry %d names unknown function %q", i, name)
		}
	}
	for _, fn := range m.Functions {
		if err := SimulateFunction(fn); err != nil {
			return err
		}
	}
	return nil
}
