package wasm

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// FormatCode returns a text listing of code, one instruction per line.
func FormatCode(code []Instruction) string {
	var sb strings.Builder
	writeCode(&sb, code, 0)
	return sb.String()
}

// FormatFunction returns the text form of a function.
func FormatFunction(fn *Function) string {
	var sb strings.Builder
	writeFunction(&sb, fn, 0)
	return sb.String()
}

// WriteText writes the text form of a module.
func WriteText(w io.Writer, m *Module) error {
	_, err := io.WriteString(w, FormatModule(m))
	return err
}

// FormatModule returns the text form of a module.
func FormatModule(m *Module) string {
	var sb strings.Builder
	sb.WriteString("(module\n")

	for _, key := range indirectTypes(m) {
		ft := key.ft
		sb.WriteString(fmt.Sprintf("  (type $%s (func%s))\n", key.name, signature(ft.Params, ft.Results)))
	}
	for _, imp := range m.Imports {
		sb.WriteString(fmt.Sprintf("  (import \"env\" %q (func $%s%s))\n",
			imp.Name, imp.Name, signature(imp.Type.Params, imp.Type.Results)))
	}
	if m.MemoryPages > 0 {
		if m.MaxMemoryPages > 0 {
			sb.WriteString(fmt.Sprintf("  (memory %d %d)\n", m.MemoryPages, m.MaxMemoryPages))
		} else {
			sb.WriteString(fmt.Sprintf("  (memory %d)\n", m.MemoryPages))
		}
	}
	for _, g := range m.Globals {
		typ := g.Init.Type.String()
		if g.Mutable {
			typ = "(mut " + typ + ")"
		}
		sb.WriteString(fmt.Sprintf("  (global $%s %s (%s))\n", g.Name, typ, Const{Value: g.Init}))
	}
	if len(m.Table) > 0 {
		sb.WriteString(fmt.Sprintf("  (table %d funcref)\n", len(m.Table)))
		sb.WriteString("  (elem (i32.const 0)")
		for _, name := range m.Table {
			sb.WriteString(" $" + name)
		}
		sb.WriteString(")\n")
	}
	for _, fn := range m.Functions {
		writeFunction(&sb, fn, 1)
	}
	sb.WriteString(")\n")
	return sb.String()
}

func signature(params, results []ValType) string {
	var sb strings.Builder
	if len(params) > 0 {
		sb.WriteString(" (param " + typeList(params) + ")")
	}
	if len(results) > 0 {
		sb.WriteString(" (result " + typeList(results) + ")")
	}
	return sb.String()
}

func indent(sb *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		sb.WriteString("  ")
	}
}

func writeFunction(sb *strings.Builder, fn *Function, depth int) {
	indent(sb, depth)
	sb.WriteString("(func $" + fn.Name)
	if fn.Export {
		sb.WriteString(fmt.Sprintf(" (export %q)", fn.Name))
	}
	sb.WriteString(signature(fn.Params, fn.Results))
	sb.WriteString("\n")
	for _, l := range fn.Locals {
		indent(sb, depth+1)
		sb.WriteString(fmt.Sprintf("(local $%s %s)\n", l.Name, l.Type))
	}
	writeCode(sb, fn.Body, depth+1)
	indent(sb, depth)
	sb.WriteString(")\n")
}

func writeCode(sb *strings.Builder, code []Instruction, depth int) {
	for _, ins := range code {
		switch ins := ins.(type) {
		case If:
			indent(sb, depth)
			sb.WriteString(ins.String() + "\n")
			writeCode(sb, ins.Then, depth+1)
			if len(ins.Else) > 0 {
				indent(sb, depth)
				sb.WriteString("else\n")
				writeCode(sb, ins.Else, depth+1)
			}
			indent(sb, depth)
			sb.WriteString("end\n")
		case Loop:
			indent(sb, depth)
			sb.WriteString(ins.String() + "\n")
			writeCode(sb, ins.Body, depth+1)
			indent(sb, depth)
			sb.WriteString("end\n")
		default:
			indent(sb, depth)
			sb.WriteString(ins.String() + "\n")
		}
	}
}

type namedType struct {
	name string
	ft   FuncType
}

// indirectTypes collects the signatures used by call_indirect.
func indirectTypes(m *Module) []namedType {
	seen := make(map[string]FuncType)
	var walk func(code []Instruction)
	walk = func(code []Instruction) {
		for _, ins := range code {
			switch ins := ins.(type) {
			case CallIndirect:
				seen[ins.Type.Key()] = ins.Type
			case If:
				walk(ins.Then)
				walk(ins.Else)
			case Loop:
				walk(ins.Body)
			case HighLevel:
				walk(ins.Lower())
			}
		}
	}
	for _, fn := range m.Functions {
		walk(fn.Body)
	}
	out := make([]namedType, 0, len(seen))
	for k, ft := range seen {
		out = append(out, namedType{k, ft})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
