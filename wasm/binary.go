package wasm

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var binaryMagic = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

// Section ids.
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionTable    = 4
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionElem     = 9
	sectionCode     = 10
)

// Unsigned LEB128 is the protobuf varint encoding.
func appendU32(b []byte, v uint32) []byte {
	return protowire.AppendVarint(b, uint64(v))
}

// appendS64 writes signed LEB128.
func appendS64(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendName(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func valTypeCode(t ValType) byte {
	switch t {
	case I32:
		return 0x7F
	case I64:
		return 0x7E
	case F32:
		return 0x7D
	case F64:
		return 0x7C
	}
	return 0
}

func appendValTypes(b []byte, ts []ValType) []byte {
	b = appendU32(b, uint32(len(ts)))
	for _, t := range ts {
		b = append(b, valTypeCode(t))
	}
	return b
}

// EncodeContext assigns the indices that instructions refer to by name.
type EncodeContext struct {
	types     []FuncType
	typeIndex map[string]uint32
	funcs     map[string]uint32
	globals   map[string]uint32
}

// NewEncodeContext indexes a module: imports come before functions in the
// function index space.
func NewEncodeContext(m *Module) *EncodeContext {
	ctx := &EncodeContext{
		typeIndex: make(map[string]uint32),
		funcs:     make(map[string]uint32),
		globals:   make(map[string]uint32),
	}
	var n uint32
	for _, imp := range m.Imports {
		ctx.funcs[imp.Name] = n
		n++
	}
	for _, fn := range m.Functions {
		ctx.funcs[fn.Name] = n
		n++
	}
	for i, g := range m.Globals {
		ctx.globals[g.Name] = uint32(i)
	}
	return ctx
}

// TypeIndex returns the index of a signature, adding it if new.
func (ctx *EncodeContext) TypeIndex(ft FuncType) uint32 {
	key := ft.Key()
	if idx, ok := ctx.typeIndex[key]; ok {
		return idx
	}
	idx := uint32(len(ctx.types))
	ctx.types = append(ctx.types, ft)
	ctx.typeIndex[key] = idx
	return idx
}

type bodyEncoder struct {
	ctx    *EncodeContext
	fn     *Function
	locals map[string]uint32
	labels []string // "" for if blocks
}

// EncodeBody encodes a function body: the local declarations, the
// instructions and the final end. High-level instructions are lowered and
// comments dropped.
func EncodeBody(fn *Function, ctx *EncodeContext) ([]byte, error) {
	enc := &bodyEncoder{ctx: ctx, fn: fn, locals: make(map[string]uint32)}
	for i, l := range fn.Locals {
		enc.locals[l.Name] = uint32(len(fn.Params) + i)
	}

	// Runs of equal types share one declaration.
	var b []byte
	var groups [][2]uint32
	for _, l := range fn.Locals {
		if n := len(groups); n > 0 && groups[n-1][1] == uint32(l.Type) {
			groups[n-1][0]++
			continue
		}
		groups = append(groups, [2]uint32{1, uint32(l.Type)})
	}
	b = appendU32(b, uint32(len(groups)))
	for _, g := range groups {
		b = appendU32(b, g[0])
		b = append(b, valTypeCode(ValType(g[1])))
	}

	b, err := enc.code(b, fn.Body)
	if err != nil {
		return nil, fmt.Errorf("wasm: encode %s: %w", fn.Name, err)
	}
	return append(b, 0x0B), nil
}

func (enc *bodyEncoder) blockType(b []byte, params, results []ValType) []byte {
	switch {
	case len(params) == 0 && len(results) == 0:
		return append(b, 0x40)
	case len(params) == 0 && len(results) == 1:
		return append(b, valTypeCode(results[0]))
	}
	return appendS64(b, int64(enc.ctx.TypeIndex(FuncType{Params: params, Results: results})))
}

func (enc *bodyEncoder) depth(label string) (uint32, error) {
	for i := len(enc.labels) - 1; i >= 0; i-- {
		if enc.labels[i] == label {
			return uint32(len(enc.labels) - 1 - i), nil
		}
	}
	return 0, fmt.Errorf("branch to unknown label %s", label)
}

func (enc *bodyEncoder) code(b []byte, code []Instruction) ([]byte, error) {
	var err error
	for _, ins := range code {
		b, err = enc.instruction(b, ins)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (enc *bodyEncoder) instruction(b []byte, ins Instruction) ([]byte, error) {
	switch ins := ins.(type) {
	case Op:
		info := ins.Info()
		if info.Code > 0xFF {
			b = append(b, byte(info.Code>>8))
			b = appendU32(b, uint32(info.Code&0xFF))
		} else {
			b = append(b, byte(info.Code))
		}
		if info.Class == ClassLoad || info.Class == ClassStore {
			b = appendU32(b, uint32(info.Align))
			b = appendU32(b, 0)
		}
		return b, nil
	case Const:
		switch ins.Value.Type {
		case I32:
			return appendS64(append(b, 0x41), int64(ins.Value.I32())), nil
		case I64:
			return appendS64(append(b, 0x42), ins.Value.I64()), nil
		case F32:
			return binary.LittleEndian.AppendUint32(append(b, 0x43), math.Float32bits(ins.Value.F32())), nil
		case F64:
			return binary.LittleEndian.AppendUint64(append(b, 0x44), ins.Value.Bits), nil
		}
		return nil, fmt.Errorf("constant of type %s", ins.Value.Type)
	case ParamGet:
		return appendU32(append(b, 0x20), uint32(ins.Index)), nil
	case LocalGet, LocalSet:
		name, op := "", byte(0x20)
		if s, ok := ins.(LocalSet); ok {
			name, op = s.Name, 0x21
		} else {
			name = ins.(LocalGet).Name
		}
		idx, ok := enc.locals[name]
		if !ok {
			return nil, fmt.Errorf("undeclared local %s", name)
		}
		return appendU32(append(b, op), idx), nil
	case GlobalGet:
		idx, ok := enc.ctx.globals[ins.Name]
		if !ok {
			return nil, fmt.Errorf("undefined global %s", ins.Name)
		}
		return appendU32(append(b, 0x23), idx), nil
	case GlobalSet:
		idx, ok := enc.ctx.globals[ins.Name]
		if !ok {
			return nil, fmt.Errorf("undefined global %s", ins.Name)
		}
		return appendU32(append(b, 0x24), idx), nil
	case Call:
		idx, ok := enc.ctx.funcs[ins.Name]
		if !ok {
			return nil, &UnknownFunctionError{Name: ins.Name}
		}
		return appendU32(append(b, 0x10), idx), nil
	case CallIndirect:
		b = appendU32(append(b, 0x11), enc.ctx.TypeIndex(ins.Type))
		return append(b, 0x00), nil
	case If:
		b = enc.blockType(append(b, 0x04), ins.Params, ins.Results)
		enc.labels = append(enc.labels, "")
		defer func() { enc.labels = enc.labels[:len(enc.labels)-1] }()
		b, err := enc.code(b, ins.Then)
		if err != nil {
			return nil, err
		}
		if len(ins.Else) > 0 {
			b, err = enc.code(append(b, 0x05), ins.Else)
			if err != nil {
				return nil, err
			}
		}
		return append(b, 0x0B), nil
	case Loop:
		b = enc.blockType(append(b, 0x03), ins.Params, ins.Results)
		enc.labels = append(enc.labels, ins.Label)
		defer func() { enc.labels = enc.labels[:len(enc.labels)-1] }()
		b, err := enc.code(b, ins.Body)
		if err != nil {
			return nil, err
		}
		return append(b, 0x0B), nil
	case Jump:
		d, err := enc.depth(ins.Label)
		if err != nil {
			return nil, err
		}
		return appendU32(append(b, 0x0C), d), nil
	case JumpIf:
		d, err := enc.depth(ins.Label)
		if err != nil {
			return nil, err
		}
		return appendU32(append(b, 0x0D), d), nil
	case Comment:
		return b, nil
	case HighLevel:
		return enc.code(b, ins.Lower())
	}
	return nil, fmt.Errorf("cannot encode %T", ins)
}

func appendSection(b []byte, id byte, content []byte) []byte {
	b = append(b, id)
	b = appendU32(b, uint32(len(content)))
	return append(b, content...)
}

// EncodeModule encodes a module in the binary format. Imports are taken
// from module "env" and exported functions are exported under their own
// names.
func EncodeModule(m *Module) ([]byte, error) {
	ctx := NewEncodeContext(m)

	importTypes := make([]uint32, len(m.Imports))
	for i, imp := range m.Imports {
		importTypes[i] = ctx.TypeIndex(imp.Type)
	}
	funcTypes := make([]uint32, len(m.Functions))
	for i, fn := range m.Functions {
		funcTypes[i] = ctx.TypeIndex(fn.Type())
	}
	bodies := make([][]byte, len(m.Functions))
	for i, fn := range m.Functions {
		body, err := EncodeBody(fn, ctx)
		if err != nil {
			return nil, err
		}
		bodies[i] = body
	}

	out := append([]byte(nil), binaryMagic...)

	// Bodies may add block and call_indirect signatures, so the type
	// section is built after them.
	sec := appendU32(nil, uint32(len(ctx.types)))
	for _, ft := range ctx.types {
		sec = append(sec, 0x60)
		sec = appendValTypes(sec, ft.Params)
		sec = appendValTypes(sec, ft.Results)
	}
	out = appendSection(out, sectionType, sec)

	if len(m.Imports) > 0 {
		sec = appendU32(nil, uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			sec = appendName(sec, "env")
			sec = appendName(sec, imp.Name)
			sec = append(sec, 0x00)
			sec = appendU32(sec, importTypes[i])
		}
		out = appendSection(out, sectionImport, sec)
	}

	sec = appendU32(nil, uint32(len(funcTypes)))
	for _, t := range funcTypes {
		sec = appendU32(sec, t)
	}
	out = appendSection(out, sectionFunction, sec)

	if len(m.Table) > 0 {
		sec = appendU32(nil, 1)
		sec = append(sec, 0x70, 0x00)
		sec = appendU32(sec, uint32(len(m.Table)))
		out = appendSection(out, sectionTable, sec)
	}

	if m.MemoryPages > 0 {
		sec = appendU32(nil, 1)
		if m.MaxMemoryPages > 0 {
			sec = append(sec, 0x01)
			sec = appendU32(sec, uint32(m.MemoryPages))
			sec = appendU32(sec, uint32(m.MaxMemoryPages))
		} else {
			sec = append(sec, 0x00)
			sec = appendU32(sec, uint32(m.MemoryPages))
		}
		out = appendSection(out, sectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec = appendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec = append(sec, valTypeCode(g.Init.Type))
			if g.Mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			init, err := (&bodyEncoder{ctx: ctx}).instruction(nil, Const{Value: g.Init})
			if err != nil {
				return nil, err
			}
			sec = append(append(sec, init...), 0x0B)
		}
		out = appendSection(out, sectionGlobal, sec)
	}

	var exports []*Function
	for _, fn := range m.Functions {
		if fn.Export {
			exports = append(exports, fn)
		}
	}
	if len(exports) > 0 {
		sec = appendU32(nil, uint32(len(exports)))
		for _, fn := range exports {
			sec = appendName(sec, fn.Name)
			sec = append(sec, 0x00)
			sec = appendU32(sec, ctx.funcs[fn.Name])
		}
		out = appendSection(out, sectionExport, sec)
	}

	if len(m.Table) > 0 {
		sec = appendU32(nil, 1)
		sec = append(sec, 0x00, 0x41, 0x00, 0x0B)
		sec = appendU32(sec, uint32(len(m.Table)))
		for _, name := range m.Table {
			idx, ok := ctx.funcs[name]
			if !ok {
				return nil, &UnknownFunctionError{Name: name}
			}
			sec = appendU32(sec, idx)
		}
		out = appendSection(out, sectionElem, sec)
	}

	sec = appendU32(nil, uint32(len(bodies)))
	for _, body := range bodies {
		sec = appendU32(sec, uint32(len(body)))
		sec = append(sec, body...)
	}
	return appendSection(out, sectionCode, sec), nil
}
