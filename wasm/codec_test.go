package wasm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSignedLEB128(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7F}},
		{63, []byte{0x3F}},
		{64, []byte{0xC0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xBF, 0x7F}},
		{-123456, []byte{0xC0, 0xBB, 0x78}},
	}
	for _, tt := range tests {
		if got := appendS64(nil, tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("sleb(%d): got % x, want % x", tt.v, got, tt.want)
		}
	}
	if got := appendU32(nil, 624485); !bytes.Equal(got, []byte{0xE5, 0x8E, 0x26}) {
		t.Errorf("uleb(624485): got % x", got)
	}
}

func TestEncodeBody(t *testing.T) {
	m := &Module{Functions: []*Function{addFunction()}}
	got, err := EncodeBody(m.Functions[0], NewEncodeContext(m))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestEncodeBranchDepth(t *testing.T) {
	fn := &Function{
		Name:   "f",
		Locals: []Local{{"a", I32}, {"b", I32}, {"c", F64}},
		Body: []Instruction{
			Loop{Label: "L", Body: []Instruction{
				I32Const(1),
				If{Then: []Instruction{Comment{"back"}, Jump{"L"}}},
			}},
		},
	}
	m := &Module{Functions: []*Function{fn}}
	got, err := EncodeBody(fn, NewEncodeContext(m))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x02, 0x02, 0x7F, 0x01, 0x7C, // locals: 2 x i32, 1 x f64
		0x03, 0x40, // loop
		0x41, 0x01, // i32.const 1
		0x04, 0x40, // if
		0x0C, 0x01, // br 1
		0x0B, 0x0B, 0x0B,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestEncodeModule(t *testing.T) {
	m := &Module{
		Imports:        BuiltinImports(false),
		Functions:      []*Function{addFunction()},
		Table:          []string{"add"},
		MemoryPages:    1,
		MaxMemoryPages: 16,
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	b, err := EncodeModule(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, binaryMagic) {
		t.Errorf("missing magic header: % x", b[:8])
	}
	if !bytes.Contains(b, []byte("resolveInterface")) {
		t.Error("import names not encoded")
	}

	m.Table = []string{"nope"}
	if _, err := EncodeModule(m); err == nil {
		t.Error("expected error for unknown table entry")
	}
}

func TestFormatModule(t *testing.T) {
	fn := addFunction()
	fn.Locals = []Local{{"tmp", I64}}
	m := &Module{
		Functions:   []*Function{fn},
		Globals:     []Global{{Name: "sp", Init: I32Value(1024), Mutable: true}},
		MemoryPages: 1,
	}
	text := FormatModule(m)
	for _, want := range []string{
		`(func $add (export "add") (param i32 i32) (result i32)`,
		"(local $tmp i64)",
		"local.get 1",
		"i32.add",
		"(global $sp (mut i32) (i32.const 1024))",
		"(memory 1)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestFormatNestedBlocks(t *testing.T) {
	code := []Instruction{
		Loop{Label: "L", Results: []ValType{I32}, Body: []Instruction{
			I32Const(1),
			If{Then: []Instruction{Jump{"L"}}, Else: []Instruction{OpNop}},
			I32Const(2),
		}},
	}
	want := `loop $L (result i32)
  i32.const 1
  if
    br $L
  else
    nop
  end
  i32.const 2
end
`
	if got := FormatCode(code); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

type addThree struct{}

func (addThree) Execute(e *Engine) (Signal, error) { return e.Run(addThree{}.Lower()) }
func (addThree) String() string                     { return "add3" }
func (addThree) Lower() []Instruction {
	return []Instruction{I32Const(1), I32Const(2), OpI32Add}
}

func TestLowerAll(t *testing.T) {
	code := []Instruction{
		Comment{"start"},
		Loop{Label: "L", Body: []Instruction{addThree{}, OpDrop}},
	}
	if err := CheckLowered(code); !errors.Is(err, ErrNotLowered) {
		t.Errorf("check before lowering: got %v, want ErrNotLowered", err)
	}
	lowered := LowerAll(code)
	if err := CheckLowered(lowered); err != nil {
		t.Fatalf("check after lowering: %v", err)
	}
	want := "loop $L\n  i32.const 1\n  i32.const 2\n  i32.add\n  drop\nend\n"
	if got := FormatCode(lowered); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCodeRecordsRoundTrip(t *testing.T) {
	code := []Instruction{
		ParamGet{1, I64},
		LocalSet{"x", I64},
		Loop{Label: "L", Params: nil, Results: []ValType{F32}, Body: []Instruction{
			GlobalGet{"g", I32},
			If{
				Then: []Instruction{F32Const(1.5), Call{Name: "f", Type: FuncType{Params: []ValType{F32}, Results: []ValType{F32}}}},
				Else: []Instruction{I32Const(3), CallIndirect{Type: FuncType{Results: []ValType{F32}}, Options: []string{"a", "b"}}},
			},
			Comment{"tail"},
			JumpIf{"L"},
		}},
	}
	data, err := MarshalCode(code)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalCode(data)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := FormatCode(back), FormatCode(code); got != want {
		t.Errorf("round trip:\n%s\nwant:\n%s", got, want)
	}
	again, err := MarshalCode(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, data) {
		t.Error("encoding is not deterministic")
	}
}
