package wasm

import (
	"errors"
	"testing"
)

func TestSimulateStraightLine(t *testing.T) {
	out, terminal, err := Simulate([]Instruction{I32Const(1), I64Const(2), OpI64Eqz, OpI32Add}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if terminal || !TypesEqual(out, []ValType{I32}) {
		t.Errorf("got %v (terminal %v), want [i32]", out, terminal)
	}

	out, _, err = Simulate([]Instruction{LocalSet{"x", F64}}, []ValType{I32, F64})
	if err != nil {
		t.Fatal(err)
	}
	if !TypesEqual(out, []ValType{I32}) {
		t.Errorf("got %v, want [i32]", out)
	}
}

func TestSimulateErrors(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		in   []ValType
		want error
	}{
		{"underflow", []Instruction{OpI32Add}, []ValType{I32}, ErrStackUnderflow},
		{"mismatch", []Instruction{OpI32Add}, []ValType{I32, I64}, ErrTypeMismatch},
		{"branch with extra value", []Instruction{Loop{Label: "L", Body: []Instruction{I32Const(1), Jump{"L"}}}}, nil, ErrStackImbalance},
		{"unequal branches", []Instruction{I32Const(1), If{Then: []Instruction{I32Const(1)}}}, nil, ErrStackImbalance},
		{"if reads below its params", []Instruction{I32Const(1), I32Const(1), If{Then: []Instruction{OpDrop}}}, nil, ErrStackUnderflow},
		{"loop reads below its params", []Instruction{I32Const(1), Loop{Label: "L", Body: []Instruction{OpDrop}}}, nil, ErrStackUnderflow},
		{"if result undeclared", []Instruction{I32Const(2), I32Const(1), If{Params: []ValType{I32}, Then: []Instruction{I32Const(1), OpI32Add}}}, nil, ErrStackImbalance},
		{"if without else changes type", []Instruction{I32Const(2), I32Const(1), If{Params: []ValType{I32}, Results: []ValType{I64}, Then: []Instruction{OpI64ExtendI32S}}}, nil, ErrStackImbalance},
		{"missing params", []Instruction{I32Const(1), If{Params: []ValType{F64}}}, nil, ErrStackUnderflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Simulate(tt.code, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSimulateTerminal(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		want bool
	}{
		{"unreachable", []Instruction{OpUnreachable}, true},
		{"return", []Instruction{I32Const(1), OpReturn}, true},
		{"both branches return", []Instruction{I32Const(1), If{Then: []Instruction{OpReturn}, Else: []Instruction{OpUnreachable}}}, true},
		{"one branch returns", []Instruction{I32Const(1), If{Then: []Instruction{OpReturn}}}, false},
		{"infinite loop", []Instruction{Loop{Label: "L", Body: []Instruction{Jump{"L"}}}}, true},
		{"loop exit", []Instruction{Loop{Label: "L", Body: []Instruction{I32Const(0), JumpIf{"L"}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, terminal, err := Simulate(tt.code, nil)
			if err != nil {
				t.Fatal(err)
			}
			if terminal != tt.want {
				t.Errorf("terminal: got %v, want %v", terminal, tt.want)
			}
			if IsTerminal(tt.code) != tt.want {
				t.Errorf("IsTerminal: got %v, want %v", !tt.want, tt.want)
			}
		})
	}
}

func TestSimulateFunctionChecksReturns(t *testing.T) {
	if err := SimulateFunction(addFunction()); err != nil {
		t.Errorf("add: %v", err)
	}
	bad := &Function{
		Name:    "bad",
		Results: []ValType{I64},
		Body:    []Instruction{I32Const(1), OpReturn},
	}
	if err := SimulateFunction(bad); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("got %v, want ErrTypeMismatch", err)
	}
}

func TestSimulateBlockTypes(t *testing.T) {
	code := []Instruction{
		I32Const(5), I32Const(1),
		If{Params: []ValType{I32}, Results: []ValType{I32}, Then: []Instruction{I32Const(1), OpI32Add}},
		Loop{Label: "L", Params: []ValType{I32}, Results: []ValType{I32}, Body: []Instruction{
			I32Const(1), OpI32Sub,
			GlobalGet{"g", I32}, JumpIf{"L"},
		}},
	}
	out, terminal, err := Simulate(code, []ValType{F64})
	if err != nil {
		t.Fatal(err)
	}
	if terminal || !TypesEqual(out, []ValType{F64, I32}) {
		t.Errorf("got %v (terminal %v), want [f64 i32]", out, terminal)
	}

	// A branch must carry the values hidden below the loop's params too.
	bad := []Instruction{
		I32Const(1),
		Loop{Label: "L", Body: []Instruction{
			I32Const(1),
			If{Then: []Instruction{I32Const(7), Jump{"L"}}},
		}},
	}
	if _, _, err := Simulate(bad, nil); !errors.Is(err, ErrStackImbalance) {
		t.Errorf("got %v, want ErrStackImbalance", err)
	}
}
