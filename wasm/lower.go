package wasm

import "fmt"

// CheckLowered returns ErrNotLowered if code, or any block nested in it,
// contains an instruction outside the low-level set. Comments count as
// not lowered.
func CheckLowered(code []Instruction) error {
	for i, ins := range code {
		switch ins := ins.(type) {
		case Op, Const, LocalGet, LocalSet, ParamGet, GlobalGet, GlobalSet,
			Call, CallIndirect, Jump, JumpIf:
		case If:
			if err := CheckLowered(ins.Then); err != nil {
				return err
			}
			if err := CheckLowered(ins.Else); err != nil {
				return err
			}
		case Loop:
			if err := CheckLowered(ins.Body); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %d: %s", ErrNotLowered, i, ins)
		}
	}
	return nil
}

// LowerAll expands every high-level instruction in code, recursively and
// inside nested blocks, and drops comments. The result passes
// CheckLowered.
func LowerAll(code []Instruction) []Instruction {
	out := make([]Instruction, 0, len(code))
	for _, ins := range code {
		switch ins := ins.(type) {
		case Comment:
		case HighLevel:
			out = append(out, LowerAll(ins.Lower())...)
		case If:
			ins.Then = LowerAll(ins.Then)
			ins.Else = LowerAll(ins.Else)
			out = append(out, ins)
		case Loop:
			ins.Body = LowerAll(ins.Body)
			out = append(out, ins)
		default:
			out = append(out, ins)
		}
	}
	return out
}

// LowerFunction returns a copy of fn with a lowered body.
func LowerFunction(fn *Function) *Function {
	cp := *fn
	cp.Body = LowerAll(fn.Body)
	return &cp
}
