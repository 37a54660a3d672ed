package wasm

import "fmt"

// Simulate computes the operand stack types after code runs on a stack
// holding in. It reports terminal when control cannot fall through the end
// of code, in which case out is nil.
//
// Blocks see only their declared params; popping past them underflows. A
// block that falls through must end with exactly its results, and a branch
// must leave the whole stack as it was when its loop was entered.
func Simulate(code []Instruction, in []ValType) (out []ValType, terminal bool, err error) {
	s := &simulator{}
	return s.run(code, append([]ValType(nil), in...))
}

// SimulateFunction checks that fn's body leaves exactly its results on the
// stack at every exit.
func SimulateFunction(fn *Function) error {
	s := &simulator{results: fn.Results, checkReturns: true}
	out, terminal, err := s.run(fn.Body, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", fn.Name, err)
	}
	if !terminal && !TypesEqual(out, fn.Results) {
		return fmt.Errorf("%w: %s ends with [%s], declares [%s]", ErrStackImbalance, fn.Name, typeList(out), typeList(fn.Results))
	}
	return nil
}

type simLabel struct {
	name  string
	stack []ValType
}

type simulator struct {
	labels       []simLabel
	// below holds the values hidden under the current block's params.
	below        []ValType
	results      []ValType
	checkReturns bool
}

func (s *simulator) label(name string) (simLabel, error) {
	for i := len(s.labels) - 1; i >= 0; i-- {
		if s.labels[i].name == name {
			return s.labels[i], nil
		}
	}
	return simLabel{}, fmt.Errorf("wasm: branch to unknown label %s", name)
}

func pop(stack []ValType, want []ValType) ([]ValType, error) {
	if len(stack) < len(want) {
		return nil, ErrStackUnderflow
	}
	top := stack[len(stack)-len(want):]
	for i, t := range want {
		if top[i] != t {
			return nil, fmt.Errorf("%w: [%s] where [%s] expected", ErrTypeMismatch, typeList(top), typeList(want))
		}
	}
	return stack[:len(stack)-len(want)], nil
}

func push(stack []ValType, ts ...ValType) []ValType {
	out := make([]ValType, len(stack), len(stack)+len(ts))
	copy(out, stack)
	return append(out, ts...)
}

func popAddress(stack []ValType) ([]ValType, error) {
	if len(stack) == 0 {
		return nil, ErrStackUnderflow
	}
	if t := stack[len(stack)-1]; t != I32 && t != I64 {
		return nil, fmt.Errorf("%w: %s used as address", ErrTypeMismatch, t)
	}
	return stack[:len(stack)-1], nil
}

func (s *simulator) run(code []Instruction, stack []ValType) ([]ValType, bool, error) {
	var err error
	for i, ins := range code {
		stack, err = s.step(ins, stack)
		if err != nil {
			return nil, false, fmt.Errorf("at %d (%s): %w", i, ins, err)
		}
		if stack == nil && isTerminalInstruction(ins) {
			return nil, true, nil
		}
	}
	return stack, false, nil
}

// isTerminalInstruction reports whether step signals a terminal
// instruction by returning a nil stack.
func isTerminalInstruction(ins Instruction) bool {
	switch ins := ins.(type) {
	case Op:
		return ins.IsTerminal()
	case Jump, If, Loop:
		return true
	}
	return false
}

// step returns the stack after ins, or nil if ins never falls through.
// Non-terminal results are always non-nil.
func (s *simulator) step(ins Instruction, stack []ValType) ([]ValType, error) {
	nonNil := func(st []ValType) []ValType {
		if st == nil {
			return []ValType{}
		}
		return st
	}
	switch ins := ins.(type) {
	case Op:
		info := ins.Info()
		switch info.Class {
		case ClassControl:
			switch ins {
			case OpUnreachable:
				return nil, nil
			case OpNop:
				return nonNil(stack), nil
			case OpReturn:
				if s.checkReturns {
					if _, err := pop(stack, s.results); err != nil {
						return nil, fmt.Errorf("return: %w", err)
					}
				}
				return nil, nil
			case OpDrop:
				if len(stack) == 0 {
					return nil, ErrStackUnderflow
				}
				return nonNil(stack[:len(stack)-1]), nil
			}
			return nil, fmt.Errorf("wasm: invalid operation")
		case ClassLoad:
			st, err := popAddress(stack)
			if err != nil {
				return nil, err
			}
			return push(st, info.Push...), nil
		case ClassStore:
			st, err := pop(stack, info.Pop)
			if err != nil {
				return nil, err
			}
			st, err = popAddress(st)
			if err != nil {
				return nil, err
			}
			return nonNil(st), nil
		default:
			st, err := pop(stack, info.Pop)
			if err != nil {
				return nil, err
			}
			return push(st, info.Push...), nil
		}
	case Const:
		return push(stack, ins.Value.Type), nil
	case LocalGet:
		return push(stack, ins.Type), nil
	case ParamGet:
		return push(stack, ins.Type), nil
	case GlobalGet:
		return push(stack, ins.Type), nil
	case LocalSet:
		st, err := pop(stack, []ValType{ins.Type})
		return nonNil(st), err
	case GlobalSet:
		st, err := pop(stack, []ValType{ins.Type})
		return nonNil(st), err
	case Call:
		st, err := pop(stack, ins.Type.Params)
		if err != nil {
			return nil, err
		}
		return push(st, ins.Type.Results...), nil
	case CallIndirect:
		st, err := pop(stack, []ValType{I32})
		if err != nil {
			return nil, err
		}
		st, err = pop(st, ins.Type.Params)
		if err != nil {
			return nil, err
		}
		return push(st, ins.Type.Results...), nil
	case Jump:
		l, err := s.label(ins.Label)
		if err != nil {
			return nil, err
		}
		if full := push(s.below, stack...); !TypesEqual(full, l.stack) {
			return nil, fmt.Errorf("%w: br $%s with [%s], loop entered with [%s]", ErrStackImbalance, ins.Label, typeList(full), typeList(l.stack))
		}
		return nil, nil
	case JumpIf:
		st, err := pop(stack, []ValType{I32})
		if err != nil {
			return nil, err
		}
		l, err := s.label(ins.Label)
		if err != nil {
			return nil, err
		}
		if full := push(s.below, st...); !TypesEqual(full, l.stack) {
			return nil, fmt.Errorf("%w: br_if $%s with [%s], loop entered with [%s]", ErrStackImbalance, ins.Label, typeList(full), typeList(l.stack))
		}
		return nonNil(st), nil
	case If:
		st, err := pop(stack, []ValType{I32})
		if err != nil {
			return nil, err
		}
		rest, err := pop(st, ins.Params)
		if err != nil {
			return nil, fmt.Errorf("if params: %w", err)
		}
		saved := s.below
		s.below = push(saved, rest...)
		thenOut, thenTerm, err := s.run(ins.Then, push(nil, ins.Params...))
		if err != nil {
			s.below = saved
			return nil, fmt.Errorf("then: %w", err)
		}
		elseOut, elseTerm, err := s.run(ins.Else, push(nil, ins.Params...))
		s.below = saved
		if err != nil {
			return nil, fmt.Errorf("else: %w", err)
		}
		if !thenTerm && !TypesEqual(thenOut, ins.Results) {
			return nil, fmt.Errorf("%w: then ends with [%s], if declares [%s]", ErrStackImbalance, typeList(thenOut), typeList(ins.Results))
		}
		if !elseTerm && !TypesEqual(elseOut, ins.Results) {
			return nil, fmt.Errorf("%w: else ends with [%s], if declares [%s]", ErrStackImbalance, typeList(elseOut), typeList(ins.Results))
		}
		if thenTerm && elseTerm {
			return nil, nil
		}
		return push(rest, ins.Results...), nil
	case Loop:
		rest, err := pop(stack, ins.Params)
		if err != nil {
			return nil, fmt.Errorf("loop $%s params: %w", ins.Label, err)
		}
		saved := s.below
		s.below = push(saved, rest...)
		s.labels = append(s.labels, simLabel{name: ins.Label, stack: push(s.below, ins.Params...)})
		out, term, err := s.run(ins.Body, push(nil, ins.Params...))
		s.labels = s.labels[:len(s.labels)-1]
		s.below = saved
		if err != nil {
			return nil, fmt.Errorf("loop $%s: %w", ins.Label, err)
		}
		if term {
			return nil, nil
		}
		if !TypesEqual(out, ins.Results) {
			return nil, fmt.Errorf("%w: loop $%s ends with [%s], declares [%s]", ErrStackImbalance, ins.Label, typeList(out), typeList(ins.Results))
		}
		return push(rest, ins.Results...), nil
	case Comment:
		return nonNil(stack), nil
	case StackEffecter:
		pops, pushes := ins.StackEffect()
		st, err := pop(stack, pops)
		if err != nil {
			return nil, err
		}
		return push(st, pushes...), nil
	case HighLevel:
		out, term, err := s.run(ins.Lower(), push(stack))
		if err != nil {
			return nil, err
		}
		if term {
			return nil, fmt.Errorf("wasm: %s lowers to terminal code", ins)
		}
		return nonNil(out), nil
	}
	return nil, fmt.Errorf("wasm: cannot simulate %T", ins)
}
