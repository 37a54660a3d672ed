package highlevel

import (
	"fmt"
	"strings"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

func (c Config) wrapTrace(code []wasm.Instruction) []wasm.Instruction {
	if !c.tracing() {
		return code
	}
	out := make([]wasm.Instruction, 0, len(code)+3)
	out = append(out, wasm.I32Const(int32(c.StackPushID)), c.builtin(wasm.HostStackPush))
	out = append(out, code...)
	return append(out, c.builtin(wasm.HostStackPop))
}

// ResolvedCall calls a method whose implementation is known statically:
// static methods, constructors, private and super calls.
type ResolvedCall struct {
	Method index.MethodSig
	Type   wasm.FuncType
	cfg    Config
}

func (c ResolvedCall) Execute(e *wasm.Engine) (wasm.Signal, error) {
	return e.Run(c.Lower())
}

func (c ResolvedCall) Lower() []wasm.Instruction {
	return c.cfg.wrapTrace([]wasm.Instruction{wasm.Call{Name: c.Method.FuncName(), Type: c.Type}})
}

func (c ResolvedCall) StackEffect() (pop, push []wasm.ValType) {
	return c.Type.Params, c.Type.Results
}

func (c ResolvedCall) String() string {
	return "invoke " + c.Method.String()
}

// UnresolvedCall calls a method chosen at run time from the receiver's
// class. The stack holds [self, args..., self]: the receiver is passed as
// the first argument and duplicated on top for the resolution helper.
type UnresolvedCall struct {
	Binding index.Binding
	Method  index.MethodSig
	// ResolutionID is the interface method id, vtable slot or indirect
	// table offset handed to the resolution helper.
	ResolutionID int32
	// Targets are the implementations the call may reach.
	Targets []index.MethodSig
	Type    wasm.FuncType
	cfg     Config
}

func (c UnresolvedCall) resolver() string {
	if c.Binding == index.Interface {
		return wasm.HostResolveInterface
	}
	return wasm.HostResolveIndirect
}

// Options returns the symbol names of the possible targets.
func (c UnresolvedCall) Options() []string {
	names := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		names[i] = t.FuncName()
	}
	return names
}

func (c UnresolvedCall) Execute(e *wasm.Engine) (wasm.Signal, error) {
	return e.Run(c.Lower())
}

func (c UnresolvedCall) Lower() []wasm.Instruction {
	return c.cfg.wrapTrace([]wasm.Instruction{
		wasm.I32Const(c.ResolutionID),
		c.cfg.builtin(c.resolver()),
		wasm.CallIndirect{Type: c.Type, Options: c.Options()},
	})
}

func (c UnresolvedCall) StackEffect() (pop, push []wasm.ValType) {
	pop = append(append([]wasm.ValType(nil), c.Type.Params...), c.cfg.Ptr())
	return pop, c.Type.Results
}

func (c UnresolvedCall) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invoke%s %s #%d {", c.Binding, c.Method, c.ResolutionID)
	for i, t := range c.Targets {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.Class)
	}
	sb.WriteString("}")
	return sb.String()
}
