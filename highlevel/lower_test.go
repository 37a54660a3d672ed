package highlevel

import (
	"testing"

	"github.com/chazu/jvmwasm/index"
	"github.com/chazu/jvmwasm/wasm"
)

// TestLowerIsLowLevel checks each expansion directly, without LowerAll.
func TestLowerIsLowLevel(t *testing.T) {
	for _, ptr64 := range []bool{false, true} {
		for _, fieldCalls := range []bool{false, true} {
			for _, pushID := range []int{-1, 3} {
				cfg := DefaultConfig()
				cfg.Pointer64 = ptr64
				cfg.FieldCalls = fieldCalls
				cfg.StackPushID = pushID

				var ins []wasm.HighLevel
				fields := buildFields(t, ptr64)
				fb, err := NewBuilder(fields, cfg)
				if err != nil {
					t.Fatalf("NewBuilder: %v", err)
				}
				for i, c := range fieldCases {
					for _, static := range []bool{false, true} {
						f := index.FieldSig{Class: "Obj", Name: fieldName(i), Descriptor: c.desc, Static: static}
						ins = append(ins,
							Must(fb.FieldGet(f)),
							Must(fb.FieldSet(f, false)),
							Must(fb.FieldSet(f, true)))
					}
				}

				if !ptr64 {
					db, err := NewBuilder(buildDispatch(t), cfg)
					if err != nil {
						t.Fatalf("NewBuilder: %v", err)
					}
					ins = append(ins,
						Must(db.Call(sigMax)),
						Must(db.InterfaceCall(sigIM)),
						Must(db.VirtualCall(sigBaseF)),
						Must(db.DynamicCall(sigSite)))
				}

				for _, s := range allShuffles(cfg) {
					ins = append(ins, s)
				}
				ins = append(ins, NewSwap(wasm.I64, wasm.F32, cfg), NewDup(wasm.F64, cfg))

				for _, i := range ins {
					if err := wasm.CheckLowered(i.Lower()); err != nil {
						t.Errorf("ptr64=%v fieldCalls=%v push=%d: %s lowers to %s: %v",
							ptr64, fieldCalls, pushID, i, wasm.FormatCode(i.Lower()), err)
					}
				}
			}
		}
	}
}

func TestInlineFieldSetCallsSwapHelpers(t *testing.T) {
	g := buildFields(t, false)
	b, _ := NewBuilder(g, DefaultConfig())
	helpers := make(map[string]bool)
	for _, fn := range HelperFunctions(DefaultConfig()) {
		helpers[fn.Name] = true
	}
	for _, reversed := range []bool{false, true} {
		for _, static := range []bool{false, true} {
			f := index.FieldSig{Class: "Obj", Name: fieldName(6), Descriptor: "F", Static: static}
			for _, ins := range Must(b.FieldSet(f, reversed)).Lower() {
				call, ok := ins.(wasm.Call)
				if !ok {
					continue
				}
				if !helpers[call.Name] {
					t.Errorf("static=%v reversed=%v: call to %q, which is not a helper", static, reversed, call.Name)
				}
				if len(call.Type.Params) != 2 || len(call.Type.Results) != 2 {
					t.Errorf("static=%v reversed=%v: %s has type %s, want two params and two results", static, reversed, call.Name, call.Type)
				}
			}
		}
	}
}
