package wasm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wasm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Record kinds.
const (
	RecordOp           = "op"
	RecordConst        = "const"
	RecordLocalGet     = "local.get"
	RecordLocalSet     = "local.set"
	RecordParamGet     = "param.get"
	RecordGlobalGet    = "global.get"
	RecordGlobalSet    = "global.set"
	RecordCall         = "call"
	RecordCallIndirect = "call_indirect"
	RecordIf           = "if"
	RecordLoop         = "loop"
	RecordJump         = "br"
	RecordJumpIf       = "br_if"
	RecordComment      = "comment"
)

// Record is the serialized form of one low-level instruction.
type Record struct {
	Kind    string    `cbor:"1,keyasint"`
	Op      string    `cbor:"2,keyasint,omitempty"`
	Type    ValType   `cbor:"3,keyasint,omitempty"`
	Bits    uint64    `cbor:"4,keyasint,omitempty"`
	Name    string    `cbor:"5,keyasint,omitempty"`
	Index   int       `cbor:"6,keyasint,omitempty"`
	Params  []ValType `cbor:"7,keyasint,omitempty"`
	Results []ValType `cbor:"8,keyasint,omitempty"`
	Body    []Record  `cbor:"9,keyasint,omitempty"`
	Else    []Record  `cbor:"10,keyasint,omitempty"`
	Options []string  `cbor:"11,keyasint,omitempty"`
}

// ToRecords converts code to records. High-level instructions are stored
// in lowered form.
func ToRecords(code []Instruction) ([]Record, error) {
	out := make([]Record, 0, len(code))
	for _, ins := range code {
		switch ins := ins.(type) {
		case Op:
			out = append(out, Record{Kind: RecordOp, Op: ins.String()})
		case Const:
			out = append(out, Record{Kind: RecordConst, Type: ins.Value.Type, Bits: ins.Value.Bits})
		case LocalGet:
			out = append(out, Record{Kind: RecordLocalGet, Name: ins.Name, Type: ins.Type})
		case LocalSet:
			out = append(out, Record{Kind: RecordLocalSet, Name: ins.Name, Type: ins.Type})
		case ParamGet:
			out = append(out, Record{Kind: RecordParamGet, Index: ins.Index, Type: ins.Type})
		case GlobalGet:
			out = append(out, Record{Kind: RecordGlobalGet, Name: ins.Name, Type: ins.Type})
		case GlobalSet:
			out = append(out, Record{Kind: RecordGlobalSet, Name: ins.Name, Type: ins.Type})
		case Call:
			out = append(out, Record{Kind: RecordCall, Name: ins.Name, Params: ins.Type.Params, Results: ins.Type.Results})
		case CallIndirect:
			out = append(out, Record{Kind: RecordCallIndirect, Params: ins.Type.Params, Results: ins.Type.Results, Options: ins.Options})
		case If:
			then, err := ToRecords(ins.Then)
			if err != nil {
				return nil, err
			}
			els, err := ToRecords(ins.Else)
			if err != nil {
				return nil, err
			}
			out = append(out, Record{Kind: RecordIf, Params: ins.Params, Results: ins.Results, Body: then, Else: els})
		case Loop:
			body, err := ToRecords(ins.Body)
			if err != nil {
				return nil, err
			}
			out = append(out, Record{Kind: RecordLoop, Name: ins.Label, Params: ins.Params, Results: ins.Results, Body: body})
		case Jump:
			out = append(out, Record{Kind: RecordJump, Name: ins.Label})
		case JumpIf:
			out = append(out, Record{Kind: RecordJumpIf, Name: ins.Label})
		case Comment:
			out = append(out, Record{Kind: RecordComment, Name: ins.Text})
		case HighLevel:
			lowered, err := ToRecords(ins.Lower())
			if err != nil {
				return nil, err
			}
			out = append(out, lowered...)
		default:
			return nil, fmt.Errorf("wasm: cannot record %T", ins)
		}
	}
	return out, nil
}

// FromRecords rebuilds instructions from records.
func FromRecords(recs []Record) ([]Instruction, error) {
	out := make([]Instruction, 0, len(recs))
	for i, r := range recs {
		switch r.Kind {
		case RecordOp:
			op, ok := OpByName(r.Op)
			if !ok {
				return nil, fmt.Errorf("wasm: record %d: unknown operation %q", i, r.Op)
			}
			out = append(out, op)
		case RecordConst:
			out = append(out, Const{Value: Value{Type: r.Type, Bits: r.Bits}})
		case RecordLocalGet:
			out = append(out, LocalGet{Name: r.Name, Type: r.Type})
		case RecordLocalSet:
			out = append(out, LocalSet{Name: r.Name, Type: r.Type})
		case RecordParamGet:
			out = append(out, ParamGet{Index: r.Index, Type: r.Type})
		case RecordGlobalGet:
			out = append(out, GlobalGet{Name: r.Name, Type: r.Type})
		case RecordGlobalSet:
			out = append(out, GlobalSet{Name: r.Name, Type: r.Type})
		case RecordCall:
			out = append(out, Call{Name: r.Name, Type: FuncType{Params: r.Params, Results: r.Results}})
		case RecordCallIndirect:
			out = append(out, CallIndirect{Type: FuncType{Params: r.Params, Results: r.Results}, Options: r.Options})
		case RecordIf:
			then, err := FromRecords(r.Body)
			if err != nil {
				return nil, err
			}
			els, err := FromRecords(r.Else)
			if err != nil {
				return nil, err
			}
			out = append(out, If{Params: r.Params, Results: r.Results, Then: then, Else: els})
		case RecordLoop:
			body, err := FromRecords(r.Body)
			if err != nil {
				return nil, err
			}
			out = append(out, Loop{Label: r.Name, Params: r.Params, Results: r.Results, Body: body})
		case RecordJump:
			out = append(out, Jump{Label: r.Name})
		case RecordJumpIf:
			out = append(out, JumpIf{Label: r.Name})
		case RecordComment:
			out = append(out, Comment{Text: r.Name})
		default:
			return nil, fmt.Errorf("wasm: record %d: unknown kind %q", i, r.Kind)
		}
	}
	return out, nil
}

// MarshalCode serializes code as canonical CBOR.
func MarshalCode(code []Instruction) ([]byte, error) {
	recs, err := ToRecords(code)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(recs)
}

// UnmarshalCode parses code written by MarshalCode.
func UnmarshalCode(data []byte) ([]Instruction, error) {
	var recs []Record
	if err := cbor.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("wasm: unmarshal code: %w", err)
	}
	return FromRecords(recs)
}
