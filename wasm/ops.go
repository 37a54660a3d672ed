package wasm

import "fmt"

// Op identifies a plain instruction: a numeric operation, a memory access
// or one of the operand-free control instructions.
type Op uint16

const (
	OpInvalid Op = iota

	// Control without operands
	OpUnreachable
	OpNop
	OpReturn
	OpDrop

	// Memory
	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16

	// i32 comparison
	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU

	// i64 comparison
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU

	// float comparison
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	// i32 arithmetic
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU

	// i64 arithmetic
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU

	// float arithmetic
	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div

	// conversions
	OpI32WrapI64
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpF32ConvertI32S
	OpF32ConvertI64S
	OpF64ConvertI32S
	OpF64ConvertI64S
	OpF32DemoteF64
	OpF64PromoteF32
	OpI32TruncSatF32S
	OpI32TruncSatF64S
	OpI64TruncSatF32S
	OpI64TruncSatF64S
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64
	OpI32Extend8S
	OpI32Extend16S

	opCount
)

// OpClass groups operations with the same evaluation shape.
type OpClass uint8

const (
	ClassControl OpClass = iota
	ClassLoad
	ClassStore
	ClassUnary
	ClassBinary
	ClassCompare
	ClassConvert
)

// OpInfo describes an operation for validation, printing and encoding.
type OpInfo struct {
	Name  string
	Class OpClass
	Pop   []ValType // operands, bottom first
	Push  []ValType
	Code  uint16 // binary opcode, prefixed opcodes carry the prefix in the high byte
	Align uint8  // natural alignment exponent for memory ops
}

var (
	i32   = []ValType{I32}
	i64   = []ValType{I64}
	f32   = []ValType{F32}
	f64   = []ValType{F64}
	i32x2 = []ValType{I32, I32}
	i64x2 = []ValType{I64, I64}
	f32x2 = []ValType{F32, F32}
	f64x2 = []ValType{F64, F64}
)

// Memory ops leave the address operand out of Pop: it may be i32 or i64
// depending on the pointer width.
var opInfoTable = [opCount]OpInfo{
	OpInvalid:     {Name: "invalid"},
	OpUnreachable: {Name: "unreachable", Class: ClassControl, Code: 0x00},
	OpNop:         {Name: "nop", Class: ClassControl, Code: 0x01},
	OpReturn:      {Name: "return", Class: ClassControl, Code: 0x0F},
	OpDrop:        {Name: "drop", Class: ClassControl, Code: 0x1A},

	OpI32Load:    {Name: "i32.load", Class: ClassLoad, Push: i32, Code: 0x28, Align: 2},
	OpI64Load:    {Name: "i64.load", Class: ClassLoad, Push: i64, Code: 0x29, Align: 3},
	OpF32Load:    {Name: "f32.load", Class: ClassLoad, Push: f32, Code: 0x2A, Align: 2},
	OpF64Load:    {Name: "f64.load", Class: ClassLoad, Push: f64, Code: 0x2B, Align: 3},
	OpI32Load8S:  {Name: "i32.load8_s", Class: ClassLoad, Push: i32, Code: 0x2C},
	OpI32Load8U:  {Name: "i32.load8_u", Class: ClassLoad, Push: i32, Code: 0x2D},
	OpI32Load16S: {Name: "i32.load16_s", Class: ClassLoad, Push: i32, Code: 0x2E, Align: 1},
	OpI32Load16U: {Name: "i32.load16_u", Class: ClassLoad, Push: i32, Code: 0x2F, Align: 1},
	OpI32Store:   {Name: "i32.store", Class: ClassStore, Pop: i32, Code: 0x36, Align: 2},
	OpI64Store:   {Name: "i64.store", Class: ClassStore, Pop: i64, Code: 0x37, Align: 3},
	OpF32Store:   {Name: "f32.store", Class: ClassStore, Pop: f32, Code: 0x38, Align: 2},
	OpF64Store:   {Name: "f64.store", Class: ClassStore, Pop: f64, Code: 0x39, Align: 3},
	OpI32Store8:  {Name: "i32.store8", Class: ClassStore, Pop: i32, Code: 0x3A},
	OpI32Store16: {Name: "i32.store16", Class: ClassStore, Pop: i32, Code: 0x3B, Align: 1},

	OpI32Eqz: {Name: "i32.eqz", Class: ClassCompare, Pop: i32, Push: i32, Code: 0x45},
	OpI32Eq:  {Name: "i32.eq", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x46},
	OpI32Ne:  {Name: "i32.ne", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x47},
	OpI32LtS: {Name: "i32.lt_s", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x48},
	OpI32LtU: {Name: "i32.lt_u", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x49},
	OpI32GtS: {Name: "i32.gt_s", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x4A},
	OpI32GtU: {Name: "i32.gt_u", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x4B},
	OpI32LeS: {Name: "i32.le_s", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x4C},
	OpI32LeU: {Name: "i32.le_u", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x4D},
	OpI32GeS: {Name: "i32.ge_s", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x4E},
	OpI32GeU: {Name: "i32.ge_u", Class: ClassCompare, Pop: i32x2, Push: i32, Code: 0x4F},

	OpI64Eqz: {Name: "i64.eqz", Class: ClassCompare, Pop: i64, Push: i32, Code: 0x50},
	OpI64Eq:  {Name: "i64.eq", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x51},
	OpI64Ne:  {Name: "i64.ne", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x52},
	OpI64LtS: {Name: "i64.lt_s", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x53},
	OpI64LtU: {Name: "i64.lt_u", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x54},
	OpI64GtS: {Name: "i64.gt_s", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x55},
	OpI64GtU: {Name: "i64.gt_u", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x56},
	OpI64LeS: {Name: "i64.le_s", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x57},
	OpI64LeU: {Name: "i64.le_u", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x58},
	OpI64GeS: {Name: "i64.ge_s", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x59},
	OpI64GeU: {Name: "i64.ge_u", Class: ClassCompare, Pop: i64x2, Push: i32, Code: 0x5A},

	OpF32Eq: {Name: "f32.eq", Class: ClassCompare, Pop: f32x2, Push: i32, Code: 0x5B},
	OpF32Ne: {Name: "f32.ne", Class: ClassCompare, Pop: f32x2, Push: i32, Code: 0x5C},
	OpF32Lt: {Name: "f32.lt", Class: ClassCompare, Pop: f32x2, Push: i32, Code: 0x5D},
	OpF32Gt: {Name: "f32.gt", Class: ClassCompare, Pop: f32x2, Push: i32, Code: 0x5E},
	OpF32Le: {Name: "f32.le", Class: ClassCompare, Pop: f32x2, Push: i32, Code: 0x5F},
	OpF32Ge: {Name: "f32.ge", Class: ClassCompare, Pop: f32x2, Push: i32, Code: 0x60},
	OpF64Eq: {Name: "f64.eq", Class: ClassCompare, Pop: f64x2, Push: i32, Code: 0x61},
	OpF64Ne: {Name: "f64.ne", Class: ClassCompare, Pop: f64x2, Push: i32, Code: 0x62},
	OpF64Lt: {Name: "f64.lt", Class: ClassCompare, Pop: f64x2, Push: i32, Code: 0x63},
	OpF64Gt: {Name: "f64.gt", Class: ClassCompare, Pop: f64x2, Push: i32, Code: 0x64},
	OpF64Le: {Name: "f64.le", Class: ClassCompare, Pop: f64x2, Push: i32, Code: 0x65},
	OpF64Ge: {Name: "f64.ge", Class: ClassCompare, Pop: f64x2, Push: i32, Code: 0x66},

	OpI32Add:  {Name: "i32.add", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x6A},
	OpI32Sub:  {Name: "i32.sub", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x6B},
	OpI32Mul:  {Name: "i32.mul", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x6C},
	OpI32DivS: {Name: "i32.div_s", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x6D},
	OpI32DivU: {Name: "i32.div_u", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x6E},
	OpI32RemS: {Name: "i32.rem_s", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x6F},
	OpI32RemU: {Name: "i32.rem_u", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x70},
	OpI32And:  {Name: "i32.and", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x71},
	OpI32Or:   {Name: "i32.or", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x72},
	OpI32Xor:  {Name: "i32.xor", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x73},
	OpI32Shl:  {Name: "i32.shl", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x74},
	OpI32ShrS: {Name: "i32.shr_s", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x75},
	OpI32ShrU: {Name: "i32.shr_u", Class: ClassBinary, Pop: i32x2, Push: i32, Code: 0x76},

	OpI64Add:  {Name: "i64.add", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x7C},
	OpI64Sub:  {Name: "i64.sub", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x7D},
	OpI64Mul:  {Name: "i64.mul", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x7E},
	OpI64DivS: {Name: "i64.div_s", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x7F},
	OpI64DivU: {Name: "i64.div_u", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x80},
	OpI64RemS: {Name: "i64.rem_s", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x81},
	OpI64RemU: {Name: "i64.rem_u", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x82},
	OpI64And:  {Name: "i64.and", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x83},
	OpI64Or:   {Name: "i64.or", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x84},
	OpI64Xor:  {Name: "i64.xor", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x85},
	OpI64Shl:  {Name: "i64.shl", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x86},
	OpI64ShrS: {Name: "i64.shr_s", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x87},
	OpI64ShrU: {Name: "i64.shr_u", Class: ClassBinary, Pop: i64x2, Push: i64, Code: 0x88},

	OpF32Abs:   {Name: "f32.abs", Class: ClassUnary, Pop: f32, Push: f32, Code: 0x8B},
	OpF32Neg:   {Name: "f32.neg", Class: ClassUnary, Pop: f32, Push: f32, Code: 0x8C},
	OpF32Ceil:  {Name: "f32.ceil", Class: ClassUnary, Pop: f32, Push: f32, Code: 0x8D},
	OpF32Floor: {Name: "f32.floor", Class: ClassUnary, Pop: f32, Push: f32, Code: 0x8E},
	OpF32Sqrt:  {Name: "f32.sqrt", Class: ClassUnary, Pop: f32, Push: f32, Code: 0x91},
	OpF32Add:   {Name: "f32.add", Class: ClassBinary, Pop: f32x2, Push: f32, Code: 0x92},
	OpF32Sub:   {Name: "f32.sub", Class: ClassBinary, Pop: f32x2, Push: f32, Code: 0x93},
	OpF32Mul:   {Name: "f32.mul", Class: ClassBinary, Pop: f32x2, Push: f32, Code: 0x94},
	OpF32Div:   {Name: "f32.div", Class: ClassBinary, Pop: f32x2, Push: f32, Code: 0x95},
	OpF64Abs:   {Name: "f64.abs", Class: ClassUnary, Pop: f64, Push: f64, Code: 0x99},
	OpF64Neg:   {Name: "f64.neg", Class: ClassUnary, Pop: f64, Push: f64, Code: 0x9A},
	OpF64Ceil:  {Name: "f64.ceil", Class: ClassUnary, Pop: f64, Push: f64, Code: 0x9B},
	OpF64Floor: {Name: "f64.floor", Class: ClassUnary, Pop: f64, Push: f64, Code: 0x9C},
	OpF64Sqrt:  {Name: "f64.sqrt", Class: ClassUnary, Pop: f64, Push: f64, Code: 0x9F},
	OpF64Add:   {Name: "f64.add", Class: ClassBinary, Pop: f64x2, Push: f64, Code: 0xA0},
	OpF64Sub:   {Name: "f64.sub", Class: ClassBinary, Pop: f64x2, Push: f64, Code: 0xA1},
	OpF64Mul:   {Name: "f64.mul", Class: ClassBinary, Pop: f64x2, Push: f64, Code: 0xA2},
	OpF64Div:   {Name: "f64.div", Class: ClassBinary, Pop: f64x2, Push: f64, Code: 0xA3},

	OpI32WrapI64:        {Name: "i32.wrap_i64", Class: ClassConvert, Pop: i64, Push: i32, Code: 0xA7},
	OpI64ExtendI32S:     {Name: "i64.extend_i32_s", Class: ClassConvert, Pop: i32, Push: i64, Code: 0xAC},
	OpI64ExtendI32U:     {Name: "i64.extend_i32_u", Class: ClassConvert, Pop: i32, Push: i64, Code: 0xAD},
	OpF32ConvertI32S:    {Name: "f32.convert_i32_s", Class: ClassConvert, Pop: i32, Push: f32, Code: 0xB2},
	OpF32ConvertI64S:    {Name: "f32.convert_i64_s", Class: ClassConvert, Pop: i64, Push: f32, Code: 0xB4},
	OpF64ConvertI32S:    {Name: "f64.convert_i32_s", Class: ClassConvert, Pop: i32, Push: f64, Code: 0xB7},
	OpF64ConvertI64S:    {Name: "f64.convert_i64_s", Class: ClassConvert, Pop: i64, Push: f64, Code: 0xB9},
	OpF32DemoteF64:      {Name: "f32.demote_f64", Class: ClassConvert, Pop: f64, Push: f32, Code: 0xB6},
	OpF64PromoteF32:     {Name: "f64.promote_f32", Class: ClassConvert, Pop: f32, Push: f64, Code: 0xBB},
	OpI32TruncSatF32S:   {Name: "i32.trunc_sat_f32_s", Class: ClassConvert, Pop: f32, Push: i32, Code: 0xFC00},
	OpI32TruncSatF64S:   {Name: "i32.trunc_sat_f64_s", Class: ClassConvert, Pop: f64, Push: i32, Code: 0xFC02},
	OpI64TruncSatF32S:   {Name: "i64.trunc_sat_f32_s", Class: ClassConvert, Pop: f32, Push: i64, Code: 0xFC04},
	OpI64TruncSatF64S:   {Name: "i64.trunc_sat_f64_s", Class: ClassConvert, Pop: f64, Push: i64, Code: 0xFC06},
	OpI32ReinterpretF32: {Name: "i32.reinterpret_f32", Class: ClassConvert, Pop: f32, Push: i32, Code: 0xBC},
	OpI64ReinterpretF64: {Name: "i64.reinterpret_f64", Class: ClassConvert, Pop: f64, Push: i64, Code: 0xBD},
	OpF32ReinterpretI32: {Name: "f32.reinterpret_i32", Class: ClassConvert, Pop: i32, Push: f32, Code: 0xBE},
	OpF64ReinterpretI64: {Name: "f64.reinterpret_i64", Class: ClassConvert, Pop: i64, Push: f64, Code: 0xBF},
	OpI32Extend8S:       {Name: "i32.extend8_s", Class: ClassConvert, Pop: i32, Push: i32, Code: 0xC0},
	OpI32Extend16S:      {Name: "i32.extend16_s", Class: ClassConvert, Pop: i32, Push: i32, Code: 0xC1},
}

var opsByName map[string]Op

func init() {
	opsByName = make(map[string]Op, opCount)
	for op := OpUnreachable; op < opCount; op++ {
		opsByName[opInfoTable[op].Name] = op
	}
}

// Info returns the metadata of an operation.
func (op Op) Info() OpInfo {
	if op >= opCount {
		return OpInfo{Name: fmt.Sprintf("op(%d)", uint16(op))}
	}
	return opInfoTable[op]
}

func (op Op) String() string {
	return op.Info().Name
}

// IsTerminal reports whether control never falls through the operation.
func (op Op) IsTerminal() bool {
	return op == OpReturn || op == OpUnreachable
}

// IsLoad reports whether op reads linear memory.
func (op Op) IsLoad() bool { return op.Info().Class == ClassLoad }

// IsStore reports whether op writes linear memory.
func (op Op) IsStore() bool { return op.Info().Class == ClassStore }

// IsCompare reports whether op yields a boolean i32.
func (op Op) IsCompare() bool { return op.Info().Class == ClassCompare }

// OpByName looks up an operation by its text name, e.g. "i32.add".
func OpByName(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// AllOps returns every valid operation.
func AllOps() []Op {
	ops := make([]Op, 0, opCount-1)
	for op := OpUnreachable; op < opCount; op++ {
		ops = append(ops, op)
	}
	return ops
}
