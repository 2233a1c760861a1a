// ir.go - typed SSA-style intermediate representation (component D)
//
// Grounded in shape on the teacher's CPU_X86/FPU_X87 register and opcode
// enums (cpu_x86.go, fpu_x87.go), recast from "interpret this opcode
// directly" into "build an instruction record a later pass can walk".
// Constructed once by the decoder and never mutated afterwards, except
// by the memory-model pass which only inserts new instructions
// (spec.md §4.D).
//
// License: GPLv3 or later

package jit

import "golang.org/x/exp/constraints"

// DataType is the IR's typed-value domain (spec.md §3).
type DataType int

const (
	TypeUnknown DataType = iota
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF32
	TypeF64
	TypeF80
	TypeV64B8
	TypeV64W4
	TypeV128B16
	TypeV128W8
	TypeV128D4
	TypeV128Q2
	TypePtr
)

// NoVReg is the sentinel vreg index meaning "no register" for a memory
// operand's base/index (spec.md §3).
const NoVReg = -1

// OperandKind discriminates an IROperand's variant.
type OperandKind int

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandMem
	OperandLabel
)

// IROperand is a tagged union over {register, immediate, memory, label}.
type IROperand struct {
	Kind OperandKind

	// OperandReg
	VReg int
	Type DataType

	// OperandImm
	ImmValue uint64

	// OperandMem
	BaseVReg  int
	IndexVReg int
	Scale     int
	Disp      int32

	// OperandLabel
	Label int
}

func RegOp(vreg int, t DataType) IROperand {
	return IROperand{Kind: OperandReg, VReg: vreg, Type: t}
}

// ImmOp masks v down to the declared type's width before storing it, so
// an immediate built from a wider decode field (e.g. an imm8 widened
// into a uint64) never carries stray high bits into the IR.
func ImmOp(v uint64, t DataType) IROperand {
	return IROperand{Kind: OperandImm, ImmValue: regWidth(v, WidthOf(t)), Type: t}
}

func MemOp(base, index int, scale int, disp int32, t DataType) IROperand {
	return IROperand{Kind: OperandMem, BaseVReg: base, IndexVReg: index, Scale: scale, Disp: disp, Type: t}
}

func LabelOp(id int) IROperand {
	return IROperand{Kind: OperandLabel, Label: id}
}

// IROpcode enumerates the IR instruction set of spec.md §3/§4.D.
type IROpcode int

const (
	OpNop IROpcode = iota
	OpAlu
	OpLogical
	OpShift
	OpCompare
	OpMove
	OpLoad
	OpStore
	OpPush
	OpPop
	OpJmp
	OpJcc // 16 conditional branch kinds, see CondCode below
	OpCall
	OpRet
	OpLabel
	OpHostCall
	OpDebugBreak
	OpMemFence

	// flag materialisation
	OpUpdateEflagsAdd
	OpUpdateEflagsSub
	OpUpdateEflagsLogical
	OpUpdateEflagsShift
	OpUpdateEflagsCmp

	// vector, typed per lane width
	OpVecAdd
	OpVecSub
	OpVecMul
	OpVecAnd
	OpVecOr
	OpVecXor
	OpVecLoad
	OpVecStore

	// x87 basic arithmetic
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFCompare
	OpFLoad
	OpFStore

	// x87 extended
	OpFSin
	OpFCos
	OpFPtan
	OpF2XM1
	OpFYL2X
	OpFPatan
	OpFSqrt
	OpFScale
	OpFPrem
	OpFRndint
	OpFXch
	OpFIncstp
	OpFDecstp
	OpFLdcw
	OpFNstcw
	OpFNstsw
)

var irOpcodeNames = map[IROpcode]string{
	OpNop: "NOP", OpAlu: "ALU", OpLogical: "LOGICAL", OpShift: "SHIFT",
	OpCompare: "CMP", OpMove: "MOV", OpLoad: "LOAD", OpStore: "STORE",
	OpPush: "PUSH", OpPop: "POP", OpJmp: "JMP", OpJcc: "JCC",
	OpCall: "CALL", OpRet: "RET", OpLabel: "LABEL", OpHostCall: "HOSTCALL",
	OpDebugBreak: "DBGBREAK", OpMemFence: "FENCE",
	OpUpdateEflagsAdd: "UPDATE_EFLAGS_ADD", OpUpdateEflagsSub: "UPDATE_EFLAGS_SUB",
	OpUpdateEflagsLogical: "UPDATE_EFLAGS_LOGICAL", OpUpdateEflagsShift: "UPDATE_EFLAGS_SHIFT",
	OpUpdateEflagsCmp: "UPDATE_EFLAGS_CMP",
	OpVecAdd:          "VADD", OpVecSub: "VSUB", OpVecMul: "VMUL",
	OpVecAnd: "VAND", OpVecOr: "VOR", OpVecXor: "VXOR",
	OpVecLoad: "VLOAD", OpVecStore: "VSTORE",
	OpFAdd: "FADD", OpFSub: "FSUB", OpFMul: "FMUL", OpFDiv: "FDIV",
	OpFCompare: "FCOM", OpFLoad: "FLD", OpFStore: "FST",
	OpFSin: "FSIN", OpFCos: "FCOS", OpFPtan: "FPTAN", OpF2XM1: "F2XM1",
	OpFYL2X: "FYL2X", OpFPatan: "FPATAN", OpFSqrt: "FSQRT", OpFScale: "FSCALE",
	OpFPrem: "FPREM", OpFRndint: "FRNDINT", OpFXch: "FXCH",
	OpFIncstp: "FINCSTP", OpFDecstp: "FDECSTP", OpFLdcw: "FLDCW",
	OpFNstcw: "FNSTCW", OpFNstsw: "FNSTSW",
}

func (op IROpcode) String() string {
	if n, ok := irOpcodeNames[op]; ok {
		return n
	}
	return "UNKNOWN"
}

// CondCode is one of the 16 conditional branch/set/move kinds Jcc/
// SETcc/CMOVcc share, indexed the same way the teacher's x86Cond table
// in debug_disasm_x86.go is, P/NP included: value n is the low nibble
// of Jcc opcode 0x70+n.
type CondCode int

const (
	CondO CondCode = iota
	CondNO
	CondB
	CondNB
	CondZ
	CondNZ
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

// MemFenceKind encodes the barrier subtype carried by an OpMemFence
// instruction's single immediate operand (spec.md §4.F).
type MemFenceKind int

const (
	BarrierNone MemFenceKind = iota
	BarrierDMBISH
	BarrierDMBISHST
	BarrierDMBISHLD
	BarrierISB
)

// IRInstrFlags carries decode-time facts the memory-model pass keys off
// of that don't correspond to a distinct opcode (spec.md §4.F: LOCK
// prefix, XCHG, MFENCE/SFENCE/LFENCE are all otherwise-ordinary ALU or
// move instructions).
type IRInstrFlags uint8

const (
	FlagLock IRInstrFlags = 1 << iota
	FlagXchg
	FlagMFence
	FlagSFence
	FlagLFence
)

// IRInstr is a discriminated opcode plus an ordered operand vector.
type IRInstr struct {
	Op       IROpcode
	Operands []IROperand
	Cond     CondCode // valid for OpJcc
	Flags    IRInstrFlags
}

// ExitKind classifies a basic block's control-flow exit.
type ExitKind int

const (
	ExitJmp ExitKind = iota
	ExitCondBranch
	ExitCall
	ExitRet
	ExitFallthrough
	ExitIndirectJmp
	ExitIndirectCall
)

// BlockExit describes one control-flow exit of a basic block: the
// code-vector byte offset of the site to patch and the guest target(s).
type BlockExit struct {
	Kind          ExitKind
	PatchOffset   int
	TargetGuest   uint32
	FalseTarget   uint32 // only meaningful for ExitCondBranch
	HasFalseTarget bool
	IsPatched     bool
}

// BasicBlock is a unique-ID, ordered instruction list inside an
// IRFunction, plus (once emitted) its control-flow exits.
type BasicBlock struct {
	ID     int
	Instrs []IRInstr
	Exits  []BlockExit
}

func (b *BasicBlock) Append(i IRInstr) {
	b.Instrs = append(b.Instrs, i)
}

// Insert inserts an instruction before index idx without reordering or
// removing anything else — the only mutation the memory-model pass may
// perform on an already-decoded block (spec.md §4.D).
func (b *BasicBlock) Insert(idx int, i IRInstr) {
	b.Instrs = append(b.Instrs, IRInstr{})
	copy(b.Instrs[idx+1:], b.Instrs[idx:])
	b.Instrs[idx] = i
}

// IRFunction is a guest entry address plus an ordered list of basic
// blocks (spec.md §3).
type IRFunction struct {
	EntryGuestAddr uint32
	Blocks         []*BasicBlock
	nextBlockID    int
	nextLabelID    int
}

func NewIRFunction(entry uint32) *IRFunction {
	return &IRFunction{EntryGuestAddr: entry}
}

func (f *IRFunction) NewBlock() *BasicBlock {
	b := &BasicBlock{ID: f.nextBlockID}
	f.nextBlockID++
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *IRFunction) NewLabel() int {
	id := f.nextLabelID
	f.nextLabelID++
	return id
}

// regWidth is a small generic helper ImmOp uses to mask a value to an
// operand width; constrained to the integer kinds the IR's register
// operands can carry.
func regWidth[T constraints.Integer](v T, bits int) uint64 {
	switch bits {
	case 8:
		return uint64(uint8(v))
	case 16:
		return uint64(uint16(v))
	case 32:
		return uint64(uint32(v))
	default:
		return uint64(v)
	}
}

// WidthOf returns the bit width implied by an IR data type; ImmOp uses it
// to pick the mask for an immediate.
func WidthOf(t DataType) int {
	switch t {
	case TypeI8, TypeU8:
		return 8
	case TypeI16, TypeU16:
		return 16
	case TypeI32, TypeU32, TypeF32:
		return 32
	case TypeI64, TypeU64, TypeF64, TypePtr, TypeV64B8, TypeV64W4:
		return 64
	case TypeF80:
		return 80
	default:
		return 128
	}
}
