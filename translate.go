// translate.go - decoded-instruction -> IR lowering and IR -> AArch64
// block emission (glue between components E/D and D/G)
//
// Grounded on the teacher's cpu_x86.go opcode-class dispatch (the same
// mnemonic classes drive both the teacher's interpreter switch and this
// lowering switch), and on debug_disasm_x86.go for ModRM/SIB operand
// reconstruction.
//
// License: GPLv3 or later

package jit

// operandSizeType maps a decoded operand-size in bits to the IR's typed
// domain for general-purpose register/memory operands.
func operandSizeType(bits int) DataType {
	switch bits {
	case 8:
		return TypeU8
	case 16:
		return TypeU16
	case 64:
		return TypeU64
	default:
		return TypeU32
	}
}

// memLoadScratch is the vreg id this lowering stages a memory operand's
// value through before an ALU/compare/move op reads or writes it. Kept
// out of the architectural register ID space (0-7) so it never aliases a
// real guest register within the same block.
const memLoadScratch = 1000

// operandFor reconstructs the IR operand addressed by a ModRM rm field
// from the decoder's own populated operand vector (Decode's rm operand
// always lands at index 1, after the reg field at index 0) rather than
// re-deriving it from raw SIB/displacement bits a second time
// (spec.md §3 "Memory operand").
func operandFor(dec DecodedInstr, mod, rm byte, t DataType) IROperand {
	if !dec.HasModRM || mod == 3 {
		return RegOp(int(rm), t)
	}
	m := dec.Operands[1].Mem
	base, index := NoVReg, NoVReg
	if m.HasBase {
		base = int(m.Base)
	}
	if m.HasIndex {
		index = int(m.Index)
	}
	scale := int(m.Scale)
	if scale == 0 {
		scale = 1
	}
	return MemOp(base, index, scale, m.Disp, t)
}

// signExtendRel sign-extends a decoded branch displacement operand to
// its full 32-bit value, honouring the immediate width the decoder
// recorded (rel8 for short Jcc/JMP, rel32 for near CALL/JMP).
func signExtendRel(dec DecodedInstr) int32 {
	imm, ok := dec.ImmOperand()
	if !ok {
		return 0
	}
	switch imm.SizeBits {
	case 8:
		return int32(int8(imm.Value))
	case 16:
		return int32(int16(imm.Value))
	default:
		return int32(imm.Value)
	}
}

// aluEflagsUpdateOp selects the EFLAGS-materialisation template matching
// the decoded ALU operation (spec.md §4.C): SUB needs borrow/overflow
// semantics distinct from ADD, and the logical group (AND/OR/XOR)
// unconditionally clears CF/OF instead of computing them. eflags.go
// carries a separate pure template per group; this is the dispatch that
// was missing, picking among them by decoded opcode rather than always
// reaching for the ADD template.
func aluEflagsUpdateOp(opcode byte) IROpcode {
	switch {
	case opcode >= 0x28 && opcode <= 0x2B: // SUB
		return OpUpdateEflagsSub
	case opcode >= 0x08 && opcode <= 0x0B, // OR
		opcode >= 0x20 && opcode <= 0x23, // AND
		opcode >= 0x30 && opcode <= 0x33: // XOR
		return OpUpdateEflagsLogical
	default: // ADD group, 0x00-0x03
		return OpUpdateEflagsAdd
	}
}

// appendIRForDecoded lowers one decoded non-FPU instruction into the IR
// node(s) it corresponds to, appending them to block. nextGuestAddr is
// the guest address immediately following the instruction, the base
// relative branch displacements are computed against.
func appendIRForDecoded(block *BasicBlock, dec DecodedInstr, nextGuestAddr uint32) {
	var mod, reg, rm byte
	if dec.HasModRM {
		mod = dec.ModRM >> 6
		reg = (dec.ModRM >> 3) & 7
		rm = dec.ModRM & 7
	}
	t := operandSizeType(dec.EffectiveOperandSize())
	// d bit: for the one-byte MOV and ALU opcode groups this decoder
	// supports, bit 1 of the opcode consistently means "reg is the
	// destination, rm is the source" when set, and the reverse when
	// clear (e.g. 0x88/0x89 store to rm, 0x8A/0x8B load from rm; same
	// pattern across the 0x00-0x3B ALU groups).
	loadDirection := dec.Opcode&0x02 != 0
	memOperand := operandFor(dec, mod, rm, t)
	hasMem := dec.HasModRM && mod != 3

	switch dec.Mnemonic {
	case MnDataMove:
		if hasMem {
			if loadDirection {
				block.Append(IRInstr{Op: OpLoad, Operands: []IROperand{RegOp(int(reg), t), memOperand}})
			} else {
				block.Append(IRInstr{Op: OpStore, Operands: []IROperand{memOperand, RegOp(int(reg), t)}})
			}
			return
		}
		block.Append(IRInstr{Op: OpMove, Operands: []IROperand{RegOp(int(reg), t), operandFor(dec, mod, rm, t)}})

	case MnALU:
		if dec.Opcode == 0x90 { // NOP
			block.Append(IRInstr{Op: OpNop})
			return
		}
		updateOp := aluEflagsUpdateOp(dec.Opcode)
		if hasMem {
			// Memory is read into the scratch vreg first regardless of
			// direction, then either combined into reg (load direction)
			// or combined in place and written back (store direction,
			// a read-modify-write).
			block.Append(IRInstr{Op: OpLoad, Operands: []IROperand{RegOp(memLoadScratch, t), memOperand}})
			if loadDirection {
				instr := IRInstr{Op: OpAlu, Operands: []IROperand{RegOp(int(reg), t), RegOp(memLoadScratch, t)}}
				if dec.Prefix.Lock {
					instr.Flags |= FlagLock
				}
				block.Append(instr)
				block.Append(IRInstr{Op: updateOp, Operands: []IROperand{RegOp(int(reg), t)}})
			} else {
				instr := IRInstr{Op: OpAlu, Operands: []IROperand{RegOp(memLoadScratch, t), RegOp(int(reg), t)}}
				if dec.Prefix.Lock {
					instr.Flags |= FlagLock
				}
				block.Append(instr)
				block.Append(IRInstr{Op: updateOp, Operands: []IROperand{RegOp(memLoadScratch, t)}})
				block.Append(IRInstr{Op: OpStore, Operands: []IROperand{memOperand, RegOp(memLoadScratch, t)}})
			}
			return
		}
		instr := IRInstr{Op: OpAlu, Operands: []IROperand{RegOp(int(reg), t), operandFor(dec, mod, rm, t)}}
		if dec.Prefix.Lock {
			instr.Flags |= FlagLock
		}
		block.Append(instr)
		block.Append(IRInstr{Op: updateOp, Operands: []IROperand{RegOp(int(reg), t)}})

	case MnCompareTest:
		if hasMem {
			block.Append(IRInstr{Op: OpLoad, Operands: []IROperand{RegOp(memLoadScratch, t), memOperand}})
			block.Append(IRInstr{Op: OpCompare, Operands: []IROperand{RegOp(int(reg), t), RegOp(memLoadScratch, t)}})
			block.Append(IRInstr{Op: OpUpdateEflagsCmp, Operands: []IROperand{RegOp(int(reg), t)}})
			return
		}
		block.Append(IRInstr{Op: OpCompare, Operands: []IROperand{RegOp(int(reg), t), operandFor(dec, mod, rm, t)}})
		block.Append(IRInstr{Op: OpUpdateEflagsCmp, Operands: []IROperand{RegOp(int(reg), t)}})

	case MnShiftRotate:
		instr := IRInstr{Op: OpShift, Operands: []IROperand{RegOp(int(rm), t)}}
		if imm, ok := dec.ImmOperand(); ok {
			instr.Operands = append(instr.Operands, ImmOp(imm.Value, TypeU8))
		}
		block.Append(instr)
		block.Append(IRInstr{Op: OpUpdateEflagsShift, Operands: []IROperand{RegOp(int(rm), t)}})

	case MnStack:
		r := int(dec.Opcode & 0x07)
		if dec.Opcode >= 0x50 && dec.Opcode <= 0x57 {
			block.Append(IRInstr{Op: OpPush, Operands: []IROperand{RegOp(r, t)}})
		} else {
			block.Append(IRInstr{Op: OpPop, Operands: []IROperand{RegOp(r, t)}})
		}

	case MnLockRMW: // this table's sole member is XCHG (0x86/0x87)
		block.Append(IRInstr{
			Op:       OpMove,
			Operands: []IROperand{RegOp(int(reg), t), operandFor(dec, mod, rm, t)},
			Flags:    FlagXchg,
		})

	case MnStringRep:
		block.Append(IRInstr{Op: OpLoad, Operands: []IROperand{
			RegOp(memLoadScratch, t), MemOp(NoVReg, NoVReg, 1, 0, t),
		}})
		block.Append(IRInstr{Op: OpStore, Operands: []IROperand{
			MemOp(NoVReg, NoVReg, 1, 0, t), RegOp(memLoadScratch, t),
		}})

	case MnControlFlow:
		appendControlFlowIR(block, dec, nextGuestAddr)

	default:
		block.Append(IRInstr{Op: OpNop})
	}
}

func appendControlFlowIR(block *BasicBlock, dec DecodedInstr, nextGuestAddr uint32) {
	if dec.Opcode == 0xC3 {
		block.Append(IRInstr{Op: OpRet})
		return
	}
	if dec.Opcode == 0xE8 || dec.Opcode == 0xE9 || dec.Opcode == 0xEB {
		target := nextGuestAddr + uint32(signExtendRel(dec))
		op := OpJmp
		if dec.Opcode == 0xE8 {
			op = OpCall
		}
		block.Append(IRInstr{Op: op, Operands: []IROperand{ImmOp(uint64(target), TypeU32)}})
		return
	}
	if dec.HasCond {
		target := nextGuestAddr + uint32(signExtendRel(dec))
		block.Append(IRInstr{
			Op:   OpJcc,
			Cond: dec.Cond,
			Operands: []IROperand{
				ImmOp(uint64(target), TypeU32),
				ImmOp(uint64(nextGuestAddr), TypeU32),
			},
		})
		return
	}
	block.Append(IRInstr{Op: OpNop})
}

// isLockRMWInstr, isXchgInstr, isMFenceInstr, isSFenceInstr and
// isLFenceInstr are the InsertBarriers predicates (memmodel.go): the
// facts they test live in IRInstr.Flags because LOCK/XCHG/fence-ness
// isn't a distinct opcode, it modifies an otherwise ordinary ALU or move
// instruction (spec.md §4.F).
func isLockRMWInstr(i IRInstr) bool { return i.Flags&FlagLock != 0 }
func isXchgInstr(i IRInstr) bool    { return i.Flags&FlagXchg != 0 }
func isMFenceInstr(i IRInstr) bool  { return i.Flags&FlagMFence != 0 }
func isSFenceInstr(i IRInstr) bool  { return i.Flags&FlagSFence != 0 }
func isLFenceInstr(i IRInstr) bool  { return i.Flags&FlagLFence != 0 }

// emitBlock walks block's (already barrier-inserted) instruction list
// and emits AArch64 code through gen, recording one BlockExit per
// control-flow exit so the translation cache can chain them
// (spec.md §4.G/§4.H). Non-control-flow IR nodes are emitted as the
// fixed-size placeholder the minimal codegen contract requires; a fuller
// ALU/load-store lowering is future codegen work, not a cache concern.
func emitBlock(gen *CodeGen, block *BasicBlock, guestEIP, blockLen uint32) []BlockExit {
	var exits []BlockExit
	sawExplicitExit := false

	for _, instr := range block.Instrs {
		switch instr.Op {
		case OpMemFence:
			gen.EmitBarrier(MemFenceKind(instr.Operands[0].ImmValue))

		case OpJmp, OpCall:
			target := uint32(instr.Operands[0].ImmValue)
			kind := ExitJmp
			if instr.Op == OpCall {
				kind = ExitCall
			}
			offset := gen.EmitDispatcherExit(target)
			exits = append(exits, BlockExit{Kind: kind, PatchOffset: offset, TargetGuest: target})
			sawExplicitExit = true

		case OpJcc:
			trueTarget := uint32(instr.Operands[0].ImmValue)
			falseTarget := uint32(instr.Operands[1].ImmValue)
			truePatch, falsePatch := gen.EmitCondBranchPair(instr.Cond, trueTarget, falseTarget)
			exits = append(exits,
				BlockExit{Kind: ExitCondBranch, PatchOffset: truePatch, TargetGuest: trueTarget},
				BlockExit{Kind: ExitCondBranch, PatchOffset: falsePatch, TargetGuest: falseTarget,
					FalseTarget: falseTarget, HasFalseTarget: true},
			)
			sawExplicitExit = true

		case OpRet:
			offset := gen.Offset()
			gen.EmitWord(encodeRet())
			exits = append(exits, BlockExit{Kind: ExitRet, PatchOffset: offset})
			sawExplicitExit = true

		default:
			gen.EmitWord(encodeNop())
		}
	}

	if !sawExplicitExit {
		target := guestEIP + blockLen
		offset := gen.EmitDispatcherExit(target)
		exits = append(exits, BlockExit{Kind: ExitFallthrough, PatchOffset: offset, TargetGuest: target})
	}
	return exits
}
