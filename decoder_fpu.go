// decoder_fpu.go - x87 sub-decoder (component E)
//
// Opcodes 0xD8-0xDF route here instead of through the generic decode
// table because the x87 opcode space keys heavily off ModR/M.reg/mod,
// producing IR directly rather than a neutral DecodedInstr record
// (spec.md §4.E). Grounded on fpu_x87_ops.go's x87FetchOp/
// x87BinaryST0STi/x87BinaryMem opcode-to-operation dispatch by
// ModR/M.reg.
//
// License: GPLv3 or later

package jit

// DecodeFPU decodes one x87 instruction (escape byte 0xD8-0xDF) starting
// at data[0] and appends its IR directly to block. It returns the
// number of guest bytes consumed, or a decode error.
func DecodeFPU(data []byte, maxLen int, block *BasicBlock) (int, error) {
	if len(data) < 1 {
		return 0, &DecodeError{Reason: "insufficient bytes for x87 escape"}
	}
	esc := data[0]
	if esc < 0xD8 || esc > 0xDF {
		return 0, &DecodeError{Reason: "not an x87 escape opcode"}
	}
	if len(data) < 2 {
		return 0, &DecodeError{Reason: "insufficient bytes for x87 modrm"}
	}
	modrm := data[1]
	mod := modrm >> 6
	reg := (modrm >> 3) & 7
	rm := modrm & 7

	pos := 2
	var memOperand *IROperand
	if mod != 3 {
		d := &decState{data: data[1:], pos: 1} // reuse cursor past modrm
		addr32 := true
		if mod == 0 && rm == 5 && addr32 {
			v, ok := d.u32()
			if !ok {
				return 0, &DecodeError{Reason: "insufficient bytes for x87 disp32"}
			}
			op := MemOp(NoVReg, NoVReg, 1, int32(v), TypeF32)
			memOperand = &op
		} else if rm == 4 {
			sib, ok := d.u8()
			if !ok {
				return 0, &DecodeError{Reason: "insufficient bytes for x87 sib"}
			}
			scale := 1 << (sib >> 6)
			index := int((sib >> 3) & 7)
			base := int(sib & 7)
			if index == 4 {
				index = NoVReg
			}
			// SIB base 5 with mod 0 is a bare disp32, no base register.
			noBase := mod == 0 && base == 5
			if noBase {
				base = NoVReg
			}
			var disp int32
			if mod == 1 {
				v, ok := d.i8()
				if !ok {
					return 0, &DecodeError{Reason: "insufficient bytes for x87 disp8"}
				}
				disp = int32(v)
			} else if mod == 2 || noBase {
				v, ok := d.u32()
				if !ok {
					return 0, &DecodeError{Reason: "insufficient bytes for x87 disp32"}
				}
				disp = int32(v)
			}
			op := MemOp(base, index, scale, disp, TypeF32)
			memOperand = &op
		} else {
			var disp int32
			if mod == 1 {
				v, ok := d.i8()
				if !ok {
					return 0, &DecodeError{Reason: "insufficient bytes for x87 disp8"}
				}
				disp = int32(v)
			} else if mod == 2 {
				v, ok := d.u32()
				if !ok {
					return 0, &DecodeError{Reason: "insufficient bytes for x87 disp32"}
				}
				disp = int32(v)
			}
			op := MemOp(int(rm), NoVReg, 1, disp, TypeF32)
			memOperand = &op
		}
		pos = 1 + d.pos
	}

	sti := RegOp(int(rm), TypeF80)
	st0 := RegOp(0, TypeF80)

	emit := func(op IROpcode, operands ...IROperand) {
		block.Append(IRInstr{Op: op, Operands: operands})
	}

	switch esc {
	case 0xD8: // arithmetic ST(0), ST(i)/m32real
		if mod == 3 {
			switch reg {
			case 0:
				emit(OpFAdd, st0, st0, sti)
			case 1:
				emit(OpFMul, st0, st0, sti)
			case 4:
				emit(OpFSub, st0, st0, sti)
			case 5:
				emit(OpFSub, st0, sti, st0)
			case 6:
				emit(OpFDiv, st0, st0, sti)
			case 7:
				emit(OpFDiv, st0, sti, st0)
			default:
				emit(OpFCompare, st0, sti)
			}
		} else {
			emit(fpuArithOpFromReg(reg), st0, st0, *memOperand)
		}
	case 0xD9: // load/store/control, ST(i) or m32real
		if mod == 3 {
			switch {
			case reg == 0:
				emit(OpFLoad, st0, sti)
			case reg == 1:
				emit(OpFXch, st0, sti)
			case reg == 6 && rm == 0:
				emit(OpF2XM1, st0)
			case reg == 6 && rm == 1:
				emit(OpFYL2X, st0, sti)
			case reg == 6 && rm == 2:
				emit(OpFPtan, st0)
			case reg == 6 && rm == 3:
				emit(OpFPatan, st0, sti)
			case reg == 6 && rm == 4:
				emit(OpFXch, st0) // placeholder for FXTRACT-class op
			case reg == 6 && rm == 6:
				emit(OpFDecstp)
			case reg == 6 && rm == 7:
				emit(OpFIncstp)
			case reg == 7 && rm == 0:
				emit(OpFPrem)
			case reg == 7 && rm == 1:
				emit(OpFYL2X, st0, sti)
			case reg == 7 && rm == 2:
				emit(OpFSqrt, st0)
			case reg == 7 && rm == 4:
				emit(OpFRndint, st0)
			case reg == 7 && rm == 5:
				emit(OpFScale, st0, sti)
			case reg == 7 && rm == 6:
				emit(OpFSin, st0)
			case reg == 7 && rm == 7:
				emit(OpFCos, st0)
			default:
				emitD9RegForm(emit, reg, st0)
			}
		} else {
			switch reg {
			case 0:
				emit(OpFLoad, st0, *memOperand)
			case 2:
				emit(OpFStore, *memOperand, st0)
			case 3:
				emit(OpFStore, *memOperand, st0)
			case 5:
				emit(OpFLdcw, *memOperand)
			case 7:
				emit(OpFNstcw, *memOperand)
			}
		}
	case 0xDB: // integer load/store, m32int, and FPU control escape
		if mod == 3 && reg == 4 {
			// FNINIT/FCLEX escape family; treat as control no-op here,
			// leave state initialisation to the caller.
			emit(OpNop)
		} else if memOperand != nil {
			switch reg {
			case 0:
				emit(OpFLoad, st0, *memOperand)
			case 3:
				emit(OpFStore, *memOperand, st0)
			}
		}
	case 0xDD: // load/store ST(i)/m64real
		if mod == 3 {
			switch reg {
			case 0:
				emit(OpFLoad, st0, sti)
			case 2, 3:
				emit(OpFStore, sti, st0)
			}
		} else {
			switch reg {
			case 0:
				emit(OpFLoad, st0, *memOperand)
			case 2, 3:
				emit(OpFStore, *memOperand, st0)
			case 7:
				emit(OpFNstsw, *memOperand)
			}
		}
	case 0xDE: // arithmetic with pop
		if mod == 3 {
			switch reg {
			case 0:
				emit(OpFAdd, sti, sti, st0)
			case 1:
				emit(OpFMul, sti, sti, st0)
			case 4:
				emit(OpFSub, sti, sti, st0)
			case 5:
				emit(OpFSub, sti, st0, sti)
			case 6:
				emit(OpFDiv, sti, sti, st0)
			case 7:
				emit(OpFDiv, sti, st0, sti)
			}
		}
	case 0xDF:
		if mod == 3 && reg == 4 && rm == 0 {
			emit(OpFNstsw, RegOp(0, TypeU16)) // FNSTSW AX
		}
	}

	return pos, nil
}

func fpuArithOpFromReg(reg byte) IROpcode {
	switch reg {
	case 0:
		return OpFAdd
	case 1:
		return OpFMul
	case 4, 5:
		return OpFSub
	default:
		return OpFDiv
	}
}

func emitD9RegForm(emit func(IROpcode, ...IROperand), reg byte, st0 IROperand) {
	switch reg {
	case 4: // D9/4 group: FCHS, FABS, FTST, FXAM and friends keyed by rm; FLD1 etc in 0xD9 C0-FF handled by caller table in a fuller build
		emit(OpNop)
	case 5: // FLDcst group (FLD1, FLDL2T, ...)
		emit(OpNop)
	case 6: // FRNDINT/FSCALE/... grouped by rm in the real ISA
		emit(OpFRndint, st0)
	case 7:
		emit(OpFSqrt, st0)
	default:
		emit(OpNop)
	}
}
