// decoder_x86.go - x86 byte-stream decoder (component E)
//
// Grounded on the teacher's cpu_x86.go: the prefix-consumption loop in
// Step(), fetchModRM/fetchSIB, calcEffectiveAddress16/32, and
// getModRMMod/Reg/RM. The teacher decodes and executes an instruction in
// one interleaved pass (it is an interpreter); this core splits decoding
// into a standalone, side-effect-free function that returns a
// DecodedInstr record instead of dispatching to a handler, per spec.md
// §4.E.
//
// License: GPLv3 or later

package jit

// Mnemonic is the closed set of decoded opcode classes (spec.md §3).
type Mnemonic int

const (
	MnUnknown Mnemonic = iota
	MnALU
	MnShiftRotate
	MnDataMove
	MnStack
	MnControlFlow
	MnCompareTest
	MnStringRep
	MnLockRMW
	MnMMX
	MnSSEPacked
	MnX87Stack
	MnX87Arith
	MnX87Transcendental
	MnX87Control
)

// RegOperand is a register operand: an architectural ID plus a size in
// bits drawn from {8,16,32,64,80,128}.
type RegOperand struct {
	ID       byte
	SizeBits int
}

// ImmOperand is an immediate operand.
type ImmOperand struct {
	Value    uint64
	SizeBits int
}

// MemOperand is a memory operand: base/index registers (HasBase/HasIndex
// false meaning "none"), scale in {1,2,4,8}, signed displacement, and
// access size.
type MemOperand struct {
	HasBase  bool
	Base     byte
	HasIndex bool
	Index    byte
	Scale    byte
	Disp     int32
	SizeBits int
}

// DecOperandKind discriminates a decoded operand's variant.
type DecOperandKind int

const (
	DecOperandNone DecOperandKind = iota
	DecOperandReg
	DecOperandImm
	DecOperandMem
)

// DecOperand is a tagged union over {register, immediate, memory}.
type DecOperand struct {
	Kind DecOperandKind
	Reg  RegOperand
	Imm  ImmOperand
	Mem  MemOperand
}

// PrefixGroup captures every prefix byte consumed ahead of the opcode.
type PrefixGroup struct {
	SegOverride  int // -1 = none, else x86Seg* index
	OperandSize  int // 16 or 32
	AddressSize  int // 16 or 32
	Rep          int // 0 = none, 1 = REP/REPE, 2 = REPNE
	Lock         bool
}

// DecodedInstr is the decoder's output record (spec.md §3).
type DecodedInstr struct {
	Mnemonic  Mnemonic
	Opcode    byte
	Prefix    PrefixGroup
	HasModRM  bool
	ModRM     byte
	HasSIB    bool
	SIB       byte
	HasDisp   bool
	Disp      int32
	Operands  [4]DecOperand
	NumOps    int
	Length    int
	Cond      CondCode
	HasCond   bool
}

// DecodeError is returned when the byte stream cannot be decoded.
type DecodeError struct {
	Reason string
	Offset int
}

func (e *DecodeError) Error() string { return e.Reason }

// isPrefixByte reports whether b is one of the prefix bytes enumerated in
// spec.md §4.E; Decode applies each prefix's effect itself.
func isPrefixByte(b byte) bool {
	switch b {
	case 0xF0, 0xF2, 0xF3, 0x26, 0x2E, 0x36, 0x3E, 0x64, 0x65, 0x66, 0x67:
		return true
	}
	return false
}

// decState is the decoder's cursor over the input byte slice.
type decState struct {
	data []byte
	pos  int
}

func (d *decState) u8() (byte, bool) {
	if d.pos >= len(d.data) {
		return 0, false
	}
	b := d.data[d.pos]
	d.pos++
	return b, true
}

func (d *decState) i8() (int8, bool) {
	b, ok := d.u8()
	return int8(b), ok
}

func (d *decState) u32() (uint32, bool) {
	if d.pos+4 > len(d.data) {
		return 0, false
	}
	v := uint32(d.data[d.pos]) | uint32(d.data[d.pos+1])<<8 |
		uint32(d.data[d.pos+2])<<16 | uint32(d.data[d.pos+3])<<24
	d.pos += 4
	return v, true
}

func (d *decState) u16() (uint16, bool) {
	if d.pos+2 > len(d.data) {
		return 0, false
	}
	v := uint16(d.data[d.pos]) | uint16(d.data[d.pos+1])<<8
	d.pos += 2
	return v, true
}

// Decode parses one instruction starting at the beginning of data,
// consuming at most maxLen bytes. On success it returns a DecodedInstr
// whose Length never exceeds len(data). A prefix-only stream, an
// unknown opcode, or running out of bytes mid-decode is a decode
// failure (spec.md §4.E).
func Decode(data []byte, maxLen int) (DecodedInstr, error) {
	if maxLen < len(data) {
		data = data[:maxLen]
	}
	d := &decState{data: data}
	instr := DecodedInstr{Prefix: PrefixGroup{SegOverride: -1, OperandSize: 32, AddressSize: 32}}

	sawPrefix := false
	for {
		b, ok := d.u8()
		if !ok {
			return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for opcode", Offset: d.pos}
		}
		if !isPrefixByte(b) {
			instr.Opcode = b
			break
		}
		sawPrefix = true
		switch b {
		case 0xF0:
			instr.Prefix.Lock = true
		case 0xF2:
			instr.Prefix.Rep = 2
		case 0xF3:
			instr.Prefix.Rep = 1
		case 0x26:
			instr.Prefix.SegOverride = x86SegES
		case 0x2E:
			instr.Prefix.SegOverride = x86SegCS
		case 0x36:
			instr.Prefix.SegOverride = x86SegSS
		case 0x3E:
			instr.Prefix.SegOverride = x86SegDS
		case 0x64:
			instr.Prefix.SegOverride = x86SegFS
		case 0x65:
			instr.Prefix.SegOverride = x86SegGS
		case 0x66:
			instr.Prefix.OperandSize = 16
		case 0x67:
			instr.Prefix.AddressSize = 16
		}
	}

	if d.pos >= len(data)+1 && sawPrefix {
		// unreachable guard kept for clarity; real "prefix only" case is
		// caught by the insufficient-bytes branch above once the opcode
		// fetch itself fails.
	}

	entry, ok := lookupOpcode(instr.Opcode)
	if !ok {
		return DecodedInstr{}, &DecodeError{Reason: "unknown opcode", Offset: d.pos - 1}
	}
	instr.Mnemonic = entry.mnemonic
	instr.HasCond, instr.Cond = entry.condFromOpcode(instr.Opcode)

	if entry.hasModRM {
		modrm, ok := d.u8()
		if !ok {
			return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for modrm", Offset: d.pos}
		}
		instr.HasModRM = true
		instr.ModRM = modrm
		mod := modrm >> 6
		rm := modrm & 7

		addr32 := instr.Prefix.AddressSize == 32
		if mod != 3 {
			if addr32 && rm == 4 {
				sib, ok := d.u8()
				if !ok {
					return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for sib", Offset: d.pos}
				}
				instr.HasSIB = true
				instr.SIB = sib
			}

			needsDisp32 := (mod == 0 && rm == 5 && addr32) ||
				(mod == 0 && instr.HasSIB && (instr.SIB&7) == 5)
			switch {
			case mod == 1:
				v, ok := d.i8()
				if !ok {
					return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for disp8", Offset: d.pos}
				}
				instr.HasDisp = true
				instr.Disp = int32(v)
			case mod == 2 || needsDisp32:
				v, ok := d.u32()
				if !ok {
					return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for disp32", Offset: d.pos}
				}
				instr.HasDisp = true
				instr.Disp = int32(v)
			case mod == 0 && !addr32 && rm == 6:
				v, ok := d.u16()
				if !ok {
					return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for disp16", Offset: d.pos}
				}
				instr.HasDisp = true
				instr.Disp = int32(int16(v))
			}
		}

		// Populate the operand vector the data model promises (spec.md
		// §3): the reg field first, then the rm operand in whichever form
		// mod selects, register or memory.
		regField := (modrm >> 3) & 7
		instr.Operands[instr.NumOps] = DecOperand{
			Kind: DecOperandReg,
			Reg:  RegOperand{ID: regField, SizeBits: instr.Prefix.OperandSize},
		}
		instr.NumOps++

		if mod == 3 {
			instr.Operands[instr.NumOps] = DecOperand{
				Kind: DecOperandReg,
				Reg:  RegOperand{ID: rm, SizeBits: instr.Prefix.OperandSize},
			}
		} else {
			mem := MemOperand{SizeBits: instr.Prefix.OperandSize, Disp: instr.Disp}
			if instr.HasSIB {
				sibIndex := (instr.SIB >> 3) & 7
				mem.Scale = 1 << (instr.SIB >> 6)
				if sibIndex != 4 {
					mem.HasIndex = true
					mem.Index = sibIndex
				}
				// SIB base 5 with mod 0 is a bare disp32, no base register.
				if !(mod == 0 && instr.SIB&7 == 5) {
					mem.HasBase = true
					mem.Base = instr.SIB & 7
				}
			} else {
				// mod 0, rm 5 in 32-bit addressing is a bare disp32.
				if !(mod == 0 && rm == 5 && addr32) {
					mem.HasBase = true
					mem.Base = rm
				}
				mem.Scale = 1
			}
			instr.Operands[instr.NumOps] = DecOperand{Kind: DecOperandMem, Mem: mem}
		}
		instr.NumOps++
	}

	if entry.immSize > 0 {
		switch entry.immSize {
		case 1:
			v, ok := d.u8()
			if !ok {
				return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for imm8", Offset: d.pos}
			}
			instr.Operands[instr.NumOps] = DecOperand{Kind: DecOperandImm, Imm: ImmOperand{Value: uint64(v), SizeBits: 8}}
			instr.NumOps++
		case 2:
			v, ok := d.u16()
			if !ok {
				return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for imm16", Offset: d.pos}
			}
			instr.Operands[instr.NumOps] = DecOperand{Kind: DecOperandImm, Imm: ImmOperand{Value: uint64(v), SizeBits: 16}}
			instr.NumOps++
		case 4:
			v, ok := d.u32()
			if !ok {
				return DecodedInstr{}, &DecodeError{Reason: "insufficient bytes for imm32", Offset: d.pos}
			}
			instr.Operands[instr.NumOps] = DecOperand{Kind: DecOperandImm, Imm: ImmOperand{Value: uint64(v), SizeBits: 32}}
			instr.NumOps++
		}
	}

	instr.Length = d.pos
	if instr.Length > maxLen {
		return DecodedInstr{}, &DecodeError{Reason: "instruction exceeds max length", Offset: instr.Length}
	}
	return instr, nil
}

// EffectiveOperandSize returns the decoded operand size, honouring the
// 0x66 override (default 32).
func (i *DecodedInstr) EffectiveOperandSize() int { return i.Prefix.OperandSize }

// ImmOperand returns the instruction's immediate operand, if any. The
// immediate's slot in Operands varies: it sits at index 0 for the
// no-ModRM forms (branch displacements, MOV imm32), but after the
// reg/rm pair for ModRM forms that also carry one (e.g. the 0xC1
// shift/rotate group's imm8 count), so callers must search rather than
// assume a fixed index.
func (i *DecodedInstr) ImmOperand() (ImmOperand, bool) {
	for idx := 0; idx < i.NumOps; idx++ {
		if i.Operands[idx].Kind == DecOperandImm {
			return i.Operands[idx].Imm, true
		}
	}
	return ImmOperand{}, false
}
