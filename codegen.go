// codegen.go - code generator contract + default emitter (component G)
//
// spec.md §4.G specifies this component only as a contract the core
// depends on ("not fully specified here, but the core depends on these
// guarantees"); this file implements the minimal concrete emitter that
// satisfies it so the cache/chaining machinery in cache.go is
// exercisable end to end. Append-only emission and offset tracking
// follow tinyrange-rtg's CodeGen.emitArm64 pattern; the default identity
// register allocator generalises the teacher's fixed regs32 array
// (cpu_x86.go) from an x86 register file to an AArch64 one.
//
// License: GPLv3 or later

package jit

// RegAlloc maps an IR virtual register to a host register, with a spill
// flag for the cases it can't keep resident (spec.md §9 "Register
// allocator coupling").
type RegAlloc interface {
	Assign(vreg int) (hostReg int, spill bool)
}

// IdentityRegAlloc maps the first len(bank) guest vregs straight onto a
// fixed AArch64 callee-saved register bank (X19-X27), generalising the
// teacher's regs32 [8]*uint32 fixed-mapping idiom (cpu_x86.go). Any vreg
// beyond the bank spills.
type IdentityRegAlloc struct {
	bank []int
}

// NewIdentityRegAlloc returns the default allocator used when the host
// has not supplied one (spec.md §4.G).
func NewIdentityRegAlloc() *IdentityRegAlloc {
	bank := make([]int, 0, ArmX27-ArmX19+1)
	for r := ArmX19; r <= ArmX27; r++ {
		bank = append(bank, r)
	}
	return &IdentityRegAlloc{bank: bank}
}

func (a *IdentityRegAlloc) Assign(vreg int) (int, bool) {
	if vreg < 0 || vreg >= len(a.bank) {
		return 0, true
	}
	return a.bank[vreg], false
}

// CodeGen is an append-only AArch64 byte emitter. It exposes the
// primitives the translation cache depends on: the current byte offset
// (for recording exit patch sites), barrier emission keyed on the
// MemoryModel's barrier enum, and a pluggable register allocator.
type CodeGen struct {
	code  []byte
	alloc RegAlloc
}

// NewCodeGen returns an emitter with the default identity allocator; use
// SetRegAlloc to install a real one.
func NewCodeGen() *CodeGen {
	return &CodeGen{alloc: NewIdentityRegAlloc()}
}

// SetRegAlloc installs a register allocator; nil restores the identity
// default (spec.md §4.G "if absent, a default identity allocator ...
// must be usable").
func (g *CodeGen) SetRegAlloc(a RegAlloc) {
	if a == nil {
		a = NewIdentityRegAlloc()
	}
	g.alloc = a
}

// Offset returns the current append-only byte offset, used by the
// translation cache to record each control-flow exit's patch site.
func (g *CodeGen) Offset() int { return len(g.code) }

// Code returns the emitted byte vector. The caller (the translation
// cache) owns a copy from here on.
func (g *CodeGen) Code() []byte { return g.code }

// EmitWord appends one raw 32-bit AArch64 instruction word.
func (g *CodeGen) EmitWord(inst uint32) {
	g.code = emitWord(g.code, inst)
}

// EmitBarrier translates one MemFenceKind to its mapped ARM barrier,
// emitting nothing for BarrierNone (spec.md §4.F "Emission").
func (g *CodeGen) EmitBarrier(kind MemFenceKind) {
	if inst, ok := encodeBarrier(kind); ok {
		g.EmitWord(inst)
	}
}

// EmitLoadImm64 loads a 64-bit constant into a host register using the
// teacher-grounded MOVZ/MOVK sequence, always 4 fixed-size instructions
// so the sequence is itself patchable (used for exit-site branch
// targets before a direct B/BL can be patched in).
func (g *CodeGen) EmitLoadImm64(hostReg int, val uint64) {
	g.EmitWord(encodeMovZ(hostReg, uint16(val), 0))
	g.EmitWord(encodeMovK(hostReg, uint16(val>>16), 16))
	g.EmitWord(encodeMovK(hostReg, uint16(val>>32), 32))
	g.EmitWord(encodeMovK(hostReg, uint16(val>>48), 48))
}

// EmitDispatcherExit emits the stub sequence a block falls through to
// when an exit is not (yet) chained: load the target guest address into
// X0 and return to the dispatcher via RET. Chain() overwrites the
// branch at PatchOffset to go directly to the target block instead.
func (g *CodeGen) EmitDispatcherExit(guestTarget uint32) (patchOffset int) {
	patchOffset = g.Offset()
	g.EmitLoadImm64(ArmX0, uint64(guestTarget))
	g.EmitWord(encodeRet())
	return patchOffset
}

// EmitCondBranchPair emits the AArch64 translation of an x86 Jcc: a
// B.cond over an unconditional fallthrough dispatcher exit, followed by
// the taken-path dispatcher exit. Both patch offsets are returned so the
// cache can chain true/false targets independently.
func (g *CodeGen) EmitCondBranchPair(cond CondCode, trueTarget, falseTarget uint32) (truePatch, falsePatch int) {
	armCond := armCondFromIR(cond)
	branchOffset := g.Offset()
	g.EmitWord(0) // placeholder, patched below once we know the skip distance

	falsePatch = g.EmitDispatcherExit(falseTarget)
	skipWords := int32((g.Offset() - branchOffset) / 4)
	g.patchWord(branchOffset, encodeBCond(armCond, skipWords))

	truePatch = g.EmitDispatcherExit(trueTarget)
	return truePatch, falsePatch
}

func (g *CodeGen) patchWord(offset int, inst uint32) {
	g.code[offset] = byte(inst)
	g.code[offset+1] = byte(inst >> 8)
	g.code[offset+2] = byte(inst >> 16)
	g.code[offset+3] = byte(inst >> 24)
}

// PatchBranchTo rewrites the first 16 bytes of the 20-byte
// dispatcher-exit sequence at offset so it instead branches directly to
// the executable address target (chaining, spec.md §4.H). The patch is a
// 4-instruction load-and-branch sequence (the low 48 bits of target, then
// BR X0) that fits inside the stub it replaces, keeping every other
// recorded offset valid; the stub's trailing RET is left in place.
func (g *CodeGen) PatchBranchTo(offset int, target uintptr) {
	g.patchWord(offset, encodeMovZ(ArmX0, uint16(target), 0))
	g.patchWord(offset+4, encodeMovK(ArmX0, uint16(target>>16), 16))
	g.patchWord(offset+8, encodeMovK(ArmX0, uint16(target>>32), 32))
	g.patchWord(offset+12, encodeBR(ArmX0))
}

// UnpatchBranch undoes PatchBranchTo (spec.md §4.H invalidation): it
// rewrites the same 16 bytes as MOVZ/MOVK/MOVK loading guestTarget into
// X0 followed by RET, so the site again returns to the dispatcher with
// the guest target in X0. The bytes are not identical to the original
// stub (a RET takes the place of its last MOVK).
func (g *CodeGen) UnpatchBranch(offset int, guestTarget uint32) {
	g.patchWord(offset, encodeMovZ(ArmX0, uint16(guestTarget), 0))
	g.patchWord(offset+4, encodeMovK(ArmX0, uint16(guestTarget>>16), 16))
	g.patchWord(offset+8, encodeMovK(ArmX0, uint16(guestTarget>>32), 32))
	g.patchWord(offset+12, encodeRet())
}

// encodeBR encodes BR Xn (branch to register, used by the patched
// chain-to-executable-pointer sequence).
func encodeBR(rn int) uint32 {
	return 0xD61F0000 | uint32(rn&0x1F)<<5
}
