// memmodel.go - x86 TSO -> ARM memory-ordering reconciliation (component F)
//
// No direct teacher analogue exists (the teacher interprets x86 in
// place; it never targets a weaker-ordered host). Built in the teacher's
// idiom of small, single-purpose helper functions (cf. fpu_x87_ops.go's
// one-op-per-function style) implementing the barrier-placement policy
// of spec.md §4.F.
//
// License: GPLv3 or later

package jit

// memOpKind classifies an IR instruction for the purposes of barrier
// placement.
type memOpKind int

const (
	memNone memOpKind = iota
	memLoad
	memStore
	memLockRMW
	memXchg
	memMFence
	memSFence
	memLFence
)

func classifyMemOp(i IRInstr) memOpKind {
	switch i.Op {
	case OpLoad, OpVecLoad, OpFLoad:
		return memLoad
	case OpStore, OpVecStore, OpFStore:
		return memStore
	}
	return memNone
}

// InsertBarriers runs the memory-model pass over a basic block, walking
// its instruction list and inserting MEM_FENCE IR nodes per the policy
// table of spec.md §4.F. It only inserts; it never reorders or removes
// an existing instruction (spec.md §4.D invariant).
func InsertBarriers(b *BasicBlock, lockRMW, isXchg, isMFence, isSFence, isLFence func(IRInstr) bool) {
	var out []IRInstr
	var prevKind memOpKind
	havePrev := false

	fence := func(kind MemFenceKind) IRInstr {
		return IRInstr{Op: OpMemFence, Operands: []IROperand{ImmOp(uint64(kind), TypeU32)}}
	}

	for _, instr := range b.Instrs {
		switch {
		case lockRMW != nil && lockRMW(instr):
			out = append(out, fence(BarrierDMBISH), instr, fence(BarrierDMBISH))
			havePrev = false
			continue
		case isXchg != nil && isXchg(instr):
			out = append(out, fence(BarrierDMBISH), instr, fence(BarrierDMBISH))
			havePrev = false
			continue
		case isMFence != nil && isMFence(instr):
			out = append(out, fence(BarrierDMBISH), instr, fence(BarrierDMBISH))
			havePrev = false
			continue
		case isSFence != nil && isSFence(instr):
			out = append(out, fence(BarrierDMBISHST), instr)
			havePrev = false
			continue
		case isLFence != nil && isLFence(instr):
			out = append(out, fence(BarrierDMBISHLD), instr)
			havePrev = false
			continue
		}

		kind := classifyMemOp(instr)
		if havePrev && kind != memNone {
			if needsBarrier(prevKind, kind) {
				out = append(out, fence(BarrierDMBISH))
			}
		}
		out = append(out, instr)
		if kind != memNone {
			prevKind = kind
			havePrev = true
		}
	}
	b.Instrs = out
}

// needsBarrier implements the pairwise policy table of spec.md §4.F:
// store->load and store->store need DMB ISH; load->load and load->store
// need none.
func needsBarrier(prev, cur memOpKind) bool {
	if prev != memStore {
		return false
	}
	return cur == memLoad || cur == memStore
}

// SMCReentryBarrier returns the IR fence required when re-entering
// freshly generated code after a self-modifying-code invalidation
// (spec.md §4.F "Instruction stream modification"): an ISB so the
// instruction stream is refetched.
func SMCReentryBarrier() IRInstr {
	return IRInstr{Op: OpMemFence, Operands: []IROperand{ImmOp(uint64(BarrierISB), TypeU32)}}
}
