// memmodel_test.go - x86 TSO -> ARM barrier insertion tests
//
// License: GPLv3 or later

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fenceKindAt(b *BasicBlock, idx int) (MemFenceKind, bool) {
	if idx < 0 || idx >= len(b.Instrs) {
		return 0, false
	}
	i := b.Instrs[idx]
	if i.Op != OpMemFence {
		return 0, false
	}
	return MemFenceKind(i.Operands[0].ImmValue), true
}

func TestInsertBarriersStoreThenLoadGetsDMBISH(t *testing.T) {
	b := &BasicBlock{Instrs: []IRInstr{
		{Op: OpStore, Operands: []IROperand{MemOp(0, NoVReg, 1, 0, TypeU32)}},
		{Op: OpLoad, Operands: []IROperand{MemOp(0, NoVReg, 1, 0, TypeU32)}},
	}}
	InsertBarriers(b, nil, nil, nil, nil, nil)

	require.Equal(t, OpStore, b.Instrs[0].Op)
	kind, ok := fenceKindAt(b, 1)
	require.True(t, ok)
	require.Equal(t, BarrierDMBISH, kind)
	require.Equal(t, OpLoad, b.Instrs[2].Op)
}

func TestInsertBarriersLoadThenLoadGetsNoBarrier(t *testing.T) {
	b := &BasicBlock{Instrs: []IRInstr{
		{Op: OpLoad, Operands: []IROperand{MemOp(0, NoVReg, 1, 0, TypeU32)}},
		{Op: OpLoad, Operands: []IROperand{MemOp(0, NoVReg, 1, 0, TypeU32)}},
	}}
	InsertBarriers(b, nil, nil, nil, nil, nil)
	require.Len(t, b.Instrs, 2)
}

func TestInsertBarriersLockRMWWrapsWithDMBISH(t *testing.T) {
	b := &BasicBlock{Instrs: []IRInstr{
		{Op: OpAlu, Flags: FlagLock},
	}}
	InsertBarriers(b, isLockRMWInstr, isXchgInstr, isMFenceInstr, isSFenceInstr, isLFenceInstr)
	require.Len(t, b.Instrs, 3)
	kindBefore, ok := fenceKindAt(b, 0)
	require.True(t, ok)
	require.Equal(t, BarrierDMBISH, kindBefore)
	require.Equal(t, OpAlu, b.Instrs[1].Op)
	kindAfter, ok := fenceKindAt(b, 2)
	require.True(t, ok)
	require.Equal(t, BarrierDMBISH, kindAfter)
}

func TestInsertBarriersNeverReordersOrDropsInstructions(t *testing.T) {
	b := &BasicBlock{Instrs: []IRInstr{
		{Op: OpStore}, {Op: OpStore}, {Op: OpMove}, {Op: OpLoad},
	}}
	InsertBarriers(b, nil, nil, nil, nil, nil)

	var nonFence []IROpcode
	for _, i := range b.Instrs {
		if i.Op != OpMemFence {
			nonFence = append(nonFence, i.Op)
		}
	}
	require.Equal(t, []IROpcode{OpStore, OpStore, OpMove, OpLoad}, nonFence)
}

func TestSMCReentryBarrierIsISB(t *testing.T) {
	instr := SMCReentryBarrier()
	require.Equal(t, OpMemFence, instr.Op)
	require.Equal(t, uint64(BarrierISB), instr.Operands[0].ImmValue)
}
