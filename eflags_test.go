// eflags_test.go - EFLAGS template tests
//
// License: GPLv3 or later

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlagsAddCarryAndZero(t *testing.T) {
	f := FlagsAdd(0xFF, 0x01, Width8)
	require.NotZero(t, f&FlagCF)
	require.NotZero(t, f&FlagZF)
}

func TestFlagsAddOverflowSignedWraparound(t *testing.T) {
	// 0x7F + 0x01 = 0x80: positive + positive = negative -> OF set.
	f := FlagsAdd(0x7F, 0x01, Width8)
	require.NotZero(t, f&FlagOF)
	require.NotZero(t, f&FlagSF)
}

func TestFlagsSubBorrowSetsCarry(t *testing.T) {
	f := FlagsSub(0x00, 0x01, Width8)
	require.NotZero(t, f&FlagCF)
}

func TestFlagsSubEqualOperandsSetsZero(t *testing.T) {
	f := FlagsSub(0x1234, 0x1234, Width16)
	require.NotZero(t, f&FlagZF)
	require.Zero(t, f&FlagCF)
}

func TestFlagsCmpMatchesFlagsSub(t *testing.T) {
	require.Equal(t, FlagsSub(10, 20, Width32), FlagsCmp(10, 20, Width32))
}

func TestFlagsLogicalNeverSetsCarryOrOverflow(t *testing.T) {
	f := FlagsLogical(0xFFFFFFFF, Width32)
	require.Zero(t, f&FlagCF)
	require.Zero(t, f&FlagOF)
	require.NotZero(t, f&FlagSF)
}

func TestFlagsShiftOverflowOnlyDefinedForCountOne(t *testing.T) {
	// Shifting by 1 where result MSB differs from the bit shifted out
	// sets OF; a multi-bit shift never sets it regardless of operands.
	f1 := FlagsShift(0x80, false, 1, Width8)
	require.NotZero(t, f1&FlagOF)

	f2 := FlagsShift(0x80, true, 3, Width8)
	require.Zero(t, f2&FlagOF)
}

func TestFlagsShiftCarryIsLastBitOut(t *testing.T) {
	f := FlagsShift(0x00, false, 1, Width8)
	require.Zero(t, f&FlagCF)
}

func TestParityFlagMatchesEvenBitCount(t *testing.T) {
	f := FlagsLogical(0b00000011, Width8) // two set bits -> even -> PF set
	require.NotZero(t, f&FlagPF)

	f2 := FlagsLogical(0b00000001, Width8) // one set bit -> odd -> PF clear
	require.Zero(t, f2&FlagPF)
}
