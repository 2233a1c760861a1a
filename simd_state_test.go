// simd_state_test.go - x87 stack/tag/MMX-alias state machine tests
//
// License: GPLv3 or later

package jit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushPopRotatesTopAndRoundTrips(t *testing.T) {
	s := NewX87State()
	one, _ := F64ToF80(math.Float64bits(1.5))
	s.Push(one)
	require.Equal(t, TagValid, s.getTag(s.physReg(0)))

	back := s.Pop()
	bits, _ := F80ToF64(back, 0)
	require.InEpsilon(t, 1.5, math.Float64frombits(bits), 1e-12)
	require.Equal(t, TagEmpty, s.getTag(s.physReg(0)))
}

func TestPushOntoFullStackSetsInvalidException(t *testing.T) {
	s := NewX87State()
	v, _ := F64ToF80(math.Float64bits(1))
	for i := 0; i < 8; i++ {
		s.Push(v)
	}
	topBefore := s.FSW.Top()
	s.Push(v) // ninth push onto a full 8-deep stack: overflow, state unchanged
	require.NotZero(t, s.FSW&StatusWord(StatusIE))
	require.Equal(t, topBefore, s.FSW.Top())
}

func TestLogicalToPhysicalFollowsTop(t *testing.T) {
	s := NewX87State()
	v, _ := F64ToF80(math.Float64bits(42))
	s.Push(v)
	// ST(0) must always read back whatever was last pushed, regardless
	// of which physical slot top happens to occupy.
	phys0 := s.LogicalToPhysical(0)
	require.Equal(t, TagValid, s.getTag(phys0))
}

func TestMMXAliasingReadsLowQuadwordOfFPUSlot(t *testing.T) {
	s := NewX87State()
	s.WriteMMXReg(0, 0xDEADBEEFCAFEBABE)
	require.Equal(t, uint64(0xDEADBEEFCAFEBABE), s.ReadMMXReg(0))
	require.Equal(t, ModeMMX, s.Mode())
}

func TestEMMSReturnsToFPUModeAndClearsTags(t *testing.T) {
	s := NewX87State()
	s.WriteMMXReg(0, 1)
	require.Equal(t, ModeMMX, s.Mode())
	s.EMMS()
	require.Equal(t, ModeFPU, s.Mode())
	require.Equal(t, uint16(0xFFFF), s.TagWord())
}

func TestEnterMixedModeFromMMXTransitionsToMixed(t *testing.T) {
	s := NewX87State()
	s.WriteMMXReg(0, 1)
	require.Equal(t, ModeMMX, s.Mode())
	s.EnterMixedMode()
	require.Equal(t, ModeMixed, s.Mode())
}

func TestMixedModeFPUAccessRaisesFault(t *testing.T) {
	s := NewX87State()
	var faulted bool
	s.SetFaultHandler(func(status uint16) { faulted = true })
	s.WriteMMXReg(0, 1)
	s.EnterMixedMode()

	v, _ := F64ToF80(math.Float64bits(1))
	s.Push(v)
	require.True(t, faulted)
}

func TestResetClearsStackToEmpty(t *testing.T) {
	s := NewX87State()
	v, _ := F64ToF80(math.Float64bits(1))
	s.Push(v)
	s.Reset()
	require.Equal(t, uint16(0xFFFF), s.TagWord())
	require.Equal(t, ModeFPU, s.Mode())
}

func TestComputeSinWithStatusMatchesMathSinWithinOneULP(t *testing.T) {
	s := NewX87State()
	got, ok := s.ComputeSinWithStatus(1.0)
	require.True(t, ok)
	require.InDelta(t, math.Sin(1.0), got, 1e-15)
}
