// fpu80_test.go - IEEE-754 <-> x87 80-bit extended conversion tests
//
// License: GPLv3 or later

package jit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestF64ToF80RoundTripPreservesValue(t *testing.T) {
	cases := []float64{0.0, 1.0, -1.0, 3.1415926535, 1e300, -1e-300, 2.5}
	for _, v := range cases {
		ext, status := F64ToF80(math.Float64bits(v))
		require.Zero(t, status&(StatusIE|StatusOE))
		back, status2 := F80ToF64(ext, 0)
		require.Zero(t, status2&StatusIE)
		require.InEpsilon(t, v, math.Float64frombits(back), 1e-12)
	}
}

func TestF32ToF80RoundTripPreservesValue(t *testing.T) {
	cases := []float32{0.0, 1.0, -2.5, 123.456}
	for _, v := range cases {
		ext, status := F32ToF80(math.Float32bits(v))
		require.Zero(t, status&StatusIE)
		back, _ := F80ToF32(ext, 0)
		require.InDelta(t, v, math.Float32frombits(back), 1e-3)
	}
}

func TestF64ToF80ZeroIsZero(t *testing.T) {
	ext, _ := F64ToF80(0)
	require.True(t, ext.IsZero())
}

func TestF64ToF80InfinityFlagsAndRoundTrips(t *testing.T) {
	ext, _ := F64ToF80(math.Float64bits(math.Inf(1)))
	require.True(t, ext.IsInf())
	back, _ := F80ToF64(ext, 0)
	require.True(t, math.IsInf(math.Float64frombits(back), 1))
}

func TestF64ToF80NaNIsNaN(t *testing.T) {
	ext, _ := F64ToF80(math.Float64bits(math.NaN()))
	require.True(t, ext.IsNaN())
}

func TestCheckExceptionsFlagsNaNAsInvalid(t *testing.T) {
	ext, _ := F64ToF80(math.Float64bits(math.NaN()))
	status := CheckExceptions(ext)
	require.NotZero(t, status&StatusIE)
}

func TestF80ToF32OverflowSetsOE(t *testing.T) {
	// A value representable in f80 but too large for f32's exponent range.
	ext, _ := F64ToF80(math.Float64bits(1e300))
	_, status := F80ToF32(ext, 0)
	require.NotZero(t, status&StatusOE)
}
