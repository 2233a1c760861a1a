// cache_test.go - translation cache unit tests
//
// License: GPLv3 or later

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*TranslationCache, *[]int) {
	var patchCalls []int
	patch := func(code []byte, offset int, target uintptr) {
		patchCalls = append(patchCalls, offset)
	}
	unpatch := func(code []byte, offset int, guestTarget uint32) {}
	c, err := NewTranslationCache(patch, unpatch)
	require.NoError(t, err)
	return c, &patchCalls
}

func TestStoreThenLookupExactMatch(t *testing.T) {
	c, _ := newTestCache(t)
	blk, err := c.Store(0x1000, 4, []byte{0x01, 0x02, 0x03, 0x04}, nil)
	require.NoError(t, err)
	require.NotZero(t, blk.ExecPtr)

	got, ok := c.Lookup(0x1000)
	require.True(t, ok)
	require.Equal(t, blk, got)

	_, ok = c.Lookup(0x1004)
	require.False(t, ok)
}

func TestStoreDuplicateEntryFails(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Store(0x2000, 1, []byte{0x90}, nil)
	require.NoError(t, err)
	_, err = c.Store(0x2000, 1, []byte{0x90}, nil)
	require.Error(t, err)
}

func TestChainPatchesExitWhenTargetAlreadyCached(t *testing.T) {
	c, patchCalls := newTestCache(t)
	_, err := c.Store(0x3000, 1, []byte{0x90}, nil)
	require.NoError(t, err)

	caller, err := c.Store(0x4000, 4, make([]byte, 16),
		[]BlockExit{{Kind: ExitJmp, PatchOffset: 0, TargetGuest: 0x3000}})
	require.NoError(t, err)

	c.Chain(caller)
	require.True(t, caller.Exits[0].IsPatched)
	require.Len(t, *patchCalls, 1)
}

func TestChainLeavesUnresolvedExitsUnpatched(t *testing.T) {
	c, _ := newTestCache(t)
	caller, err := c.Store(0x5000, 4, make([]byte, 16),
		[]BlockExit{{Kind: ExitJmp, PatchOffset: 0, TargetGuest: 0x9999}})
	require.NoError(t, err)

	c.Chain(caller)
	require.False(t, caller.Exits[0].IsPatched)
}

func TestChainAllResolvesOpportunisticallyOnLaterStore(t *testing.T) {
	c, _ := newTestCache(t)
	caller, err := c.Store(0x6000, 4, make([]byte, 16),
		[]BlockExit{{Kind: ExitJmp, PatchOffset: 0, TargetGuest: 0x7000}})
	require.NoError(t, err)
	require.False(t, caller.Exits[0].IsPatched)

	_, err = c.Store(0x7000, 1, []byte{0x90}, nil)
	require.NoError(t, err)
	c.ChainAll()
	require.True(t, caller.Exits[0].IsPatched)
}

func TestInvalidateUnchainsIncomingCallers(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Store(0x8000, 1, []byte{0x90}, nil)
	require.NoError(t, err)
	caller, err := c.Store(0x8100, 4, make([]byte, 16),
		[]BlockExit{{Kind: ExitJmp, PatchOffset: 0, TargetGuest: 0x8000}})
	require.NoError(t, err)
	c.Chain(caller)
	require.True(t, caller.Exits[0].IsPatched)

	c.Invalidate(0x8000)
	_, ok := c.Lookup(0x8000)
	require.False(t, ok)
	require.False(t, caller.Exits[0].IsPatched)
}

func TestInvalidateRangeRemovesIntersectingBlocksOnly(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Store(0x100, 4, []byte{0, 0, 0, 0}, nil)
	require.NoError(t, err)
	_, err = c.Store(0x200, 4, []byte{0, 0, 0, 0}, nil)
	require.NoError(t, err)

	c.InvalidateRange(0x100, 0x104)
	_, ok := c.Lookup(0x100)
	require.False(t, ok)
	_, ok = c.Lookup(0x200)
	require.True(t, ok)
}

func TestFlushRemovesEverything(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Store(0x100, 1, []byte{0x90}, nil)
	require.NoError(t, err)
	_, err = c.Store(0x200, 1, []byte{0x90}, nil)
	require.NoError(t, err)

	c.Flush()
	require.Equal(t, 0, c.Len())
}
