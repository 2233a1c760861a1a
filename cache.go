// cache.go - translation cache (component H)
//
// No direct teacher analogue exists (the teacher interprets guest code
// in place; it never caches translated native code). The executable
// arena follows the pack's common mmap/mprotect idiom for JIT-style Go
// projects (golang.org/x/sys/unix), and the store/chain/invalidate state
// machine is built from spec.md §4.H's explicit algorithm description.
//
// License: GPLv3 or later

package jit

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// TranslatedBlock is the cache's record of one translated region
// (spec.md §3).
type TranslatedBlock struct {
	GuestEntry uint32
	GuestSize  uint32
	Code       []byte
	ExecPtr    uintptr
	IsLinked   bool
	Exits      []BlockExit

	// IncomingLinks is the set of blocks whose emitted code contains a
	// patched direct branch into this one, so invalidation can un-patch
	// callers in O(degree) (spec.md §3).
	IncomingLinks map[*TranslatedBlock]int // value = index into that block's Exits
}

// execArena is a bump allocator over one or more mmap'd RWX regions.
// Real deployments would flip RW->RX after fill per spec.md §5; the
// core keeps regions RWX throughout because blocks are patched in place
// during chaining, which is the same trade-off the pack's JIT-style
// examples make rather than re-mprotect on every patch.
type execArena struct {
	mu       sync.Mutex
	regions  [][]byte
	cur      []byte
	used     int
	pageSize int
}

const arenaRegionSize = 1 << 20 // 1 MiB per region

func newExecArena() (*execArena, error) {
	return &execArena{pageSize: unix.Getpagesize()}, nil
}

func (a *execArena) alloc(n int) ([]byte, uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur == nil || a.used+n > len(a.cur) {
		size := arenaRegionSize
		if n > size {
			size = ((n + a.pageSize - 1) / a.pageSize) * a.pageSize
		}
		region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
			unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, 0, wrapErr(MemoryAllocation, "mmap executable arena", err)
		}
		a.regions = append(a.regions, region)
		a.cur = region
		a.used = 0
	}
	buf := a.cur[a.used : a.used+n]
	base := uintptr(unsafe.Pointer(&a.cur[a.used]))
	a.used += n
	return buf, base, nil
}

func (a *execArena) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.regions {
		_ = unix.Munmap(r)
	}
	a.regions = nil
	a.cur = nil
	a.used = 0
}

// PatchFunc patches the branch at (block's code, offset) to jump to
// target's executable pointer. Supplied by the caller so the cache stays
// ISA-agnostic (spec.md §4.H "Chain").
type PatchFunc func(code []byte, offset int, target uintptr)

// UnpatchFunc reverts a previously patched branch back to its original
// "exit to dispatcher" stub.
type UnpatchFunc func(code []byte, offset int, guestTarget uint32)

// TranslationCache is the address-keyed store of translated blocks with
// chaining and invalidation (spec.md §4.H).
type TranslationCache struct {
	blocks map[uint32]*TranslatedBlock
	arena  *execArena
	patch  PatchFunc
	unpatch UnpatchFunc

	StoresTotal      int
	ChainsPatched    int
	Invalidations    int
}

// NewTranslationCache constructs an empty cache. patch/unpatch are the
// ISA-specific byte-patching callbacks (spec.md §4.H).
func NewTranslationCache(patch PatchFunc, unpatch UnpatchFunc) (*TranslationCache, error) {
	arena, err := newExecArena()
	if err != nil {
		return nil, err
	}
	return &TranslationCache{
		blocks:  make(map[uint32]*TranslatedBlock),
		arena:   arena,
		patch:   patch,
		unpatch: unpatch,
	}, nil
}

// Lookup performs an exact-match lookup keyed on guest entry address
// (spec.md §4.H "Lookup" — no overlap search on the hot path).
func (c *TranslationCache) Lookup(guestAddr uint32) (*TranslatedBlock, bool) {
	b, ok := c.blocks[guestAddr]
	return b, ok
}

// Store inserts a translated block, copying its code bytes into the
// executable arena and recording its executable pointer. The caller must
// ensure no existing entry for the same guest address exists
// (spec.md §4.H "Store": duplicate entries are a cache bug).
func (c *TranslationCache) Store(guestAddr uint32, guestSize uint32, code []byte, exits []BlockExit) (*TranslatedBlock, error) {
	if _, exists := c.blocks[guestAddr]; exists {
		return nil, newErr(Internal, "duplicate translation cache entry")
	}
	mem, ptr, err := c.arena.alloc(len(code))
	if err != nil {
		return nil, err
	}
	copy(mem, code)

	b := &TranslatedBlock{
		GuestEntry:    guestAddr,
		GuestSize:     guestSize,
		Code:          mem,
		ExecPtr:       ptr,
		IsLinked:      false,
		Exits:         exits,
		IncomingLinks: make(map[*TranslatedBlock]int),
	}
	c.blocks[guestAddr] = b
	c.StoresTotal++
	return b, nil
}

// Chain attempts to patch every exit of block whose target is already
// cached (spec.md §4.H "Chain"). Exits whose target is absent are left
// unpatched; chaining is attempted again opportunistically, typically on
// Store of the target.
func (c *TranslationCache) Chain(block *TranslatedBlock) {
	for i := range block.Exits {
		exit := &block.Exits[i]
		if exit.IsPatched {
			continue
		}
		if exit.Kind != ExitJmp && exit.Kind != ExitCondBranch && exit.Kind != ExitCall {
			continue
		}
		target, ok := c.blocks[exit.TargetGuest]
		if !ok {
			continue
		}
		c.patch(block.Code, exit.PatchOffset, target.ExecPtr)
		exit.IsPatched = true
		target.IncomingLinks[block] = i
		block.IsLinked = true
		c.ChainsPatched++
	}
}

// ChainAll opportunistically (re)chains every cached block against the
// newly stored target — the "attempted again opportunistically" policy
// spec.md §4.H names, triggered here on Store of the target rather than
// scanning on every lookup.
func (c *TranslationCache) ChainAll() {
	for _, b := range c.blocks {
		c.Chain(b)
	}
}

// Invalidate un-chains and removes a single block: every incoming-links
// entry is reverted to its dispatcher stub and cleared, then the block
// is removed from the cache (spec.md §4.H "Invalidate single block").
// Its arena bytes are not freed or reused here: the bump arena only
// hands out fresh bytes and is unmapped as a whole by Flush, after every
// block has been invalidated, which keeps invariant 3 of §4.H.
func (c *TranslationCache) Invalidate(guestAddr uint32) {
	b, ok := c.blocks[guestAddr]
	if !ok {
		return
	}
	for caller, exitIdx := range b.IncomingLinks {
		exit := &caller.Exits[exitIdx]
		c.unpatch(caller.Code, exit.PatchOffset, exit.TargetGuest)
		exit.IsPatched = false
	}
	for i := range b.Exits {
		if target, ok := c.blocks[b.Exits[i].TargetGuest]; ok && b.Exits[i].IsPatched {
			delete(target.IncomingLinks, b)
		}
	}
	delete(c.blocks, guestAddr)
	c.Invalidations++
}

// InvalidateRange invalidates every block whose guest span intersects
// [a, b) (spec.md §4.H "Invalidate range"), via a conservative sweep.
func (c *TranslationCache) InvalidateRange(a, b uint32) {
	var victims []uint32
	for addr, blk := range c.blocks {
		end := addr + blk.GuestSize
		if addr < b && end > a {
			victims = append(victims, addr)
		}
	}
	for _, addr := range victims {
		c.Invalidate(addr)
	}
}

// Flush unchains every block, clears the cache, and resets the code
// arena (spec.md §4.H "Flush").
func (c *TranslationCache) Flush() {
	var addrs []uint32
	for addr := range c.blocks {
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs {
		c.Invalidate(addr)
	}
	c.arena.reset()
}

// Len reports how many blocks are currently cached, used by invariant
// tests and host diagnostics.
func (c *TranslationCache) Len() int { return len(c.blocks) }
