// cache_spec_test.go - translation cache invariant suite
//
// BDD-style companion to cache_test.go's table-driven assertions,
// grounded on sarchlab/m2sim's use of ginkgo/gomega for simulator
// component specs: the cache's multi-step invariants (store -> chain ->
// invalidate -> flush) read naturally as Describe/It blocks.
//
// License: GPLv3 or later

package jit

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCacheSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TranslationCache Suite")
}

var _ = Describe("TranslationCache", func() {
	var cache *TranslationCache
	var patchedOffsets []int
	var unpatchedOffsets []int

	BeforeEach(func() {
		patchedOffsets = nil
		unpatchedOffsets = nil
		c, err := NewTranslationCache(
			func(code []byte, offset int, target uintptr) { patchedOffsets = append(patchedOffsets, offset) },
			func(code []byte, offset int, guestTarget uint32) { unpatchedOffsets = append(unpatchedOffsets, offset) },
		)
		Expect(err).NotTo(HaveOccurred())
		cache = c
	})

	Describe("Store then Lookup", func() {
		It("finds a stored block by its exact guest entry address", func() {
			blk, err := cache.Store(0x401000, 6, []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0xC3}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.ExecPtr).NotTo(BeZero())

			got, ok := cache.Lookup(0x401000)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(blk))
		})

		It("rejects a second Store at an address already cached", func() {
			_, err := cache.Store(0x401000, 1, []byte{0x90}, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Store(0x401000, 1, []byte{0x90}, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Chain then Invalidate", func() {
		It("patches a caller's exit once the target exists, then reverts it on invalidation", func() {
			_, err := cache.Store(0x402000, 1, []byte{0xC3}, nil)
			Expect(err).NotTo(HaveOccurred())

			caller, err := cache.Store(0x403000, 4, make([]byte, 16),
				[]BlockExit{{Kind: ExitJmp, PatchOffset: 0, TargetGuest: 0x402000}})
			Expect(err).NotTo(HaveOccurred())

			cache.Chain(caller)
			Expect(caller.Exits[0].IsPatched).To(BeTrue())
			Expect(patchedOffsets).To(ContainElement(0))

			cache.Invalidate(0x402000)
			_, ok := cache.Lookup(0x402000)
			Expect(ok).To(BeFalse())
			Expect(caller.Exits[0].IsPatched).To(BeFalse())
			Expect(unpatchedOffsets).To(ContainElement(0))
		})
	})

	Describe("Flush", func() {
		It("empties the cache", func() {
			_, err := cache.Store(0x404000, 1, []byte{0xC3}, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Store(0x405000, 1, []byte{0xC3}, nil)
			Expect(err).NotTo(HaveOccurred())

			cache.Flush()
			Expect(cache.Len()).To(Equal(0))
		})
	})
})
