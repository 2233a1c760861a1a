// jit.go - Translator orchestration and external interface (component
// wiring + spec.md §6 "External Interfaces")
//
// Grounded on the teacher's NewCPU_X86/Step() constructor-and-loop shape
// (cpu_x86.go), adapted from "construct an interpreter and step it one
// instruction at a time" to "construct a translator and service one
// dispatcher request at a time" — decode -> memory-model -> codegen ->
// cache -> chain.
//
// License: GPLv3 or later

package jit

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// GuestBus is the memory/IO surface the outer emulator provides; the
// core only ever reads guest code bytes through it (spec.md §1 "guest
// memory ... owned by a surrounding emulator").
type GuestBus interface {
	ReadCode(addr uint32, maxLen int) []byte
}

// NativeEntry invokes translated host code at execPtr and returns the
// guest address execution should resume at (either because the block
// fell through to an unpatched exit, or a host-call IR node returned).
// Supplied by the host process: actually jumping into JIT-emitted bytes
// is an ISA/ABI-specific trampoline outside this core's responsibility
// (spec.md §1 "the AArch64 machine-code emitter beyond the contracts the
// core requires of it").
type NativeEntry func(execPtr uintptr) (nextGuestEIP uint32)

// TranslatorOption configures a Translator at construction time, the
// same constructor-injection idiom as the teacher's NewCPU_X86(bus).
type TranslatorOption func(*Translator)

// WithRegAlloc installs a non-default register allocator.
func WithRegAlloc(a RegAlloc) TranslatorOption {
	return func(t *Translator) { t.codegenAlloc = a }
}

// WithLogger installs a diagnostics sink; nil keeps the stdlib-log
// default (see SPEC_FULL.md "Logging").
func WithLogger(l Logger) TranslatorOption {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// Translator is the top-level JIT core: decoder + IR + memory model +
// codegen + cache + exception handler wired together, matching
// component overview §2 of SPEC_FULL.md.
type Translator struct {
	bus     GuestBus
	cache   *TranslationCache
	exc     *ExceptionHandler
	fpu     *X87State
	running atomic.Bool // lock-free cross-thread stop signalling, cpu_ie64.go idiom

	codegenAlloc RegAlloc
	logger       Logger

	nativeEntry NativeEntry
}

// New constructs a Translator bound to bus, mirroring jit_init() from
// spec.md §6 (there is no separate init step in the Go API: construction
// is initialisation).
func New(bus GuestBus, opts ...TranslatorOption) (*Translator, error) {
	if bus == nil {
		return nil, ErrInvalidParameter
	}
	t := &Translator{
		bus:    bus,
		exc:    NewExceptionHandler(),
		fpu:    NewX87State(),
		logger: defaultLogger{},
	}
	for _, o := range opts {
		o(t)
	}
	cache, err := NewTranslationCache(t.patchExit, t.unpatchExit)
	if err != nil {
		return nil, err
	}
	t.cache = cache
	t.fpu.SetFaultHandler(func(status uint16) {
		t.exc.ReportFPUException(0, status)
	})
	return t, nil
}

// SetExceptionCallback registers the host fault callback (spec.md §6
// jit_set_exception_callback). Returns InvalidParameter on a nil
// callback, matching the documented error taxonomy.
func (t *Translator) SetExceptionCallback(cb ExceptionCallback) error {
	return t.exc.SetCallback(cb)
}

// SetNativeEntry installs the host-supplied trampoline used to actually
// enter translated code (see NativeEntry's doc comment on why this is a
// host responsibility, not a core one).
func (t *Translator) SetNativeEntry(fn NativeEntry) { t.nativeEntry = fn }

// LastFaultingAddress mirrors x86 CR2 semantics (spec.md §6).
func (t *Translator) LastFaultingAddress() uint32 { return t.exc.LastFaultingAddress() }

// Shutdown releases the translator's executable arena (jit_shutdown).
func (t *Translator) Shutdown() {
	t.cache.Flush()
	t.running.Store(false)
}

// EnsureTranslated returns the cached block for guestEIP, translating it
// first if absent. A translation failure (bad bytes, unsupported
// opcode) is recovered locally per spec.md §7 regime (2): it reports the
// corresponding x86 exception through the host callback and returns
// ErrTranslation rather than inserting a partial block.
func (t *Translator) EnsureTranslated(guestEIP uint32) (*TranslatedBlock, error) {
	if blk, ok := t.cache.Lookup(guestEIP); ok {
		return blk, nil
	}
	blk, err := t.translateBlock(guestEIP)
	if err != nil {
		return nil, err
	}
	t.cache.ChainAll()
	return blk, nil
}

// Run enters the dispatch loop at guestEIP (spec.md §6 jit_run). It
// repeatedly ensures the current guest address is translated, then hands
// control to the host's NativeEntry trampoline; the loop exits when the
// host trampoline is nil (translate-only mode, useful for testing
// without a live AArch64 execution target) after translating the first
// block, or when EnsureTranslated fails.
func (t *Translator) Run(guestEIP uint32) error {
	if t.nativeEntry == nil {
		_, err := t.EnsureTranslated(guestEIP)
		return err
	}
	t.running.Store(true)
	eip := guestEIP
	for t.running.Load() {
		blk, err := t.EnsureTranslated(eip)
		if err != nil {
			return err
		}
		eip = t.nativeEntry(blk.ExecPtr)
	}
	return nil
}

// Stop requests the dispatch loop started by Run exit after the current
// block.
func (t *Translator) Stop() { t.running.Store(false) }

// translateBlock runs the full decode -> memory-model -> codegen pipeline
// for one guest entry address and stores the result in the cache.
func (t *Translator) translateBlock(guestEIP uint32) (*TranslatedBlock, error) {
	const maxBlockBytes = 256
	raw := t.bus.ReadCode(guestEIP, maxBlockBytes)
	if len(raw) == 0 {
		return nil, wrapErr(Translation, "no guest bytes available", errors.New("empty read"))
	}

	fn := NewIRFunction(guestEIP)
	block := fn.NewBlock()

	pos := 0
	for pos < len(raw) {
		if raw[pos] >= 0xD8 && raw[pos] <= 0xDF {
			n, err := DecodeFPU(raw[pos:], len(raw)-pos, block)
			if err != nil {
				return t.failTranslation(guestEIP, uint32(pos), err)
			}
			pos += n
			break // one x87 op per straight-line region in this minimal pipeline
		}

		dec, err := Decode(raw[pos:], len(raw)-pos)
		if err != nil {
			return t.failTranslation(guestEIP, uint32(pos), err)
		}
		nextAddr := guestEIP + uint32(pos) + uint32(dec.Length)
		appendIRForDecoded(block, dec, nextAddr)
		pos += dec.Length
		if dec.Mnemonic == MnControlFlow {
			break
		}
	}

	InsertBarriers(block, isLockRMWInstr, isXchgInstr, isMFenceInstr, isSFenceInstr, isLFenceInstr)

	gen := NewCodeGen()
	if t.codegenAlloc != nil {
		gen.SetRegAlloc(t.codegenAlloc)
	}
	exits := emitBlock(gen, block, guestEIP, uint32(pos))

	blk, err := t.cache.Store(guestEIP, uint32(pos), gen.Code(), exits)
	if err != nil {
		return nil, err
	}
	return blk, nil
}

// failTranslation implements spec.md §7 regime (2): no partial block is
// inserted; the guest sees a legal #UD via the exception handler at the
// faulting EIP, and the dispatcher gets back a Translation error.
func (t *Translator) failTranslation(guestEIP, offset uint32, cause error) (*TranslatedBlock, error) {
	t.exc.ReportInvalidOpcode(guestEIP + offset)
	t.logger.Printf("jit: translation failed at 0x%08X: %v", guestEIP+offset, cause)
	return nil, wrapErr(Translation, "decode failed", cause)
}

// patchExit/unpatchExit are the ISA-specific callbacks TranslationCache
// invokes to chain/unchain a branch site, keeping cache.go ISA-agnostic
// (spec.md §4.H "Patching uses a caller-provided callback").
func (t *Translator) patchExit(code []byte, offset int, target uintptr) {
	gen := &CodeGen{code: code}
	gen.PatchBranchTo(offset, target)
}

func (t *Translator) unpatchExit(code []byte, offset int, guestTarget uint32) {
	gen := &CodeGen{code: code}
	gen.UnpatchBranch(offset, guestTarget)
}
