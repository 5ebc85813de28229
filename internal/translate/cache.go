package translate

import (
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"
)

// Translation is one compiled guest basic block: its code already copied
// into an executable mapping (internal/platform) and the guest PC/mode key
// it was compiled for (spec.md §4.7).
type Translation struct {
	GuestPC       uint64
	GuestModeHash uint64
	Code          []byte
	EntryPoint    uintptr
}

// cacheKey is the process-wide map's key, spec.md §4.7's "(guest_pc,
// guest_mode_hash)".
type cacheKey struct {
	pc   uint64
	mode uint64
}

// TranslationCache is the process-wide map from (guest_pc, guest_mode_hash)
// to a compiled Translation, guarded the way the teacher's engine guards
// compiledModules.
type TranslationCache struct {
	mux     sync.RWMutex
	entries map[cacheKey]*Translation
}

func NewTranslationCache() *TranslationCache {
	return &TranslationCache{entries: make(map[cacheKey]*Translation)}
}

func (c *TranslationCache) Lookup(pc, modeHash uint64) (*Translation, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	t, ok := c.entries[cacheKey{pc: pc, mode: modeHash}]
	return t, ok
}

// Insert records t, overwriting any translation already present for the
// same (pc, mode) key (a re-translation after invalidation).
func (c *TranslationCache) Insert(t *Translation) {
	c.mux.Lock()
	defer c.mux.Unlock()
	key := cacheKey{pc: t.GuestPC, mode: t.GuestModeHash}
	_, replaced := c.entries[key]
	c.entries[key] = t
	log.Debug().Uint64("guest_pc", t.GuestPC).Uint64("guest_mode_hash", t.GuestModeHash).
		Bool("replaced", replaced).Int("bytes", len(t.Code)).Msg("translation cached")
}

// Invalidate drops every translation whose guest PC falls in [start, end),
// for self-modifying-code or unmap handling upstream of the translator.
func (c *TranslationCache) Invalidate(start, end uint64) {
	c.mux.Lock()
	defer c.mux.Unlock()
	dropped := 0
	for k := range c.entries {
		if k.pc >= start && k.pc < end {
			delete(c.entries, k)
			dropped++
		}
	}
	if dropped > 0 {
		log.Debug().Uint64("start", start).Uint64("end", end).Int("dropped", dropped).Msg("translation cache invalidated")
	}
}

func (c *TranslationCache) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return len(c.entries)
}

// chainCacheSlots is the fixed array size spec.md §4.7 names: slots keyed
// by (pc>>2)&0xFFFF, one per distinct low bit pattern of a 4-byte-aligned
// guest instruction address.
const chainCacheSlots = 0x10000

// chainCacheEntry is one (tag, code_ptr) slot. tag is the full guest_pc the
// slot was last populated for, so a same-index collision from a different
// pc is detected as a miss rather than mistaken for a hit.
type chainCacheEntry struct {
	tag     uint64
	codePtr uintptr
}

// ChainCache is the fixed-size direct-mapped array leave_with_cache uses to
// jump from one finished translation straight into the next, bypassing the
// host loop (spec.md §4.7). Unlike TranslationCache it is not safe for
// concurrent use: each guest CPU owns one (spec.md §5).
type ChainCache struct {
	slots [chainCacheSlots]chainCacheEntry
}

func NewChainCache() *ChainCache { return &ChainCache{} }

func chainCacheIndex(pc uint64) uint64 {
	return (pc >> 2) & (chainCacheSlots - 1)
}

// Lookup reports a hit only when the slot's tag matches pc exactly,
// distinguishing a real hit from an aliased, differently-tagged slot.
func (c *ChainCache) Lookup(pc uint64) (uintptr, bool) {
	e := &c.slots[chainCacheIndex(pc)]
	if e.codePtr == 0 || e.tag != pc {
		return 0, false
	}
	return e.codePtr, true
}

func (c *ChainCache) Insert(pc uint64, codePtr uintptr) {
	c.slots[chainCacheIndex(pc)] = chainCacheEntry{tag: pc, codePtr: codePtr}
}

// SlotAddr returns the host address of pc's chain-cache slot, for generated
// code (x86.Lowerer.EmitLeaveWithCache) to read and compare directly
// against instead of calling back into Go. Valid only while c itself is not
// moved or collected, which holds here: a Session (the only owner of a
// ChainCache) keeps it alive for its own lifetime.
func (c *ChainCache) SlotAddr(pc uint64) uintptr {
	return uintptr(unsafe.Pointer(&c.slots[chainCacheIndex(pc)]))
}
