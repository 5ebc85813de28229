// Package borg is the public entry point: it wires internal/rudder (the IR
// and its interpreter), internal/translate (the block translator and its
// caches), internal/backend/x86 and internal/backend/regalloc (lowering,
// allocation, encoding), internal/platform (executable mappings) and
// internal/execctx (the guest execution context and host-to-guest
// trampoline) into one translate-cache-execute session, the way the
// teacher's root package wires internal/wasm/{jit,interpreter} and
// internal/engine behind a single Runtime type.
package borg

import (
	"bytes"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/execctx"
	"github.com/avisi-group/borg-sub001/internal/platform"
	"github.com/avisi-group/borg-sub001/internal/rudder"
	"github.com/avisi-group/borg-sub001/internal/rudder/interp"
	"github.com/avisi-group/borg-sub001/internal/translate"
)

// defaultGuestStackSize is the size of the guest stack frame region r14
// addresses (internal/execctx.Enter's stackTop), sized generously since
// spec.md does not mandate a specific guest stack depth.
const defaultGuestStackSize = 1 << 20 // 1 MiB

// Unit identifies one translatable piece of guest code: the rudder
// function to translate, plus the (guest_pc, guest_mode_hash) pair
// spec.md §4.7 keys the translation cache and chain cache by. Decoding
// guest AArch64 bytes into a rudder.Function and deciding guestPC/
// guestModeHash for a given unit of guest code is out of this package's
// scope (spec.md's Non-goals exclude the decoder); Session.Execute takes
// a Unit supplied by that external decode/dispatch layer.
type Unit struct {
	Function      *rudder.Function
	GuestPC       uint64
	GuestModeHash uint64
}

// Session is one running guest image: a loaded Model, its register file
// and execution context, and the translation machinery spec.md §4 and §4.7
// describe. A Session is not safe for concurrent Execute or Translate
// calls: every Execute runs against the session's single register file
// and guest stack, and its ChainCache is unsynchronized. Only the
// translation cache and the mapping list are guarded for concurrent use.
type Session struct {
	Model   *rudder.Model
	Config  x86.Config
	Regs    *interp.RegisterFile
	Context *execctx.GuestExecutionContext

	cache      *translate.TranslationCache
	chainCache *translate.ChainCache

	guestStack []byte

	mu       sync.Mutex
	mappings [][]byte // every PROT_EXEC mapping ever handed out, for Close
}

// NewSession bootstraps regs from model (spec.md §4.6's borealis_register_init
// / __InitSystem sequence) and returns a Session ready to translate and
// execute units of model's guest code.
func NewSession(model *rudder.Model, cfg x86.Config, features execctx.Features) (*Session, error) {
	regs := interp.NewRegisterFile(model.RegisterFile)
	if err := execctx.Bootstrap(model, regs, features); err != nil {
		return nil, errors.Wrap(err, "borg: bootstrap")
	}
	return &Session{
		Model:      model,
		Config:     cfg,
		Regs:       regs,
		Context:    &execctx.GuestExecutionContext{},
		cache:      translate.NewTranslationCache(),
		chainCache: translate.NewChainCache(),
		guestStack: make([]byte, defaultGuestStackSize),
	}, nil
}

// Translate lowers u.Function through internal/translate, allocates its
// registers, encodes it, maps it executable, and inserts the result into
// the translation cache under (u.GuestPC, u.GuestModeHash). Re-translating
// an already-cached unit is allowed (spec.md §4.7's invalidation path
// reaches this by retranslating after a drop), and simply replaces the
// cache entry; the superseded mapping is kept alive in Session.mappings
// until Close, since code already chained to it (internal/translate's
// leave_with_cache fast path) may still be executing.
func (s *Session) Translate(u Unit) (*translate.Translation, error) {
	// interruptPendingOffset is 0: Interrupt.bits is GuestExecutionContext's
	// first (and only) field, so it sits at r13+0. resultBits is 0: this
	// session never asks a translation to report a static execution-result
	// bit of its own; Translator.Run ORs in the "control returned to Go"
	// bit itself, and EmitLeave/EmitLeaveWithCache OR in the
	// interrupt-pending bit. s.chainCache lets any block whose exit writes
	// a compile-time-constant PC chain straight into its successor.
	tr := translate.New(u.Function, s.Config, 0, 0, s.chainCache)
	xfn, err := tr.Run()
	if err != nil {
		return nil, errors.Wrapf(err, "borg: translate %s", u.Function.Name)
	}
	if err := x86.AllocateFunc(xfn); err != nil {
		return nil, errors.Wrapf(err, "borg: allocate %s", u.Function.Name)
	}
	code, err := x86.NewEncoder(xfn).Encode()
	if err != nil {
		return nil, errors.Wrapf(err, "borg: encode %s", u.Function.Name)
	}
	mapped, err := platform.MmapCodeSegment(bytes.NewReader(code), len(code))
	if err != nil {
		return nil, errors.Wrapf(err, "borg: map %s", u.Function.Name)
	}
	t := &translate.Translation{
		GuestPC:       u.GuestPC,
		GuestModeHash: u.GuestModeHash,
		Code:          code,
		EntryPoint:    firstByteAddr(mapped),
	}
	s.mu.Lock()
	s.mappings = append(s.mappings, mapped)
	s.mu.Unlock()
	s.cache.Insert(t)
	s.chainCache.Insert(u.GuestPC, t.EntryPoint)
	return t, nil
}

// Execute runs u's compiled code, translating it first on a translation
// cache miss, and returns the raw execution-result bits spec.md §6
// defines.
func (s *Session) Execute(u Unit) (uint64, error) {
	t, ok := s.cache.Lookup(u.GuestPC, u.GuestModeHash)
	if !ok {
		var err error
		t, err = s.Translate(u)
		if err != nil {
			return 0, err
		}
	}
	return execctx.Enter(t.EntryPoint, s.Regs.Buf, s.guestStack, s.Context), nil
}

// InvalidateRange drops every cached translation whose guest PC falls in
// [start, end) from the translation cache, for use when the guest
// self-modifies code in that range (spec.md §4.7; actual write-detection
// is the memory collaborator's responsibility, out of this package's
// scope per spec.md's Non-goals on self-modifying-code races).
func (s *Session) InvalidateRange(start, end uint64) {
	s.cache.Invalidate(start, end)
}

// firstByteAddr returns the address of mapped's first byte, the entry
// point a Translation's generated code starts executing at.
func firstByteAddr(mapped []byte) uintptr {
	return uintptr(unsafe.Pointer(&mapped[0]))
}

// Close releases every executable mapping this session has ever produced.
// It is only safe once nothing is still executing inside one of them.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, m := range s.mappings {
		if err := platform.MunmapCodeSegment(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.mappings = nil
	return firstErr
}
