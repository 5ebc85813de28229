// Package execctx models the guest execution context and per-translation
// configuration named in spec.md §5/§6, plus the bootstrap sequence that
// populates a fresh register file before any translation runs.
//
// The interrupt-line OR-of-lines model is grounded on
// _examples/original_source/brig/kernel/src/guest/devices/arm/a9gic.rs's
// raise/rescind methods (around line 566/584), which set or clear a single
// bit of interrupt_pending per line rather than replacing the whole word.
// Bootstrap ordering (borealis_register_init then __InitSystem) is
// grounded on
// _examples/original_source/brig/kernel/src/dbt/tests.rs around line 1101.
package execctx

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/avisi-group/borg-sub001/internal/rudder"
	"github.com/avisi-group/borg-sub001/internal/rudder/interp"
)

// Config mirrors spec.md §6's configuration options recognized by a
// translation context.
type Config struct {
	MemoryMask bool
	PCOffset   uint64
	NOffset    uint64
	ZOffset    uint64
	COffset    uint64
	VOffset    uint64
}

// Interrupt is the guest-visible interrupt state: a bitset of raised
// lines, read (as a single "any line pending" bit) by generated code on
// leave, written by device models. Raise/Rescind apply only their own bit,
// never clobbering sibling lines raised by other devices, matching
// a9gic.rs's raise/rescind semantics.
type Interrupt struct {
	bits uint32 // atomic
}

func (ic *Interrupt) Raise(line uint) {
	if line >= 32 {
		panic("BUG: execctx: interrupt line out of range")
	}
	for {
		old := atomic.LoadUint32(&ic.bits)
		if atomic.CompareAndSwapUint32(&ic.bits, old, old|(1<<line)) {
			return
		}
	}
}

func (ic *Interrupt) Rescind(line uint) {
	if line >= 32 {
		panic("BUG: execctx: interrupt line out of range")
	}
	for {
		old := atomic.LoadUint32(&ic.bits)
		if atomic.CompareAndSwapUint32(&ic.bits, old, old&^(1<<line)) {
			return
		}
	}
}

// Pending reports whether any line is currently raised -- the single bit
// generated code ORs into its translation-return value on leave (spec.md
// §6's "bit 1: interrupt pending snapshot").
func (ic *Interrupt) Pending() bool { return atomic.LoadUint32(&ic.bits) != 0 }

// GuestExecutionContext is the FS-addressed struct named in spec.md §6.
// This implementation keeps the pointer in r13 instead of swapping the FS
// segment register: arbitrary FS reassignment is not supported from
// hosted Go without risking corruption of the Go runtime's own
// thread-local state, so the ABI deviates from spec.md here deliberately
// (see DESIGN.md).
type GuestExecutionContext struct {
	Interrupt Interrupt
}

// Features is the boolean guest-ISA feature-flag set consulted by
// specialized intrinsic lowering (internal/translate) and by Bootstrap.
type Features map[string]bool

// Bootstrap runs borealis_register_init then __InitSystem through the
// interpreter to populate a fresh register file, before any translation
// exists (spec.md §4.6).
func Bootstrap(model *rudder.Model, regs *interp.RegisterFile, features Features) error {
	in := interp.New(model, regs, nil)
	in.Features = features
	if _, ok := model.Function("borealis_register_init"); ok {
		if _, err := in.Run("borealis_register_init"); err != nil {
			return errors.Wrap(err, "execctx: borealis_register_init")
		}
	}
	if _, ok := model.Function("__InitSystem"); ok {
		if _, err := in.Run("__InitSystem"); err != nil {
			return errors.Wrap(err, "execctx: __InitSystem")
		}
	}
	return nil
}
