package regalloc

import "github.com/pkg/errors"

// ErrRegisterAllocation is returned when no spill slot is available, the
// one translation-time-recoverable failure mode named in spec.md §4.4/§7.
var ErrRegisterAllocation = errors.New("register allocation failed: stack exhausted")

// Instr is the minimal view the allocator needs of one lowered x86
// instruction. Regs returns every VReg operand (read or written); Defs
// returns the subset that this instruction writes. Both slices alias into
// the instruction's own storage so assignments made through them are
// visible to the encoder afterwards.
type Instr interface {
	Regs() []*VReg
	Defs() []*VReg
	// GroupID ties a run of consecutive instructions together: a nonzero
	// value shared by this instruction and its immediate neighbors marks an
	// atomic group (Select's mov/test/cmovne triplet, an AddWithCarry
	// immediately fused with GetFlags) whose live vregs the allocator must
	// not spill mid-group, per spec.md §4.4.
	GroupID() int
}

// Spiller is supplied by the caller (the x86 backend) to materialize a
// spill slot and the loads/stores around it; the allocator only decides
// *when* a vreg must spill, not how a spill instruction is encoded.
type Spiller interface {
	// AllocSlot returns a fresh spill-stack slot id, or an error if the
	// stack is exhausted (ErrRegisterAllocation).
	AllocSlot() (int, error)
	// InsertReloadBefore inserts "mov real, [slot]" immediately before
	// instruction index i.
	InsertReloadBefore(i int, real RealReg, slot int)
	// InsertSpillAfter inserts "mov [slot], real" immediately after
	// instruction index i.
	InsertSpillAfter(i int, real RealReg, slot int)
}

// Allocate runs the backward-walk register allocator described in spec.md
// §4.4 over one X86Block's instruction list. physInts is the pool of
// general-purpose physical registers available to allocate (already
// excluding rbp/r14, which are reserved ABI registers per spec.md §6).
//
// Physical registers fixed by the ABI before Allocate runs (call argument
// slots, rax/rdx around idiv, cl for shift counts) arrive as VRegs with
// IsReal() already true; Allocate leaves those untouched: it neither
// assigns, frees nor spills them, and does not track their live ranges.
func Allocate(instrs []Instr, physInts []RealReg, sp Spiller) error {
	free := append([]RealReg(nil), physInts...)
	assigned := map[uint32]RealReg{}
	live := map[uint32]bool{}
	pinnedUntil := map[uint32]int{} // vreg id -> instruction index below which it must not be spilled

	// First pass: compute, for every vreg referenced inside a nonzero
	// group, the earliest instruction index of its group -- the
	// "pinned until" boundary a spill must not cross while walking
	// backward through that group.
	groupStart := map[int]int{}
	for i, in := range instrs {
		g := in.GroupID()
		if g == 0 {
			continue
		}
		if _, ok := groupStart[g]; !ok {
			groupStart[g] = i
		}
	}
	for i, in := range instrs {
		g := in.GroupID()
		if g == 0 {
			continue
		}
		for _, r := range in.Regs() {
			if !r.IsReal() {
				pinnedUntil[r.ID()] = groupStart[g]
			}
		}
	}

	popFree := func() (RealReg, bool) {
		if len(free) == 0 {
			return RealRegInvalid, false
		}
		r := free[len(free)-1]
		free = free[:len(free)-1]
		return r, true
	}
	pushFree := func(r RealReg) { free = append(free, r) }

	for i := len(instrs) - 1; i >= 0; i-- {
		in := instrs[i]

		for _, d := range in.Defs() {
			if d.IsReal() {
				continue
			}
			if r, ok := assigned[d.ID()]; ok {
				pushFree(r)
				delete(assigned, d.ID())
			}
			delete(live, d.ID())
		}

		for _, u := range in.Regs() {
			if u.IsReal() {
				continue
			}
			if _, ok := assigned[u.ID()]; ok {
				live[u.ID()] = true
				continue
			}
			r, ok := popFree()
			if !ok {
				victim, verr := spillVictim(assigned, live, pinnedUntil, i)
				if verr != nil {
					return verr
				}
				slot, serr := sp.AllocSlot()
				if serr != nil {
					return serr
				}
				vr := assigned[victim]
				sp.InsertReloadBefore(i+1, vr, slot)
				sp.InsertSpillAfter(i, vr, slot)
				delete(assigned, victim)
				delete(live, victim)
				r = vr
			}
			assigned[u.ID()] = r
			live[u.ID()] = true
		}
	}

	for _, in := range instrs {
		for _, r := range in.Regs() {
			if !r.IsReal() {
				if real, ok := assigned[r.ID()]; ok {
					*r = r.SetReal(real)
				}
			}
		}
	}
	return nil
}

// spillVictim picks a currently-assigned, currently-live vreg to evict,
// refusing any vreg pinned by an in-progress atomic group at instruction
// index i.
func spillVictim(assigned map[uint32]RealReg, live map[uint32]bool, pinnedUntil map[uint32]int, i int) (uint32, error) {
	for id := range live {
		if boundary, pinned := pinnedUntil[id]; pinned && i <= boundary {
			continue
		}
		if _, ok := assigned[id]; ok {
			return id, nil
		}
	}
	return 0, ErrRegisterAllocation
}
