package x86

import "github.com/avisi-group/borg-sub001/internal/backend/regalloc"

// X86Block is one linear run of lowered instructions with at most two
// successors, spec.md §4.3's lowering target for both static and dynamic
// continuations. Blocks are owned by a Func and addressed by index rather
// than pointer so the translator can link a successor before the successor
// itself has been populated.
type X86Block struct {
	ID           int
	Instructions []*Instruction
	Successors   [2]int // block IDs; -1 when absent
	Marked       bool   // visited flag for the translator's work-list walk

	// memo caches to_operand results for this block only: a Node used
	// twice inside one block lowers once, per spec.md §4.2's "memoizing
	// per current X86 block so that repeated uses share a vreg."
	memo map[*Node]Operand
}

func newX86Block(id int) *X86Block {
	return &X86Block{ID: id, Successors: [2]int{-1, -1}, memo: map[*Node]Operand{}}
}

func (b *X86Block) Emit(in *Instruction) {
	b.Instructions = append(b.Instructions, in)
}

func (b *X86Block) Label() Label { return Label(b.ID) }

// Func owns every X86Block produced while lowering one guest (rudder)
// function, plus the vreg id counter and spill-slot bookkeeping shared
// across all of that function's blocks.
type Func struct {
	Blocks []*X86Block

	nextVReg   uint32
	nextSpill  int
	spillBytes int
}

func NewFunc() *Func { return &Func{} }

func (f *Func) NewBlock() *X86Block {
	b := newX86Block(len(f.Blocks))
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Func) NewVReg(t regalloc.RegType) regalloc.VReg {
	id := f.nextVReg
	f.nextVReg++
	return regalloc.FromID(id, t)
}

// AllocSpillSlot implements regalloc.Spiller's slot half: an 8-byte-aligned,
// descending stack offset relative to r14 (the guest stack frame base,
// spec.md §6), auto-growing as the allocator requests more.
func (f *Func) AllocSpillSlot() (int, error) {
	f.nextSpill++
	f.spillBytes += 8
	return f.nextSpill, nil
}
