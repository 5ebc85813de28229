package x86

import "github.com/avisi-group/borg-sub001/internal/backend/regalloc"

// blockSpiller buffers spill requests during one block's Allocate call and
// applies them afterward, rather than mutating the instruction slice while
// the allocator is still iterating over it by index.
type blockSpiller struct {
	fn      *Func
	reloads map[int][]*Instruction // instruction index -> reloads to insert before it
	spills  map[int][]*Instruction // instruction index -> spills to insert after it
}

func newBlockSpiller(fn *Func) *blockSpiller {
	return &blockSpiller{fn: fn, reloads: map[int][]*Instruction{}, spills: map[int][]*Instruction{}}
}

func (s *blockSpiller) AllocSlot() (int, error) { return s.fn.AllocSpillSlot() }

func (s *blockSpiller) InsertReloadBefore(i int, real regalloc.RealReg, slot int) {
	s.reloads[i] = append(s.reloads[i], &Instruction{
		Op: OpMov, Width: W64,
		Dst:  Reg(regalloc.FromReal(real, regalloc.RegTypeInt)),
		Src1: MemReal(regalloc.R14, int32(-8*slot)),
	})
}

func (s *blockSpiller) InsertSpillAfter(i int, real regalloc.RealReg, slot int) {
	s.spills[i] = append(s.spills[i], &Instruction{
		Op: OpMov, Width: W64,
		Dst:  MemReal(regalloc.R14, int32(-8*slot)),
		Src1: Reg(regalloc.FromReal(real, regalloc.RegTypeInt)),
	})
}

// apply rebuilds b.Instructions with every buffered reload/spill spliced in
// at the recorded index, using the ORIGINAL index space (the one Allocate
// saw), which is why this runs once at the end rather than incrementally.
func (s *blockSpiller) apply(b *X86Block) {
	if len(s.reloads) == 0 && len(s.spills) == 0 {
		return
	}
	out := make([]*Instruction, 0, len(b.Instructions))
	for i, in := range b.Instructions {
		out = append(out, s.reloads[i]...)
		out = append(out, in)
		out = append(out, s.spills[i]...)
	}
	b.Instructions = out
}

// physIntPool is the general-purpose registers available to the allocator,
// excluding rbp (register-file base), r14 (guest stack frame base), r13
// (guest execution context pointer -- the documented r13-for-fs deviation,
// see internal/execctx.GuestExecutionContext), and r15/rcx/rax/rdx which
// the lowering stage pins explicitly for ABI-fixed roles (the assert debug
// tag, shift count, divide), per spec.md §4.4/§6. rdi/rsi (the first two
// call-argument registers) are left in the pool: Translator.Run reads them
// into stack slots immediately on entry, so nothing after that point still
// needs them pinned.
var physIntPool = []regalloc.RealReg{
	regalloc.RBX, regalloc.RSI, regalloc.RDI,
	regalloc.R8, regalloc.R9, regalloc.R10, regalloc.R11, regalloc.R12,
}

// AllocateBlock runs the register allocator over one block's instructions
// and applies any spills it decided on.
func AllocateBlock(fn *Func, b *X86Block) error {
	instrs := make([]regalloc.Instr, len(b.Instructions))
	for i, in := range b.Instructions {
		instrs[i] = in
	}
	sp := newBlockSpiller(fn)
	if err := regalloc.Allocate(instrs, physIntPool, sp); err != nil {
		return err
	}
	sp.apply(b)
	return nil
}

// AllocateFunc runs AllocateBlock over every block of fn, in block order;
// block-local allocation means order between blocks does not matter for
// correctness (spec.md §4.4's "scope: per X86 block").
func AllocateFunc(fn *Func) error {
	for _, b := range fn.Blocks {
		if err := AllocateBlock(fn, b); err != nil {
			return err
		}
	}
	return nil
}
