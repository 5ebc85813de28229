// Package translate implements the Block Translator (spec.md §4.3): a
// work-list walk over one guest function's rudder blocks, lowering each
// through internal/emitter into internal/backend/x86, keeping every local
// variable in a function-wide stack slot (locals are never held in vregs
// between statements; each read reloads from the slot), and memoizing
// dynamic continuations by (rudder block, live-in variable map) so one
// rudder block can yield several x86 specializations.
package translate

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/emitter"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

// maxQueueDepth is the hard depth limit spec.md §4.3 calls for, "to catch
// runaway specialization."
const maxQueueDepth = 1000

// Sentinel errors callers can match against with errors.Is. translateBlock's
// early returns use errors.Wrapf(sentinel, ...) rather than errors.Errorf so
// the sentinel identity survives alongside the detail message and stack.
var (
	// ErrUnknownIntrinsic means a StmtCall named a target with neither a
	// builtin lowering (lowerBuiltin) nor a generic-call path.
	ErrUnknownIntrinsic = errors.New("translate: unrecognized call target")
	// ErrMalformedIR means the rudder function violates an invariant the
	// translator assumes (reading an unwritten variable, an unhandled
	// statement or ternary kind, a block without a terminator).
	ErrMalformedIR = errors.New("translate: malformed rudder IR")
	// ErrUnsupportedOperand means a statement is well-formed but the x86
	// backend has no lowering for the operand shape it was given (a
	// dynamic operand where only a constant-folded one is implemented).
	ErrUnsupportedOperand = errors.New("translate: operand has no x86 lowering")
)

// liveInKey identifies one dynamic specialization of a rudder block: the
// block itself plus a snapshot of which locals have already been written
// on the path reaching it (that write-before-read state is the only thing
// that can make two entries into the same rudder block require different
// x86 code, since every variable's stack slot address is assigned once,
// function-wide, the first time any path promotes it -- see
// Translator.slotFor).
type liveInKey struct {
	block   rudder.BlockID
	written string // stable encoding of which locals have been written
}

// workItem is one pending (rudder block, translation-time variable state)
// pair awaiting an x86 block. written tracks, for this path only, which
// local names have already had a WriteVariable lowered (and so are safe to
// ReadVariable); the slot each name maps to is function-wide, in
// Translator.slots.
type workItem struct {
	rudderBlock rudder.Ref[rudder.Block]
	written     map[string]bool
	x86Block    *x86.X86Block
}

// Translator owns one function's translation session: its x86.Func, the
// emitter bound to it, the specialized-intrinsic table, and the dynamic
// continuation memo.
type Translator struct {
	fn      *rudder.Function
	xfn     *x86.Func
	em      *emitter.Emitter
	low     *x86.Lowerer
	cfg     x86.Config
	memo    map[liveInKey]*x86.X86Block
	queue   []workItem
	depth   int

	slots     map[string]int
	slotTypes map[string]rudder.Type
	nextSlot  int

	exitBlock  *x86.X86Block
	panicBlock *x86.X86Block

	resultBits uint64
	interruptPendingOffset uint64

	// chainCache is the guest CPU's chain-cache, consulted by Run's exit
	// emission so a block whose terminator writes a compile-time-constant
	// PC can leave through EmitLeaveWithCache instead of always returning
	// to Go. Nil disables chaining (used by tests that have no Session).
	chainCache *ChainCache
}

// New creates a Translator for fn, ready to produce an x86.Func via
// Run. chainCache may be nil, in which case every exit returns to Go
// rather than attempting a chained dispatch.
func New(fn *rudder.Function, cfg x86.Config, interruptPendingOffset uint64, resultBits uint64, chainCache *ChainCache) *Translator {
	xfn := x86.NewFunc()
	low := x86.NewLowerer(xfn, cfg)
	return &Translator{
		fn: fn, xfn: xfn, low: low, em: emitter.New(low, cfg), cfg: cfg,
		memo:                   map[liveInKey]*x86.X86Block{},
		slots:                  map[string]int{},
		slotTypes:              map[string]rudder.Type{},
		interruptPendingOffset: interruptPendingOffset,
		resultBits:             resultBits,
		chainCache:             chainCache,
	}
}

// slotFor returns the function-wide stack slot assigned to local t, lazily
// assigning the next descending 8-byte-aligned offset on first use
// (spec.md §4.3's "auto-growing stack offset, descending, aligned to 8").
// Assigning slots once per name (not per dynamic path) keeps every
// specialization of a rudder block addressing the same memory for the
// same variable.
func (t *Translator) slotFor(name string, typ rudder.Type) int {
	if slot, ok := t.slots[name]; ok {
		return slot
	}
	slot, _ := t.xfn.AllocSpillSlot()
	t.slots[name] = slot
	t.slotTypes[name] = typ
	return slot
}

// Run walks fn from its entry block and returns the completed x86.Func.
func (t *Translator) Run() (*x86.Func, error) {
	t.exitBlock = t.xfn.NewBlock()
	t.panicBlock = t.xfn.NewBlock()
	t.em.SetBlock(t.panicBlock)
	t.em.Panic(0x53, 0)

	entryX86 := t.xfn.NewBlock()
	t.em.SetBlock(entryX86)
	written := map[string]bool{}
	for i, p := range t.fn.Parameters {
		arg := t.em.Arg(i, p.Typ)
		slot := t.slotFor(p.Name, p.Typ)
		t.em.WriteStackVariable(slot, arg)
		written[p.Name] = true
	}
	t.enqueue(workItem{rudderBlock: t.fn.EntryBlock, written: written, x86Block: entryX86})

	for len(t.queue) > 0 {
		item := t.queue[0]
		t.queue = t.queue[1:]
		if err := t.translateBlock(item); err != nil {
			return nil, err
		}
	}

	t.em.SetBlock(t.exitBlock)
	// Bit 0 marks "control returns to Go, go resolve the next PC
	// yourself" -- true of both this ordinary dynamic exit and
	// leave_with_cache's internal miss fallback, never true of a chain
	// hit (which jumps straight into the next translation and never
	// comes back through here at all).
	exitBits := t.resultBits | 1
	if pc, ok := t.em.LastStaticPC(); ok && t.chainCache != nil {
		t.em.LeaveWithCache(t.interruptPendingOffset, exitBits, pc, t.chainCache.SlotAddr(pc))
	} else {
		t.em.Leave(t.interruptPendingOffset, exitBits)
	}

	return t.xfn, nil
}

func (t *Translator) enqueue(item workItem) {
	t.depth++
	if t.depth > maxQueueDepth {
		panic(fmt.Sprintf("BUG: translate: work-list depth exceeded %d, runaway specialization", maxQueueDepth))
	}
	t.queue = append(t.queue, item)
}

func (t *Translator) translateBlock(item workItem) error {
	t.em.SetBlock(item.x86Block)
	blk := t.fn.Block(item.rudderBlock)
	written := item.written

	values := map[rudder.Ref[rudder.Statement]]emitter.Value{}
	resolve := func(r rudder.Ref[rudder.Statement]) emitter.Value {
		v, ok := values[r]
		if !ok {
			panic(fmt.Sprintf("BUG: translate: statement %v not yet lowered in this block", r))
		}
		return v
	}

	for i := 0; i < blk.Len(); i++ {
		ref := blk.At(i)
		s := blk.Get(ref)

		switch s.Kind {
		case rudder.StmtConstant:
			values[ref] = t.em.Constant(s.ConstVal)

		case rudder.StmtReadVariable:
			if !written[s.Sym.Name] {
				return errors.Wrapf(ErrMalformedIR, "read of unwritten variable %q", s.Sym.Name)
			}
			slot := t.slotFor(s.Sym.Name, s.Sym.Typ)
			values[ref] = t.em.ReadStackVariable(slot, s.Sym.Typ)

		case rudder.StmtWriteVariable:
			val := resolve(s.A)
			slot := t.slotFor(s.Sym.Name, val.Typ)
			t.em.WriteStackVariable(slot, val)
			written[s.Sym.Name] = true

		case rudder.StmtReadRegister:
			values[ref] = t.em.ReadRegister(resolve(s.A).Const.Uint64(), s.Typ)

		case rudder.StmtWriteRegister:
			offset := resolve(s.A).Const.Uint64()
			t.em.WriteRegister(offset, resolve(s.B))

		case rudder.StmtSizeOf:
			values[ref] = t.em.Constant(rudder.UnsignedInt(uint64(resolve(s.A).Typ.Width), 16))

		case rudder.StmtUnaryOperation:
			// constant-fold-only unary ops that x86 lowering does not
			// implement as direct instructions (Power2/Ceil/Floor etc.)
			// must already be constant at this point; anything else is a
			// translation bug in an upstream pass.
			if s.A.Valid() {
				a := resolve(s.A)
				if !a.IsConstant() {
					return errors.Wrapf(ErrUnsupportedOperand, "unary op %d on non-constant operand", s.UnaryKind)
				}
				values[ref] = t.em.Constant(rudder.EvalUnary(s.UnaryKind, *a.Const))
			}

		case rudder.StmtBinaryOperation:
			values[ref] = t.em.BinaryOperation(s.BinaryKind, resolve(s.A), resolve(s.B))

		case rudder.StmtShiftOperation:
			values[ref] = t.em.Shift(s.ShiftKind, resolve(s.A), resolve(s.B))

		case rudder.StmtCast, rudder.StmtBitsCast:
			values[ref] = t.em.Cast(resolve(s.A), s.Typ, s.CastKind)

		case rudder.StmtBitExtract:
			values[ref] = t.em.BitExtract(resolve(s.A), resolve(s.B), resolve(s.C), s.Typ)

		case rudder.StmtBitInsert:
			values[ref] = t.em.BitInsert(resolve(s.A), resolve(s.B), resolve(s.C), resolve(s.D))

		case rudder.StmtBitReplicate:
			values[ref] = t.em.BitReplicate(resolve(s.A), resolve(s.B), s.Typ)

		case rudder.StmtSelect:
			values[ref] = t.em.Select(resolve(s.A), resolve(s.B), resolve(s.C))

		case rudder.StmtGetFlags:
			values[ref] = t.em.GetFlags(resolve(s.A))

		case rudder.StmtCall:
			if v, ok := lowerBuiltin(t.em, s, resolve); ok {
				values[ref] = v
				break
			}
			return errors.Wrapf(ErrUnknownIntrinsic, "%q has no specialized lowering and generic calls are not implemented", s.CallTarget)

		case rudder.StmtTernaryOperation:
			if s.TernaryKind == rudder.TernaryAddWithCarry {
				values[ref] = lowerAddWithCarry(t.em, resolve(s.A), resolve(s.B), resolve(s.C))
				break
			}
			return errors.Wrapf(ErrMalformedIR, "unhandled ternary op %d", s.TernaryKind)

		case rudder.StmtAssert:
			cond := resolve(s.A)
			if cond.IsConstant() {
				if cond.Const.Uint64() == 0 {
					t.em.Panic(0x52, s.DebugSite.Tag())
				}
				break
			}
			return errors.Wrap(ErrUnsupportedOperand, "dynamic assert condition reached the translator untranslated (must be resolved by an upstream specialization pass)")

		case rudder.StmtUndefined:
			t.em.Panic(0x50, s.DebugSite.Tag())

		case rudder.StmtJump:
			return t.continueStatic(s.JumpTarget, written)

		case rudder.StmtBranch:
			cond := resolve(s.A)
			if cond.IsConstant() {
				if cond.Const.Uint64() != 0 {
					return t.continueStatic(s.TrueTarget, written)
				}
				return t.continueStatic(s.FalseTarget, written)
			}
			trueX := t.dynamicContinuation(s.TrueTarget, written)
			falseX := t.dynamicContinuation(s.FalseTarget, written)
			t.em.Branch(cond, trueX, falseX)
			return nil

		case rudder.StmtReturn:
			if s.HasReturnValue {
				val := resolve(s.A)
				slot := t.slotFor("borealis_fn_return_value", val.Typ)
				t.em.WriteStackVariable(slot, val)
			}
			t.em.Jump(t.exitBlock)
			return nil

		case rudder.StmtPanic:
			t.em.Jump(t.panicBlock)
			return nil

		case rudder.StmtMatchesUnion, rudder.StmtUnwrapUnion:
			return errors.Wrapf(ErrUnsupportedOperand, "union statement kind %d has no x86 lowering", s.Kind)

		default:
			return errors.Wrapf(ErrMalformedIR, "unhandled statement kind %d", s.Kind)
		}
	}
	return errors.Wrap(ErrMalformedIR, "block fell off the end without a terminator")
}

// continueStatic implements spec.md §4.3's static continuation: a fresh
// X86 block is linked before recursion.
func (t *Translator) continueStatic(target rudder.Ref[rudder.Block], written map[string]bool) error {
	xb := t.xfn.NewBlock()
	t.em.Jump(xb)
	t.enqueue(workItem{rudderBlock: target, written: cloneWritten(written), x86Block: xb})
	return nil
}

func (t *Translator) dynamicContinuation(target rudder.Ref[rudder.Block], written map[string]bool) *x86.X86Block {
	key := liveInKey{block: t.blockID(target), written: encodeWritten(written)}
	if xb, ok := t.memo[key]; ok {
		return xb
	}
	xb := t.xfn.NewBlock()
	t.memo[key] = xb
	t.enqueue(workItem{rudderBlock: target, written: cloneWritten(written), x86Block: xb})
	return xb
}

func (t *Translator) blockID(r rudder.Ref[rudder.Block]) rudder.BlockID {
	return t.fn.Block(r).ID
}

func cloneWritten(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func encodeWritten(written map[string]bool) string {
	names := make([]string, 0, len(written))
	for name, w := range written {
		if w {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	s := ""
	for _, name := range names {
		s += name + ";"
	}
	return s
}
