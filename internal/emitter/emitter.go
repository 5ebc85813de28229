// Package emitter is the host-agnostic, compositional API described in
// spec.md §4.1: building an Emitter call graph performs aggressive constant
// folding on construction, and every side-effecting call lowers
// immediately into the x86 backend's currently active block. The package
// is intentionally thin -- it owns no instruction representation of its
// own, delegating every non-trivial lowering decision to
// internal/backend/x86, which is also where the Node DAG type lives (kept
// one-directional to avoid an emitter<->x86 import cycle).
package emitter

import (
	"fmt"

	"github.com/avisi-group/borg-sub001/internal/backend/regalloc"
	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

// Value is either a fully constant-folded rudder.Constant or a graph Node
// still awaiting lowering; exactly one of Const/Node is set.
type Value struct {
	Const *rudder.Constant
	Node  *x86.Node
	Typ   rudder.Type
}

func constVal(c rudder.Constant) Value { return Value{Const: &c, Typ: c.Type()} }
func nodeVal(n *x86.Node) Value        { return Value{Node: n, Typ: n.Typ} }

func (v Value) IsConstant() bool { return v.Const != nil }

// toNode materializes a Value into a graph Node, wrapping a folded
// constant in a fresh NodeConstant when a consumer needs to lower it
// rather than fold it further (e.g. one operand of a binary op folded,
// the other did not).
func toNode(v Value) *x86.Node {
	if v.Node != nil {
		return v.Node
	}
	return &x86.Node{Kind: x86.NodeConstant, Typ: v.Typ, ConstVal: *v.Const}
}

// Emitter binds one Lowerer (and therefore one "currently active" X86
// block) to the constant-folding construction API.
type Emitter struct {
	low *x86.Lowerer
	cfg x86.Config

	// lastStaticPC tracks the most recent WriteRegister to cfg.PCOffset
	// whose value was a compile-time constant, for LeaveWithCache's chain
	// dispatch. A write of a non-constant (dynamic branch target) value
	// clears it: the next guest PC is then only known at runtime, which
	// this backend's per-block lowering has no way to chain through.
	lastStaticPC *uint64
}

func New(low *x86.Lowerer, cfg x86.Config) *Emitter { return &Emitter{low: low, cfg: cfg} }

func (e *Emitter) SetBlock(b *x86.X86Block) { e.low.SetBlock(b) }

// Constant rejects zero-width types, spec.md §4.1.
func (e *Emitter) Constant(c rudder.Constant) Value {
	if c.Width == 0 && c.Kind != rudder.ConstString && c.Kind != rudder.ConstTuple && c.Kind != rudder.ConstVector {
		panic("BUG: emitter: constant of zero-width type")
	}
	return constVal(c)
}

// argRegisters is spec.md §6's "rdi,rsi,rdx: first three call args".
var argRegisters = []regalloc.RealReg{regalloc.RDI, regalloc.RSI, regalloc.RDX}

// Arg returns the i-th call argument as it arrives in its ABI-fixed
// register, for i in 0..2 (spec.md §6).
func (e *Emitter) Arg(i int, t rudder.Type) Value {
	if i < 0 || i >= len(argRegisters) {
		panic(fmt.Sprintf("BUG: emitter: argument index %d exceeds the three ABI-fixed call-argument registers", i))
	}
	return nodeVal(&x86.Node{Kind: x86.NodeFixedRegister, Typ: t, FixedReg: argRegisters[i]})
}

func (e *Emitter) ReadRegister(offset uint64, t rudder.Type) Value {
	return nodeVal(&x86.Node{Kind: x86.NodeGuestRegister, Typ: t, RegisterOffset: offset})
}

// ReadStackVariable and WriteStackVariable access a promoted local
// variable's stack slot (spec.md §4.3), independent of guest registers.
func (e *Emitter) ReadStackVariable(slot int, t rudder.Type) Value {
	return nodeVal(&x86.Node{Kind: x86.NodeReadStackVariable, Typ: t, StackSlot: slot})
}

func (e *Emitter) WriteStackVariable(slot int, value Value) {
	e.low.EmitWriteStackVariable(slot, toNode(value))
}

// ReadMemory and WriteMemory access guest memory through the configured
// host mapping (spec.md §4.2's 40-bit canonical-window mask). ReadMemory
// produces a node since a load has no other side effect; WriteMemory is
// side-effecting and lowers immediately.
func (e *Emitter) ReadMemory(addr Value, t rudder.Type) Value {
	return nodeVal(&x86.Node{Kind: x86.NodeReadMemory, Typ: t, Addr: toNode(addr)})
}

func (e *Emitter) WriteMemory(addr, value Value) {
	e.low.EmitWriteMemory(toNode(addr), toNode(value))
}

// WriteRegister is side-effecting and lowers immediately. When offset
// matches one of the configured NZCV flag offsets and value is a
// bit-extract of a GetFlags node, it fuses into a direct setCC rather than
// materializing the flags byte (spec.md §4.1).
//
// A write to cfg.PCOffset is never elided or identity-folded away, even
// though every other WriteRegister path is free to fold: leave_with_cache's
// dispatch (x86.Lowerer.EmitLeaveWithCache) reads the guest's next PC back
// later in the same block, by way of LastStaticPC below, so the store must
// actually execute.
func (e *Emitter) WriteRegister(offset uint64, value Value) {
	if offset == e.cfg.PCOffset {
		if value.IsConstant() {
			pc := value.Const.Uint64()
			e.lastStaticPC = &pc
		} else {
			e.lastStaticPC = nil
		}
		e.low.EmitWriteRegister(offset, toNode(value))
		return
	}
	if cc, ok := e.flagFusion(offset, value); ok {
		e.low.EmitSetCCRegister(offset, cc)
		return
	}
	e.low.EmitWriteRegister(offset, toNode(value))
}

// LastStaticPC reports the guest PC the most recent write to cfg.PCOffset
// set, when that write's value was a compile-time constant (a direct
// branch or fallthrough), for the translator to decide whether this
// block's exit can use LeaveWithCache.
func (e *Emitter) LastStaticPC() (uint64, bool) {
	if e.lastStaticPC == nil {
		return 0, false
	}
	return *e.lastStaticPC, true
}

// flagFusion recognizes "write a single NZCV bit extracted from a
// GetFlags node" and returns the corresponding x86 condition code.
func (e *Emitter) flagFusion(offset uint64, value Value) (x86.CondCode, bool) {
	if value.Node == nil || value.Node.Kind != x86.NodeBitExtract {
		return 0, false
	}
	flags := value.Node.A
	if flags == nil || flags.Kind != x86.NodeGetFlags {
		return 0, false
	}
	if value.Node.Start == nil || value.Node.Start.Kind != x86.NodeConstant {
		return 0, false
	}
	bit := value.Node.Start.ConstVal.Uint64()
	switch offset {
	case e.cfg.NOffset:
		if bit == 3 {
			return x86.CondS, true
		}
	case e.cfg.ZOffset:
		if bit == 2 {
			return x86.CondE, true
		}
	case e.cfg.COffset:
		if bit == 1 {
			return x86.CondC, true
		}
	case e.cfg.VOffset:
		if bit == 0 {
			return x86.CondO, true
		}
	}
	return 0, false
}

// BinaryOperation applies spec.md §4.1's identity rules and full constant
// folding before ever constructing a graph node.
func (e *Emitter) BinaryOperation(kind rudder.BinaryOperationKind, lhs, rhs Value) Value {
	if lhs.IsConstant() && rhs.IsConstant() {
		return constVal(rudder.EvalBinary(kind, *lhs.Const, *rhs.Const))
	}
	if kind.IsComparison() {
		return nodeVal(&x86.Node{Kind: x86.NodeBinary, Typ: rudder.U1, BinaryKind: kind, A: toNode(lhs), B: toNode(rhs)})
	}
	if v, ok := e.foldIdentity(kind, lhs, rhs); ok {
		return v
	}
	t := lhs.Typ
	if lhs.IsConstant() {
		t = rhs.Typ
	}
	return nodeVal(&x86.Node{Kind: x86.NodeBinary, Typ: t, BinaryKind: kind, A: toNode(lhs), B: toNode(rhs)})
}

// foldIdentity implements "x+0=x, 0+x=x, x&0=0, x|0=x, x&mask(w)=x when
// x:uw and w in {8,16,32,64}" (spec.md §4.1).
func (e *Emitter) foldIdentity(kind rudder.BinaryOperationKind, lhs, rhs Value) (Value, bool) {
	isZero := func(v Value) bool { return v.IsConstant() && v.Const.IsZero() }
	switch kind {
	case rudder.BinaryAdd:
		if isZero(rhs) {
			return lhs, true
		}
		if isZero(lhs) {
			return rhs, true
		}
	case rudder.BinaryOr:
		if isZero(rhs) {
			return lhs, true
		}
		if isZero(lhs) {
			return rhs, true
		}
	case rudder.BinaryAnd:
		if isZero(rhs) || isZero(lhs) {
			return constVal(rudder.UnsignedInt(0, maxWidth(lhs.Typ, rhs.Typ))), true
		}
		if rhs.IsConstant() && isFullMask(*rhs.Const, lhs.Typ) {
			return lhs, true
		}
		if lhs.IsConstant() && isFullMask(*lhs.Const, rhs.Typ) {
			return rhs, true
		}
	}
	return Value{}, false
}

func maxWidth(a, b rudder.Type) uint16 {
	if a.Width > b.Width {
		return a.Width
	}
	return b.Width
}

func isFullMask(c rudder.Constant, t rudder.Type) bool {
	switch t.Width {
	case 8, 16, 32, 64:
		return c.Uint64() == rudder.Mask64(t.Width)
	default:
		return false
	}
}

// Cast evaluates immediately when input is constant; Reinterpret/Truncate
// on an identical type return the input unchanged (spec.md §4.1).
func (e *Emitter) Cast(value Value, target rudder.Type, kind rudder.CastOperationKind) Value {
	if (kind == rudder.CastReinterpret || kind == rudder.CastTruncate) && value.Typ.Equal(target) {
		return value
	}
	if value.IsConstant() {
		return constVal(rudder.EvalCast(kind, *value.Const, target))
	}
	return nodeVal(&x86.Node{Kind: x86.NodeCast, Typ: target, CastKind: kind, A: toNode(value)})
}

// Shift constant-folds with explicit overflow semantics (spec.md §4.1).
func (e *Emitter) Shift(kind rudder.ShiftOperationKind, value, amount Value) Value {
	if value.IsConstant() && amount.IsConstant() {
		return constVal(rudder.EvalShift(kind, *value.Const, *amount.Const))
	}
	return nodeVal(&x86.Node{Kind: x86.NodeShift, Typ: value.Typ, ShiftKind: kind, A: toNode(value), B: toNode(amount)})
}

// BitExtract constant-folds the closed-form when all operands are known;
// otherwise emits a node (for known start/length with unknown value, the
// lowering stage still prefers a single bextr -- see x86.lowerBitExtract --
// so no desugaring into shift/truncate/mask is needed here).
func (e *Emitter) BitExtract(value, start, length Value, resultType rudder.Type) Value {
	if value.IsConstant() && start.IsConstant() && length.IsConstant() {
		v := rudder.ExtractBits(value.Const.Uint64(), uint8(start.Const.Uint64()), uint8(length.Const.Uint64()))
		return constVal(rudder.UnsignedInt(v, resultType.Width))
	}
	return nodeVal(&x86.Node{Kind: x86.NodeBitExtract, Typ: resultType, A: toNode(value), Start: toNode(start), Length: toNode(length)})
}

func (e *Emitter) BitInsert(target, source, start, length Value) Value {
	if target.IsConstant() && source.IsConstant() && start.IsConstant() && length.IsConstant() {
		v := rudder.InsertBits(target.Const.Uint64(), source.Const.Uint64(), uint8(start.Const.Uint64()), uint8(length.Const.Uint64()))
		return constVal(rudder.UnsignedInt(v, target.Typ.Width))
	}
	return nodeVal(&x86.Node{Kind: x86.NodeBitInsert, Typ: target.Typ, A: toNode(target), B: toNode(source), Start: toNode(start), Length: toNode(length)})
}

func (e *Emitter) BitReplicate(value, unitWidth Value, resultType rudder.Type) Value {
	if value.IsConstant() && unitWidth.IsConstant() {
		v := rudder.ReplicateBits(value.Const.Uint64(), uint8(unitWidth.Const.Uint64()), uint8(resultType.Width))
		return constVal(rudder.UnsignedInt(v, resultType.Width))
	}
	return nodeVal(&x86.Node{Kind: x86.NodeBitReplicate, Typ: resultType, A: toNode(value), B: toNode(unitWidth)})
}

// AddWithCarry constant-folds via rudder.EvalAddWithCarry when every operand
// is known, discarding the nzcv half (a later GetFlags on this same Value
// reads it back); otherwise it builds the ternary node the x86 backend
// lowers into the atomic add/test-carry/add group (spec.md §4.2/§4.4).
func (e *Emitter) AddWithCarry(x, y, carryIn Value) Value {
	if x.IsConstant() && y.IsConstant() && carryIn.IsConstant() {
		sum, _ := rudder.EvalAddWithCarry(*x.Const, *y.Const, *carryIn.Const)
		return constVal(sum)
	}
	return nodeVal(&x86.Node{
		Kind: x86.NodeTernary, Typ: x.Typ, TernaryKind: rudder.TernaryAddWithCarry,
		A: toNode(x), B: toNode(y), C: toNode(carryIn),
	})
}

// Select returns the chosen arm directly when cond is constant.
func (e *Emitter) Select(cond, t, f Value) Value {
	if cond.IsConstant() {
		if cond.Const.Uint64() != 0 {
			return t
		}
		return f
	}
	return nodeVal(&x86.Node{Kind: x86.NodeSelect, Typ: t.Typ, A: toNode(cond), B: toNode(t), C: toNode(f)})
}

// GetFlags returns a tagged node whose lowering inserts the setCC
// sequence immediately after the flag-producing arithmetic.
func (e *Emitter) GetFlags(operation Value) Value {
	return nodeVal(&x86.Node{Kind: x86.NodeGetFlags, Typ: rudder.Unsigned(4), A: toNode(operation)})
}

func (e *Emitter) Branch(cond Value, trueBlk, falseBlk *x86.X86Block) {
	if cond.IsConstant() {
		if cond.Const.Uint64() != 0 {
			e.low.EmitJump(trueBlk)
		} else {
			e.low.EmitJump(falseBlk)
		}
		return
	}
	e.low.EmitBranch(toNode(cond), trueBlk, falseBlk)
}

func (e *Emitter) Jump(blk *x86.X86Block) { e.low.EmitJump(blk) }

func (e *Emitter) Leave(interruptPendingOffset, resultBits uint64) {
	e.low.EmitLeave(interruptPendingOffset, resultBits)
}

// LeaveWithCache is Leave's chain-cache-aware counterpart: knownPC is the
// guest PC LastStaticPC reported, and chainSlotAddr is that PC's
// already-resolved chain-cache slot address (internal/translate.ChainCache
// stays opaque to this package; the caller resolves the address to avoid an
// import cycle).
func (e *Emitter) LeaveWithCache(interruptPendingOffset, resultBits, knownPC uint64, chainSlotAddr uintptr) {
	e.low.EmitLeaveWithCache(interruptPendingOffset, resultBits, knownPC, chainSlotAddr)
}

func (e *Emitter) Panic(code uint8, debugTag uint64) {
	e.low.EmitPanic(code, debugTag)
}

func (e *Emitter) debugf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
