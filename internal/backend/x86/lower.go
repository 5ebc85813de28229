package x86

import (
	"fmt"

	"github.com/avisi-group/borg-sub001/internal/backend/regalloc"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

// Lowerer lowers Nodes into Instructions appended to one X86Block at a
// time, implementing spec.md §4.2's to_operand rules. A fresh Lowerer is
// not created per node: the translator keeps one bound to the "currently
// active" block and repoints it with SetBlock as control flow moves to a
// new block, per §4.1's "lowers immediately... into the currently active
// X86 block."
type Lowerer struct {
	fn  *Func
	blk *X86Block
	cfg Config
}

// Config mirrors spec.md §6's configuration options recognized by a
// translation context.
type Config struct {
	MemoryMask bool
	PCOffset   uint64
	NOffset, ZOffset, COffset, VOffset uint64
}

func NewLowerer(fn *Func, cfg Config) *Lowerer { return &Lowerer{fn: fn, cfg: cfg} }

func (l *Lowerer) SetBlock(b *X86Block) { l.blk = b }
func (l *Lowerer) Block() *X86Block     { return l.blk }

func (l *Lowerer) newVReg(t regalloc.RegType) regalloc.VReg { return l.fn.NewVReg(t) }

func widthOf(t rudder.Type) Width {
	switch {
	case t.Width <= 8:
		return W8
	case t.Width <= 16:
		return W16
	case t.Width <= 32:
		return W32
	default:
		return W64
	}
}

// ToOperand lowers node to an operand, memoized per current block so a
// Node referenced by more than one later statement lowers exactly once.
func (l *Lowerer) ToOperand(n *Node) Operand {
	if op, ok := l.blk.memo[n]; ok {
		return op
	}
	op := l.lower(n)
	l.blk.memo[n] = op
	return op
}

func (l *Lowerer) lower(n *Node) Operand {
	switch n.Kind {
	case NodeConstant:
		return l.lowerConstant(n)
	case NodeFunctionPointer:
		dst := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpLea, Width: W64, Dst: dst, Comment: n.FunctionName})
		return dst
	case NodeGuestRegister:
		return l.lowerGuestRegister(n)
	case NodeReadMemory:
		return l.lowerReadMemory(n)
	case NodeUnary:
		return l.lowerUnary(n)
	case NodeBinary:
		return l.lowerBinary(n)
	case NodeTernary:
		return l.lowerTernary(n)
	case NodeShift:
		return l.lowerShift(n)
	case NodeBitExtract:
		return l.lowerBitExtract(n)
	case NodeBitInsert:
		return l.lowerBitInsert(n)
	case NodeBitReplicate:
		return l.lowerBitReplicate(n)
	case NodeCast:
		return l.lowerCast(n)
	case NodeSelect:
		return l.lowerSelect(n)
	case NodeGetFlags:
		return l.lowerGetFlags(n)
	case NodeReadStackVariable:
		return MemReal(regalloc.R14, int32(-8*n.StackSlot))
	case NodeCallReturnValue:
		return Reg(regalloc.FromReal(regalloc.RAX, regalloc.RegTypeInt))
	case NodeFixedRegister:
		return Reg(regalloc.FromReal(n.FixedReg, regalloc.RegTypeInt))
	default:
		panic(fmt.Sprintf("BUG: x86: unhandled node kind %d in to_operand", n.Kind))
	}
}

// lowerConstant: an immediate, unless it is wider than 32 bits in a
// position that forbids one (spec.md §4.2), in which case it is
// materialized into a vreg with a mov.
func (l *Lowerer) lowerConstant(n *Node) Operand {
	v := n.ConstVal.Uint64()
	w := widthOf(n.Typ)
	if w != W64 || v <= 0x7fffffff {
		return Imm(int64(v))
	}
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: Imm(int64(v))})
	return dst
}

func (l *Lowerer) lowerGuestRegister(n *Node) Operand {
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	w := widthOf(n.Typ)
	l.blk.Emit(&Instruction{
		Op: OpMov, Width: w, Dst: dst,
		Src1:    MemReal(regalloc.RBP, int32(n.RegisterOffset)),
		Comment: "guest register",
	})
	return dst
}

// materializeBase turns any operand into a register-carrying VReg suitable
// for use as a memory operand's base: an already-register operand's VReg is
// reused directly (the allocator sees it as a use via Instruction.Regs,
// whatever block it was computed in), and an immediate is moved into a
// fresh vreg first, since x86 addressing has no immediate-base form.
func (l *Lowerer) materializeBase(addr Operand) regalloc.VReg {
	if addr.Kind == OperandReg {
		return addr.VReg
	}
	base := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: base, Src1: addr})
	return base.VReg
}

// lowerReadMemory applies the 40-bit canonical-window mask ahead of the
// load when Config.MemoryMask is on (spec.md §4.2: "maps the guest's upper
// canonical range into the host's low 40 bits").
func (l *Lowerer) lowerReadMemory(n *Node) Operand {
	addr := l.ToOperand(n.Addr)
	w := widthOf(n.Typ)
	if l.cfg.MemoryMask {
		masked := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: masked, Src1: addr})
		windowMask := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: windowMask, Src1: Imm(0x000000FFFFFFFFFF)})
		l.blk.Emit(&Instruction{Op: OpAnd, Width: W64, Dst: masked, Src1: masked, Src2: windowMask})
		addr = masked
	}
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	base := l.materializeBase(addr)
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: Mem(base, 0), Comment: "[addr],dst"})
	return dst
}

func (l *Lowerer) widenToCommon(a, b *Node) (Operand, Operand, Width) {
	wa, wb := widthOf(a.Typ), widthOf(b.Typ)
	common := wa
	if wb > common {
		common = wb
	}
	opA, opB := l.ToOperand(a), l.ToOperand(b)
	opA = l.widen(opA, wa, common, a.Typ.Kind == rudder.KindSigned)
	opB = l.widen(opB, wb, common, b.Typ.Kind == rudder.KindSigned)
	return opA, opB, common
}

func (l *Lowerer) widen(op Operand, from, to Width, signed bool) Operand {
	if from == to || op.Kind == OperandImm {
		return op
	}
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	kind := OpMovzx
	if signed {
		kind = OpMovsx
	}
	l.blk.Emit(&Instruction{Op: kind, Width: to, Dst: dst, Src1: op})
	return dst
}

func (l *Lowerer) lowerUnary(n *Node) Operand {
	src := l.ToOperand(n.A)
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	w := widthOf(n.Typ)
	var op Op
	switch n.UnaryKind {
	case rudder.UnaryNot, rudder.UnaryComplement:
		op = OpNot
	case rudder.UnaryNegate:
		op = OpNeg
	default:
		panic(fmt.Sprintf("BUG: x86: unary op %d has no direct x86 lowering; emitter must constant-fold it", n.UnaryKind))
	}
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: src})
	l.blk.Emit(&Instruction{Op: op, Width: w, Dst: dst})
	return dst
}

func (l *Lowerer) lowerBinary(n *Node) Operand {
	if n.BinaryKind.IsComparison() {
		return l.lowerCompare(n)
	}
	if n.BinaryKind == rudder.BinaryDivide || n.BinaryKind == rudder.BinaryModulo {
		return l.lowerDivMod(n)
	}
	a, b, w := l.widenToCommon(n.A, n.B)
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: a})
	var op Op
	switch n.BinaryKind {
	case rudder.BinaryAdd:
		op = OpAdd
	case rudder.BinarySub:
		op = OpSub
	case rudder.BinaryMultiply, rudder.BinaryPowI:
		op = OpImul
	case rudder.BinaryAnd:
		op = OpAnd
	case rudder.BinaryOr:
		op = OpOr
	case rudder.BinaryXor:
		op = OpXor
	default:
		panic(fmt.Sprintf("BUG: x86: unhandled binary op %d", n.BinaryKind))
	}
	l.blk.Emit(&Instruction{Op: op, Width: w, Dst: dst, Src1: dst, Src2: b})
	return dst
}

func (l *Lowerer) lowerCompare(n *Node) Operand {
	a, b, w := l.widenToCommon(n.A, n.B)
	l.blk.Emit(&Instruction{Op: OpCmp, Width: w, Src1: a, Src2: b})
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	var cc CondCode
	switch n.BinaryKind {
	case rudder.BinaryCompareEqual:
		cc = CondE
	case rudder.BinaryCompareNotEqual:
		cc = CondNE
	case rudder.BinaryCompareLessThan:
		cc = CondL
	case rudder.BinaryCompareLessThanOrEqual:
		cc = CondLE
	case rudder.BinaryCompareGreaterThan:
		cc = CondG
	case rudder.BinaryCompareGreaterThanOrEqual:
		cc = CondGE
	}
	l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: cc, Dst: dst})
	return dst
}

// lowerDivMod: spec.md §4.2 "operands must be 64-bit; dividend high is
// zeroed; idiv is emitted; quotient is rax, remainder is rdx."
func (l *Lowerer) lowerDivMod(n *Node) Operand {
	a, b, _ := l.widenToCommon(n.A, n.B)
	rax := Reg(regalloc.FromReal(regalloc.RAX, regalloc.RegTypeInt))
	rdx := Reg(regalloc.FromReal(regalloc.RDX, regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: rax, Src1: a})
	l.blk.Emit(&Instruction{Op: OpXor, Width: W64, Dst: rdx, Src1: rdx, Src2: rdx})
	l.blk.Emit(&Instruction{Op: OpIdiv, Width: W64, Src1: rax, Src2: b})
	if n.BinaryKind == rudder.BinaryDivide {
		return rax
	}
	return rdx
}

func (l *Lowerer) lowerTernary(n *Node) Operand {
	switch n.TernaryKind {
	case rudder.TernaryAddWithCarry:
		return l.lowerAddWithCarry(n)
	default:
		panic(fmt.Sprintf("BUG: x86: unhandled ternary op %d", n.TernaryKind))
	}
}

// lowerAddWithCarry produces the (sum, nzcv) tuple's sum half; GetFlags
// reads back the cpu flags this sequence leaves set (spec.md §4.2/§4.4's
// AddWithCarry+GetFlags atomic-group fusion).
func (l *Lowerer) lowerAddWithCarry(n *Node) Operand {
	a, b, w := l.widenToCommon(n.A, n.B)
	carry := l.ToOperand(n.C)
	group := l.fn.nextVReg + 1 // any value unique enough to tag this group
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: a, Group: int(group)})
	l.blk.Emit(&Instruction{Op: OpTest, Width: w, Src1: carry, Src2: Imm(1), Group: int(group)})
	l.blk.Emit(&Instruction{Op: OpAdd, Width: w, Dst: dst, Src1: dst, Src2: b, Group: int(group)})
	return dst
}

func (l *Lowerer) lowerShift(n *Node) Operand {
	val := l.ToOperand(n.A)
	amount := l.ToOperand(n.B)
	w := widthOf(n.Typ)
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: val})
	if amount.Kind != OperandImm {
		cl := Reg(regalloc.FromReal(regalloc.RCX, regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W8, Dst: cl, Src1: amount})
		amount = cl
	}
	var op Op
	switch n.ShiftKind {
	case rudder.ShiftLogicalLeft:
		op = OpShl
	case rudder.ShiftLogicalRight:
		op = OpShr
	case rudder.ShiftArithmeticRight:
		op = OpSar
	case rudder.ShiftRotateLeft:
		op = OpRol
	case rudder.ShiftRotateRight:
		op = OpRor
	}
	l.blk.Emit(&Instruction{Op: op, Width: w, Dst: dst, Src1: dst, Src2: amount})
	return dst
}

// lowerBitExtract: "emit a single bextr where the control byte is
// (length<<8) | start" (spec.md §4.2), when both start and length are
// already register/immediate operands.
func (l *Lowerer) lowerBitExtract(n *Node) Operand {
	val := l.ToOperand(n.A)
	start := l.ToOperand(n.Start)
	length := l.ToOperand(n.Length)
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	ctrl := dst
	if start.Kind == OperandImm && length.Kind == OperandImm {
		ctrl = Imm((length.Imm << 8) | start.Imm)
	} else {
		ctrlReg := Reg(l.newVReg(regalloc.RegTypeInt))
		lenShifted := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W32, Dst: lenShifted, Src1: length})
		l.blk.Emit(&Instruction{Op: OpShl, Width: W32, Dst: lenShifted, Src1: lenShifted, Src2: Imm(8)})
		l.blk.Emit(&Instruction{Op: OpMov, Width: W32, Dst: ctrlReg, Src1: start})
		l.blk.Emit(&Instruction{Op: OpOr, Width: W32, Dst: ctrlReg, Src1: ctrlReg, Src2: lenShifted})
		ctrl = ctrlReg
	}
	l.blk.Emit(&Instruction{Op: OpBextr, Width: widthOf(n.Typ), Dst: dst, Src1: val, Src2: ctrl})
	return dst
}

// lowerBitInsert: materialize mask ((1<<length)-1)<<start, clear that range
// of the target, shift source left by start, and with mask, or into
// target (spec.md §4.2).
func (l *Lowerer) lowerBitInsert(n *Node) Operand {
	target := l.ToOperand(n.A)
	source := l.ToOperand(n.B)
	w := widthOf(n.Typ)

	if n.Start.Kind != NodeConstant || n.Length.Kind != NodeConstant {
		panic("BUG: x86: BitInsert with non-constant start/length reached lowering; the emitter must desugar this to a generic shift/mask sequence")
	}
	start := n.Start.ConstVal.Uint64()
	length := n.Length.ConstVal.Uint64()
	mask := ((uint64(1) << length) - 1) << start

	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: target})
	l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: dst, Src1: dst, Src2: Imm(int64(^mask))})

	shifted := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: shifted, Src1: source})
	l.blk.Emit(&Instruction{Op: OpShl, Width: w, Dst: shifted, Src1: shifted, Src2: Imm(int64(start))})
	l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: shifted, Src1: shifted, Src2: Imm(int64(mask))})

	l.blk.Emit(&Instruction{Op: OpOr, Width: w, Dst: dst, Src1: dst, Src2: shifted})
	return dst
}

// unitMask returns the low-width all-ones mask, matching
// rudder.ReplicateBits' own masking of the unit value before each repeated
// OR (bits.go's ReplicateBits).
func unitMask(width uint8) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// lowerBitReplicate ports rudder.ReplicateBits' shift/or algorithm into the
// JIT: it tiles value's low unitWidth bits across n.Typ.Width, the same
// operation the interpreter performs directly on a uint64 (rudder's
// bits.go). unitWidth is a compile-time constant in the overwhelming
// majority of callers (a field-width literal), so that case is unrolled
// straight-line; a genuinely dynamic unit width still has to stay within
// this one X86Block (lowering has no cross-block vreg threading), so it is
// unrolled to the worst case and masked per iteration instead of branching.
func (l *Lowerer) lowerBitReplicate(n *Node) Operand {
	value := l.ToOperand(n.A)
	unit := l.ToOperand(n.B)
	w := widthOf(n.Typ)
	totalWidth := n.Typ.Width
	if totalWidth > 64 {
		totalWidth = 64
	}
	if unit.Kind == OperandImm {
		return l.lowerBitReplicateConstUnit(value, uint8(unit.Imm), totalWidth, w)
	}
	return l.lowerBitReplicateDynamicUnit(value, unit, totalWidth, w)
}

func (l *Lowerer) lowerBitReplicateConstUnit(value Operand, unitWidth uint8, totalWidth uint16, w Width) Operand {
	out := Reg(l.newVReg(regalloc.RegTypeInt))
	if unitWidth == 0 {
		l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: out, Src1: Imm(0)})
		return out
	}
	unitVal := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: unitVal, Src1: value})
	l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: unitVal, Src1: unitVal, Src2: Imm(int64(unitMask(unitWidth)))})
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: out, Src1: Imm(0)})
	for filled := uint16(0); filled < totalWidth; filled += uint16(unitWidth) {
		contribution := unitVal
		if filled > 0 {
			contribution = Reg(l.newVReg(regalloc.RegTypeInt))
			l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: contribution, Src1: unitVal})
			l.blk.Emit(&Instruction{Op: OpShl, Width: w, Dst: contribution, Src1: contribution, Src2: Imm(int64(filled))})
		}
		l.blk.Emit(&Instruction{Op: OpOr, Width: w, Dst: out, Src1: out, Src2: contribution})
	}
	if totalWidth < 64 {
		l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: out, Src1: out, Src2: Imm(int64(unitMask(uint8(totalWidth))))})
	}
	return out
}

// lowerBitReplicateDynamicUnit unrolls totalWidth iterations unconditionally
// (the worst case, unit==1) and zeroes each iteration's contribution once
// filled reaches totalWidth, via a Setcc/Movzx/Neg sequence turning a 0/1
// byte into an all-zero/all-one width-wide mask -- branch-free, so it never
// needs a second X86Block. A runtime unitWidth equal to totalWidth shifts by
// the full register width on its last active iteration, which x86 silently
// takes mod the operand width like every other dynamic shift in this
// backend (lowerShift has the same property for ordinary shifts).
func (l *Lowerer) lowerBitReplicateDynamicUnit(value, unit Operand, totalWidth uint16, w Width) Operand {
	cl := Reg(regalloc.FromReal(regalloc.RCX, regalloc.RegTypeInt))

	ones := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: ones, Src1: Imm(1)})
	l.blk.Emit(&Instruction{Op: OpMov, Width: W8, Dst: cl, Src1: unit})
	l.blk.Emit(&Instruction{Op: OpShl, Width: w, Dst: ones, Src1: ones, Src2: cl})
	l.blk.Emit(&Instruction{Op: OpSub, Width: w, Dst: ones, Src1: ones, Src2: Imm(1)})

	unitVal := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: unitVal, Src1: value})
	l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: unitVal, Src1: unitVal, Src2: ones})

	unitReg := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: unitReg, Src1: unit})

	out := Reg(l.newVReg(regalloc.RegTypeInt))
	filled := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: out, Src1: Imm(0)})
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: filled, Src1: Imm(0)})

	for i := uint16(0); i < totalWidth; i++ {
		active := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpCmp, Width: w, Src1: filled, Src2: Imm(int64(totalWidth))})
		l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: CondL, Dst: active})
		wideActive := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMovzx, Width: w, Dst: wideActive, Src1: active})
		l.blk.Emit(&Instruction{Op: OpNeg, Width: w, Dst: wideActive})

		shifted := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: shifted, Src1: unitVal})
		l.blk.Emit(&Instruction{Op: OpMov, Width: W8, Dst: cl, Src1: filled})
		l.blk.Emit(&Instruction{Op: OpShl, Width: w, Dst: shifted, Src1: shifted, Src2: cl})
		l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: shifted, Src1: shifted, Src2: wideActive})
		l.blk.Emit(&Instruction{Op: OpOr, Width: w, Dst: out, Src1: out, Src2: shifted})

		maskedUnit := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: maskedUnit, Src1: unitReg})
		l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: maskedUnit, Src1: maskedUnit, Src2: wideActive})
		l.blk.Emit(&Instruction{Op: OpAdd, Width: w, Dst: filled, Src1: filled, Src2: maskedUnit})
	}
	if totalWidth < 64 {
		l.blk.Emit(&Instruction{Op: OpAnd, Width: w, Dst: out, Src1: out, Src2: Imm(int64(unitMask(uint8(totalWidth))))})
	}
	return out
}

func (l *Lowerer) lowerCast(n *Node) Operand {
	src := l.ToOperand(n.A)
	w := widthOf(n.Typ)
	switch n.CastKind {
	case rudder.CastReinterpret, rudder.CastTruncate:
		if src.Kind == OperandReg {
			return Reg(regalloc.FromID(src.VReg.ID(), src.VReg.Type()))
		}
		return src
	case rudder.CastZeroExtend:
		dst := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMovzx, Width: w, Dst: dst, Src1: src})
		return dst
	case rudder.CastSignExtend:
		dst := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMovsx, Width: w, Dst: dst, Src1: src})
		return dst
	default:
		dst := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: src})
		return dst
	}
}

// lowerSelect implements spec.md §4.2's atomic mov/test/cmovne triplet.
func (l *Lowerer) lowerSelect(n *Node) Operand {
	cond := l.ToOperand(n.A)
	t := l.ToOperand(n.B)
	f := l.ToOperand(n.C)
	w := widthOf(n.Typ)
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	group := int(l.fn.nextVReg) + 1000000
	l.blk.Emit(&Instruction{Op: OpMov, Width: w, Dst: dst, Src1: f, Group: group})
	l.blk.Emit(&Instruction{Op: OpTest, Width: w, Src1: cond, Src2: cond, Group: group})
	l.blk.Emit(&Instruction{Op: OpCmovcc, Width: w, Cond: CondNE, Dst: dst, Src1: t, Group: group})
	return dst
}

// lowerGetFlags: its lowering inserts the four setCC instructions
// immediately after the flag-producing arithmetic (spec.md §4.1), reading
// cpu flags left set by the AddWithCarry group this node's A references.
func (l *Lowerer) lowerGetFlags(n *Node) Operand {
	dst := Reg(l.newVReg(regalloc.RegTypeInt))
	nibble := Reg(l.newVReg(regalloc.RegTypeInt))
	neg := Reg(l.newVReg(regalloc.RegTypeInt))
	zero := Reg(l.newVReg(regalloc.RegTypeInt))
	carry := Reg(l.newVReg(regalloc.RegTypeInt))
	overflow := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: CondS, Dst: neg})
	l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: CondE, Dst: zero})
	l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: CondC, Dst: carry})
	l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: CondO, Dst: overflow})
	l.blk.Emit(&Instruction{Op: OpShl, Width: W8, Dst: neg, Src1: neg, Src2: Imm(3)})
	l.blk.Emit(&Instruction{Op: OpShl, Width: W8, Dst: zero, Src1: zero, Src2: Imm(2)})
	l.blk.Emit(&Instruction{Op: OpShl, Width: W8, Dst: carry, Src1: carry, Src2: Imm(1)})
	l.blk.Emit(&Instruction{Op: OpMov, Width: W8, Dst: nibble, Src1: neg})
	l.blk.Emit(&Instruction{Op: OpOr, Width: W8, Dst: nibble, Src1: nibble, Src2: zero})
	l.blk.Emit(&Instruction{Op: OpOr, Width: W8, Dst: nibble, Src1: nibble, Src2: carry})
	l.blk.Emit(&Instruction{Op: OpMov, Width: W8, Dst: dst, Src1: nibble})
	l.blk.Emit(&Instruction{Op: OpOr, Width: W8, Dst: dst, Src1: dst, Src2: overflow})
	return dst
}

// EmitWriteRegister is side-effecting: it lowers immediately rather than
// producing a Node (spec.md §4.1). When offset matches one of the NZCV
// flag offsets in Config and value traces back to a GetFlags bit-extract,
// it fuses into a direct setCC instead of materializing the flags byte;
// that fusion decision is made by the emitter (which owns Config) before
// calling here, so this function only ever emits the generic mov form.
func (l *Lowerer) EmitWriteRegister(offset uint64, value *Node) {
	src := l.ToOperand(value)
	if src.Kind == OperandMem {
		tmp := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: widthOf(value.Typ), Dst: tmp, Src1: src})
		src = tmp
	}
	l.blk.Emit(&Instruction{Op: OpMov, Width: widthOf(value.Typ), Dst: MemReal(regalloc.RBP, int32(offset)), Src1: src})
}

// EmitWriteStackVariable stores value into the function-wide stack slot
// used for a promoted local variable (spec.md §4.3's "promoted to a stack
// slot" locals), addressed relative to r14 like AllocSpillSlot's slots.
func (l *Lowerer) EmitWriteStackVariable(slot int, value *Node) {
	src := l.ToOperand(value)
	if src.Kind == OperandMem {
		tmp := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: widthOf(value.Typ), Dst: tmp, Src1: src})
		src = tmp
	}
	l.blk.Emit(&Instruction{Op: OpMov, Width: widthOf(value.Typ), Dst: MemReal(regalloc.R14, int32(-8*slot)), Src1: src})
}

// EmitWriteMemory is the store counterpart of lowerReadMemory: side-effecting,
// so it lowers immediately rather than producing a Node, and applies the same
// 40-bit canonical-window mask when Config.MemoryMask is on.
func (l *Lowerer) EmitWriteMemory(addr, value *Node) {
	addrOp := l.ToOperand(addr)
	if l.cfg.MemoryMask {
		masked := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: masked, Src1: addrOp})
		windowMask := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: windowMask, Src1: Imm(0x000000FFFFFFFFFF)})
		l.blk.Emit(&Instruction{Op: OpAnd, Width: W64, Dst: masked, Src1: masked, Src2: windowMask})
		addrOp = masked
	}
	base := l.materializeBase(addrOp)
	src := l.ToOperand(value)
	if src.Kind == OperandMem {
		tmp := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: widthOf(value.Typ), Dst: tmp, Src1: src})
		src = tmp
	}
	l.blk.Emit(&Instruction{Op: OpMov, Width: widthOf(value.Typ), Dst: Mem(base, 0), Src1: src, Comment: "dst,[addr]"})
}

// EmitSetCCRegister is the fused form spec.md §4.1 describes: a direct
// setCC straight into the flag register's memory slot.
func (l *Lowerer) EmitSetCCRegister(offset uint64, cond CondCode) {
	l.blk.Emit(&Instruction{Op: OpSetcc, Width: W8, Cond: cond, Dst: MemReal(regalloc.RBP, int32(offset))})
}

func (l *Lowerer) EmitJump(target *X86Block) {
	l.blk.Successors[0] = target.ID
	l.blk.Emit(&Instruction{Op: OpJmp, Target: target.Label()})
}

// EmitBranch appends test+jne+jmp per spec.md §4.3 ("dynamic condition ->
// two dynamic continuations; test+jne+jmp is emitted").
func (l *Lowerer) EmitBranch(cond *Node, trueBlk, falseBlk *X86Block) {
	c := l.ToOperand(cond)
	l.blk.Successors[0] = trueBlk.ID
	l.blk.Successors[1] = falseBlk.ID
	l.blk.Emit(&Instruction{Op: OpTest, Width: W8, Src1: c, Src2: c})
	l.blk.Emit(&Instruction{Op: OpJcc, Cond: CondNE, Target: trueBlk.Label()})
	l.blk.Emit(&Instruction{Op: OpJmp, Target: falseBlk.Label()})
}

// EmitLeave: "moves the guest interrupt-pending flag into rax bit 1, ORs
// the translation's execution-result bits, and returns" (spec.md §4.1).
func (l *Lowerer) EmitLeave(interruptPendingOffset uint64, resultBits uint64) {
	rax := Reg(regalloc.FromReal(regalloc.RAX, regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: rax, Src1: Imm(int64(resultBits))})
	pending := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W32, Dst: pending, Src1: MemReal(regalloc.R13, int32(interruptPendingOffset)), Comment: "ctx:interrupt_pending"})
	anyLine := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W32, Dst: anyLine, Src1: pending})
	l.blk.Emit(&Instruction{Op: OpNeg, Width: W32, Dst: anyLine})
	l.blk.Emit(&Instruction{Op: OpOr, Width: W32, Dst: anyLine, Src1: anyLine, Src2: pending})
	l.blk.Emit(&Instruction{Op: OpShr, Width: W32, Dst: anyLine, Src1: anyLine, Src2: Imm(31)})
	l.blk.Emit(&Instruction{Op: OpShl, Width: W32, Dst: anyLine, Src1: anyLine, Src2: Imm(1)})
	l.blk.Emit(&Instruction{Op: OpOr, Width: W64, Dst: rax, Src1: rax, Src2: anyLine})
	l.blk.Emit(&Instruction{Op: OpRet})
}

// EmitLeaveWithCache implements spec.md §4.1/§4.7's block-chaining fast
// path, for the case where the guest's next PC (knownPC) is a compile-time
// constant: the chain-cache slot address for that PC is then itself a
// compile-time constant (the direct-mapped index only depends on pc), so no
// runtime index computation is needed at all. It compares the slot's stored
// tag against knownPC; on a match it loads the slot's code pointer and
// jumps straight into it without ever returning to the host loop (the
// chained-into code's own eventual ret unwinds back through the original
// host-to-guest call, see internal/execctx's trampoline); on a mismatch (a
// cold slot, or one holding a different translation) it falls back to the
// ordinary EmitLeave, which always reports a chain-miss/dynamic-exit via
// resultBits' low bit (set by the translator, not here).
//
// Chaining a dynamic (non-constant) next PC is out of scope: the chain slot
// address would then have to be computed at runtime from a value that only
// exists in the current X86Block, and this backend's register allocator and
// ToOperand memoization are both scoped per block.
func (l *Lowerer) EmitLeaveWithCache(interruptPendingOffset uint64, resultBits uint64, knownPC uint64, chainSlotAddr uintptr) {
	hit := l.fn.NewBlock()
	miss := l.fn.NewBlock()

	slotBase := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: slotBase, Src1: Imm(int64(chainSlotAddr)), Comment: "chain cache slot"})
	tag := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: tag, Src1: Mem(slotBase.VReg, 0)})

	knownPCOperand := Imm(int64(knownPC))
	if knownPC > 0x7fffffff {
		wide := Reg(l.newVReg(regalloc.RegTypeInt))
		l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: wide, Src1: Imm(int64(knownPC))})
		knownPCOperand = wide
	}
	l.blk.Emit(&Instruction{Op: OpCmp, Width: W64, Src1: tag, Src2: knownPCOperand})
	l.blk.Successors[0] = hit.ID
	l.blk.Successors[1] = miss.ID
	l.blk.Emit(&Instruction{Op: OpJcc, Cond: CondE, Target: hit.Label()})
	l.blk.Emit(&Instruction{Op: OpJmp, Target: miss.Label()})

	l.SetBlock(hit)
	hitBase := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: hitBase, Src1: Imm(int64(chainSlotAddr))})
	codePtr := Reg(l.newVReg(regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: codePtr, Src1: Mem(hitBase.VReg, 8), Comment: "chain cache code ptr"})
	l.blk.Emit(&Instruction{Op: OpJmpIndirect, Width: W64, Src1: codePtr})

	l.SetBlock(miss)
	l.EmitLeave(interruptPendingOffset, resultBits)
}

func (l *Lowerer) EmitPanic(code uint8, debugTag uint64) {
	r15 := Reg(regalloc.FromReal(regalloc.R15, regalloc.RegTypeInt))
	l.blk.Emit(&Instruction{Op: OpMov, Width: W64, Dst: r15, Src1: Imm(int64(debugTag))})
	l.blk.Emit(&Instruction{Op: OpInt, Width: W8, Src1: Imm(int64(code))})
}
