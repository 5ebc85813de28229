// Package x86 lowers rudder's constant-folded graph into x86-64 machine
// code: a Node DAG (node.go), on-demand lowering into Instructions
// (lower.go), the per-block register allocator handoff (block.go), and byte
// encoding (encoder.go). Grounded on wazevo's backend/isa/amd64 package
// shape (Operand/Instruction/assembler split) per spec.md §4.2/§4.5,
// adapted from wazevo's SSA-value operands to rudder's Node graph.
package x86

import (
	"fmt"

	"github.com/avisi-group/borg-sub001/internal/backend/regalloc"
)

// Width is the bit width an instruction operates at, spec.md §4.5's
// "Width ∈ {_8,_16,_32,_64}".
type Width uint8

const (
	W8 Width = iota
	W16
	W32
	W64
)

func (w Width) Bytes() int {
	switch w {
	case W8:
		return 1
	case W16:
		return 2
	case W32:
		return 4
	default:
		return 8
	}
}

func (w Width) String() string {
	switch w {
	case W8:
		return "8"
	case W16:
		return "16"
	case W32:
		return "32"
	default:
		return "64"
	}
}

// OperandKind discriminates Operand's payload.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandImm
	OperandReg
	OperandMem
)

// Operand is a single x86 instruction operand: an immediate, a register (a
// VReg, possibly still virtual until the allocator runs), or a
// base+displacement memory reference ([base+disp]). A memory operand's base
// is itself a VReg (fixed registers go through MemReal below), so the
// allocator sees and tracks it exactly like any register operand -- see
// Instruction.Regs.
type Operand struct {
	Kind OperandKind

	Imm int64

	VReg regalloc.VReg

	MemBase regalloc.VReg
	MemDisp int32
}

func Imm(v int64) Operand         { return Operand{Kind: OperandImm, Imm: v} }
func Reg(v regalloc.VReg) Operand { return Operand{Kind: OperandReg, VReg: v} }

// Mem builds a [base+disp] memory operand whose base is a (possibly still
// virtual) VReg, for addresses computed by the lowering itself (e.g. a
// dynamic guest-memory access).
func Mem(base regalloc.VReg, disp int32) Operand {
	return Operand{Kind: OperandMem, MemBase: base, MemDisp: disp}
}

// MemReal builds a [base+disp] memory operand against a fixed host
// register -- rbp (register file), r14 (guest stack slots), r13 (guest
// execution context) -- that never goes through the allocator.
func MemReal(base regalloc.RealReg, disp int32) Operand {
	return Operand{Kind: OperandMem, MemBase: regalloc.FromReal(base, regalloc.RegTypeInt), MemDisp: disp}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandImm:
		return fmt.Sprintf("$%#x", o.Imm)
	case OperandReg:
		return o.VReg.String()
	case OperandMem:
		return fmt.Sprintf("%#x(%s)", o.MemDisp, o.MemBase)
	default:
		return "<none>"
	}
}
