package x86

import "github.com/avisi-group/borg-sub001/internal/backend/regalloc"

// Op is the opcode mnemonic. Only the forms spec.md §4.2/§4.3.1 actually
// needs are represented; anything else is a lowering bug.
type Op uint8

const (
	OpMov Op = iota
	OpMovzx
	OpMovsx
	OpLea
	OpAdd
	OpSub
	OpImul
	OpIdiv // unsigned divide (div); name kept short to match the §4.2 prose
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpShl
	OpShr
	OpSar
	OpRol
	OpRor
	OpBextr
	OpTest
	OpCmp
	OpSetcc
	OpCmovcc
	OpCdq // sign-extend rax into rdx:rax (or eax into edx:eax) ahead of idiv
	OpJmp
	OpJmpIndirect // jmp r/m64: tail-transfer into a chain-cache hit's code pointer
	OpJcc
	OpCall
	OpRet
	OpInt
	OpLabel // pseudo-instruction marking a jump target for the encoder
)

// CondCode names the x86 condition used by Jcc/Setcc/Cmovcc.
type CondCode uint8

const (
	CondNE CondCode = iota
	CondE
	CondG
	CondGE
	CondL
	CondLE
	CondS // sign (negative)
	CondNS
	CondC // carry
	CondO // overflow
	CondAlways
)

// Label identifies a jump target within one X86Block's instruction stream;
// resolved to a byte offset by the encoder's first pass (spec.md §4.5).
type Label int

// Instruction is one lowered, not-yet-(or already-)allocated x86
// instruction. Dst/Src1/Src2's VReg fields are mutated in place by
// regalloc.Allocate, which is why Instruction satisfies regalloc.Instr by
// handing back pointers into its own storage.
type Instruction struct {
	Op    Op
	Width Width
	Cond  CondCode

	Dst, Src1, Src2 Operand

	Target Label

	// Group ties this instruction to its neighbors in an atomic lowering
	// group (Select's mov/test/cmovne triplet; an AddWithCarry immediately
	// fused with GetFlags), per spec.md §4.2/§4.4. Zero means ungrouped.
	Group int

	Comment string
}

func (in *Instruction) Regs() []*regalloc.VReg {
	var out []*regalloc.VReg
	for _, op := range [...]*Operand{&in.Dst, &in.Src1, &in.Src2} {
		switch op.Kind {
		case OperandReg:
			out = append(out, &op.VReg)
		case OperandMem:
			out = append(out, &op.MemBase)
		}
	}
	return out
}

func (in *Instruction) Defs() []*regalloc.VReg {
	switch in.Op {
	case OpCmp, OpTest, OpJmp, OpJmpIndirect, OpJcc, OpCall, OpRet, OpInt, OpLabel:
		return nil
	case OpCmovcc:
		// cmovcc's destination is conditionally preserved: model it as
		// both a use (Regs, above) and a def, which is exactly what keeps
		// the Select atomic group's register live across the whole group
		// under ordinary backward liveness (spec.md §4.2's "the allocator
		// must not deallocate dst between these three instructions").
		if in.Dst.Kind == OperandReg {
			return []*regalloc.VReg{&in.Dst.VReg}
		}
		return nil
	default:
		if in.Dst.Kind == OperandReg {
			return []*regalloc.VReg{&in.Dst.VReg}
		}
		return nil
	}
}

// GroupID satisfies regalloc.Instr.
func (in *Instruction) GroupID() int { return in.Group }
