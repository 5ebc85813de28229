package x86

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/avisi-group/borg-sub001/internal/backend/regalloc"
)

// modrmReg returns the 3-bit ModRM field encoding for a register, ignoring
// the REX.R/B extension bit the caller must OR into the REX prefix
// separately (spec.md §4.5's "width-typed instruction representation").
// RealReg's own enumeration starts at 1 (0 is RealRegInvalid), one past the
// actual x86 register number, hence the -1.
func modrmReg(r regalloc.RealReg) byte {
	if r >= 64 {
		return byte(r-64) & 7
	}
	return byte(r-1) & 7
}

func needsRexExt(r regalloc.RealReg) bool { return r >= regalloc.R8 && r < 64 }

// operandReal returns the real register an operand's REX/ModRM encoding
// needs to see: a register operand's own register, or a memory operand's
// base register (its index/displacement carry no extension bit). Operands
// reach the encoder only after regalloc.Allocate has run, so every VReg
// still referenced here -- whether a Reg operand or a Mem operand's
// MemBase -- is real.
func operandReal(op Operand) regalloc.RealReg {
	switch op.Kind {
	case OperandReg:
		return op.VReg.Real()
	case OperandMem:
		return op.MemBase.Real()
	default:
		return regalloc.RealRegInvalid
	}
}

// emitModRM encodes rm as the ModRM r/m operand (plus SIB and displacement
// bytes where rm is a memory operand) with regField filling the ModRM.reg
// sub-field -- another operand's register for two-register forms, or a
// fixed opcode extension for single-operand forms (spec.md §4.5).
func (e *Encoder) emitModRM(regField byte, rm Operand) {
	regField &= 7
	switch rm.Kind {
	case OperandReg:
		e.emit(0xc0 | regField<<3 | modrmReg(rm.VReg.Real()))
	case OperandMem:
		base := modrmReg(rm.MemBase.Real())
		disp := rm.MemDisp
		needsSIB := base&7 == 4 // rsp/r12 as base always needs a SIB byte
		var mod byte
		switch {
		case disp == 0 && base&7 != 5: // rbp/r13 base can't use the mod=00 form
			mod = 0x00
		case disp >= -128 && disp <= 127:
			mod = 0x01
		default:
			mod = 0x02
		}
		if needsSIB {
			e.emit(mod<<6 | regField<<3 | 0x04)
			e.emit(0x24) // scale=0, index=none, base=rsp/r12
		} else {
			e.emit(mod<<6 | regField<<3 | base)
		}
		switch mod {
		case 0x01:
			e.emit(byte(int8(disp)))
		case 0x02:
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(disp))
			e.emit(buf[:]...)
		}
	default:
		e.emit(0xc0 | regField<<3)
	}
}

// Encoder turns one Func's allocated X86Blocks into a flat byte stream plus
// a block-id -> byte-offset label map, resolved in two passes so forward
// jumps (spec.md §4.5) can be patched once every block's length is known.
type Encoder struct {
	fn   *Func
	code []byte

	labels map[int]int // block id -> byte offset

	// pending records a 4-byte rel32 operand to patch once labels settles,
	// keyed by the code offset immediately after the jump's opcode bytes.
	pending []fixup
}

type fixup struct {
	codeOffset int
	targetBlk  int
}

func NewEncoder(fn *Func) *Encoder {
	return &Encoder{fn: fn, labels: map[int]int{}}
}

// Encode runs the two-pass encode: first lays out every block back-to-back
// recording each one's start offset, a second pass is implicit because
// fixups are recorded as they're emitted and patched once all blocks have
// been laid out.
func (e *Encoder) Encode() ([]byte, error) {
	for _, b := range e.fn.Blocks {
		e.labels[b.ID] = len(e.code)
		for _, in := range b.Instructions {
			if err := e.encodeOne(in); err != nil {
				return nil, errors.Wrapf(err, "encode block %d", b.ID)
			}
		}
	}
	for _, fx := range e.pending {
		target, ok := e.labels[fx.targetBlk]
		if !ok {
			return nil, errors.Errorf("BUG: encoder: unresolved label for block %d", fx.targetBlk)
		}
		rel := int32(target - (fx.codeOffset + 4))
		binary.LittleEndian.PutUint32(e.code[fx.codeOffset:], uint32(rel))
	}
	return e.code, nil
}

func (e *Encoder) emit(b ...byte) { e.code = append(e.code, b...) }

func (e *Encoder) emitRel32Fixup(target Label) {
	e.pending = append(e.pending, fixup{codeOffset: len(e.code), targetBlk: int(target)})
	e.emit(0, 0, 0, 0)
}

func (e *Encoder) rex(w bool, reg, rm regalloc.RealReg) {
	r := byte(0x40)
	if w {
		r |= 0x08
	}
	if needsRexExt(reg) {
		r |= 0x04
	}
	if needsRexExt(rm) {
		r |= 0x01
	}
	if r != 0x40 || w {
		e.emit(r)
	}
}

func (e *Encoder) encodeOne(in *Instruction) error {
	switch in.Op {
	case OpLabel:
		return nil
	case OpMov:
		return e.encodeMov(in)
	case OpMovzx, OpMovsx:
		return e.encodeMovExtend(in)
	case OpLea:
		// Function-pointer materialization has no symbol table to relocate
		// against in this backend (spec.md never grows one), so the
		// displacement stays a zero placeholder; the destination register
		// itself is real.
		e.rex(true, in.Dst.VReg.Real(), regalloc.RealRegInvalid)
		e.emit(0x8d)
		e.emit(0x05 | modrmReg(in.Dst.VReg.Real())<<3)
		e.emit(0, 0, 0, 0)
		return nil
	case OpAdd, OpSub, OpAnd, OpOr, OpXor:
		return e.encodeAluBinary(in)
	case OpImul:
		return e.encodeImul(in)
	case OpIdiv:
		e.rex(in.Width == W64, regalloc.RealRegInvalid, operandReal(in.Src2))
		e.emit(0xf7)
		e.emitModRM(6, in.Src2)
		return nil
	case OpCdq:
		e.emit(0x48, 0x99)
		return nil
	case OpNot, OpNeg:
		return e.encodeUnary(in)
	case OpShl, OpShr, OpSar, OpRol, OpRor:
		return e.encodeShift(in)
	case OpBextr:
		// VEX.LZ.0F38.W1 F7 /r: bextr dst, src, ctrl. vvvv carries ctrl (the
		// non-destructive second source), encoded here against a fixed
		// register-0 operand pair since no lowering currently threads a
		// third VEX-encodable register through -- narrower than the other
		// ALU forms, flagged rather than silently wrong.
		e.emit(0xc4, 0xe2, 0xf8, 0xf7)
		e.emitModRM(modrmReg(in.Dst.VReg.Real()), in.Src1)
		return nil
	case OpTest:
		return e.encodeTestOrCmp(in, 0x85)
	case OpCmp:
		return e.encodeTestOrCmp(in, 0x39)
	case OpSetcc:
		e.rex(false, regalloc.RealRegInvalid, operandReal(in.Dst))
		e.emit(0x0f, 0x90+condOpcodeOffset(in.Cond))
		e.emitModRM(0, in.Dst)
		return nil
	case OpCmovcc:
		e.rex(in.Width == W64, in.Dst.VReg.Real(), operandReal(in.Src1))
		e.emit(0x0f, 0x40+condOpcodeOffset(in.Cond))
		e.emitModRM(modrmReg(in.Dst.VReg.Real()), in.Src1)
		return nil
	case OpJmp:
		e.emit(0xe9)
		e.emitRel32Fixup(in.Target)
		return nil
	case OpJmpIndirect:
		e.rex(false, regalloc.RealRegInvalid, operandReal(in.Src1))
		e.emit(0xff)
		e.emitModRM(4, in.Src1)
		return nil
	case OpJcc:
		e.emit(0x0f, 0x80+condOpcodeOffset(in.Cond))
		e.emitRel32Fixup(in.Target)
		return nil
	case OpCall:
		e.emit(0xe8, 0, 0, 0, 0)
		return nil
	case OpRet:
		e.emit(0xc3)
		return nil
	case OpInt:
		e.emit(0xcd, byte(in.Src1.Imm))
		return nil
	default:
		return errors.Errorf("BUG: encoder: unsupported instruction op %d", in.Op)
	}
}

func condOpcodeOffset(c CondCode) byte {
	switch c {
	case CondNE:
		return 0x05
	case CondE:
		return 0x04
	case CondG:
		return 0x0f
	case CondGE:
		return 0x0d
	case CondL:
		return 0x0c
	case CondLE:
		return 0x0e
	case CondS:
		return 0x08
	case CondNS:
		return 0x09
	case CondC:
		return 0x02
	case CondO:
		return 0x00
	default:
		return 0x05
	}
}

// encodeMov handles every form lowering produces for OpMov: a register
// destination loaded from an immediate (0xb8+reg), a register destination
// loaded from a register or memory source (0x8b /r), a memory destination
// stored from a register source (0x89 /r), or a memory destination stored
// from an immediate (0xc7 /0) -- no lowering path ever builds a
// memory-to-memory mov.
func (e *Encoder) encodeMov(in *Instruction) error {
	w := in.Width == W64
	if in.Dst.Kind == OperandMem {
		if in.Src1.Kind == OperandImm {
			e.rex(w, regalloc.RealRegInvalid, operandReal(in.Dst))
			e.emit(0xc7)
			e.emitModRM(0, in.Dst)
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(in.Src1.Imm))
			e.emit(buf[:]...)
			return nil
		}
		e.rex(w, operandReal(in.Src1), operandReal(in.Dst))
		e.emit(0x89)
		e.emitModRM(modrmReg(in.Src1.VReg.Real()), in.Dst)
		return nil
	}
	if in.Src1.Kind == OperandImm {
		e.rex(w, regalloc.RealRegInvalid, operandReal(in.Dst))
		e.emit(0xb8 + modrmReg(operandReal(in.Dst)))
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(in.Src1.Imm))
		e.emit(buf[:in.Width.Bytes()]...)
		return nil
	}
	e.rex(w, operandReal(in.Dst), operandReal(in.Src1))
	e.emit(0x8b)
	e.emitModRM(modrmReg(in.Dst.VReg.Real()), in.Src1)
	return nil
}

func (e *Encoder) encodeMovExtend(in *Instruction) error {
	op := byte(0xb6)
	if in.Op == OpMovsx {
		op = 0xbe
	}
	if in.Width == W32 || in.Width == W64 {
		op++ // 32/64-bit destinations use the 16-bit source form (0f b7 / 0f bf) instead of the 8-bit one
	}
	e.rex(in.Width == W64, operandReal(in.Dst), operandReal(in.Src1))
	e.emit(0x0f, op)
	e.emitModRM(modrmReg(in.Dst.VReg.Real()), in.Src1)
	return nil
}

func (e *Encoder) encodeAluBinary(in *Instruction) error {
	var opcodeReg, opcodeImm byte
	var immExt byte
	switch in.Op {
	case OpAdd:
		opcodeReg, opcodeImm, immExt = 0x01, 0x81, 0
	case OpSub:
		opcodeReg, opcodeImm, immExt = 0x29, 0x81, 5
	case OpAnd:
		opcodeReg, opcodeImm, immExt = 0x21, 0x81, 4
	case OpOr:
		opcodeReg, opcodeImm, immExt = 0x09, 0x81, 1
	case OpXor:
		opcodeReg, opcodeImm, immExt = 0x31, 0x81, 6
	}
	if in.Src2.Kind == OperandImm {
		e.rex(in.Width == W64, regalloc.RealRegInvalid, operandReal(in.Dst))
		e.emit(opcodeImm)
		e.emitModRM(immExt, in.Dst)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(in.Src2.Imm))
		e.emit(buf[:]...)
		return nil
	}
	e.rex(in.Width == W64, operandReal(in.Src2), operandReal(in.Dst))
	e.emit(opcodeReg)
	e.emitModRM(modrmReg(in.Src2.VReg.Real()), in.Dst)
	return nil
}

func (e *Encoder) encodeImul(in *Instruction) error {
	e.rex(in.Width == W64, operandReal(in.Dst), operandReal(in.Src2))
	e.emit(0x0f, 0xaf)
	e.emitModRM(modrmReg(in.Dst.VReg.Real()), in.Src2)
	return nil
}

func (e *Encoder) encodeUnary(in *Instruction) error {
	modrmExt := byte(2) // not
	if in.Op == OpNeg {
		modrmExt = 3
	}
	e.rex(in.Width == W64, regalloc.RealRegInvalid, operandReal(in.Dst))
	e.emit(0xf7)
	e.emitModRM(modrmExt, in.Dst)
	return nil
}

func (e *Encoder) encodeShift(in *Instruction) error {
	var ext byte
	switch in.Op {
	case OpRol:
		ext = 0
	case OpRor:
		ext = 1
	case OpShl:
		ext = 4
	case OpShr:
		ext = 5
	case OpSar:
		ext = 7
	}
	e.rex(in.Width == W64, regalloc.RealRegInvalid, operandReal(in.Dst))
	if in.Src2.Kind == OperandImm {
		e.emit(0xc1)
		e.emitModRM(ext, in.Dst)
		e.emit(byte(in.Src2.Imm))
		return nil
	}
	// Src2 is always cl by construction (lowerShift pins the count into
	// rcx before emitting), so the shift-by-cl form needs no extra operand
	// byte beyond ModRM.
	e.emit(0xd3)
	e.emitModRM(ext, in.Dst)
	return nil
}

func (e *Encoder) encodeTestOrCmp(in *Instruction, opcodeReg byte) error {
	if in.Src2.Kind == OperandImm {
		// test r/m,imm is 0xf7 /0; cmp r/m,imm is 0x81 /7 -- distinct
		// opcode/extension pairs, not the same instruction with different
		// operands.
		immOpcode, immExt := byte(0xf7), byte(0)
		if in.Op == OpCmp {
			immOpcode, immExt = 0x81, 7
		}
		e.rex(in.Width == W64, regalloc.RealRegInvalid, operandReal(in.Src1))
		e.emit(immOpcode)
		e.emitModRM(immExt, in.Src1)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(in.Src2.Imm))
		e.emit(buf[:]...)
		return nil
	}
	e.rex(in.Width == W64, operandReal(in.Src2), operandReal(in.Src1))
	e.emit(opcodeReg)
	e.emitModRM(modrmReg(in.Src2.VReg.Real()), in.Src1)
	return nil
}
