// Package interp is a direct-style interpreter over the rudder IR, used as
// the JIT's bit-exact reference (§8) and to run the bootstrap functions
// (`borealis_register_init`, `__InitSystem`) before any translation exists
// (§4.6). Grounded on
// _examples/original_source/brig/kernel/src/{dbt,host/dbt}/interpret.rs:
// statement values live in a per-block map cleared on block entry, and
// register-file access is unaligned, exact-width raw bytes.
package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/avisi-group/borg-sub001/internal/rudder"
)

// Memory is the guest memory collaborator named in spec.md §1 as external:
// the core only needs read/write of an exact byte width at a guest address.
type Memory interface {
	Read(addr uint64, sizeBytes uint8) (uint64, error)
	Write(addr uint64, sizeBytes uint8, value uint64) error
}

// RegisterFile is the flat, process-wide register byte buffer (§6).
type RegisterFile struct {
	Buf []byte
}

// NewRegisterFile allocates a zeroed buffer sized to rf.
func NewRegisterFile(rf *rudder.RegisterFile) *RegisterFile {
	return &RegisterFile{Buf: make([]byte, rf.BufferSize)}
}

// Read loads widthBits bits (rounded up to bytes) from offset, unaligned.
func (r *RegisterFile) Read(offset uint64, widthBits uint16) uint64 {
	n := (widthBits + 7) / 8
	if n > 8 {
		panic(fmt.Sprintf("BUG: register read width %d exceeds 64 bits in a single Read call", widthBits))
	}
	var buf [8]byte
	copy(buf[:], r.Buf[offset:offset+uint64(n)])
	return binary.LittleEndian.Uint64(buf[:]) & rudder.Mask64(widthBits)
}

// Write stores the low widthBits bits of value at offset, unaligned.
func (r *RegisterFile) Write(offset uint64, widthBits uint16, value uint64) {
	n := (widthBits + 7) / 8
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value&rudder.Mask64(widthBits))
	copy(r.Buf[offset:offset+uint64(n)], buf[:n])
}

// Interpreter evaluates one Function at a time against a Model (for Call
// resolution), a RegisterFile, and an optional Memory collaborator.
type Interpreter struct {
	Model    *rudder.Model
	Regs     *RegisterFile
	Mem      Memory
	Features map[string]bool

	fn     *rudder.Function
	locals map[string]rudder.Constant
	values map[rudder.Ref[rudder.Statement]]rudder.Constant

	// prevBlock/prevValues record which predecessor block was last entered
	// and its statement values, so StmtPhi (SPEC_FULL.md supplemented
	// feature #1) can resolve the member matching the edge actually taken.
	prevBlock  rudder.Ref[rudder.Block]
	prevValues map[rudder.Ref[rudder.Statement]]rudder.Constant
}

// New constructs an Interpreter bound to model/regs; mem may be nil if the
// function never reaches a ReadMemory/WriteMemory statement.
func New(model *rudder.Model, regs *RegisterFile, mem Memory) *Interpreter {
	return &Interpreter{Model: model, Regs: regs, Mem: mem, Features: map[string]bool{}}
}

// Run interprets functionName with the given positional arguments and
// returns its result, or the zero Constant if the function has no return
// type.
func (in *Interpreter) Run(functionName string, args ...rudder.Constant) (rudder.Constant, error) {
	fn, ok := in.Model.Function(functionName)
	if !ok {
		return rudder.Constant{}, errors.Errorf("interp: unknown function %q", functionName)
	}
	in.fn = fn
	in.locals = make(map[string]rudder.Constant, len(fn.Locals)+len(fn.Parameters))
	for i, p := range fn.Parameters {
		if i < len(args) {
			in.locals[p.Name] = args[i]
		}
	}

	cur := fn.EntryBlock
	for {
		result, next, ret, err := in.runBlock(cur)
		if err != nil {
			return rudder.Constant{}, err
		}
		if ret {
			return result, nil
		}
		in.prevBlock = cur
		in.prevValues = in.values
		cur = next
	}
}

// runBlock evaluates one block's statements in order, returning either the
// next block to run or a final return value.
func (in *Interpreter) runBlock(blk rudder.Ref[rudder.Block]) (ret rudder.Constant, next rudder.Ref[rudder.Block], isReturn bool, err error) {
	in.values = make(map[rudder.Ref[rudder.Statement]]rudder.Constant)
	b := in.fn.Block(blk)
	for i := 0; i < b.Len(); i++ {
		ref := b.At(i)
		s := b.Get(ref)
		v, term, termTarget, termIsReturn, terr := in.step(b, ref, s)
		if terr != nil {
			return rudder.Constant{}, rudder.Ref[rudder.Block]{}, false, terr
		}
		if term {
			if termIsReturn {
				return v, rudder.Ref[rudder.Block]{}, true, nil
			}
			return rudder.Constant{}, termTarget, false, nil
		}
		in.values[ref] = v
	}
	panic("BUG: block has no terminator")
}

func (in *Interpreter) resolve(r rudder.Ref[rudder.Statement]) rudder.Constant {
	v, ok := in.values[r]
	if !ok {
		panic(fmt.Sprintf("BUG: statement %v not yet evaluated in this block", r))
	}
	return v
}

// step evaluates one statement. When it is a terminator, term is true and
// either termIsReturn (with v as the return value) or termTarget (the next
// block) is populated.
func (in *Interpreter) step(b *rudder.Block, ref rudder.Ref[rudder.Statement], s *rudder.Statement) (v rudder.Constant, term bool, termTarget rudder.Ref[rudder.Block], termIsReturn bool, err error) {
	switch s.Kind {
	case rudder.StmtConstant:
		return s.ConstVal, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtReadVariable:
		val, ok := in.locals[s.Sym.Name]
		if !ok {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.Errorf("interp: no local %q", s.Sym.Name)
		}
		return val, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtWriteVariable:
		in.locals[s.Sym.Name] = in.resolve(s.A)
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtReadRegister:
		offset := in.resolve(s.A).Uint64()
		return rudder.UnsignedInt(in.Regs.Read(offset, s.Typ.Width), s.Typ.Width), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtWriteRegister:
		offset := in.resolve(s.A).Uint64()
		val := in.resolve(s.B)
		width := val.Width
		in.Regs.Write(offset, width, val.Uint64())
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtReadMemory:
		if in.Mem == nil {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.New("interp: ReadMemory with no Memory collaborator")
		}
		addr := in.resolve(s.A).Uint64()
		size := uint8(in.resolve(s.B).Uint64())
		val, merr := in.Mem.Read(addr, size)
		if merr != nil {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, merr
		}
		return rudder.UnsignedInt(val, uint16(size)*8), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtWriteMemory:
		if in.Mem == nil {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.New("interp: WriteMemory with no Memory collaborator")
		}
		addr := in.resolve(s.A).Uint64()
		val := in.resolve(s.B)
		if merr := in.Mem.Write(addr, uint8(val.Width/8), val.Uint64()); merr != nil {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, merr
		}
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtUnaryOperation:
		return in.evalUnary(s), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtBinaryOperation:
		return in.evalBinary(s), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtTernaryOperation:
		return in.evalTernary(s), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtShiftOperation:
		return in.evalShift(s), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtCast, rudder.StmtBitsCast:
		return in.evalCast(s), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtSelect:
		if in.resolve(s.A).Uint64() != 0 {
			return in.resolve(s.B), false, rudder.Ref[rudder.Block]{}, false, nil
		}
		return in.resolve(s.C), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtBitExtract:
		val := in.resolve(s.A).Uint64()
		start := uint8(in.resolve(s.B).Uint64())
		length := uint8(in.resolve(s.C).Uint64())
		return rudder.UnsignedInt(rudder.ExtractBits(val, start, length), s.Typ.Width), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtBitInsert:
		target := in.resolve(s.A).Uint64()
		source := in.resolve(s.B).Uint64()
		start := uint8(in.resolve(s.C).Uint64())
		length := uint8(in.resolve(s.D).Uint64())
		return rudder.UnsignedInt(rudder.InsertBits(target, source, start, length), s.Typ.Width), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtBitReplicate:
		val := in.resolve(s.A).Uint64()
		unit := uint8(in.resolve(s.B).Uint64())
		return rudder.UnsignedInt(rudder.ReplicateBits(val, unit, uint8(s.Typ.Width)), s.Typ.Width, ), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtCreateBits:
		val := in.resolve(s.A)
		length := in.resolve(s.B).Uint64()
		return rudder.UnsignedInt(val.Uint64(), uint16(length)), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtSizeOf:
		return rudder.UnsignedInt(uint64(in.resolve(s.A).Width), 16), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtGetFlags:
		// interpreter-level flags are derived straight from the operation's
		// folded value by evalTernary (AddWithCarry's (sum, nzcv) tuple);
		// GetFlags simply re-reads the cached tuple's second element, and
		// yields 0 for any operand that is not such a tuple.
		op := in.resolve(s.A)
		if op.Kind == rudder.ConstTuple && len(op.Elems) == 2 {
			return op.Elems[1], false, rudder.Ref[rudder.Block]{}, false, nil
		}
		return rudder.UnsignedInt(0, 4), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtPhi:
		entered := in.prevBlock.Valid()
		var predID rudder.BlockID
		if entered {
			predID = in.fn.Block(in.prevBlock).ID
		}
		for _, member := range s.PhiMembers {
			if entered && member.Pred == predID {
				v, ok := in.prevValues[member.Value]
				if !ok {
					panic(fmt.Sprintf("BUG: phi member value %v not found in predecessor block %d", member.Value, member.Pred))
				}
				return v, false, rudder.Ref[rudder.Block]{}, false, nil
			}
		}
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.Errorf("interp: phi has no member for entered predecessor block %d", predID)

	case rudder.StmtCreateTuple:
		elems := make([]rudder.Constant, len(s.TupleElems))
		for i, e := range s.TupleElems {
			elems[i] = in.resolve(e)
		}
		return rudder.MakeTuple(elems...), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtTupleAccess:
		t := in.resolve(s.A)
		idx := int(s.ConstVal.Lo)
		return t.Elems[idx], false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtReadElement:
		vec := in.resolve(s.A)
		idx := in.resolve(s.B).Uint64()
		return vec.Elems[idx], false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtAssignElement:
		vec := in.resolve(s.A)
		val := in.resolve(s.B)
		idx := in.resolve(s.C).Uint64()
		out := make([]rudder.Constant, len(vec.Elems))
		copy(out, vec.Elems)
		out[idx] = val
		return rudder.MakeVector(out...), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtMatchesUnion:
		val := in.resolve(s.A)
		matches := val.Kind == rudder.ConstTuple && len(val.Elems) > 0 && val.Elems[0].Str == s.Variant
		return rudder.UnsignedInt(boolU64Local(matches), 1), false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtUnwrapUnion:
		val := in.resolve(s.A)
		if val.Kind == rudder.ConstTuple && len(val.Elems) > 1 {
			return val.Elems[1], false, rudder.Ref[rudder.Block]{}, false, nil
		}
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.Errorf("interp: UnwrapUnion of non-union value")

	case rudder.StmtCall:
		args := make([]rudder.Constant, len(s.CallArgs))
		for i, a := range s.CallArgs {
			args[i] = in.resolve(a)
		}
		sub := New(in.Model, in.Regs, in.Mem)
		sub.Features = in.Features
		res, cerr := sub.Run(s.CallTarget, args...)
		if cerr != nil {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, cerr
		}
		return res, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtAssert:
		if in.resolve(s.A).Uint64() == 0 {
			return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.Errorf("interp: assertion failed in %s", in.fn.Name)
		}
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtUndefined:
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, nil

	case rudder.StmtJump:
		return rudder.Constant{}, true, s.JumpTarget, false, nil

	case rudder.StmtBranch:
		if in.resolve(s.A).Uint64() != 0 {
			return rudder.Constant{}, true, s.TrueTarget, false, nil
		}
		return rudder.Constant{}, true, s.FalseTarget, false, nil

	case rudder.StmtReturn:
		if s.HasReturnValue {
			return in.resolve(s.A), true, rudder.Ref[rudder.Block]{}, true, nil
		}
		return rudder.Constant{}, true, rudder.Ref[rudder.Block]{}, true, nil

	case rudder.StmtPanic:
		msg := "panic"
		if s.A.Valid() {
			msg = fmt.Sprintf("panic: %v", in.resolve(s.A))
		}
		return rudder.Constant{}, false, rudder.Ref[rudder.Block]{}, false, errors.New(msg)

	default:
		panic(fmt.Sprintf("BUG: interp: unhandled statement kind %d", s.Kind))
	}
}

func boolU64Local(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
