package rudder

import "fmt"

// UnaryOperationKind enumerates single-operand arithmetic/intrinsic ops.
type UnaryOperationKind uint8

const (
	UnaryNot UnaryOperationKind = iota
	UnaryNegate
	UnaryComplement
	UnaryPower2 // 1<<n, never n*n -- see SPEC_FULL.md "pow2" note
	UnaryAbsolute
	UnaryCeil
	UnaryFloor
	UnarySquareRoot
)

// BinaryOperationKind enumerates two-operand arithmetic and comparisons.
type BinaryOperationKind uint8

const (
	BinaryAdd BinaryOperationKind = iota
	BinarySub
	BinaryMultiply
	BinaryDivide
	BinaryModulo
	BinaryAnd
	BinaryOr
	BinaryXor
	BinaryPowI
	BinaryCompareEqual
	BinaryCompareNotEqual
	BinaryCompareLessThan
	BinaryCompareLessThanOrEqual
	BinaryCompareGreaterThan
	BinaryCompareGreaterThanOrEqual
)

// IsComparison reports whether k produces a u1, the one case §3 allows
// differing operand widths (emitter widens them before lowering).
func (k BinaryOperationKind) IsComparison() bool {
	return k >= BinaryCompareEqual && k <= BinaryCompareGreaterThanOrEqual
}

// TernaryOperationKind enumerates three-operand operations.
type TernaryOperationKind uint8

const (
	TernaryAddWithCarry TernaryOperationKind = iota
)

// CastOperationKind enumerates the type-conversion statement kinds.
type CastOperationKind uint8

const (
	CastZeroExtend CastOperationKind = iota
	CastSignExtend
	CastTruncate
	CastReinterpret
	CastConvert
	CastBroadcast
)

// ShiftOperationKind enumerates the shift/rotate statement kinds.
type ShiftOperationKind uint8

const (
	ShiftLogicalLeft ShiftOperationKind = iota
	ShiftLogicalRight
	ShiftArithmeticRight
	ShiftRotateRight
	ShiftRotateLeft
)

// StmtKind is the closed set of statement kinds, §3 "Statement", extended
// with Phi/MatchesUnion/UnwrapUnion per SPEC_FULL.md's supplemented
// features (present in the Rust source, dropped by the distillation).
type StmtKind uint8

const (
	StmtConstant StmtKind = iota
	StmtReadVariable
	StmtWriteVariable
	StmtReadRegister
	StmtWriteRegister
	StmtReadMemory
	StmtWriteMemory
	StmtReadPC
	StmtWritePC
	StmtGetFlags
	StmtUnaryOperation
	StmtBinaryOperation
	StmtTernaryOperation
	StmtShiftOperation
	StmtCall
	StmtCast
	StmtBitsCast
	StmtJump
	StmtBranch
	StmtPhi
	StmtReturn
	StmtSelect
	StmtBitExtract
	StmtBitInsert
	StmtBitReplicate
	StmtCreateBits
	StmtSizeOf
	StmtReadElement
	StmtAssignElement
	StmtCreateTuple
	StmtTupleAccess
	StmtMatchesUnion
	StmtUnwrapUnion
	StmtPanic
	StmtUndefined
	StmtAssert
)

// PhiMember pairs a predecessor block with the value it supplies, §9
// "supplemented features" #1.
type PhiMember struct {
	Pred  BlockID
	Value Ref[Statement]
}

// Statement is an immutable, single-assignment IR node. It carries no
// separately-stored type field beyond the cached Typ computed once at
// construction (§3: "type-of(stmt) is a pure function of statement kind,
// operand types, and (for casts) target type" -- Typ is that function's
// result, memoized rather than recomputed on every lookup).
type Statement struct {
	Kind StmtKind
	Typ  Type

	// Generic operand slots; meaning depends on Kind (documented per
	// constructor below), mirroring the teacher's ssa.Instruction shape of
	// a handful of reused Value fields plus a discriminant.
	A, B, C, D Ref[Statement]

	ConstVal Constant
	Sym      Symbol

	UnaryKind    UnaryOperationKind
	BinaryKind   BinaryOperationKind
	TernaryKind  TernaryOperationKind
	ShiftKind    ShiftOperationKind
	CastKind     CastOperationKind

	CallTarget     string
	CallArgs       []Ref[Statement]
	CallReturnType Type
	HasReturnType  bool

	JumpTarget           Ref[Block]
	TrueTarget           Ref[Block]
	FalseTarget          Ref[Block]
	PhiMembers           []PhiMember
	HasReturnValue       bool
	TupleElems           []Ref[Statement]
	Variant              string

	// DebugSite names the (function, block, statement) this node originated
	// from for the r15 assert-failure meta tag (§6).
	DebugSite DebugSite
}

// DebugSite identifies a statement's source position for runtime fault
// reporting (§6 "assert failure ... r15 holds a 64-bit meta tag").
type DebugSite struct {
	FunctionNameKey uint32
	BlockIndex      uint16
	StatementIndex  uint16
}

// Tag packs DebugSite into the r15 layout: (function_name_key<<32) |
// (block_index<<16) | statement_index.
func (d DebugSite) Tag() uint64 {
	return uint64(d.FunctionNameKey)<<32 | uint64(d.BlockIndex)<<16 | uint64(d.StatementIndex)
}

// IsTerminator reports whether Kind ends a Block, §3 "must terminate with
// exactly one control-flow statement".
func (k StmtKind) IsTerminator() bool {
	switch k {
	case StmtJump, StmtBranch, StmtReturn, StmtPanic:
		return true
	default:
		return false
	}
}

// typeEnv is the minimal context ComputeType needs: access to sibling
// statements already inserted into the same block, and to the enclosing
// function's symbol table (for ReadVariable/parameter types).
type typeEnv interface {
	statementType(Ref[Statement]) Type
	symbolType(name string) (Type, bool)
}

// ComputeType implements §3's type-of(stmt) pure function. It is called
// once, eagerly, at construction time by Block.emit (see block.go); the
// result is cached in Statement.Typ and never recomputed.
func ComputeType(s *Statement, env typeEnv) Type {
	switch s.Kind {
	case StmtConstant:
		return s.ConstVal.Type()
	case StmtReadVariable:
		return s.Sym.Typ
	case StmtWriteVariable, StmtWriteRegister, StmtWriteMemory, StmtWritePC,
		StmtJump, StmtBranch, StmtReturn, StmtPanic, StmtAssert, StmtUndefined:
		return Type{Kind: KindAny} // control/effect statements have no value
	case StmtReadRegister:
		return s.Typ
	case StmtReadMemory:
		return s.Typ
	case StmtReadPC:
		return s.Typ
	case StmtGetFlags:
		return Unsigned(4) // NZCV nibble
	case StmtUnaryOperation:
		return env.statementType(s.A)
	case StmtBinaryOperation:
		if s.BinaryKind.IsComparison() {
			return U1
		}
		return env.statementType(s.A)
	case StmtTernaryOperation:
		// AddWithCarry -> (sum, nzcv)
		return Tuple(env.statementType(s.A), Unsigned(4))
	case StmtShiftOperation:
		return env.statementType(s.A)
	case StmtCall:
		if s.HasReturnType {
			return s.CallReturnType
		}
		return Type{Kind: KindAny}
	case StmtCast, StmtBitsCast:
		return s.Typ
	case StmtPhi:
		if len(s.PhiMembers) == 0 {
			return Type{Kind: KindAny}
		}
		return env.statementType(s.PhiMembers[0].Value)
	case StmtSelect:
		return env.statementType(s.B)
	case StmtBitExtract:
		return s.Typ
	case StmtBitInsert:
		return env.statementType(s.A)
	case StmtBitReplicate:
		return s.Typ
	case StmtCreateBits:
		return s.Typ
	case StmtSizeOf:
		return Unsigned(16)
	case StmtReadElement:
		vt := env.statementType(s.A)
		if vt.Kind == KindVector {
			return *vt.ElemType
		}
		return Type{Kind: KindAny}
	case StmtAssignElement:
		return env.statementType(s.A)
	case StmtCreateTuple:
		elems := make([]Type, len(s.TupleElems))
		for i, e := range s.TupleElems {
			elems[i] = env.statementType(e)
		}
		return Tuple(elems...)
	case StmtTupleAccess:
		tt := env.statementType(s.A)
		idx := int(s.ConstVal.Lo)
		if tt.Kind == KindTuple && idx < len(tt.Elems) {
			return tt.Elems[idx]
		}
		return Type{Kind: KindAny}
	case StmtMatchesUnion:
		return U1
	case StmtUnwrapUnion:
		return s.Typ
	default:
		panic(fmt.Sprintf("BUG: unhandled statement kind %d in ComputeType", s.Kind))
	}
}
