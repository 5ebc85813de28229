package x86

import (
	"github.com/avisi-group/borg-sub001/internal/backend/regalloc"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

// NodeKind is the reduced, x86-lowering-relevant counterpart of
// rudder.StmtKind: the emitter (internal/emitter) only ever constructs these
// shapes, having already constant-folded everything it can. Bit
// extract/insert/replicate with a non-constant operand stay as dedicated
// NodeBitExtract/NodeBitInsert/NodeBitReplicate nodes; they are not turned
// into shift/truncate/mask sequences before lowering.
type NodeKind uint8

const (
	NodeConstant NodeKind = iota
	NodeFunctionPointer
	NodeGuestRegister
	NodeReadMemory
	NodeUnary
	NodeBinary
	NodeTernary
	NodeShift
	NodeBitExtract
	NodeBitInsert
	NodeBitReplicate
	NodeCast
	NodeSelect
	NodeGetFlags
	NodeTuple
	NodeReadStackVariable
	NodeCallReturnValue
	NodeFixedRegister // an ABI-fixed physical register used as a value (call args)
)

// Node is one entry in the per-X86Block DAG the emitter builds. Nodes are
// ref-counted by how many times they are referenced as an operand (Uses);
// to_operand (lower.go) memoizes the first lowering and returns the same
// Operand for every subsequent reference, so a shared subexpression lowers
// to one instruction sequence no matter how many statements consume it.
type Node struct {
	Kind NodeKind
	Typ  rudder.Type
	Uses int

	ConstVal rudder.Constant

	RegisterOffset uint64

	Addr *Node
	Size *Node

	A, B, C *Node

	UnaryKind   rudder.UnaryOperationKind
	BinaryKind  rudder.BinaryOperationKind
	TernaryKind rudder.TernaryOperationKind
	ShiftKind   rudder.ShiftOperationKind
	CastKind    rudder.CastOperationKind

	Start, Length *Node

	TupleElems []*Node

	StackSlot int

	FunctionName string

	FixedReg regalloc.RealReg
}
