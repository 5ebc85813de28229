package rudder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTypeBinaryOperation(t *testing.T) {
	fn := NewFunction("add64", []Symbol{{Name: "x", Typ: Unsigned(64)}, {Name: "y", Typ: Unsigned(64)}})
	entry := fn.NewBlock()
	fn.EntryBlock = entry

	x := fn.Emit(entry, Statement{Kind: StmtReadVariable, Sym: fn.Parameters[0]})
	y := fn.Emit(entry, Statement{Kind: StmtReadVariable, Sym: fn.Parameters[1]})
	sum := fn.Emit(entry, Statement{Kind: StmtBinaryOperation, BinaryKind: BinaryAdd, A: x, B: y})
	require.Equal(t, Unsigned(64), fn.Block(entry).Get(sum).Typ)

	cmp := fn.Emit(entry, Statement{Kind: StmtBinaryOperation, BinaryKind: BinaryCompareLessThan, A: x, B: y})
	require.Equal(t, U1, fn.Block(entry).Get(cmp).Typ)

	fn.Emit(entry, Statement{Kind: StmtReturn, HasReturnValue: true, A: sum})
	require.NoError(t, fn.Validate())
}

func TestComputeTypeAddWithCarryProducesTuple(t *testing.T) {
	fn := NewFunction("awc", []Symbol{{Name: "x", Typ: Unsigned(64)}})
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	x := fn.Emit(entry, Statement{Kind: StmtReadVariable, Sym: fn.Parameters[0]})
	c := fn.Emit(entry, Statement{Kind: StmtConstant, ConstVal: UnsignedInt(0, 1)})
	awc := fn.Emit(entry, Statement{Kind: StmtTernaryOperation, TernaryKind: TernaryAddWithCarry, A: x, B: x, C: c})
	got := fn.Block(entry).Get(awc).Typ
	require.Equal(t, KindTuple, got.Kind)
	require.Len(t, got.Elems, 2)
	require.Equal(t, Unsigned(64), got.Elems[0])
	require.Equal(t, Unsigned(4), got.Elems[1])

	fn.Emit(entry, Statement{Kind: StmtPanic, A: awc})
	require.NoError(t, fn.Validate())
}

func TestBlockMustEndInTerminator(t *testing.T) {
	fn := NewFunction("bad", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	fn.Emit(entry, Statement{Kind: StmtConstant, ConstVal: UnsignedInt(1, 8)})
	require.Error(t, fn.Validate())
}

func TestCannotAppendAfterTerminator(t *testing.T) {
	fn := NewFunction("bad2", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	fn.Emit(entry, Statement{Kind: StmtReturn})
	require.Panics(t, func() {
		fn.Emit(entry, Statement{Kind: StmtConstant, ConstVal: UnsignedInt(1, 8)})
	})
}

func TestJumpTargetMustBeInSameFunction(t *testing.T) {
	fn := NewFunction("jmp", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	bogus := Ref[Block]{}
	fn.Emit(entry, Statement{Kind: StmtJump, JumpTarget: bogus})
	require.Error(t, fn.Validate())
}
