package x86

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avisi-group/borg-sub001/internal/rudder"
)

func TestLowerConstantAddEncodesAndAllocates(t *testing.T) {
	fn := NewFunc()
	blk := fn.NewBlock()
	l := NewLowerer(fn, Config{})
	l.SetBlock(blk)

	a := &Node{Kind: NodeConstant, Typ: rudder.Unsigned(64), ConstVal: rudder.UnsignedInt(1, 64)}
	b := &Node{Kind: NodeConstant, Typ: rudder.Unsigned(64), ConstVal: rudder.UnsignedInt(2, 64)}
	sum := &Node{Kind: NodeBinary, Typ: rudder.Unsigned(64), BinaryKind: rudder.BinaryAdd, A: a, B: b}

	op := l.ToOperand(sum)
	require.Equal(t, OperandReg, op.Kind)
	require.NotEmpty(t, blk.Instructions)

	require.NoError(t, AllocateFunc(fn))

	enc := NewEncoder(fn)
	code, err := enc.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, code)
}

func TestSelectProducesAtomicGroup(t *testing.T) {
	fn := NewFunc()
	blk := fn.NewBlock()
	l := NewLowerer(fn, Config{})
	l.SetBlock(blk)

	cond := &Node{Kind: NodeConstant, Typ: rudder.U1, ConstVal: rudder.UnsignedInt(1, 1)}
	tv := &Node{Kind: NodeConstant, Typ: rudder.Unsigned(64), ConstVal: rudder.UnsignedInt(10, 64)}
	fv := &Node{Kind: NodeConstant, Typ: rudder.Unsigned(64), ConstVal: rudder.UnsignedInt(20, 64)}
	sel := &Node{Kind: NodeSelect, Typ: rudder.Unsigned(64), A: cond, B: tv, C: fv}

	l.ToOperand(sel)
	var groups []int
	for _, in := range blk.Instructions {
		if in.Op == OpMov || in.Op == OpTest || in.Op == OpCmovcc {
			groups = append(groups, in.Group)
		}
	}
	require.Len(t, groups, 3)
	require.Equal(t, groups[0], groups[1])
	require.Equal(t, groups[1], groups[2])
}

func TestBranchLinksSuccessors(t *testing.T) {
	fn := NewFunc()
	entry := fn.NewBlock()
	trueBlk := fn.NewBlock()
	falseBlk := fn.NewBlock()
	l := NewLowerer(fn, Config{})
	l.SetBlock(entry)

	cond := &Node{Kind: NodeConstant, Typ: rudder.U1, ConstVal: rudder.UnsignedInt(1, 1)}
	l.EmitBranch(cond, trueBlk, falseBlk)

	require.Equal(t, trueBlk.ID, entry.Successors[0])
	require.Equal(t, falseBlk.ID, entry.Successors[1])
}

func TestDivideUsesFixedRaxRdx(t *testing.T) {
	fn := NewFunc()
	blk := fn.NewBlock()
	l := NewLowerer(fn, Config{})
	l.SetBlock(blk)

	a := &Node{Kind: NodeConstant, Typ: rudder.Unsigned(64), ConstVal: rudder.UnsignedInt(100, 64)}
	b := &Node{Kind: NodeConstant, Typ: rudder.Unsigned(64), ConstVal: rudder.UnsignedInt(7, 64)}
	div := &Node{Kind: NodeBinary, Typ: rudder.Unsigned(64), BinaryKind: rudder.BinaryDivide, A: a, B: b}

	op := l.ToOperand(div)
	require.True(t, op.VReg.IsReal())
	require.Equal(t, "rax", op.VReg.Real().String())

	var sawIdiv bool
	for _, in := range blk.Instructions {
		if in.Op == OpIdiv {
			sawIdiv = true
		}
	}
	require.True(t, sawIdiv)
}
