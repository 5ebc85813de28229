package emitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

func newTestEmitter() (*Emitter, *x86.Func, *x86.X86Block) {
	fn := x86.NewFunc()
	blk := fn.NewBlock()
	low := x86.NewLowerer(fn, x86.Config{})
	low.SetBlock(blk)
	return New(low, x86.Config{}), fn, blk
}

func TestBinaryOperationFoldsAllConstantOperands(t *testing.T) {
	e, _, _ := newTestEmitter()
	a := e.Constant(rudder.UnsignedInt(3, 64))
	b := e.Constant(rudder.UnsignedInt(4, 64))
	sum := e.BinaryOperation(rudder.BinaryAdd, a, b)
	require.True(t, sum.IsConstant())
	require.Equal(t, uint64(7), sum.Const.Uint64())
}

func TestAddZeroIdentityFoldsWithoutNode(t *testing.T) {
	e, _, blk := newTestEmitter()
	reg := e.ReadRegister(0, rudder.Unsigned(64))
	zero := e.Constant(rudder.UnsignedInt(0, 64))
	result := e.BinaryOperation(rudder.BinaryAdd, reg, zero)
	require.False(t, result.IsConstant())
	require.Same(t, reg.Node, result.Node)
	require.Empty(t, blk.Instructions)
}

func TestAndWithFullMaskIsIdentity(t *testing.T) {
	e, _, _ := newTestEmitter()
	reg := e.ReadRegister(0, rudder.Unsigned(32))
	mask := e.Constant(rudder.UnsignedInt(0xFFFFFFFF, 32))
	result := e.BinaryOperation(rudder.BinaryAnd, reg, mask)
	require.Same(t, reg.Node, result.Node)
}

func TestSelectWithConstantCondReturnsChosenArm(t *testing.T) {
	e, _, _ := newTestEmitter()
	cond := e.Constant(rudder.UnsignedInt(1, 1))
	tval := e.Constant(rudder.UnsignedInt(10, 64))
	fval := e.Constant(rudder.UnsignedInt(20, 64))
	result := e.Select(cond, tval, fval)
	require.Equal(t, uint64(10), result.Const.Uint64())
}

func TestCastReinterpretSameTypeIsNoop(t *testing.T) {
	e, _, _ := newTestEmitter()
	reg := e.ReadRegister(0, rudder.Unsigned(64))
	result := e.Cast(reg, rudder.Unsigned(64), rudder.CastReinterpret)
	require.Same(t, reg.Node, result.Node)
}

func TestBranchWithConstantCondEmitsJumpOnly(t *testing.T) {
	e, fn, blk := newTestEmitter()
	trueBlk := fn.NewBlock()
	falseBlk := fn.NewBlock()
	cond := e.Constant(rudder.UnsignedInt(1, 1))
	e.Branch(cond, trueBlk, falseBlk)
	require.Len(t, blk.Instructions, 1)
	require.Equal(t, x86.OpJmp, blk.Instructions[0].Op)
}
