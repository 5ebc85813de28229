package translate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/emitter"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

func newTestEmitter() *emitter.Emitter {
	xfn := x86.NewFunc()
	low := x86.NewLowerer(xfn, x86.Config{})
	em := emitter.New(low, x86.Config{})
	em.SetBlock(xfn.NewBlock())
	return em
}

func constArg(v uint64, width uint16) emitter.Value {
	em := newTestEmitter()
	return em.Constant(rudder.UnsignedInt(v, width))
}

func callStmt(target string, args ...rudder.Ref[rudder.Statement]) *rudder.Statement {
	return &rudder.Statement{Kind: rudder.StmtCall, CallTarget: target, CallArgs: args, Typ: rudder.Unsigned(64)}
}

func TestLowerBuiltinSubrangeBitsFoldsLengthFromHiLo(t *testing.T) {
	em := newTestEmitter()
	fn := rudder.NewFunction("f", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry

	bv := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0xFF00, 16)})
	hi := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(15, 8)})
	lo := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(8, 8)})
	s := callStmt("subrange_bits", bv, hi, lo)
	s.Typ = rudder.Unsigned(8)

	values := map[rudder.Ref[rudder.Statement]]emitter.Value{}
	values[bv] = em.Constant(fn.Block(entry).Get(bv).ConstVal)
	values[hi] = em.Constant(fn.Block(entry).Get(hi).ConstVal)
	values[lo] = em.Constant(fn.Block(entry).Get(lo).ConstVal)
	resolve := func(r rudder.Ref[rudder.Statement]) emitter.Value { return values[r] }

	v, ok := lowerBuiltin(em, s, resolve)
	require.True(t, ok)
	require.True(t, v.IsConstant())
	require.Equal(t, uint64(0xFF), v.Const.Uint64())
}

func TestLowerBuiltinUIntIsZeroExtendCast(t *testing.T) {
	em := newTestEmitter()
	fn := rudder.NewFunction("f", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	a := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(5, 8)})
	s := callStmt("UInt", a)
	s.Typ = rudder.Unsigned(64)

	values := map[rudder.Ref[rudder.Statement]]emitter.Value{a: em.Constant(fn.Block(entry).Get(a).ConstVal)}
	resolve := func(r rudder.Ref[rudder.Statement]) emitter.Value { return values[r] }

	v, ok := lowerBuiltin(em, s, resolve)
	require.True(t, ok)
	require.True(t, v.IsConstant())
	require.Equal(t, uint64(5), v.Const.Uint64())
}

func TestLowerBuiltinTrapOpFoldsToZero(t *testing.T) {
	em := newTestEmitter()
	s := callStmt("DataMemoryBarrier")
	s.Typ = rudder.U1
	v, ok := lowerBuiltin(em, s, nil)
	require.True(t, ok)
	require.True(t, v.IsConstant())
	require.Equal(t, uint64(0), v.Const.Uint64())
}

func TestLowerBuiltinUnknownTargetReturnsFalse(t *testing.T) {
	em := newTestEmitter()
	s := callStmt("not_a_real_builtin")
	_, ok := lowerBuiltin(em, s, nil)
	require.False(t, ok)
}

func TestLowerAddWithCarryFoldsAllConstant(t *testing.T) {
	em := newTestEmitter()
	x := em.Constant(rudder.UnsignedInt(0x7FFFFFFFFFFFFFFF, 64))
	y := em.Constant(rudder.UnsignedInt(1, 64))
	c := em.Constant(rudder.UnsignedInt(0, 1))
	v := lowerAddWithCarry(em, x, y, c)
	require.True(t, v.IsConstant())
	require.Equal(t, uint64(0x8000000000000000), v.Const.Uint64())
}
