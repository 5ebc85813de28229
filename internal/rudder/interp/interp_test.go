package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avisi-group/borg-sub001/internal/rudder"
)

func buildModel(t *testing.T) *rudder.Model {
	t.Helper()
	m := rudder.NewModel()
	m.RegisterFile.Add("x0", rudder.Unsigned(64))
	m.RegisterFile.Add("x1", rudder.Unsigned(64))
	return m
}

// TestAddWithCarryHarness implements §8 scenario 1.
func TestAddWithCarryHarness(t *testing.T) {
	m := buildModel(t)
	fn := rudder.NewFunction("awc", nil)
	fn.SetReturnType(rudder.Tuple(rudder.Unsigned(64), rudder.Unsigned(4)))
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	x := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0x7FFFFFFFFFFFFFFF, 64)})
	y := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(1, 64)})
	c := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0, 1)})
	awc := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtTernaryOperation, TernaryKind: rudder.TernaryAddWithCarry, A: x, B: y, C: c})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: awc})
	m.AddFunction(fn)
	require.NoError(t, fn.Validate())

	regs := NewRegisterFile(m.RegisterFile)
	in := New(m, regs, nil)
	result, err := in.Run("awc")
	require.NoError(t, err)
	require.Equal(t, rudder.ConstTuple, result.Kind)
	require.Equal(t, uint64(0x8000000000000000), result.Elems[0].Uint64())
	require.Equal(t, uint64(0b1001), result.Elems[1].Uint64())
}

// TestZeroVsSignExtend implements §8 scenario 6.
func TestZeroVsSignExtend(t *testing.T) {
	m := buildModel(t)

	build := func(name string, kind rudder.CastOperationKind) {
		fn := rudder.NewFunction(name, nil)
		fn.SetReturnType(rudder.Unsigned(64))
		entry := fn.NewBlock()
		fn.EntryBlock = entry
		v := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0x80, 8)})
		cast := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtCast, CastKind: kind, Typ: rudder.Unsigned(64), A: v})
		fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: cast})
		m.AddFunction(fn)
	}
	build("zx", rudder.CastZeroExtend)
	build("sx", rudder.CastSignExtend)

	regs := NewRegisterFile(m.RegisterFile)
	zx, err := New(m, regs, nil).Run("zx")
	require.NoError(t, err)
	require.Equal(t, uint64(0x0000000000000080), zx.Uint64())

	sx, err := New(m, regs, nil).Run("sx")
	require.NoError(t, err)
	require.Equal(t, uint64(0xFFFFFFFFFFFFFF80), sx.Uint64())
}

func TestRegisterReadWriteRoundTrip(t *testing.T) {
	m := buildModel(t)
	fn := rudder.NewFunction("store_and_load", nil)
	fn.SetReturnType(rudder.Unsigned(64))
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	off := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(m.RegisterFile.Registers["x0"].Offset, 64)})
	val := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0xDEADBEEF, 64)})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtWriteRegister, A: off, B: val})
	read := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadRegister, Typ: rudder.Unsigned(64), A: off})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: read})
	m.AddFunction(fn)

	regs := NewRegisterFile(m.RegisterFile)
	got, err := New(m, regs, nil).Run("store_and_load")
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEADBEEF), got.Uint64())
}

func TestBranchTakesTrueOrFalseTarget(t *testing.T) {
	m := buildModel(t)
	fn := rudder.NewFunction("branch", nil)
	fn.SetReturnType(rudder.Unsigned(8))
	entry := fn.NewBlock()
	trueBlk := fn.NewBlock()
	falseBlk := fn.NewBlock()
	fn.EntryBlock = entry

	cond := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(1, 1)})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtBranch, A: cond, TrueTarget: trueBlk, FalseTarget: falseBlk})

	tv := fn.Emit(trueBlk, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(1, 8)})
	fn.Emit(trueBlk, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: tv})

	fv := fn.Emit(falseBlk, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0, 8)})
	fn.Emit(falseBlk, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: fv})

	m.AddFunction(fn)
	require.NoError(t, fn.Validate())

	regs := NewRegisterFile(m.RegisterFile)
	got, err := New(m, regs, nil).Run("branch")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Uint64())
}
