package translate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

func testConfig() x86.Config {
	return x86.Config{NOffset: 100, ZOffset: 101, COffset: 102, VOffset: 103}
}

func TestTranslateStraightLineAddReturnsToExit(t *testing.T) {
	fn := rudder.NewFunction("add64", []rudder.Symbol{
		{Name: "x", Typ: rudder.Unsigned(64)},
		{Name: "y", Typ: rudder.Unsigned(64)},
	})
	entry := fn.NewBlock()
	fn.EntryBlock = entry

	x := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: fn.Parameters[0]})
	y := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: fn.Parameters[1]})
	sum := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtBinaryOperation, BinaryKind: rudder.BinaryAdd, A: x, B: y})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: sum})
	require.NoError(t, fn.Validate())

	tr := New(fn, testConfig(), 0x10, 1, nil)
	xfn, err := tr.Run()
	require.NoError(t, err)
	require.NotNil(t, xfn)
	require.Greater(t, len(xfn.Blocks), 1)
}

func TestTranslateBranchProducesTwoContinuations(t *testing.T) {
	fn := rudder.NewFunction("branchy", []rudder.Symbol{{Name: "cond", Typ: rudder.U1}})
	entry := fn.NewBlock()
	tblk := fn.NewBlock()
	fblk := fn.NewBlock()
	fn.EntryBlock = entry

	cond := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: fn.Parameters[0]})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtBranch, A: cond, TrueTarget: tblk, FalseTarget: fblk})

	one := fn.Emit(tblk, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(1, 64)})
	fn.Emit(tblk, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: one})

	zero := fn.Emit(fblk, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(0, 64)})
	fn.Emit(fblk, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: zero})

	require.NoError(t, fn.Validate())

	tr := New(fn, testConfig(), 0x10, 1, nil)
	xfn, err := tr.Run()
	require.NoError(t, err)
	// entry + panic + exit + two dynamic continuations at minimum.
	require.GreaterOrEqual(t, len(xfn.Blocks), 5)
}

func TestTranslateJumpThenDynamicBranchTranslates(t *testing.T) {
	fn := rudder.NewFunction("loopish", []rudder.Symbol{{Name: "cond", Typ: rudder.U1}})
	entry := fn.NewBlock()
	mid := fn.NewBlock()
	tblk := fn.NewBlock()
	fblk := fn.NewBlock()
	fn.EntryBlock = entry

	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtJump, JumpTarget: mid})

	cond := fn.Emit(mid, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: fn.Parameters[0]})
	fn.Emit(mid, rudder.Statement{Kind: rudder.StmtBranch, A: cond, TrueTarget: tblk, FalseTarget: fblk})

	fn.Emit(tblk, rudder.Statement{Kind: rudder.StmtReturn})
	fn.Emit(fblk, rudder.Statement{Kind: rudder.StmtReturn})
	require.NoError(t, fn.Validate())

	tr := New(fn, testConfig(), 0x10, 1, nil)
	_, err := tr.Run()
	require.NoError(t, err)
}

func TestTranslateReadOfUnwrittenVariableErrors(t *testing.T) {
	fn := rudder.NewFunction("badread", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: rudder.Symbol{Name: "never_written", Typ: rudder.Unsigned(32)}})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn})

	tr := New(fn, testConfig(), 0x10, 1, nil)
	_, err := tr.Run()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedIR)
}

func TestTranslateUnrecognizedCallTargetErrorsWithSentinel(t *testing.T) {
	fn := rudder.NewFunction("badcall", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtCall, CallTarget: "not_a_real_intrinsic"})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn})

	tr := New(fn, testConfig(), 0x10, 1, nil)
	_, err := tr.Run()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnknownIntrinsic)
}

func TestTranslateDynamicAssertErrorsWithSentinel(t *testing.T) {
	fn := rudder.NewFunction("dynassert", []rudder.Symbol{{Name: "cond", Typ: rudder.U1}})
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	cond := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: fn.Parameters[0]})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtAssert, A: cond})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn})

	tr := New(fn, testConfig(), 0x10, 1, nil)
	_, err := tr.Run()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnsupportedOperand)
}

func TestTranslateWriteThenReadSameVariableRoundTrips(t *testing.T) {
	fn := rudder.NewFunction("roundtrip", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry

	c := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(7, 32)})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtWriteVariable, A: c, Sym: rudder.Symbol{Name: "local", Typ: rudder.Unsigned(32)}})
	read := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReadVariable, Sym: rudder.Symbol{Name: "local", Typ: rudder.Unsigned(32)}})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: read})

	tr := New(fn, testConfig(), 0x10, 1, nil)
	_, err := tr.Run()
	require.NoError(t, err)
}

func TestTranslateUndefinedStatementEmitsInlineTrap(t *testing.T) {
	fn := rudder.NewFunction("undef", nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtUndefined})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn})

	tr := New(fn, testConfig(), 0x10, 1, nil)
	xfn, err := tr.Run()
	require.NoError(t, err)
	sawTrap := false
	for _, b := range xfn.Blocks {
		for _, in := range b.Instructions {
			if in.Op == x86.OpInt && in.Src1.Imm == 0x50 {
				sawTrap = true
			}
		}
	}
	require.True(t, sawTrap)
}
