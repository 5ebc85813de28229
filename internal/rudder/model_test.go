package rudder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFibFunction() *Function {
	fn := NewFunction("fib_step", []Symbol{{Name: "a", Typ: Unsigned(64)}, {Name: "b", Typ: Unsigned(64)}})
	fn.SetReturnType(Unsigned(64))
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	a := fn.Emit(entry, Statement{Kind: StmtReadVariable, Sym: fn.Parameters[0]})
	b := fn.Emit(entry, Statement{Kind: StmtReadVariable, Sym: fn.Parameters[1]})
	sum := fn.Emit(entry, Statement{Kind: StmtBinaryOperation, BinaryKind: BinaryAdd, A: a, B: b})
	fn.Emit(entry, Statement{Kind: StmtReturn, HasReturnValue: true, A: sum})
	return fn
}

func TestRegisterFileLayoutAndValidate(t *testing.T) {
	rf := NewRegisterFile()
	rf.Add("x0", Unsigned(64))
	rf.Add("x1", Unsigned(64))
	rf.Add("flags", Unsigned(4))
	require.NoError(t, rf.Validate())
	require.Equal(t, uint64(0), rf.Registers["x0"].Offset)
	require.Equal(t, uint64(8), rf.Registers["x1"].Offset)
	require.Equal(t, uint64(16), rf.Registers["flags"].Offset)
	require.Equal(t, uint64(24), rf.BufferSize)
}

func TestRegisterFileRejectsOversizedRegister(t *testing.T) {
	rf := NewRegisterFile()
	require.Panics(t, func() { rf.Add("huge", Unsigned(200)) })
}

func TestModelRoundTripsThroughCBOR(t *testing.T) {
	m := NewModel()
	m.AddFunction(buildFibFunction())
	m.RegisterFile.Add("x0", Unsigned(64))
	m.RegisterFile.SetCache("x0", CacheReadWrite)

	data, err := m.MarshalBinary()
	require.NoError(t, err)

	var got Model
	require.NoError(t, got.UnmarshalBinary(data))

	require.NoError(t, got.Functions["fib_step"].Validate())
	fn, ok := got.Function("fib_step")
	require.True(t, ok)
	require.Equal(t, Unsigned(64), fn.ReturnType)
	require.Equal(t, CacheReadWrite, got.RegisterFile.Registers["x0"].Cache)
}
