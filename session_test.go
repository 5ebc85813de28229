package borg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/execctx"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

// constFunction builds the smallest valid rudder function: return a
// constant, no parameters or locals.
func constFunction(name string, value uint64) *rudder.Function {
	fn := rudder.NewFunction(name, nil)
	entry := fn.NewBlock()
	fn.EntryBlock = entry
	c := fn.Emit(entry, rudder.Statement{Kind: rudder.StmtConstant, ConstVal: rudder.UnsignedInt(value, 64)})
	fn.Emit(entry, rudder.Statement{Kind: rudder.StmtReturn, HasReturnValue: true, A: c})
	return fn
}

func testSessionConfig() x86.Config {
	return x86.Config{NOffset: 100, ZOffset: 101, COffset: 102, VOffset: 103}
}

// TestSessionTranslateProducesMappedCodeAndCachesIt exercises the whole
// pipeline this package wires together -- rudder -> translate -> regalloc
// -> encode -> mmap -- checking the cache/chain-cache bookkeeping and that
// a non-empty executable mapping came back. internal/backend/x86's own
// exec_test.go is where the generated bytes actually get entered and run.
func TestSessionTranslateProducesMappedCodeAndCachesIt(t *testing.T) {
	model := rudder.NewModel()
	fn := constFunction("answer", 42)
	require.NoError(t, fn.Validate())
	model.AddFunction(fn)

	session, err := NewSession(model, testSessionConfig(), execctx.Features{})
	require.NoError(t, err)
	defer session.Close()

	unit := Unit{Function: fn, GuestPC: 0x1000, GuestModeHash: 1}
	translation, err := session.Translate(unit)
	require.NoError(t, err)
	require.NotZero(t, translation.EntryPoint)
	require.NotEmpty(t, translation.Code)

	cached, ok := session.cache.Lookup(unit.GuestPC, unit.GuestModeHash)
	require.True(t, ok)
	require.Same(t, translation, cached)

	entry, ok := session.chainCache.Lookup(unit.GuestPC)
	require.True(t, ok)
	require.Equal(t, translation.EntryPoint, entry)
}

// TestSessionTranslateIsIdempotentOnRetranslation checks that retranslating
// the same unit replaces the cache entry rather than erroring, the path
// spec.md §4.7's invalidate-then-retranslate flow relies on.
func TestSessionTranslateIsIdempotentOnRetranslation(t *testing.T) {
	model := rudder.NewModel()
	fn := constFunction("answer", 7)
	require.NoError(t, fn.Validate())
	model.AddFunction(fn)

	session, err := NewSession(model, testSessionConfig(), execctx.Features{})
	require.NoError(t, err)
	defer session.Close()

	unit := Unit{Function: fn, GuestPC: 0x2000, GuestModeHash: 1}
	first, err := session.Translate(unit)
	require.NoError(t, err)

	second, err := session.Translate(unit)
	require.NoError(t, err)
	require.NotSame(t, first, second)

	cached, ok := session.cache.Lookup(unit.GuestPC, unit.GuestModeHash)
	require.True(t, ok)
	require.Same(t, second, cached)
}

// TestSessionInvalidateRangeDropsTranslationsInRange exercises
// Session.InvalidateRange end to end against the real cache.
func TestSessionInvalidateRangeDropsTranslationsInRange(t *testing.T) {
	model := rudder.NewModel()
	fn := constFunction("answer", 1)
	require.NoError(t, fn.Validate())
	model.AddFunction(fn)

	session, err := NewSession(model, testSessionConfig(), execctx.Features{})
	require.NoError(t, err)
	defer session.Close()

	unit := Unit{Function: fn, GuestPC: 0x4000, GuestModeHash: 1}
	_, err = session.Translate(unit)
	require.NoError(t, err)

	session.InvalidateRange(0x4000, 0x5000)

	_, ok := session.cache.Lookup(unit.GuestPC, unit.GuestModeHash)
	require.False(t, ok)
}
