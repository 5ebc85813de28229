package translate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslationCacheInsertLookup(t *testing.T) {
	c := NewTranslationCache()
	_, ok := c.Lookup(0x1000, 0)
	require.False(t, ok)

	tr := &Translation{GuestPC: 0x1000, GuestModeHash: 0, Code: []byte{0x90}, EntryPoint: 1}
	c.Insert(tr)
	got, ok := c.Lookup(0x1000, 0)
	require.True(t, ok)
	require.Same(t, tr, got)
	require.Equal(t, 1, c.Len())
}

func TestTranslationCacheDistinguishesModeHash(t *testing.T) {
	c := NewTranslationCache()
	c.Insert(&Translation{GuestPC: 0x2000, GuestModeHash: 1})
	_, ok := c.Lookup(0x2000, 2)
	require.False(t, ok)
	_, ok = c.Lookup(0x2000, 1)
	require.True(t, ok)
}

func TestTranslationCacheInvalidateRange(t *testing.T) {
	c := NewTranslationCache()
	c.Insert(&Translation{GuestPC: 0x100})
	c.Insert(&Translation{GuestPC: 0x200})
	c.Insert(&Translation{GuestPC: 0x300})

	c.Invalidate(0x100, 0x300)
	require.Equal(t, 1, c.Len())
	_, ok := c.Lookup(0x300, 0)
	require.True(t, ok)
}

func TestChainCacheHitAndMiss(t *testing.T) {
	cc := NewChainCache()
	_, ok := cc.Lookup(0x4000)
	require.False(t, ok)

	cc.Insert(0x4000, 0xdeadbeef)
	ptr, ok := cc.Lookup(0x4000)
	require.True(t, ok)
	require.Equal(t, uintptr(0xdeadbeef), ptr)
}

func TestChainCacheAliasedSlotIsDetectedAsMiss(t *testing.T) {
	cc := NewChainCache()
	// 0x4000 and 0x4000+chainCacheSlots*4 alias to the same (pc>>2)&mask slot.
	aliasPC := uint64(0x4000) + uint64(chainCacheSlots)*4
	cc.Insert(0x4000, 0x1)
	_, ok := cc.Lookup(aliasPC)
	require.False(t, ok)
}
