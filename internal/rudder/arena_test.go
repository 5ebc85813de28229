package rudder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaInsertGet(t *testing.T) {
	a := NewArena[int]()
	require.Equal(t, 0, a.Len())

	r1 := a.Insert(10)
	r2 := a.Insert(20)
	require.True(t, r1.Valid())
	require.True(t, r2.Valid())
	require.NotEqual(t, r1, r2)
	require.Equal(t, 10, *a.Get(r1))
	require.Equal(t, 20, *a.Get(r2))
	require.Equal(t, 2, a.Len())
}

func TestArenaInvalidRefPanics(t *testing.T) {
	a := NewArena[int]()
	require.Panics(t, func() { a.Get(Invalid[int]()) })
}

func TestArenaRangeVisitsInsertionOrder(t *testing.T) {
	a := NewArena[string]()
	a.Insert("a")
	a.Insert("b")
	a.Insert("c")

	var seen []string
	a.Range(func(_ Ref[string], v *string) { seen = append(seen, *v) })
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestArenaReserveThenFill(t *testing.T) {
	a := NewArena[int]()
	ref := a.Reserve()
	require.Equal(t, 0, *a.Get(ref))
	*a.Get(ref) = 42
	require.Equal(t, 42, *a.Get(ref))
}
