package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeInstr is a minimal Instr for exercising Allocate without pulling in
// the x86 encoder.
type fakeInstr struct {
	regs  []*VReg
	defs  []*VReg
	group int
}

func (f *fakeInstr) Regs() []*VReg { return f.regs }
func (f *fakeInstr) Defs() []*VReg { return f.defs }
func (f *fakeInstr) GroupID() int  { return f.group }

type fakeSpiller struct {
	next     int
	reloads  []int
	spills   []int
}

func (s *fakeSpiller) AllocSlot() (int, error) {
	s.next++
	return s.next, nil
}
func (s *fakeSpiller) InsertReloadBefore(i int, real RealReg, slot int) { s.reloads = append(s.reloads, i) }
func (s *fakeSpiller) InsertSpillAfter(i int, real RealReg, slot int)   { s.spills = append(s.spills, i) }

func vregPair() (VReg, *VReg) {
	v := FromID(1, RegTypeInt)
	return v, &v
}

func TestAllocateSimpleChainReusesRegisters(t *testing.T) {
	a := FromID(1, RegTypeInt)
	b := FromID(2, RegTypeInt)
	c := FromID(3, RegTypeInt)

	// i0: c = a + b (defines c, uses a, b)
	// i1: return c (uses c)
	i0 := &fakeInstr{regs: []*VReg{&a, &b, &c}, defs: []*VReg{&c}}
	i1 := &fakeInstr{regs: []*VReg{&c}}

	pool := []RealReg{RAX, RCX, RDX}
	err := Allocate([]Instr{i0, i1}, pool, &fakeSpiller{})
	require.NoError(t, err)

	require.True(t, a.IsReal())
	require.True(t, b.IsReal())
	require.True(t, c.IsReal())
	require.NotEqual(t, a.Real(), b.Real())
}

func TestAllocateSpillsWhenPoolExhausted(t *testing.T) {
	a := FromID(1, RegTypeInt)
	b := FromID(2, RegTypeInt)
	c := FromID(3, RegTypeInt)
	d := FromID(4, RegTypeInt)

	i0 := &fakeInstr{regs: []*VReg{&a, &b, &c, &d}}

	pool := []RealReg{RAX, RCX} // only two physical registers for four vregs live at once
	sp := &fakeSpiller{}
	err := Allocate([]Instr{i0}, pool, sp)
	require.NoError(t, err)
	require.NotEmpty(t, sp.spills)
}

func TestAllocateFailsWhenNothingCanSpill(t *testing.T) {
	a := FromID(1, RegTypeInt)
	b := FromID(2, RegTypeInt)

	// Both vregs pinned inside the same atomic group with only one
	// physical register available: nothing left to evict.
	i0 := &fakeInstr{regs: []*VReg{&a, &b}, group: 1}

	pool := []RealReg{RAX}
	err := Allocate([]Instr{i0}, pool, &fakeSpiller{})
	require.ErrorIs(t, err, ErrRegisterAllocation)
}

func TestFixedRealRegsAreLeftAlone(t *testing.T) {
	fixed := FromReal(RDI, RegTypeInt)
	b := FromID(2, RegTypeInt)
	i0 := &fakeInstr{regs: []*VReg{&fixed, &b}}

	pool := []RealReg{RAX}
	err := Allocate([]Instr{i0}, pool, &fakeSpiller{})
	require.NoError(t, err)
	require.Equal(t, RDI, fixed.Real())
	require.Equal(t, RAX, b.Real())
}
