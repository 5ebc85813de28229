package rudder

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// CacheBehavior describes how a register may be assumed to behave across a
// translation (§3 "Model").
type CacheBehavior uint8

const (
	CacheNone CacheBehavior = iota
	CacheRead
	CacheReadWrite
	CacheConstant
)

// RegisterDescriptor describes one named register's storage within the
// process-wide register-file byte buffer.
type RegisterDescriptor struct {
	Name   string
	Typ    Type
	Offset uint64
	Cache  CacheBehavior
}

// RegisterFile is the Model's register-name -> descriptor map, plus the
// total buffer size it was laid out against.
type RegisterFile struct {
	Registers  map[string]RegisterDescriptor
	BufferSize uint64
}

// NewRegisterFile returns an empty RegisterFile.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{Registers: make(map[string]RegisterDescriptor)}
}

// Add lays out a new register at an 8-byte-aligned offset immediately
// following the last one, growing BufferSize. Panics (a BUG, not a
// recoverable error -- this only ever runs at offline Model-build time,
// never against guest-controlled input) if width exceeds 128 bits, per
// DESIGN.md's resolution of the §9 open question on oversized registers.
func (rf *RegisterFile) Add(name string, t Type) RegisterDescriptor {
	if t.Width > 128 {
		panic(fmt.Sprintf("BUG: register %q has width %d > 128", name, t.Width))
	}
	offset := align8(rf.BufferSize)
	d := RegisterDescriptor{Name: name, Typ: t, Offset: offset, Cache: CacheNone}
	rf.Registers[name] = d
	size := align8(uint64(t.WidthBytes()))
	rf.BufferSize = offset + size
	return d
}

func align8(v uint64) uint64 { return (v + 7) &^ 7 }

// SetCache updates the cache behavior of an already-added register.
func (rf *RegisterFile) SetCache(name string, c CacheBehavior) {
	d, ok := rf.Registers[name]
	if !ok {
		panic(fmt.Sprintf("BUG: unknown register %q", name))
	}
	d.Cache = c
	rf.Registers[name] = d
}

// Validate checks that every register's [Offset, Offset+WidthBytes) range
// fits within BufferSize and is 8-byte aligned (§6).
func (rf *RegisterFile) Validate() error {
	for name, d := range rf.Registers {
		if d.Offset%8 != 0 {
			return fmt.Errorf("register %q offset %d is not 8-byte aligned", name, d.Offset)
		}
		if d.Offset+uint64(d.Typ.WidthBytes()) > rf.BufferSize {
			return fmt.Errorf("register %q [%d,%d) exceeds buffer size %d", name, d.Offset, d.Offset+uint64(d.Typ.WidthBytes()), rf.BufferSize)
		}
	}
	return nil
}

// Model maps guest function names to their rudder Function, plus the
// shared RegisterFile descriptor (§3 "Model").
type Model struct {
	Functions    map[string]*Function
	RegisterFile *RegisterFile
}

// NewModel returns an empty Model.
func NewModel() *Model {
	return &Model{Functions: make(map[string]*Function), RegisterFile: NewRegisterFile()}
}

// AddFunction registers fn under its own Name.
func (m *Model) AddFunction(fn *Function) { m.Functions[fn.Name] = fn }

// Function looks up a function by name.
func (m *Model) Function(name string) (*Function, bool) {
	fn, ok := m.Functions[name]
	return fn, ok
}

// --- wire format (CBOR) ---
//
// spec.md leaves the Model file's serialization implementation-defined; see
// SPEC_FULL.md "MODEL FILE FORMAT". The wire types below exist only because
// Function/Block keep their arenas behind unexported fields for lowering
// safety -- they mirror the live types field-for-field modulo that
// indirection.

type wireModel struct {
	Functions []wireFunction
	Registers []wireRegister
	Buffer    uint64
}

type wireRegister struct {
	Name   string
	Typ    Type
	Offset uint64
	Cache  CacheBehavior
}

type wireFunction struct {
	Name          string
	ReturnType    Type
	HasReturnType bool
	Parameters    []Symbol
	Locals        []Symbol
	EntryBlock    uint32
	Blocks        []wireBlock
}

type wireBlock struct {
	ID         BlockID
	Statements []Statement
}

// MarshalBinary implements encoding.BinaryMarshaler using CBOR, chosen over
// JSON/gob per SPEC_FULL.md's "MODEL FILE FORMAT" rationale (lossless
// width-tagged integers, language-neutral wire format for a non-Go
// frontend).
func (m *Model) MarshalBinary() ([]byte, error) {
	w := wireModel{Buffer: m.RegisterFile.BufferSize}
	for _, d := range m.RegisterFile.Registers {
		w.Registers = append(w.Registers, wireRegister{d.Name, d.Typ, d.Offset, d.Cache})
	}
	for _, fn := range m.Functions {
		wf := wireFunction{
			Name:          fn.Name,
			ReturnType:    fn.ReturnType,
			HasReturnType: fn.HasReturnType,
			Parameters:    fn.Parameters,
			Locals:        fn.Locals,
			EntryBlock:    fn.EntryBlock.idx,
		}
		fn.Blocks.Range(func(_ Ref[Block], b *Block) {
			stmts := make([]Statement, b.Len())
			for i := 0; i < b.Len(); i++ {
				stmts[i] = *b.Get(b.At(i))
			}
			wf.Blocks = append(wf.Blocks, wireBlock{ID: b.ID, Statements: stmts})
		})
		w.Functions = append(w.Functions, wf)
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "marshal rudder model")
	}
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, the inverse of
// MarshalBinary.
func (m *Model) UnmarshalBinary(data []byte) error {
	var w wireModel
	if err := cbor.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "unmarshal rudder model")
	}
	m.Functions = make(map[string]*Function, len(w.Functions))
	m.RegisterFile = &RegisterFile{Registers: make(map[string]RegisterDescriptor, len(w.Registers)), BufferSize: w.Buffer}
	for _, r := range w.Registers {
		m.RegisterFile.Registers[r.Name] = RegisterDescriptor{Name: r.Name, Typ: r.Typ, Offset: r.Offset, Cache: r.Cache}
	}
	for _, wf := range w.Functions {
		fn := &Function{
			Name:          wf.Name,
			ReturnType:    wf.ReturnType,
			HasReturnType: wf.HasReturnType,
			Parameters:    wf.Parameters,
			Locals:        wf.Locals,
			Blocks:        NewArena[Block](),
			EntryBlock:    Ref[Block]{idx: wf.EntryBlock},
		}
		for _, wb := range wf.Blocks {
			blk := newBlock(wb.ID)
			for _, st := range wb.Statements {
				ref := blk.stmts.Insert(st)
				blk.order = append(blk.order, ref)
			}
			fn.Blocks.Insert(*blk)
		}
		m.Functions[fn.Name] = fn
	}
	return nil
}
