package rudder

import "fmt"

// Function is a named rudder function: parameters, locals, and a block
// arena reachable from EntryBlock. Parameters are read-only; locals are
// written by WriteVariable and read by ReadVariable (§3).
type Function struct {
	Name          string
	ReturnType    Type
	HasReturnType bool
	Parameters    []Symbol
	Locals        []Symbol
	EntryBlock    Ref[Block]
	Blocks        *Arena[Block]
}

// NewFunction constructs an empty function with no blocks yet; the caller
// must call NewBlock and set EntryBlock before the function is usable.
func NewFunction(name string, params []Symbol) *Function {
	return &Function{Name: name, Parameters: params, Blocks: NewArena[Block]()}
}

// SetReturnType records fn's return type (Return must supply a value iff
// HasReturnType is true).
func (fn *Function) SetReturnType(t Type) { fn.ReturnType, fn.HasReturnType = t, true }

// AddLocal declares a new function-local variable.
func (fn *Function) AddLocal(name string, t Type) Symbol {
	sym := Symbol{Name: name, Typ: t}
	fn.Locals = append(fn.Locals, sym)
	return sym
}

// NewBlock allocates a fresh, empty Block and returns its Ref.
func (fn *Function) NewBlock() Ref[Block] {
	id := BlockID(fn.Blocks.Len())
	return fn.Blocks.Insert(*newBlock(id))
}

// Block dereferences a block Ref.
func (fn *Function) Block(r Ref[Block]) *Block { return fn.Blocks.Get(r) }

// symbolType implements typeEnv, resolving ReadVariable's Symbol type
// against the declared parameters and locals.
func (fn *Function) symbolType(name string) (Type, bool) {
	for _, p := range fn.Parameters {
		if p.Name == name {
			return p.Typ, true
		}
	}
	for _, l := range fn.Locals {
		if l.Name == name {
			return l.Typ, true
		}
	}
	return Type{}, false
}

// statementType is unused at the function level (sibling lookups are
// always scoped to a single Block), but Function must implement typeEnv
// so it can be threaded through Block.emit as the outer environment.
func (fn *Function) statementType(Ref[Statement]) Type {
	panic("BUG: cross-block statement reference; rudder data flow must go through variables or Phi")
}

// Emit appends a statement to block blk, computing and caching its type.
func (fn *Function) Emit(blk Ref[Block], s Statement) Ref[Statement] {
	return fn.Block(blk).emit(s, fn)
}

// Validate checks every block's termination invariant and that every
// branch target names a block in this function's own arena.
func (fn *Function) Validate() error {
	valid := func(r Ref[Block]) bool { return r.Valid() && r.idx-1 < uint32(fn.Blocks.Len()) }
	var err error
	fn.Blocks.Range(func(ref Ref[Block], b *Block) {
		if err != nil {
			return
		}
		if verr := b.Validate(); verr != nil {
			err = verr
			return
		}
		term := b.Terminator()
		switch term.Kind {
		case StmtJump:
			if !valid(term.JumpTarget) {
				err = fmt.Errorf("block %d: jump target not in function arena", b.ID)
			}
		case StmtBranch:
			if !valid(term.TrueTarget) || !valid(term.FalseTarget) {
				err = fmt.Errorf("block %d: branch target not in function arena", b.ID)
			}
		}
	})
	return err
}
