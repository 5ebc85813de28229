package rudder

import "fmt"

// BlockID is a stable numeric identity for a Block, used as the
// predecessor key in PhiMember and assigned at Function.NewBlock time.
type BlockID uint32

// Block is an ordered, straight-line sequence of statements terminated by
// exactly one control-flow statement. Per §3, a Block owns its own
// statement arena: Ref[Statement] values are only meaningful within the
// Block that produced them, which is what makes a rudder function's data
// flow between blocks go exclusively through ReadVariable/WriteVariable
// locals (or, for the supplemented Phi kind, explicit predecessor/value
// pairs) rather than through raw statement references.
type Block struct {
	ID    BlockID
	stmts *Arena[Statement]
	order []Ref[Statement]
}

func newBlock(id BlockID) *Block {
	return &Block{ID: id, stmts: NewArena[Statement]()}
}

// Len returns the number of statements in the block.
func (b *Block) Len() int { return len(b.order) }

// At returns the i-th statement's reference, in emission order.
func (b *Block) At(i int) Ref[Statement] { return b.order[i] }

// Get dereferences a statement reference local to this block.
func (b *Block) Get(r Ref[Statement]) *Statement { return b.stmts.Get(r) }

// Terminator returns the block's final statement, which must be a
// control-flow kind (§3 invariant: "no block is empty; no block has a
// non-control-flow statement as its last statement").
func (b *Block) Terminator() *Statement {
	if len(b.order) == 0 {
		panic("BUG: empty block has no terminator")
	}
	return b.Get(b.order[len(b.order)-1])
}

// statementType implements typeEnv for ComputeType: sibling lookups within
// this block resolve through the cached Typ field.
func (b *Block) statementType(r Ref[Statement]) Type { return b.Get(r).Typ }

// emit inserts a fully-populated statement (Typ not yet computed) into the
// block, computing and caching its type via ComputeType, and returns its
// Ref. env supplies symbol-table lookups beyond this block's own
// statements (parameters/locals).
func (b *Block) emit(s Statement, env typeEnv) Ref[Statement] {
	if len(b.order) > 0 && b.Terminator().Kind.IsTerminator() {
		panic(fmt.Sprintf("BUG: cannot append statement %d after block %d's terminator", s.Kind, b.ID))
	}
	combined := blockTypeEnv{b, env}
	s.Typ = ComputeType(&s, combined)
	ref := b.stmts.Insert(s)
	b.order = append(b.order, ref)
	return ref
}

// blockTypeEnv chains a Block's own sibling lookups with the enclosing
// function's symbol table.
type blockTypeEnv struct {
	b   *Block
	fn  typeEnv
}

func (e blockTypeEnv) statementType(r Ref[Statement]) Type { return e.b.statementType(r) }
func (e blockTypeEnv) symbolType(name string) (Type, bool)  { return e.fn.symbolType(name) }

// Validate checks the invariants §3 states for a Block: non-empty, and
// terminated by exactly one control-flow statement.
func (b *Block) Validate() error {
	if len(b.order) == 0 {
		return fmt.Errorf("block %d is empty", b.ID)
	}
	for i, ref := range b.order {
		s := b.Get(ref)
		isLast := i == len(b.order)-1
		if s.Kind.IsTerminator() != isLast {
			if isLast {
				return fmt.Errorf("block %d's last statement (kind %d) is not a terminator", b.ID, s.Kind)
			}
			return fmt.Errorf("block %d has a control-flow statement (kind %d) before its end", b.ID, s.Kind)
		}
	}
	return nil
}
