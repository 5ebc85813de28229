package rudder

// Symbol names a function-local variable or parameter. Symbols are
// value-equal by name within a function (§3), so Symbol is a plain
// comparable struct rather than an interned handle.
type Symbol struct {
	Name string
	Typ  Type
}

// Equal reports whether s and o name the same local within a function.
func (s Symbol) Equal(o Symbol) bool { return s.Name == o.Name }
