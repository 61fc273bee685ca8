// Package scanner implements the State Scanner (spec.md §4.1): given a
// module body, it enumerates every register and memory declaration,
// including those nested inside conditional regions, in textual order.
package scanner

import "github.com/ekiwi/untimed-modules/internal/ir"

// Kind distinguishes a register StateRef from a memory StateRef.
type Kind int

const (
	Register Kind = iota
	Memory
)

// StateRef is one entry of a module's local state set.
type StateRef struct {
	Name string
	Kind Kind
	// Type is the register's declared type, or — for a memory of depth D
	// and element type T — VecOf(T, D), a bit vector of width T.Width*D
	// (spec.md §4.1).
	Type ir.Type
}

// ScanState walks body depth-first and returns every register and memory
// declaration in textual order. Instance declarations are never state:
// a stateful submodule's state is accounted for transitively through
// UntimedModuleInfo.hasState, not by re-listing it here.
func ScanState(body []ir.Stmt) []StateRef {
	var out []StateRef
	scanStmts(body, &out)
	return out
}

func scanStmts(stmts []ir.Stmt, out *[]StateRef) {
	for _, s := range stmts {
		scanStmt(s, out)
	}
}

func scanStmt(s ir.Stmt, out *[]StateRef) {
	switch v := s.(type) {
	case ir.RegDecl:
		*out = append(*out, StateRef{Name: v.Name, Kind: Register, Type: v.Type})
	case ir.MemDecl:
		*out = append(*out, StateRef{Name: v.Name, Kind: Memory, Type: ir.VecOf(v.Elem, v.Depth)})
	case ir.Conditional:
		scanStmts(v.Then, out)
		scanStmts(v.Else, out)
	}
}
