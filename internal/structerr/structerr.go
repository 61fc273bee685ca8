// Package structerr defines the single typed error the CollectCalls pass
// raises for every structural violation (spec.md §7): one Error value
// carrying a Kind so callers can errors.As their way back to it, and a
// human-readable message matching the literal strings spec.md §4.2/§4.3
// quote. Policy is fail-fast: the first Error aborts the pass (spec.md §7).
package structerr

import "fmt"

// Kind is the structural-violation taxonomy of spec.md §7.
type Kind int

const (
	// InvalidDeclInMethod: a register, memory, or instance declared inside
	// a method body.
	InvalidDeclInMethod Kind = iota
	// StatefulCallNonDeterminism: more than one call to any method of a
	// stateful submodule, within a single method.
	StatefulCallNonDeterminism
	// UnknownCallee: a call annotation references a module that is not a
	// direct child.
	UnknownCallee
	// IntraModuleCall: a call annotation whose callee parent equals the
	// caller module.
	IntraModuleCall
	// RecursiveCall: a cycle exists in the inter-method call graph.
	RecursiveCall
	// UnsupportedAbstraction: a non-empty `abstracted` set was requested.
	UnsupportedAbstraction
)

func (k Kind) String() string {
	switch k {
	case InvalidDeclInMethod:
		return "InvalidDeclInMethod"
	case StatefulCallNonDeterminism:
		return "StatefulCallNonDeterminism"
	case UnknownCallee:
		return "UnknownCallee"
	case IntraModuleCall:
		return "IntraModuleCall"
	case RecursiveCall:
		return "RecursiveCall"
	case UnsupportedAbstraction:
		return "UnsupportedAbstraction"
	default:
		return "Unknown"
	}
}

// Error is the one exported error type structural violations are raised as.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// New builds a structural Error with Msg formatted per the given format and
// args, matching fmt.Errorf's formatting rules.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
