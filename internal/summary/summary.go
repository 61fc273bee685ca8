// Package summary defines UntimedModuleInfo (spec.md §3), the per-module
// summary the pass builds bottom-up: local state, per-method metadata, and
// child summaries. It is never mutated after construction (spec.md §3
// Lifecycle).
package summary

import (
	"github.com/ekiwi/untimed-modules/internal/methodscan"
	"github.com/ekiwi/untimed-modules/internal/scanner"
)

// SubmoduleRef pairs the instance name the front-end chose for a child
// submodule with that child's own summary, preserving the order its
// instance declaration appears in the parent's body (spec.md §5: "across
// sibling children the order follows the instance-declaration order in the
// parent body").
type SubmoduleRef struct {
	InstanceName string
	ChildModule  string
	Info         *ModuleInfo
}

// ModuleInfo is UntimedModuleInfo from spec.md §3.
type ModuleInfo struct {
	Name       string
	LocalState []scanner.StateRef
	Methods    []methodscan.MethodInfo
	Submodules []SubmoduleRef
}

// HasState is the transitive predicate of spec.md §3: true iff LocalState is
// non-empty, or any submodule (recursively) HasState.
func (m *ModuleInfo) HasState() bool {
	if len(m.LocalState) > 0 {
		return true
	}
	for _, s := range m.Submodules {
		if s.Info.HasState() {
			return true
		}
	}
	return false
}

// SubmoduleNamed finds a direct child submodule by the module name it
// instantiates (spec.md §4.3 rule 1 speaks of "the name of a direct child
// submodule", i.e. the child's module name, not its instance name).
func (m *ModuleInfo) SubmoduleNamed(childModule string) (SubmoduleRef, bool) {
	for _, s := range m.Submodules {
		if s.ChildModule == childModule {
			return s, true
		}
	}
	return SubmoduleRef{}, false
}

// MethodNamed finds a method of this module by name.
func (m *ModuleInfo) MethodNamed(name string) (methodscan.MethodInfo, bool) {
	for _, mi := range m.Methods {
		if mi.Name == name {
			return mi, true
		}
	}
	return methodscan.MethodInfo{}, false
}
