// Package planner implements the Instance Planner (spec.md §4.4): for each
// submodule of a module, it decides how many physical instances to
// materialize, and names each one.
package planner

import (
	"fmt"

	"github.com/ekiwi/untimed-modules/internal/methodscan"
	"github.com/ekiwi/untimed-modules/internal/summary"
)

// Decision is the planner's output for one child submodule: the instance
// names to materialize, in order. A nil/empty slice means the submodule is
// not materialized at all (no method ever calls it).
type Decision struct {
	ChildModule   string
	InstanceNames []string
}

// Plan decides, for every distinct submodule of mod, how many instances to
// materialize and what to name them.
//
//   - A stateful child always gets exactly one instance, reusing the
//     front-end's chosen instance name (state must evolve coherently under a
//     single physical copy).
//   - A stateless child gets k instances, where k is the largest number of
//     textual call-site occurrences of any single (calleeParent, calleeMethod)
//     pair within any one method of mod, but never fewer than the instances
//     of that child already declared in mod (see below). Every child listed
//     in mod.Submodules has at least one such declaration, so a stateless
//     child that no method calls keeps its existing instance; it is not
//     omitted.
//
// mod.Submodules may list more than one instance of the same child module —
// normally a fresh, un-rewritten circuit has exactly one, but re-running the
// pass over its own output (spec.md P6, "no-op on module structure") sees
// whatever fan-out a prior run already materialized, with no calls left to
// recount (Method-Call annotations are dropped from the output, P3). Each
// pre-existing instance therefore sets a floor on k and is named by reusing
// its own existing name in declaration order, so a second pass reproduces
// exactly the instances the first pass left behind instead of deciding the
// now-uncalled ones were never there.
func Plan(mod *summary.ModuleInfo, namer *NameGenerator) []Decision {
	var order []string
	existingNames := make(map[string][]string)
	infoByChild := make(map[string]*summary.ModuleInfo)
	for _, sub := range mod.Submodules {
		if _, seen := infoByChild[sub.ChildModule]; !seen {
			order = append(order, sub.ChildModule)
		}
		existingNames[sub.ChildModule] = append(existingNames[sub.ChildModule], sub.InstanceName)
		infoByChild[sub.ChildModule] = sub.Info
	}

	decisions := make([]Decision, 0, len(order))
	for _, child := range order {
		existing := existingNames[child]

		if infoByChild[child].HasState() {
			decisions = append(decisions, Decision{ChildModule: child, InstanceNames: []string{existing[0]}})
			continue
		}

		k := maxCallGroupSize(mod, child)
		if k < len(existing) {
			k = len(existing)
		}
		if k == 0 {
			decisions = append(decisions, Decision{ChildModule: child})
			continue
		}

		names := make([]string, k)
		for i := range names {
			if i < len(existing) {
				names[i] = existing[i]
			} else {
				names[i] = namer.Fresh(existing[0])
			}
		}
		decisions = append(decisions, Decision{ChildModule: child, InstanceNames: names})
	}

	return decisions
}

// maxCallGroupSize computes k for a stateless child: the largest count of
// calls to a single (childModule, calleeMethod) pair found within any one
// method of mod (spec.md §4.4).
func maxCallGroupSize(mod *summary.ModuleInfo, childModule string) int {
	max := 0
	for _, method := range mod.Methods {
		groups := GroupCallsByCalleeMethod(method.Calls, childModule)
		for _, calls := range groups {
			if len(calls) > max {
				max = len(calls)
			}
		}
	}
	return max
}

// GroupCallsByCalleeMethod partitions a method's calls that target
// childModule by their callee method name, preserving each group's
// first-occurrence (textual) order. Shared with the Rewriter, which needs
// the same grouping to bind the k-th textual occurrence of a
// (calleeParent, calleeMethod) pair to the k-th allocated instance
// (spec.md §4.5).
func GroupCallsByCalleeMethod(calls []methodscan.CallInfo, childModule string) map[string][]methodscan.CallInfo {
	groups := make(map[string][]methodscan.CallInfo)
	for _, c := range calls {
		if c.CalleeParent != childModule {
			continue
		}
		groups[c.CalleeMethod] = append(groups[c.CalleeMethod], c)
	}
	return groups
}

// NameGenerator produces fresh, collision-free names from the namespace of
// a single module (spec.md §4.4: "a name generator that, given a hint,
// produces an unused name").
type NameGenerator struct {
	used map[string]bool
}

// NewNameGenerator seeds a NameGenerator with every name already in use in a
// module's namespace (ports, wires, nodes, registers, memories, and
// instances).
func NewNameGenerator(namesInUse []string) *NameGenerator {
	used := make(map[string]bool, len(namesInUse))
	for _, n := range namesInUse {
		used[n] = true
	}
	return &NameGenerator{used: used}
}

// Fresh returns an unused name derived from hint, reserving it for future
// calls.
func (g *NameGenerator) Fresh(hint string) string {
	if !g.used[hint] {
		g.used[hint] = true
		return hint
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", hint, i)
		if !g.used[candidate] {
			g.used[candidate] = true
			return candidate
		}
	}
}
