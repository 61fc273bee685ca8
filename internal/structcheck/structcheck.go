// Package structcheck implements the Structural Validator (spec.md §4.3):
// the well-formedness rules enforced across the extracted metadata and
// submodule summaries, after children are fully summarized. Rules 1 and 2
// run per module as its summary is built; rules 3 and 4 run once, at the
// top-level pass entry, over the union of every module's call annotations
// and call graph (spec.md §9: "place it at the top-level entry where the
// complete method set is visible").
package structcheck

import (
	"strings"

	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/methodscan"
	"github.com/ekiwi/untimed-modules/internal/structerr"
	"github.com/ekiwi/untimed-modules/internal/summary"
)

// ValidateModule enforces rules 1 (known submodule) and 2 (stateful-call
// determinism) for a single module, once its own methods and its children's
// summaries are available.
func ValidateModule(mod *summary.ModuleInfo) error {
	for _, method := range mod.Methods {
		if err := checkKnownSubmodule(mod, method); err != nil {
			return err
		}
		if err := checkStatefulDeterminism(mod, method); err != nil {
			return err
		}
	}
	return nil
}

// checkKnownSubmodule enforces rule 1: every call's callee parent must be a
// direct child submodule of mod. A call whose callee parent is mod itself is
// left to rule 3 (ValidateGlobal), which reports it as an intra-module call
// rather than an unknown one.
func checkKnownSubmodule(mod *summary.ModuleInfo, method methodscan.MethodInfo) error {
	for _, call := range method.Calls {
		if call.CalleeParent == mod.Name {
			continue
		}
		if _, ok := mod.SubmoduleNamed(call.CalleeParent); !ok {
			return structerr.New(structerr.UnknownCallee,
				"%s is not a direct submodule of %s, called from method %s", call.CalleeParent, mod.Name, method.Name)
		}
	}
	return nil
}

// checkStatefulDeterminism enforces rule 2: a method may call at most one
// method of any given stateful child submodule.
func checkStatefulDeterminism(mod *summary.ModuleInfo, method methodscan.MethodInfo) error {
	byParent := make(map[string][]string)
	order := make([]string, 0)
	for _, call := range method.Calls {
		if _, ok := byParent[call.CalleeParent]; !ok {
			order = append(order, call.CalleeParent)
		}
		byParent[call.CalleeParent] = append(byParent[call.CalleeParent], call.CalleeMethod)
	}

	for _, parent := range order {
		sub, ok := mod.SubmoduleNamed(parent)
		if !ok || !sub.Info.HasState() {
			continue
		}
		calls := byParent[parent]
		if len(calls) > 1 {
			return structerr.New(structerr.StatefulCallNonDeterminism,
				"[%s.%s] cannot call more than one method of stateful submodule %s. Detected calls: %s",
				mod.Name, method.Name, parent, joinMethods(calls))
		}
	}
	return nil
}

// ValidateGlobal enforces rules 3 (no intra-module calls) and 4 (no
// recursion) over the union of every module's Method-Call annotations and
// the fully-built call graph across all module summaries.
func ValidateGlobal(calls []annotations.MethodCall, modules map[string]*summary.ModuleInfo) error {
	for _, c := range calls {
		if c.CalleeParent == c.CallerModule {
			return structerr.New(structerr.IntraModuleCall, "currently, only calls to submodules are supported")
		}
	}

	graph := buildCallGraph(modules)
	if cyc := findCycle(graph); cyc {
		return structerr.New(structerr.RecursiveCall, "recursive calls are not allowed")
	}
	return nil
}

type methodID struct {
	module string
	method string
}

func buildCallGraph(modules map[string]*summary.ModuleInfo) map[methodID][]methodID {
	graph := make(map[methodID][]methodID)
	for modName, mod := range modules {
		for _, method := range mod.Methods {
			id := methodID{module: modName, method: method.Name}
			for _, call := range method.Calls {
				graph[id] = append(graph[id], methodID{module: call.CalleeParent, method: call.CalleeMethod})
			}
		}
	}
	return graph
}

func findCycle(graph map[methodID][]methodID) bool {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[methodID]int)

	var visit func(methodID) bool
	visit = func(id methodID) bool {
		switch state[id] {
		case onStack:
			return true
		case done:
			return false
		}
		state[id] = onStack
		for _, next := range graph[id] {
			if visit(next) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for id := range graph {
		if state[id] == unvisited {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

func joinMethods(calls []string) string {
	return strings.Join(calls, ", ")
}
