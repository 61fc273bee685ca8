// Package rewriter implements the Rewriter (spec.md §4.5): given the
// Instance Planner's decisions, it emits a new module body with instance
// declarations, per-instance and per-call-port default connections, and the
// call-site wiring, with the original statements preserved and placed last
// so their connections override the defaults under last-connect semantics.
package rewriter

import (
	"sort"

	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/ir"
	"github.com/ekiwi/untimed-modules/internal/methodscan"
	"github.com/ekiwi/untimed-modules/internal/planner"
)

// MethodPort describes one method IO port as it appears on the module that
// exposes it: the port name, and the bundle's sub-fields (enabled, guard,
// arg, ret — whichever the method's shape includes), each carrying its own
// Direction relative to that module.
type MethodPort struct {
	MethodName string
	PortName   string
	Fields     []ir.BundleField
}

// ChildPorts is the set of method IO ports a submodule exposes, the shape
// the Rewriter needs to default every port of a materialized instance
// (spec.md §4.5 item 1) and to wire a specific call site (item 3).
type ChildPorts struct {
	Methods []MethodPort
}

// Find looks up a method's port description by method name.
func (c ChildPorts) Find(method string) (MethodPort, bool) {
	for _, m := range c.Methods {
		if m.MethodName == method {
			return m, true
		}
	}
	return MethodPort{}, false
}

// ChildLookup resolves a child module name to the method IO ports it
// exposes. The CollectCalls orchestrator supplies this from the already-built
// Method-IO annotations and port list of that child module.
type ChildLookup func(childModule string) ChildPorts

// Rewrite produces mod's new body per spec.md §4.5, given the methods the
// Method Extractor found, the call-port annotations addressed to this
// module, and the Instance Planner's decisions.
func Rewrite(mod ir.Module, methods []methodscan.MethodInfo, callPorts map[string]annotations.MethodCall, decisions []planner.Decision, childPorts ChildLookup) ir.Module {
	var passthrough []ir.Stmt
	for _, s := range mod.Body {
		if _, ok := s.(ir.InstanceDecl); ok {
			continue
		}
		passthrough = append(passthrough, s)
	}

	// A body that already went through this pass carries the clock/reset
	// connections of its instances; those are not emitted a second time.
	present := make(map[ir.Connect]bool)
	for _, s := range passthrough {
		if c, ok := s.(ir.Connect); ok {
			present[c] = true
		}
	}

	var out []ir.Stmt
	out = append(out, instanceDecls(decisions)...)
	for _, s := range instanceDefaults(decisions, childPorts) {
		if c, ok := s.(ir.Connect); ok && present[c] {
			if sf, ok := c.Lvalue.(ir.SubField); ok && (sf.Field == "clock" || sf.Field == "reset") {
				continue
			}
		}
		out = append(out, s)
	}
	out = append(out, callPortDefaults(callPorts, childPorts)...)
	out = append(out, callSiteWiring(methods, decisions, childPorts)...)
	out = append(out, passthrough...)

	return ir.Module{Name: mod.Name, Ports: mod.Ports, Body: out}
}

// instanceDecls materializes the planner's decisions, in decision order
// (which mirrors the front-end's original instance-declaration order,
// spec.md §5), so P1 (declaration precedes every reference) holds.
func instanceDecls(decisions []planner.Decision) []ir.Stmt {
	var out []ir.Stmt
	for _, d := range decisions {
		for _, name := range d.InstanceNames {
			out = append(out, ir.InstanceDecl{Name: name, ChildModule: d.ChildModule})
		}
	}
	return out
}

// instanceDefaults emits, for every materialized instance, its clock/reset
// wiring and a default enabled=0 plus invalidated arg for every method IO
// port the child exposes — not only the ones actually called (spec.md
// §4.5 item 1, P2).
func instanceDefaults(decisions []planner.Decision, childPorts ChildLookup) []ir.Stmt {
	var out []ir.Stmt
	for _, d := range decisions {
		ports := childPorts(d.ChildModule)
		for _, name := range d.InstanceNames {
			out = append(out, connect(subfield(ref(name), "clock"), ref("clock")))
			out = append(out, connect(subfield(ref(name), "reset"), ref("reset")))
			for _, mp := range ports.Methods {
				ioPort := subfield(ref(name), mp.PortName)
				out = append(out, connect(subfield(ioPort, "enabled"), bitZero()))
				if hasField(mp.Fields, "arg") {
					out = append(out, ir.Invalidate{Lvalue: subfield(ioPort, "arg")})
				}
			}
		}
	}
	return out
}

// callPortDefaults emits a default enabled=0 and invalidated arg for every
// call port of the current module (spec.md §4.5 item 2, P2).
func callPortDefaults(callPorts map[string]annotations.MethodCall, childPorts ChildLookup) []ir.Stmt {
	var out []ir.Stmt
	for _, callerPort := range sortedKeys(callPorts) {
		call := callPorts[callerPort]
		out = append(out, connect(subfield(ref(callerPort), "enabled"), bitZero()))
		if mp, ok := childPorts(call.CalleeParent).Find(call.CalleeMethod); ok && hasField(mp.Fields, "arg") {
			out = append(out, ir.Invalidate{Lvalue: subfield(ref(callerPort), "arg")})
		}
	}
	return out
}

// callSiteWiring binds each textual call occurrence to its planned instance
// (round-robin across the k allocated copies, the k-th occurrence of a
// (calleeParent, calleeMethod) pair binding to the k-th instance, spec.md
// §4.5 item 3) and connects every sub-field of the method bundle between the
// call port and the bound instance, in the direction that field's Direction
// implies: caller-driven fields (enabled, arg) flow into the instance,
// callee-driven fields (guard, ret) flow back out to the call port.
func callSiteWiring(methods []methodscan.MethodInfo, decisions []planner.Decision, childPorts ChildLookup) []ir.Stmt {
	instances := make(map[string][]string, len(decisions))
	for _, d := range decisions {
		instances[d.ChildModule] = d.InstanceNames
	}

	var out []ir.Stmt
	for _, m := range methods {
		occurrence := make(map[string]int)
		for _, call := range m.Calls {
			key := call.CalleeParent + "\x00" + call.CalleeMethod
			idx := occurrence[key]
			occurrence[key]++

			names := instances[call.CalleeParent]
			if len(names) == 0 {
				continue
			}
			instanceName := names[idx%len(names)]

			mp, ok := childPorts(call.CalleeParent).Find(call.CalleeMethod)
			if !ok {
				continue
			}
			ioPort := subfield(ref(instanceName), mp.PortName)
			for _, f := range mp.Fields {
				callerSide := subfield(ref(call.CallerPortName), f.Name)
				instanceSide := subfield(ioPort, f.Name)
				if f.Direction == ir.Output {
					out = append(out, connect(callerSide, instanceSide))
				} else {
					out = append(out, connect(instanceSide, callerSide))
				}
			}
		}
	}
	return out
}

func hasField(fields []ir.BundleField, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func ref(name string) ir.Expr                     { return ir.Ref{Name: name} }
func subfield(base ir.Expr, field string) ir.Expr { return ir.SubField{Base: base, Field: field} }
func connect(lvalue, rvalue ir.Expr) ir.Stmt      { return ir.Connect{Lvalue: lvalue, Rvalue: rvalue} }
func bitZero() ir.Expr                            { return ir.Literal{Value: 0, Width: 1} }

// sortedKeys returns callPorts' keys in a stable, deterministic order so
// repeated runs over identical input produce byte-identical output
// (spec.md §5 determinism requirement) regardless of map iteration order.
func sortedKeys(callPorts map[string]annotations.MethodCall) []string {
	keys := make([]string, 0, len(callPorts))
	for k := range callPorts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
