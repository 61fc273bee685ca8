// Package e2e exercises the full CollectCalls pipeline in-process, end to
// end, against small hand-built circuits — one per scenario spec.md §8
// enumerates. There is no subprocess, no external binary: every scenario
// calls collectcalls.CollectCalls or collectcalls.Facts directly.
package e2e

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/collectcalls"
	"github.com/ekiwi/untimed-modules/internal/config"
	"github.com/ekiwi/untimed-modules/internal/ir"
	"github.com/ekiwi/untimed-modules/internal/structerr"
)

func methodBundle(argWidth, retWidth int) ir.Type {
	return ir.Type{Fields: []ir.BundleField{
		{Name: "enabled", Direction: ir.Input, Type: ir.Type{Width: 1}},
		{Name: "guard", Direction: ir.Output, Type: ir.Type{Width: 1}},
		{Name: "arg", Direction: ir.Input, Type: ir.Type{Width: argWidth}},
		{Name: "ret", Direction: ir.Output, Type: ir.Type{Width: retWidth}},
	}}
}

func clockReset() []ir.Port {
	return []ir.Port{
		{Name: "clock", Direction: ir.Input, Type: ir.Type{Width: 1}},
		{Name: "reset", Direction: ir.Input, Type: ir.Type{Width: 1}},
	}
}

func methodRegion(port string, then []ir.Stmt) ir.Conditional {
	return ir.Conditional{
		Predicate: ir.SubField{Base: ir.Ref{Name: port}, Field: "enabled"},
		Then:      then,
	}
}

func noCacheConfig() *config.Config {
	cfg := config.DefaultConfig()
	disabled := false
	cfg.Cache.Enabled = &disabled
	return cfg
}

func asStructErr(t *testing.T, err error) *structerr.Error {
	t.Helper()
	var se *structerr.Error
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *structerr.Error", err)
	}
	return se
}

// 1. A pure stateless method with no local state and no submodule calls:
// UntimedInc.inc, which just passes its argument through to ret (the actual
// increment arithmetic is the downstream IR compiler's concern, out of
// scope here — this pass never evaluates expressions).
func TestPureStatelessMethod(t *testing.T) {
	untimedInc := ir.Module{
		Name:  "UntimedInc",
		Ports: append(clockReset(), ir.Port{Name: "inc", Direction: ir.Input, Type: methodBundle(32, 32)}),
		Body: []ir.Stmt{
			methodRegion("inc", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "inc"}, Field: "ret"}, Rvalue: ir.SubField{Base: ir.Ref{Name: "inc"}, Field: "arg"}},
			}),
		},
	}
	circuit := ir.Circuit{Main: "UntimedInc", Modules: []ir.Module{untimedInc}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{{Module: "UntimedInc", Port: "inc", MethodName: "inc"}},
	}}

	summaries, err := collectcalls.Facts(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if summaries["UntimedInc"].HasState() {
		t.Fatalf("UntimedInc.HasState() = true, want false: no registers, no memories, no stateful children")
	}

	result, err := collectcalls.CollectCalls(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("CollectCalls: %v", err)
	}
	rewritten := result.Circuit.ModuleNamed("UntimedInc")
	for _, s := range rewritten.Body {
		if _, ok := s.(ir.InstanceDecl); ok {
			t.Fatalf("rewritten UntimedInc has an instance decl, want none: it has no submodules")
		}
	}
}

// 2. Local-state counter: a single register makes HasState true even with
// no submodules at all.
func TestLocalStateCounter(t *testing.T) {
	counter4Bit := ir.Module{
		Name:  "Counter4Bit",
		Ports: append(clockReset(), ir.Port{Name: "inc", Direction: ir.Input, Type: methodBundle(0, 4)}),
		Body: []ir.Stmt{
			ir.RegDecl{Name: "value", Type: ir.Type{Width: 4}, Init: ir.Literal{Value: 0, Width: 4}},
			methodRegion("inc", []ir.Stmt{
				ir.Connect{Lvalue: ir.Ref{Name: "value"}, Rvalue: ir.Ref{Name: "value"}},
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "inc"}, Field: "ret"}, Rvalue: ir.Ref{Name: "value"}},
			}),
		},
	}
	circuit := ir.Circuit{Main: "Counter4Bit", Modules: []ir.Module{counter4Bit}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{{Module: "Counter4Bit", Port: "inc", MethodName: "inc"}},
	}}

	summaries, err := collectcalls.Facts(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("Facts: %v", err)
	}
	if !summaries["Counter4Bit"].HasState() {
		t.Fatalf("Counter4Bit.HasState() = false, want true: it declares register `value`")
	}
}

// Builds Counter4BitWithSubModule (or ...AndTwoCalls), a module that holds
// one UntimedInc child called from its own "tick" method, calling it either
// once or twice depending on secondCall.
func buildStatefulChildCircuit(secondCall bool) (ir.Circuit, annotations.Input) {
	untimedInc := ir.Module{
		Name:  "UntimedInc",
		Ports: append(clockReset(), ir.Port{Name: "inc", Direction: ir.Input, Type: methodBundle(32, 32)}),
		Body: []ir.Stmt{
			ir.RegDecl{Name: "count", Type: ir.Type{Width: 32}},
			methodRegion("inc", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "inc"}, Field: "ret"}, Rvalue: ir.Ref{Name: "count"}},
			}),
		},
	}

	ports := append(clockReset(), ir.Port{Name: "tick", Direction: ir.Input, Type: methodBundle(0, 0)})
	thenStmts := []ir.Stmt{
		ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "call_inc"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}},
	}
	ports = append(ports, ir.Port{Name: "call_inc", Direction: ir.Output, Type: methodBundle(32, 32)})
	calls := []annotations.MethodCall{
		{CallerModule: "Counter4BitWithSubModule", CallerPort: "call_inc", CalleeParent: "UntimedInc", CalleeMethod: "inc"},
	}
	moduleName := "Counter4BitWithSubModule"
	if secondCall {
		moduleName = "Counter4BitWithSubModuleAndTwoCalls"
		ports = append(ports, ir.Port{Name: "call_inc2", Direction: ir.Output, Type: methodBundle(32, 32)})
		thenStmts = append(thenStmts, ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "call_inc2"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}})
		calls = append(calls, annotations.MethodCall{CallerModule: moduleName, CallerPort: "call_inc2", CalleeParent: "UntimedInc", CalleeMethod: "inc"})
	}
	for i := range calls {
		calls[i].CallerModule = moduleName
	}

	top := ir.Module{
		Name:  moduleName,
		Ports: ports,
		Body: []ir.Stmt{
			ir.InstanceDecl{Name: "ii", ChildModule: "UntimedInc"},
			methodRegion("tick", thenStmts),
		},
	}

	circuit := ir.Circuit{Main: moduleName, Modules: []ir.Module{top, untimedInc}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{
			{Module: moduleName, Port: "tick", MethodName: "tick"},
			{Module: "UntimedInc", Port: "inc", MethodName: "inc"},
		},
		MethodCall: calls,
	}}
	return circuit, input
}

// 3. Stateful child, single call site: exactly one instance is materialized.
func TestStatefulChildSingleCallSite(t *testing.T) {
	circuit, input := buildStatefulChildCircuit(false)

	result, err := collectcalls.CollectCalls(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("CollectCalls: %v", err)
	}
	top := result.Circuit.ModuleNamed("Counter4BitWithSubModule")
	var instances []ir.InstanceDecl
	for _, s := range top.Body {
		if d, ok := s.(ir.InstanceDecl); ok {
			instances = append(instances, d)
		}
	}
	if len(instances) != 1 {
		t.Fatalf("instances = %+v, want exactly 1 (stateful submodules are never duplicated)", instances)
	}
	if instances[0].Name != "ii" {
		t.Fatalf("instance name = %q, want the front-end's chosen name ii reused", instances[0].Name)
	}
}

// 4. Stateful child, two calls within one method: rejected.
func TestStatefulChildTwoCallsRejected(t *testing.T) {
	circuit, input := buildStatefulChildCircuit(true)

	_, err := collectcalls.CollectCalls(circuit, input, noCacheConfig())
	if err == nil {
		t.Fatalf("CollectCalls accepted two calls to a stateful submodule's method from one method body")
	}
	se := asStructErr(t, err)
	if se.Kind != structerr.StatefulCallNonDeterminism {
		t.Fatalf("error kind = %v, want StatefulCallNonDeterminism", se.Kind)
	}
	want := "cannot call more than one method of stateful submodule"
	if !strings.Contains(se.Msg, want) {
		t.Fatalf("error message %q does not contain %q", se.Msg, want)
	}
}

// Builds a top module with a stateless Adder child, called twice from the
// same method.
func buildStatelessChildTwoCalls() (ir.Circuit, annotations.Input) {
	adder := ir.Module{
		Name:  "Adder",
		Ports: append(clockReset(), ir.Port{Name: "add", Direction: ir.Input, Type: methodBundle(16, 16)}),
		Body: []ir.Stmt{
			methodRegion("add", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "add"}, Field: "ret"}, Rvalue: ir.SubField{Base: ir.Ref{Name: "add"}, Field: "arg"}},
			}),
		},
	}

	top := ir.Module{
		Name: "AdderCaller",
		Ports: append(clockReset(),
			ir.Port{Name: "tick", Direction: ir.Input, Type: methodBundle(0, 0)},
			ir.Port{Name: "call_add1", Direction: ir.Output, Type: methodBundle(16, 16)},
			ir.Port{Name: "call_add2", Direction: ir.Output, Type: methodBundle(16, 16)},
		),
		Body: []ir.Stmt{
			ir.InstanceDecl{Name: "a", ChildModule: "Adder"},
			methodRegion("tick", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "call_add1"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}},
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "call_add2"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}},
			}),
		},
	}

	circuit := ir.Circuit{Main: "AdderCaller", Modules: []ir.Module{top, adder}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{
			{Module: "AdderCaller", Port: "tick", MethodName: "tick"},
			{Module: "Adder", Port: "add", MethodName: "add"},
		},
		MethodCall: []annotations.MethodCall{
			{CallerModule: "AdderCaller", CallerPort: "call_add1", CalleeParent: "Adder", CalleeMethod: "add", CallSiteIndex: 0},
			{CallerModule: "AdderCaller", CallerPort: "call_add2", CalleeParent: "Adder", CalleeMethod: "add", CallSiteIndex: 1},
		},
	}}
	return circuit, input
}

// 5. Stateless child, two calls: two instances are materialized, and the
// first/second textual call bind to the first/second instance respectively.
func TestStatelessChildTwoCallsFanOut(t *testing.T) {
	circuit, input := buildStatelessChildTwoCalls()

	result, err := collectcalls.CollectCalls(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("CollectCalls: %v", err)
	}
	top := result.Circuit.ModuleNamed("AdderCaller")

	var instanceNames []string
	for _, s := range top.Body {
		if d, ok := s.(ir.InstanceDecl); ok {
			instanceNames = append(instanceNames, d.Name)
		}
	}
	if len(instanceNames) != 2 {
		t.Fatalf("instances = %v, want 2 (one stateless instance per textual call)", instanceNames)
	}

	bindings := map[string]string{}
	for _, s := range top.Body {
		conn, ok := s.(ir.Connect)
		if !ok {
			continue
		}
		lsf, ok := conn.Lvalue.(ir.SubField)
		if !ok || lsf.Field != "arg" {
			continue
		}
		instSf, ok := lsf.Base.(ir.SubField)
		if !ok {
			continue
		}
		instRef, ok := instSf.Base.(ir.Ref)
		if !ok {
			continue
		}
		rsf, ok := conn.Rvalue.(ir.SubField)
		if !ok || rsf.Field != "arg" {
			continue
		}
		callerRef, ok := rsf.Base.(ir.Ref)
		if !ok {
			continue
		}
		bindings[callerRef.Name] = instRef.Name
	}
	if bindings["call_add1"] != instanceNames[0] {
		t.Fatalf("call_add1 bound to %q, want the first instance %q", bindings["call_add1"], instanceNames[0])
	}
	if bindings["call_add2"] != instanceNames[1] {
		t.Fatalf("call_add2 bound to %q, want the second instance %q", bindings["call_add2"], instanceNames[1])
	}
}

// 6. Register declared inside a method: rejected at extraction time.
func TestRegisterInsideMethodRejected(t *testing.T) {
	mod := ir.Module{
		Name:  "RegInMethodModule",
		Ports: append(clockReset(), ir.Port{Name: "foo", Direction: ir.Input, Type: methodBundle(8, 8)}),
		Body: []ir.Stmt{
			methodRegion("foo", []ir.Stmt{
				ir.RegDecl{Name: "stray", Type: ir.Type{Width: 8}},
			}),
		},
	}
	circuit := ir.Circuit{Main: "RegInMethodModule", Modules: []ir.Module{mod}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{{Module: "RegInMethodModule", Port: "foo", MethodName: "foo"}},
	}}

	_, err := collectcalls.Facts(circuit, input, noCacheConfig())
	if err == nil {
		t.Fatalf("Facts accepted a register declared inside a method body")
	}
	se := asStructErr(t, err)
	if se.Kind != structerr.InvalidDeclInMethod {
		t.Fatalf("error kind = %v, want InvalidDeclInMethod", se.Kind)
	}
	if !strings.Contains(se.Msg, "create a register") {
		t.Fatalf("error message %q does not mention creating a register", se.Msg)
	}
	if !strings.Contains(se.Msg, "in method `foo` of `RegInMethodModule`") {
		t.Fatalf("error message %q does not name the offending method/module", se.Msg)
	}
}

// 7. Recursion: a structural instantiation cycle across two modules (A
// instantiates B, B instantiates A) closes a cycle in the call graph without
// any single call being intra-module. The two modules' method-call
// annotations never have calleeParent equal to their own caller module, so
// rule 3 (intra-module) never fires. The RecursiveCall error comes from the
// instantiation-cycle check of the bottom-up summarization, which rejects
// the circuit before the call-graph cycle check runs.
func TestRecursiveCallGraphRejected(t *testing.T) {
	a := ir.Module{
		Name:  "RecurseA",
		Ports: append(clockReset(), ir.Port{Name: "foo", Direction: ir.Input, Type: methodBundle(8, 8)}),
		Body: []ir.Stmt{
			ir.InstanceDecl{Name: "b", ChildModule: "RecurseB"},
			methodRegion("foo", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "callB"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}},
			}),
		},
	}
	a.Ports = append(a.Ports, ir.Port{Name: "callB", Direction: ir.Output, Type: methodBundle(8, 8)})

	b := ir.Module{
		Name:  "RecurseB",
		Ports: append(clockReset(), ir.Port{Name: "bar", Direction: ir.Input, Type: methodBundle(8, 8)}),
		Body: []ir.Stmt{
			ir.InstanceDecl{Name: "a", ChildModule: "RecurseA"},
			methodRegion("bar", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "callA"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}},
			}),
		},
	}
	b.Ports = append(b.Ports, ir.Port{Name: "callA", Direction: ir.Output, Type: methodBundle(8, 8)})

	circuit := ir.Circuit{Main: "RecurseA", Modules: []ir.Module{a, b}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{
			{Module: "RecurseA", Port: "foo", MethodName: "foo"},
			{Module: "RecurseB", Port: "bar", MethodName: "bar"},
		},
		MethodCall: []annotations.MethodCall{
			{CallerModule: "RecurseA", CallerPort: "callB", CalleeParent: "RecurseB", CalleeMethod: "bar"},
			{CallerModule: "RecurseB", CallerPort: "callA", CalleeParent: "RecurseA", CalleeMethod: "foo"},
		},
	}}

	_, err := collectcalls.Facts(circuit, input, noCacheConfig())
	if err == nil {
		t.Fatalf("Facts accepted a circular submodule instantiation / call graph cycle")
	}
	se := asStructErr(t, err)
	if se.Kind != structerr.RecursiveCall {
		t.Fatalf("error kind = %v, want RecursiveCall", se.Kind)
	}
	if se.Msg != "recursive calls are not allowed" {
		t.Fatalf("error message = %q, want the exact recursion message", se.Msg)
	}
}

// 8. Intra-module call: method foo calls sibling method bar within the same
// module. Rejected before the call graph is even built.
func TestIntraModuleCallRejected(t *testing.T) {
	mod := ir.Module{
		Name: "SelfCaller",
		Ports: append(clockReset(),
			ir.Port{Name: "foo", Direction: ir.Input, Type: methodBundle(8, 8)},
			ir.Port{Name: "bar", Direction: ir.Input, Type: methodBundle(8, 8)},
			ir.Port{Name: "call_bar", Direction: ir.Output, Type: methodBundle(8, 8)},
		),
		Body: []ir.Stmt{
			methodRegion("foo", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "call_bar"}, Field: "enabled"}, Rvalue: ir.Literal{Value: 1, Width: 1}},
			}),
			methodRegion("bar", []ir.Stmt{
				ir.Connect{Lvalue: ir.SubField{Base: ir.Ref{Name: "bar"}, Field: "ret"}, Rvalue: ir.SubField{Base: ir.Ref{Name: "bar"}, Field: "arg"}},
			}),
		},
	}
	circuit := ir.Circuit{Main: "SelfCaller", Modules: []ir.Module{mod}}
	input := annotations.Input{Annotations: annotations.Set{
		MethodIO: []annotations.MethodIO{
			{Module: "SelfCaller", Port: "foo", MethodName: "foo"},
			{Module: "SelfCaller", Port: "bar", MethodName: "bar"},
		},
		MethodCall: []annotations.MethodCall{
			{CallerModule: "SelfCaller", CallerPort: "call_bar", CalleeParent: "SelfCaller", CalleeMethod: "bar"},
		},
	}}

	_, err := collectcalls.Facts(circuit, input, noCacheConfig())
	if err == nil {
		t.Fatalf("Facts accepted a method calling a sibling method of the same module")
	}
	se := asStructErr(t, err)
	if se.Kind != structerr.IntraModuleCall {
		t.Fatalf("error kind = %v, want IntraModuleCall", se.Kind)
	}
	if se.Msg != "currently, only calls to submodules are supported" {
		t.Fatalf("error message = %q, want the exact intra-module message", se.Msg)
	}
}

// 9. Memory preservation: a passthrough annotation (e.g. a memory zero-init
// directive the pass never reads) survives into the output unchanged and
// exactly once.
func TestMemoryPassthroughPreserved(t *testing.T) {
	mod := ir.Module{
		Name:  "MemHolder",
		Ports: clockReset(),
		Body: []ir.Stmt{
			ir.MemDecl{Name: "table", Elem: ir.Type{Width: 8}, Depth: 16},
		},
	}
	circuit := ir.Circuit{Main: "MemHolder", Modules: []ir.Module{mod}}
	input := annotations.Input{Annotations: annotations.Set{
		Passthrough: []annotations.Passthrough{
			{Kind: "memoryZeroInit", Payload: map[string]any{"memory": "table"}},
		},
	}}

	result, err := collectcalls.CollectCalls(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("CollectCalls: %v", err)
	}
	if len(result.Annotations.Passthrough) != 1 {
		t.Fatalf("passthrough annotations = %+v, want exactly 1 surviving unchanged", result.Annotations.Passthrough)
	}
	got := result.Annotations.Passthrough[0]
	if got.Kind != "memoryZeroInit" {
		t.Fatalf("passthrough.Kind = %q, want memoryZeroInit", got.Kind)
	}
	mod2 := result.Circuit.ModuleNamed("MemHolder")
	found := false
	for _, s := range mod2.Body {
		if d, ok := s.(ir.MemDecl); ok && d.Name == "table" && d.Depth == 16 {
			found = true
		}
	}
	if !found {
		t.Fatalf("rewritten MemHolder lost its memory declaration")
	}
}

// 10. Idempotency (spec.md P6): feeding a run's own output circuit and
// filtered annotations back in as the input to a second run produces a
// second output that is structurally identical to the first. In particular,
// the stateless fan-out from scenario 5 must survive a second pass without
// growing extra instances or losing the ones it already has.
func TestRunningTwiceIsANoOp(t *testing.T) {
	circuit, input := buildStatelessChildTwoCalls()

	first, err := collectcalls.CollectCalls(circuit, input, noCacheConfig())
	if err != nil {
		t.Fatalf("first CollectCalls: %v", err)
	}

	second, err := collectcalls.CollectCalls(first.Circuit, annotations.Input{Annotations: first.Annotations}, noCacheConfig())
	if err != nil {
		t.Fatalf("second CollectCalls: %v", err)
	}

	if !reflect.DeepEqual(first.Circuit, second.Circuit) {
		t.Fatalf("second pass changed the circuit:\nfirst:  %+v\nsecond: %+v", first.Circuit, second.Circuit)
	}
	if !reflect.DeepEqual(first.Annotations, second.Annotations) {
		t.Fatalf("second pass changed the annotations:\nfirst:  %+v\nsecond: %+v", first.Annotations, second.Annotations)
	}
}
