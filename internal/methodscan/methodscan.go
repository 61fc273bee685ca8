// Package methodscan implements the Method Extractor (spec.md §4.2): given a
// module body and its Method-IO map, it locates method regions and produces
// one MethodInfo per method, recording writes and submodule calls.
package methodscan

import (
	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/ir"
	"github.com/ekiwi/untimed-modules/internal/structerr"
)

// CallInfo is one submodule method invocation found inside a method body.
type CallInfo struct {
	CalleeParent   string
	CalleeMethod   string
	CallerPortName string
}

// MethodInfo is the per-method summary spec.md §3 defines: its name, its IO
// port, the non-local signals it writes, and its ordered list of submodule
// calls.
type MethodInfo struct {
	Name       string
	IOPortName string
	Writes     map[string]bool
	Calls      []CallInfo
}

// declError builds the structural error for a register, memory, or instance
// declared inside a method body — spec.md §4.2's forbidden-declaration rule.
func declError(declKind, declName, method, module string) error {
	return structerr.New(structerr.InvalidDeclInMethod, "cannot create a %s `%s` in method `%s` of `%s`", declKind, declName, method, module)
}

// Extract finds every method region in body and returns one MethodInfo per
// recognized method, in the order their regions appear in body.
// A region is recognized as a method only when its predicate is
// ref(P).enabled for a port P present in methodIO and its else-block is
// empty; any other conditional is left alone (conforming front-ends never
// wrap method regions in extra conditionals, spec.md §4.2).
func Extract(moduleName string, body []ir.Stmt, methodIO map[string]annotations.MethodIO, callPorts map[string]annotations.MethodCall) ([]MethodInfo, error) {
	var methods []MethodInfo
	seen := make(map[string]bool)

	for _, stmt := range body {
		cond, ok := stmt.(ir.Conditional)
		if !ok {
			continue
		}
		port, ok := enabledPredicatePort(cond.Predicate)
		if !ok {
			continue
		}
		io, ok := methodIO[port]
		if !ok || len(cond.Else) != 0 {
			continue
		}
		if seen[io.MethodName] {
			continue
		}
		seen[io.MethodName] = true

		info := MethodInfo{Name: io.MethodName, IOPortName: port, Writes: make(map[string]bool)}
		a := &analysis{
			moduleName: moduleName,
			methodName: io.MethodName,
			ioPort:     port,
			callPorts:  callPorts,
			locals:     make(map[string]bool),
			callIndex:  make(map[string]int),
			info:       &info,
		}
		if err := a.walk(cond.Then); err != nil {
			return nil, err
		}
		methods = append(methods, info)
	}

	return methods, nil
}

// enabledPredicatePort recognizes the ref(P).enabled predicate shape and
// returns P.
func enabledPredicatePort(e ir.Expr) (string, bool) {
	sf, ok := e.(ir.SubField)
	if !ok || sf.Field != "enabled" {
		return "", false
	}
	ref, ok := sf.Base.(ir.Ref)
	if !ok {
		return "", false
	}
	return ref.Name, true
}

type analysis struct {
	moduleName string
	methodName string
	ioPort     string
	callPorts  map[string]annotations.MethodCall
	locals     map[string]bool
	callIndex  map[string]int
	info       *MethodInfo
}

func (a *analysis) walk(stmts []ir.Stmt) error {
	for _, s := range stmts {
		if err := a.walkStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (a *analysis) walkStmt(s ir.Stmt) error {
	switch v := s.(type) {
	case ir.RegDecl:
		return declError("register", v.Name, a.methodName, a.moduleName)
	case ir.MemDecl:
		return declError("memory", v.Name, a.methodName, a.moduleName)
	case ir.InstanceDecl:
		return declError("instance", v.Name, a.methodName, a.moduleName)

	case ir.WireDecl:
		a.locals[v.Name] = true
	case ir.NodeDecl:
		a.locals[v.Name] = true

	case ir.Connect:
		if port, ok := isCallEnableWrite(v.Lvalue, a.callPorts); ok {
			a.recordCall(port)
			return nil
		}
		a.recordWrite(v.Lvalue)

	case ir.Invalidate:
		a.recordWrite(v.Lvalue)

	case ir.Conditional:
		if err := a.walk(v.Then); err != nil {
			return err
		}
		if err := a.walk(v.Else); err != nil {
			return err
		}
	}
	return nil
}

// isCallEnableWrite recognizes ref(C).enabled <- ... where C is a known
// call port name, and returns C.
func isCallEnableWrite(lvalue ir.Expr, callPorts map[string]annotations.MethodCall) (string, bool) {
	sf, ok := lvalue.(ir.SubField)
	if !ok || sf.Field != "enabled" {
		return "", false
	}
	ref, ok := sf.Base.(ir.Ref)
	if !ok {
		return "", false
	}
	if _, known := callPorts[ref.Name]; !known {
		return "", false
	}
	return ref.Name, true
}

func (a *analysis) recordCall(callerPort string) {
	if _, already := a.callIndex[callerPort]; already {
		return
	}
	call := a.callPorts[callerPort]
	a.callIndex[callerPort] = len(a.info.Calls)
	a.info.Calls = append(a.info.Calls, CallInfo{
		CalleeParent:   call.CalleeParent,
		CalleeMethod:   call.CalleeMethod,
		CallerPortName: callerPort,
	})
}

func (a *analysis) recordWrite(lvalue ir.Expr) {
	root, ok := ir.RootName(lvalue)
	if !ok {
		return
	}
	if a.locals[root] || root == a.ioPort {
		return
	}
	if _, isCallPort := a.callPorts[root]; isCallPort {
		return
	}
	a.info.Writes[root] = true
}
