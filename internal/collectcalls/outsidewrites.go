package collectcalls

import (
	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/ir"
)

// outsideWrite is one connection or invalidate the Method Extractor never
// saw, because it lives outside any recognized method region (spec.md §9
// Design Notes: "state updates outside any method region are currently
// silently ignored"). SPEC_FULL.md §3.5 surfaces these as info-severity
// diagnostics instead of silence.
type outsideWrite struct {
	Signal string
}

// scanOutsideWrites walks body and collects every write that is not inside
// a method region. Any conditional whose predicate is ref(P).enabled for a
// Method-IO port P counts as a method region here, at any depth and whether
// or not it has an else-block, which is broader than what
// methodscan.Extract recognizes as a method.
func scanOutsideWrites(body []ir.Stmt, methodIO map[string]annotations.MethodIO) []outsideWrite {
	locals := make(map[string]bool)
	var out []outsideWrite
	walkOutside(body, methodIO, locals, &out)
	return out
}

func walkOutside(stmts []ir.Stmt, methodIO map[string]annotations.MethodIO, locals map[string]bool, out *[]outsideWrite) {
	for _, s := range stmts {
		switch v := s.(type) {
		case ir.WireDecl:
			locals[v.Name] = true
		case ir.NodeDecl:
			locals[v.Name] = true
		case ir.InstanceDecl:
			locals[v.Name] = true

		case ir.Connect:
			recordOutsideWrite(v.Lvalue, locals, out)
		case ir.Invalidate:
			recordOutsideWrite(v.Lvalue, locals, out)

		case ir.Conditional:
			if port, ok := methodRegionPort(v); ok {
				if _, isMethodIO := methodIO[port]; isMethodIO {
					continue
				}
			}
			walkOutside(v.Then, methodIO, locals, out)
			walkOutside(v.Else, methodIO, locals, out)
		}
	}
}

func methodRegionPort(cond ir.Conditional) (string, bool) {
	sf, ok := cond.Predicate.(ir.SubField)
	if !ok || sf.Field != "enabled" {
		return "", false
	}
	ref, ok := sf.Base.(ir.Ref)
	if !ok {
		return "", false
	}
	return ref.Name, true
}

func recordOutsideWrite(lvalue ir.Expr, locals map[string]bool, out *[]outsideWrite) {
	root, ok := ir.RootName(lvalue)
	if !ok || locals[root] {
		return
	}
	*out = append(*out, outsideWrite{Signal: root})
}
