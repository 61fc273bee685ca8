package collectcalls

import "github.com/ekiwi/untimed-modules/internal/ir"

// namesInUse collects every name already occupied in mod's namespace
// (ports, registers, memories, wires, nodes, instances), the seed the
// Instance Planner's NameGenerator needs to avoid collisions when it mints
// fresh instance names (spec.md §4.4).
func namesInUse(mod *ir.Module) []string {
	var names []string
	for _, p := range mod.Ports {
		names = append(names, p.Name)
	}
	collectDeclNames(mod.Body, &names)
	return names
}

func collectDeclNames(stmts []ir.Stmt, out *[]string) {
	for _, s := range stmts {
		switch v := s.(type) {
		case ir.RegDecl:
			*out = append(*out, v.Name)
		case ir.MemDecl:
			*out = append(*out, v.Name)
		case ir.WireDecl:
			*out = append(*out, v.Name)
		case ir.NodeDecl:
			*out = append(*out, v.Name)
		case ir.InstanceDecl:
			*out = append(*out, v.Name)
		case ir.Conditional:
			collectDeclNames(v.Then, out)
			collectDeclNames(v.Else, out)
		}
	}
}
