package ir

import (
	"encoding/json"
	"fmt"
)

// This file implements the JSON wire format the circuit IR uses whenever it
// crosses a process boundary (the CLI's input/output files, the irschema
// contract check). Stmt and Expr are interfaces, so they need an explicit
// tagged-union encoding; everything else round-trips through the default
// struct tags below.

type wireType struct {
	Width  int               `json:"width,omitempty"`
	Fields []wireBundleField `json:"fields,omitempty"`
}

type wireBundleField struct {
	Name      string   `json:"name"`
	Direction string   `json:"direction"`
	Type      wireType `json:"type"`
}

func typeToWire(t Type) wireType {
	w := wireType{Width: t.Width}
	for _, f := range t.Fields {
		w.Fields = append(w.Fields, wireBundleField{
			Name:      f.Name,
			Direction: f.Direction.String(),
			Type:      typeToWire(f.Type),
		})
	}
	return w
}

func wireToType(w wireType) Type {
	t := Type{Width: w.Width}
	for _, f := range w.Fields {
		t.Fields = append(t.Fields, BundleField{
			Name:      f.Name,
			Direction: directionFromString(f.Direction),
			Type:      wireToType(f.Type),
		})
	}
	return t
}

func directionFromString(s string) Direction {
	if s == "output" {
		return Output
	}
	return Input
}

type wireLoc struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

type wirePort struct {
	Name      string   `json:"name"`
	Direction string   `json:"direction"`
	Type      wireType `json:"type"`
	Loc       wireLoc  `json:"loc,omitempty"`
}

type wireExpr struct {
	Kind  string    `json:"kind"`
	Name  string    `json:"name,omitempty"`
	Base  *wireExpr `json:"base,omitempty"`
	Field string    `json:"field,omitempty"`
	Value uint64    `json:"value,omitempty"`
	Width int       `json:"width,omitempty"`
}

func exprToWire(e Expr) *wireExpr {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case Ref:
		return &wireExpr{Kind: "ref", Name: v.Name}
	case SubField:
		return &wireExpr{Kind: "subfield", Base: exprToWire(v.Base), Field: v.Field}
	case Literal:
		return &wireExpr{Kind: "literal", Value: v.Value, Width: v.Width}
	default:
		panic(fmt.Sprintf("ir: unknown expr type %T", e))
	}
}

func wireToExpr(w *wireExpr) Expr {
	if w == nil {
		return nil
	}
	switch w.Kind {
	case "ref":
		return Ref{Name: w.Name}
	case "subfield":
		return SubField{Base: wireToExpr(w.Base), Field: w.Field}
	case "literal":
		return Literal{Value: w.Value, Width: w.Width}
	default:
		panic(fmt.Sprintf("ir: unknown expr kind %q", w.Kind))
	}
}

type wireStmt struct {
	Kind string `json:"kind"`

	// RegDecl / WireDecl
	Name string    `json:"name,omitempty"`
	Type *wireType `json:"type,omitempty"`
	Init *wireExpr `json:"init,omitempty"`
	Loc  *wireLoc  `json:"loc,omitempty"`

	// MemDecl
	Elem  *wireType `json:"elem,omitempty"`
	Depth int       `json:"depth,omitempty"`

	// NodeDecl
	Value *wireExpr `json:"value,omitempty"`

	// InstanceDecl
	ChildModule string `json:"childModule,omitempty"`

	// Connect / Invalidate
	Lvalue *wireExpr `json:"lvalue,omitempty"`
	Rvalue *wireExpr `json:"rvalue,omitempty"`

	// Conditional
	Predicate *wireExpr  `json:"predicate,omitempty"`
	Then      []wireStmt `json:"then,omitempty"`
	Else      []wireStmt `json:"else,omitempty"`
}

func stmtToWire(s Stmt) wireStmt {
	switch v := s.(type) {
	case RegDecl:
		t := typeToWire(v.Type)
		loc := wireLoc(v.Loc)
		return wireStmt{Kind: "regDecl", Name: v.Name, Type: &t, Init: exprToWire(v.Init), Loc: &loc}
	case MemDecl:
		e := typeToWire(v.Elem)
		loc := wireLoc(v.Loc)
		return wireStmt{Kind: "memDecl", Name: v.Name, Elem: &e, Depth: v.Depth, Loc: &loc}
	case WireDecl:
		t := typeToWire(v.Type)
		return wireStmt{Kind: "wireDecl", Name: v.Name, Type: &t}
	case NodeDecl:
		return wireStmt{Kind: "nodeDecl", Name: v.Name, Value: exprToWire(v.Value)}
	case InstanceDecl:
		return wireStmt{Kind: "instanceDecl", Name: v.Name, ChildModule: v.ChildModule}
	case Connect:
		return wireStmt{Kind: "connect", Lvalue: exprToWire(v.Lvalue), Rvalue: exprToWire(v.Rvalue)}
	case Invalidate:
		return wireStmt{Kind: "invalidate", Lvalue: exprToWire(v.Lvalue)}
	case Conditional:
		return wireStmt{Kind: "conditional", Predicate: exprToWire(v.Predicate), Then: stmtsToWire(v.Then), Else: stmtsToWire(v.Else)}
	default:
		panic(fmt.Sprintf("ir: unknown stmt type %T", s))
	}
}

func stmtsToWire(ss []Stmt) []wireStmt {
	if ss == nil {
		return nil
	}
	out := make([]wireStmt, len(ss))
	for i, s := range ss {
		out[i] = stmtToWire(s)
	}
	return out
}

func wireToStmt(w wireStmt) Stmt {
	switch w.Kind {
	case "regDecl":
		var loc SourceLoc
		if w.Loc != nil {
			loc = SourceLoc(*w.Loc)
		}
		return RegDecl{Name: w.Name, Type: wireToType(*w.Type), Init: wireToExpr(w.Init), Loc: loc}
	case "memDecl":
		var loc SourceLoc
		if w.Loc != nil {
			loc = SourceLoc(*w.Loc)
		}
		return MemDecl{Name: w.Name, Elem: wireToType(*w.Elem), Depth: w.Depth, Loc: loc}
	case "wireDecl":
		return WireDecl{Name: w.Name, Type: wireToType(*w.Type)}
	case "nodeDecl":
		return NodeDecl{Name: w.Name, Value: wireToExpr(w.Value)}
	case "instanceDecl":
		return InstanceDecl{Name: w.Name, ChildModule: w.ChildModule}
	case "connect":
		return Connect{Lvalue: wireToExpr(w.Lvalue), Rvalue: wireToExpr(w.Rvalue)}
	case "invalidate":
		return Invalidate{Lvalue: wireToExpr(w.Lvalue)}
	case "conditional":
		return Conditional{Predicate: wireToExpr(w.Predicate), Then: wireToStmts(w.Then), Else: wireToStmts(w.Else)}
	default:
		panic(fmt.Sprintf("ir: unknown stmt kind %q", w.Kind))
	}
}

func wireToStmts(ws []wireStmt) []Stmt {
	if ws == nil {
		return nil
	}
	out := make([]Stmt, len(ws))
	for i, w := range ws {
		out[i] = wireToStmt(w)
	}
	return out
}

type wireModule struct {
	Name  string     `json:"name"`
	Ports []wirePort `json:"ports"`
	Body  []wireStmt `json:"body"`
}

func moduleToWire(m Module) wireModule {
	w := wireModule{Name: m.Name}
	for _, p := range m.Ports {
		w.Ports = append(w.Ports, wirePort{
			Name:      p.Name,
			Direction: p.Direction.String(),
			Type:      typeToWire(p.Type),
			Loc:       wireLoc(p.Loc),
		})
	}
	w.Body = stmtsToWire(m.Body)
	return w
}

func wireToModule(w wireModule) Module {
	m := Module{Name: w.Name}
	for _, p := range w.Ports {
		m.Ports = append(m.Ports, Port{
			Name:      p.Name,
			Direction: directionFromString(p.Direction),
			Type:      wireToType(p.Type),
			Loc:       SourceLoc(p.Loc),
		})
	}
	m.Body = wireToStmts(w.Body)
	return m
}

// MarshalJSON implements the circuit IR's wire encoding for a single Module.
func (m Module) MarshalJSON() ([]byte, error) {
	return json.Marshal(moduleToWire(m))
}

// UnmarshalJSON implements the circuit IR's wire decoding for a single Module.
func (m *Module) UnmarshalJSON(data []byte) error {
	var w wireModule
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = wireToModule(w)
	return nil
}

type wireCircuit struct {
	Modules []wireModule `json:"modules"`
	Main    string       `json:"main"`
}

// MarshalJSON implements the circuit IR's wire encoding for a whole Circuit.
func (c Circuit) MarshalJSON() ([]byte, error) {
	w := wireCircuit{Main: c.Main}
	for _, m := range c.Modules {
		w.Modules = append(w.Modules, moduleToWire(m))
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the circuit IR's wire decoding for a whole Circuit.
func (c *Circuit) UnmarshalJSON(data []byte) error {
	var w wireCircuit
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Main = w.Main
	c.Modules = nil
	for _, m := range w.Modules {
		c.Modules = append(c.Modules, wireToModule(m))
	}
	return nil
}
