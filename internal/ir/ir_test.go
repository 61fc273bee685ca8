package ir

import "testing"

func TestDirectionString(t *testing.T) {
	if Input.String() != "input" {
		t.Fatalf("Input.String() = %q, want %q", Input.String(), "input")
	}
	if Output.String() != "output" {
		t.Fatalf("Output.String() = %q, want %q", Output.String(), "output")
	}
}

func TestTypeIsBundle(t *testing.T) {
	plain := Type{Width: 8}
	if plain.IsBundle() {
		t.Fatalf("plain bit-vector type reported as bundle")
	}

	bundle := Type{Fields: []BundleField{{Name: "enabled", Direction: Input, Type: Type{Width: 1}}}}
	if !bundle.IsBundle() {
		t.Fatalf("bundle type not reported as bundle")
	}
}

func TestVecOf(t *testing.T) {
	got := VecOf(Type{Width: 4}, 8)
	if got.Width != 32 {
		t.Fatalf("VecOf width = %d, want 32", got.Width)
	}
}

func TestModulePortNamed(t *testing.T) {
	mod := Module{Name: "m", Ports: []Port{
		{Name: "clock", Direction: Input, Type: Type{Width: 1}},
		{Name: "reset", Direction: Input, Type: Type{Width: 1}},
	}}

	if p := mod.PortNamed("reset"); p == nil || p.Name != "reset" {
		t.Fatalf("PortNamed(reset) = %v, want a port named reset", p)
	}
	if p := mod.PortNamed("missing"); p != nil {
		t.Fatalf("PortNamed(missing) = %v, want nil", p)
	}
}

func TestCircuitModuleNamed(t *testing.T) {
	c := Circuit{Main: "top", Modules: []Module{{Name: "top"}, {Name: "leaf"}}}

	if m := c.ModuleNamed("leaf"); m == nil || m.Name != "leaf" {
		t.Fatalf("ModuleNamed(leaf) = %v, want a module named leaf", m)
	}
	if m := c.ModuleNamed("nope"); m != nil {
		t.Fatalf("ModuleNamed(nope) = %v, want nil", m)
	}
}

func TestRootName(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want string
		ok   bool
	}{
		{"ref", Ref{Name: "r"}, "r", true},
		{"nested subfield", SubField{Base: SubField{Base: Ref{Name: "r"}, Field: "field"}, Field: "sub"}, "r", true},
		{"literal has no root", Literal{Value: 0, Width: 1}, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RootName(tc.expr)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("RootName(%v) = (%q, %v), want (%q, %v)", tc.expr, got, ok, tc.want, tc.ok)
			}
		})
	}
}
