// Package annotations models the two annotation streams the front-end DSL
// emits alongside the circuit IR (spec.md §3), and the Input value the
// Input Assembler receives (spec.md §2 step 1).
package annotations

import "encoding/json"

// Role distinguishes the two sub-fields a Method-Call annotation's caller
// port can bind to.
type Role int

const (
	Arg Role = iota
	Ret
)

func (r Role) String() string {
	if r == Ret {
		return "ret"
	}
	return "arg"
}

// MarshalJSON encodes Role as "arg" or "ret", the wire form used by the CLI
// and by irschema's annotations.cue contract.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes Role from "arg" or "ret".
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "ret" {
		*r = Ret
	} else {
		*r = Arg
	}
	return nil
}

// MethodIO binds a port name in a module to a method name. Invariant:
// (Module, MethodName) is unique across the whole set; Port exists on that
// module and is a bundle with enabled/guard/arg/ret sub-fields.
type MethodIO struct {
	Module     string `json:"module"`
	Port       string `json:"port"`
	MethodName string `json:"methodName"`
}

// MethodCall binds a caller-side port to a callee method, distinguishing
// repeated call ports for the same callee method by CallSiteIndex.
type MethodCall struct {
	CallerModule  string `json:"callerModule"`
	CallerPort    string `json:"callerPort"`
	CalleeParent  string `json:"calleeParent"`
	CalleeMethod  string `json:"calleeMethod"`
	CallSiteIndex int    `json:"callSiteIndex"`
	Role          Role   `json:"role"`
}

// Passthrough is an opaque annotation the pass neither reads nor produces;
// it must survive into the output set unchanged (spec.md §6, memory
// zero-init annotations in particular).
type Passthrough struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// Set is the full annotation list the front-end hands to the pass: any
// mixture of Method-IO, Method-Call, and passthrough annotations.
type Set struct {
	MethodIO    []MethodIO    `json:"methodIO,omitempty"`
	MethodCall  []MethodCall  `json:"methodCall,omitempty"`
	Passthrough []Passthrough `json:"passthrough,omitempty"`
}

// Input is what the front-end DSL hands to the Input Assembler besides the
// circuit IR, which is passed separately: the annotation set and the
// abstraction request (spec.md §6).
// The current contract accepts only an empty Abstracted set.
type Input struct {
	Annotations Set             `json:"annotations"`
	Abstracted  map[string]bool `json:"abstracted,omitempty"`
}

// MethodIOMap indexes a module's Method-IO annotations by port name, the
// shape the Method Extractor consumes (spec.md §4.2).
func (s Set) MethodIOMap(module string) map[string]MethodIO {
	out := make(map[string]MethodIO)
	for _, a := range s.MethodIO {
		if a.Module == module {
			out[a.Port] = a
		}
	}
	return out
}

// MethodCallsFor indexes a module's Method-Call annotations by the caller
// port name they bind to.
func (s Set) MethodCallsFor(module string) map[string]MethodCall {
	out := make(map[string]MethodCall)
	for _, a := range s.MethodCall {
		if a.CallerModule == module {
			out[a.CallerPort] = a
		}
	}
	return out
}

// WithoutConsumed returns a copy of the passthrough annotations only — the
// Method-IO and Method-Call streams are consumed (filtered out) by the
// top-level pass (spec.md §3 Lifecycle, §6 Outputs, P3).
func (s Set) WithoutConsumed() []Passthrough {
	out := make([]Passthrough, len(s.Passthrough))
	copy(out, s.Passthrough)
	return out
}
