// Package diagnostics implements the non-fatal supplemental findings of
// SPEC_FULL.md §3.5, grounded directly on the teacher's internal/policy:
// the same `.rego` + `github.com/open-policy-agent/opa/rego` mechanism, but
// evaluated against a flattened view of CollectCalls' own summaries rather
// than VHDL extraction facts. Findings never block the pass and never
// change the rewritten IR.
package diagnostics

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed policies/*.rego
var builtinPolicies embed.FS

// Finding is one supplemental diagnostic, never an error.
type Finding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Module   string `json:"module"`
	Detail   string `json:"detail"`
}

// Input is the flattened view of every module's CollectCalls summary that
// the built-in policies evaluate against.
type Input struct {
	Modules        []ModuleFacts   `json:"modules"`
	CallPorts      []CallPortFacts `json:"call_ports"`
	OutsideWrites  []WriteFacts    `json:"outside_writes"`
	InstanceCounts []InstanceFacts `json:"instance_counts"`
	Config         ConfigFacts     `json:"config"`
}

// ModuleFacts carries one module's recognized call occurrences, the shape
// unused_call_port checks against.
type ModuleFacts struct {
	Module string      `json:"module"`
	Calls  []CallFacts `json:"calls"`
}

type CallFacts struct {
	CallerPortName string `json:"caller_port_name"`
}

// CallPortFacts is one call-port annotation, regardless of whether any
// method body actually exercises it.
type CallPortFacts struct {
	CallerModule string `json:"caller_module"`
	CallerPort   string `json:"caller_port"`
	CalleeParent string `json:"callee_parent"`
	CalleeMethod string `json:"callee_method"`
}

// WriteFacts is one write the Method Extractor saw outside any recognized
// method region.
type WriteFacts struct {
	Module string `json:"module"`
	Signal string `json:"signal"`
}

// InstanceFacts is the Instance Planner's decision for one submodule.
type InstanceFacts struct {
	ParentModule string `json:"parent_module"`
	ChildModule  string `json:"child_module"`
	HasState     bool   `json:"has_state"`
	Count        int    `json:"count"`
}

// ConfigFacts carries the subset of config that tunes a policy's threshold.
type ConfigFacts struct {
	WideFanoutThreshold int `json:"wide_fanout_threshold"`
}

// Engine evaluates the supplemental policy set against an Input.
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

const (
	ruleUnusedCallPort = "unused_call_port"
	ruleWriteOutside   = "write_outside_method"
	ruleWideFanout     = "wide_fanout_stateless_child"
	policyPackage      = "data.untimedmodules.diagnostics"
)

var allRules = []string{ruleUnusedCallPort, ruleWriteOutside, ruleWideFanout}

// New builds an Engine from the embedded policy set, or from policyDir's
// .rego files when non-empty (SPEC_FULL.md §3.1's Diagnostics.PolicyDir).
func New(policyDir string) (*Engine, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}

	engine := &Engine{queries: make(map[string]rego.PreparedEvalQuery, len(allRules))}
	for _, rule := range allRules {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(fmt.Sprintf("%s.%s", policyPackage, rule)))
		query, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", rule, err)
		}
		engine.queries[rule] = query
	}
	return engine, nil
}

func loadModules(policyDir string) ([]func(*rego.Rego), error) {
	var modules []func(*rego.Rego)

	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
		return modules, nil
	}

	entries, err := fs.ReadDir(builtinPolicies, "policies")
	if err != nil {
		return nil, fmt.Errorf("reading embedded policies: %w", err)
	}
	for _, e := range entries {
		content, err := builtinPolicies.ReadFile(filepath.Join("policies", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading embedded policy %s: %w", e.Name(), err)
		}
		modules = append(modules, rego.Module(e.Name(), string(content)))
	}
	return modules, nil
}

// Evaluate runs every built-in policy against in and returns the union of
// their findings. A policy that errors contributes no findings rather than
// aborting the pass — diagnostics are advisory.
func (e *Engine) Evaluate(in Input) ([]Finding, error) {
	inputMap, err := toMap(in)
	if err != nil {
		return nil, fmt.Errorf("converting diagnostics input: %w", err)
	}

	var findings []Finding
	for _, rule := range allRules {
		query, ok := e.queries[rule]
		if !ok {
			continue
		}
		rs, err := query.Eval(context.Background(), rego.EvalInput(inputMap))
		if err != nil {
			continue
		}
		findings = append(findings, extractFindings(rs)...)
	}
	return findings, nil
}

func extractFindings(rs rego.ResultSet) []Finding {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	raw, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil
	}
	var out []Finding
	for _, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, Finding{
			Rule:     str(m, "rule"),
			Severity: str(m, "severity"),
			Module:   str(m, "module"),
			Detail:   str(m, "detail"),
		})
	}
	return out
}

func toMap(v any) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
