// Package collectcalls is the top-level entry point of the CollectCalls
// pass (spec.md §2): it assembles the front-end's circuit IR and
// annotations, walks the module hierarchy leaf-first, and produces a
// rewritten circuit plus the filtered annotation set. It owns the summary
// cache (SPEC_FULL.md §3.3) and the sibling-concurrent summarization
// (SPEC_FULL.md §3.4), and is the package cmd/collectcalls calls into.
package collectcalls

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/config"
	"github.com/ekiwi/untimed-modules/internal/diagnostics"
	"github.com/ekiwi/untimed-modules/internal/ir"
	"github.com/ekiwi/untimed-modules/internal/irschema"
	"github.com/ekiwi/untimed-modules/internal/methodscan"
	"github.com/ekiwi/untimed-modules/internal/planner"
	"github.com/ekiwi/untimed-modules/internal/rewriter"
	"github.com/ekiwi/untimed-modules/internal/scanner"
	"github.com/ekiwi/untimed-modules/internal/structcheck"
	"github.com/ekiwi/untimed-modules/internal/structerr"
	"github.com/ekiwi/untimed-modules/internal/summary"
)

// Result is everything CollectCalls produces: the rewritten circuit, the
// filtered (passthrough-only) annotation set, and any non-fatal
// supplemental diagnostics.
type Result struct {
	Circuit     ir.Circuit
	Annotations annotations.Set
	Diagnostics []diagnostics.Finding
}

// Summaries is the facts-only output `collectcalls-facts` prints: every
// reachable module's UntimedModuleInfo, keyed by module name.
type Summaries map[string]*summary.ModuleInfo

// pass bundles the per-run state CollectCalls threads through the
// recursive bottom-up traversal: the source circuit, its annotations, the
// cache, and the concurrency bound.
type pass struct {
	circuit  ir.Circuit
	input    annotations.Input
	cfg      *config.Config
	cache    *summaryCache
	sem      chan struct{}
	mu       sync.Mutex
	built    map[string]*summary.ModuleInfo
	building map[string]*sync.Once
}

// CollectCalls runs the full pass: Input Assembler, State Scanner, Method
// Extractor, Structural Validator, Instance Planner, and Rewriter, in that
// order, leaf-first over the module hierarchy rooted at circuit.Main.
func CollectCalls(circuit ir.Circuit, input annotations.Input, cfg *config.Config) (*Result, error) {
	summaries, err := summarizeAll(circuit, input, cfg)
	if err != nil {
		return nil, err
	}

	if err := structcheck.ValidateGlobal(input.Annotations.MethodCall, summaries); err != nil {
		return nil, err
	}

	rewritten := make(map[string]ir.Module, len(summaries))
	decisionsByModule := make(map[string][]planner.Decision, len(summaries))
	for name, modSummary := range summaries {
		original := circuit.ModuleNamed(name)
		if original == nil {
			return nil, fmt.Errorf("collectcalls: internal error: summarized module %q missing from circuit", name)
		}
		decisions := planner.Plan(modSummary, planner.NewNameGenerator(namesInUse(original)))
		decisionsByModule[name] = decisions

		callPorts := input.Annotations.MethodCallsFor(name)
		rewritten[name] = rewriter.Rewrite(*original, modSummary.Methods, callPorts, decisions, childPortsLookup(circuit, input.Annotations))
	}

	newModules := make([]ir.Module, len(circuit.Modules))
	for i, m := range circuit.Modules {
		if rw, ok := rewritten[m.Name]; ok {
			newModules[i] = rw
		} else {
			newModules[i] = m
		}
	}

	findings, err := evaluateDiagnostics(circuit, summaries, input, cfg, decisionsByModule)
	if err != nil {
		return nil, err
	}

	return &Result{
		Circuit:     ir.Circuit{Modules: newModules, Main: circuit.Main},
		Annotations: annotations.Set{Passthrough: input.Annotations.WithoutConsumed()},
		Diagnostics: findings,
	}, nil
}

// Facts runs the pass only through Structural Validation and returns every
// reachable module's summary, for `collectcalls-facts` (SPEC_FULL.md §3.7 /
// §9 "Facts-only CLI mode").
func Facts(circuit ir.Circuit, input annotations.Input, cfg *config.Config) (Summaries, error) {
	summaries, err := summarizeAll(circuit, input, cfg)
	if err != nil {
		return nil, err
	}
	if err := structcheck.ValidateGlobal(input.Annotations.MethodCall, summaries); err != nil {
		return nil, err
	}
	return Summaries(summaries), nil
}

// summarizeAll validates the Input Assembler contract, then recursively
// summarizes circuit.Main's module hierarchy leaf-first, returning every
// module reached.
func summarizeAll(circuit ir.Circuit, input annotations.Input, cfg *config.Config) (map[string]*summary.ModuleInfo, error) {
	validator, err := irschema.New()
	if err != nil {
		return nil, fmt.Errorf("collectcalls: loading schema contracts: %w", err)
	}
	if err := validator.ValidateCircuit(circuit); err != nil {
		return nil, fmt.Errorf("collectcalls: circuit IR failed its schema contract: %w", err)
	}
	if err := validator.ValidateInput(input); err != nil {
		return nil, fmt.Errorf("collectcalls: annotation input failed its schema contract: %w", err)
	}
	if len(input.Abstracted) > 0 {
		return nil, structerr.New(structerr.UnsupportedAbstraction, "submodule abstraction is not supported by this pass")
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	p := &pass{
		circuit:  circuit,
		input:    input,
		cfg:      cfg,
		built:    make(map[string]*summary.ModuleInfo),
		building: make(map[string]*sync.Once),
	}
	if cfg.CacheEnabled() {
		p.cache = newSummaryCache(cfg.Cache.Dir)
		_ = p.cache.Load()
	}

	limit := cfg.Parallelism.MaxConcurrentSiblings
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	p.sem = make(chan struct{}, limit)

	root := circuit.ModuleNamed(circuit.Main)
	if root == nil {
		return nil, fmt.Errorf("collectcalls: main module %q not found in circuit", circuit.Main)
	}
	if _, err := p.summarize(circuit.Main, nil); err != nil {
		return nil, err
	}

	if p.cache != nil {
		_ = p.cache.Save()
	}

	return p.built, nil
}

// summarize builds (or returns the already-built) summary for moduleName,
// recursing into its submodules first. Distinct modules are summarized
// concurrently with siblings, bounded by p.sem; the same moduleName is
// never summarized twice even when instantiated by multiple parents.
// ancestors is the chain of modules currently being built along this
// particular branch of the instantiation tree; a moduleName that reappears
// in it is a structural instantiation cycle, which would otherwise deadlock
// the sync.Once machinery below (the nested summarize would wait forever on
// an Once.Do already running further up the same goroutine's call stack).
func (p *pass) summarize(moduleName string, ancestors []string) (*summary.ModuleInfo, error) {
	for _, a := range ancestors {
		if a == moduleName {
			return nil, structerr.New(structerr.RecursiveCall, "recursive calls are not allowed")
		}
	}

	p.mu.Lock()
	if info, ok := p.built[moduleName]; ok {
		p.mu.Unlock()
		return info, nil
	}
	once, ok := p.building[moduleName]
	if !ok {
		once = &sync.Once{}
		p.building[moduleName] = once
	}
	p.mu.Unlock()

	var buildErr error
	once.Do(func() {
		buildErr = p.buildSummary(moduleName, append(ancestors, moduleName))
	})
	if buildErr != nil {
		return nil, buildErr
	}

	p.mu.Lock()
	info := p.built[moduleName]
	p.mu.Unlock()
	return info, nil
}

func (p *pass) buildSummary(moduleName string, ancestors []string) error {
	mod := p.circuit.ModuleNamed(moduleName)
	if mod == nil {
		return fmt.Errorf("collectcalls: module %q referenced but not declared in circuit", moduleName)
	}

	childRefs := instanceDecls(mod.Body)

	// Summarize distinct children concurrently (SPEC_FULL.md §3.4), then
	// re-sort into the parent's instance-declaration order before this
	// module's own summary is built, so output is independent of goroutine
	// completion order.
	type childResult struct {
		ref SubmoduleOrderEntry
		err error
	}
	results := make([]childResult, len(childRefs))
	var wg sync.WaitGroup
	run := func(i int, ref SubmoduleOrderEntry) {
		childAncestors := make([]string, len(ancestors))
		copy(childAncestors, ancestors)
		childInfo, err := p.summarize(ref.ChildModule, childAncestors)
		results[i] = childResult{ref: SubmoduleOrderEntry{InstanceName: ref.InstanceName, ChildModule: ref.ChildModule, Info: childInfo}, err: err}
	}
	for i, ref := range childRefs {
		// When every p.sem slot is taken the child is summarized on the
		// current goroutine, so a parent waiting on its children never
		// holds up a slot that one of its descendants needs.
		select {
		case p.sem <- struct{}{}:
			wg.Add(1)
			go func(i int, ref SubmoduleOrderEntry) {
				defer wg.Done()
				defer func() { <-p.sem }()
				run(i, ref)
			}(i, ref)
		default:
			run(i, ref)
		}
	}
	wg.Wait()

	submodules := make([]summary.SubmoduleRef, len(results))
	for i, r := range results {
		if r.err != nil {
			return r.err
		}
		submodules[i] = summary.SubmoduleRef{InstanceName: r.ref.InstanceName, ChildModule: r.ref.ChildModule, Info: r.ref.Info}
	}

	localState, methods, err := p.scanAndExtract(*mod)
	if err != nil {
		return err
	}

	info := &summary.ModuleInfo{
		Name:       moduleName,
		LocalState: localState,
		Methods:    methods,
		Submodules: submodules,
	}

	if err := structcheck.ValidateModule(info); err != nil {
		return err
	}

	p.mu.Lock()
	p.built[moduleName] = info
	p.mu.Unlock()
	return nil
}

// scanAndExtract runs the State Scanner and Method Extractor, consulting
// the summary cache first (SPEC_FULL.md §3.3: a cache hit short-circuits
// only these two stages, never Structural Validation).
func (p *pass) scanAndExtract(mod ir.Module) ([]scanner.StateRef, []methodscan.MethodInfo, error) {
	methodIO := p.input.Annotations.MethodIOMap(mod.Name)
	callPorts := p.input.Annotations.MethodCallsFor(mod.Name)

	if p.cache != nil {
		if hash, err := contentHash(mod); err == nil {
			if rawState, rawMethods, ok := p.cache.Get(mod.Name, hash); ok {
				var state []scanner.StateRef
				var methods []methodscan.MethodInfo
				if err := json.Unmarshal(rawState, &state); err == nil {
					if err := json.Unmarshal(rawMethods, &methods); err == nil {
						return state, methods, nil
					}
				}
			}
		}
	}

	state := scanner.ScanState(mod.Body)
	methods, err := methodscan.Extract(mod.Name, mod.Body, methodIO, callPorts)
	if err != nil {
		return nil, nil, err
	}

	if p.cache != nil {
		if hash, err := contentHash(mod); err == nil {
			if rawState, err1 := json.Marshal(state); err1 == nil {
				if rawMethods, err2 := json.Marshal(methods); err2 == nil {
					_ = p.cache.Put(mod.Name, hash, rawState, rawMethods)
				}
			}
		}
	}

	return state, methods, nil
}

// SubmoduleOrderEntry pairs an instance declaration with the child summary
// it will resolve to, before the summary is known.
type SubmoduleOrderEntry struct {
	InstanceName string
	ChildModule  string
	Info         *summary.ModuleInfo
}

// instanceDecls extracts every instance declaration in body's top level (and
// within conditional regions, matching the State Scanner's traversal depth),
// in textual order.
func instanceDecls(body []ir.Stmt) []SubmoduleOrderEntry {
	var out []SubmoduleOrderEntry
	var walk func([]ir.Stmt)
	walk = func(stmts []ir.Stmt) {
		for _, s := range stmts {
			switch v := s.(type) {
			case ir.InstanceDecl:
				out = append(out, SubmoduleOrderEntry{InstanceName: v.Name, ChildModule: v.ChildModule})
			case ir.Conditional:
				walk(v.Then)
				walk(v.Else)
			}
		}
	}
	walk(body)
	return out
}

// childPortsLookup adapts the circuit's port list and the annotation set's
// Method-IO map into the rewriter.ChildLookup the Rewriter needs to default
// and wire every method IO port of a materialized instance.
func childPortsLookup(circuit ir.Circuit, set annotations.Set) rewriter.ChildLookup {
	return func(childModule string) rewriter.ChildPorts {
		child := circuit.ModuleNamed(childModule)
		if child == nil {
			return rewriter.ChildPorts{}
		}
		var methods []rewriter.MethodPort
		for _, mio := range sortedMethodIO(set.MethodIOMap(childModule)) {
			port := child.PortNamed(mio.Port)
			if port == nil {
				continue
			}
			methods = append(methods, rewriter.MethodPort{
				MethodName: mio.MethodName,
				PortName:   mio.Port,
				Fields:     port.Type.Fields,
			})
		}
		return rewriter.ChildPorts{Methods: methods}
	}
}

func sortedMethodIO(m map[string]annotations.MethodIO) []annotations.MethodIO {
	out := make([]annotations.MethodIO, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// evaluateDiagnostics flattens every module's summary and the planner's
// decisions into a diagnostics.Input and runs the supplemental policy set.
func evaluateDiagnostics(circuit ir.Circuit, summaries map[string]*summary.ModuleInfo, input annotations.Input, cfg *config.Config, decisions map[string][]planner.Decision) ([]diagnostics.Finding, error) {
	engine, err := diagnostics.New(cfg.Diagnostics.PolicyDir)
	if err != nil {
		return nil, fmt.Errorf("collectcalls: loading diagnostics policies: %w", err)
	}

	diagInput := diagnostics.Input{
		Config: diagnostics.ConfigFacts{WideFanoutThreshold: cfg.Diagnostics.WideFanoutThreshold},
	}

	for _, name := range sortedModuleNames(summaries) {
		mod := summaries[name]
		var calls []diagnostics.CallFacts
		for _, m := range mod.Methods {
			for _, c := range m.Calls {
				calls = append(calls, diagnostics.CallFacts{CallerPortName: c.CallerPortName})
			}
		}
		diagInput.Modules = append(diagInput.Modules, diagnostics.ModuleFacts{Module: name, Calls: calls})

		for _, d := range decisions[name] {
			var hasState bool
			if sub, ok := mod.SubmoduleNamed(d.ChildModule); ok {
				hasState = sub.Info.HasState()
			}
			diagInput.InstanceCounts = append(diagInput.InstanceCounts, diagnostics.InstanceFacts{
				ParentModule: name,
				ChildModule:  d.ChildModule,
				HasState:     hasState,
				Count:        len(d.InstanceNames),
			})
		}
	}

	for _, c := range input.Annotations.MethodCall {
		diagInput.CallPorts = append(diagInput.CallPorts, diagnostics.CallPortFacts{
			CallerModule: c.CallerModule,
			CallerPort:   c.CallerPort,
			CalleeParent: c.CalleeParent,
			CalleeMethod: c.CalleeMethod,
		})
	}

	if cfg.Diagnostics.EmitIgnoredStateWrites {
		for _, name := range sortedModuleNames(summaries) {
			original := circuit.ModuleNamed(name)
			if original == nil {
				continue
			}
			methodIO := input.Annotations.MethodIOMap(name)
			for _, w := range scanOutsideWrites(original.Body, methodIO) {
				diagInput.OutsideWrites = append(diagInput.OutsideWrites, diagnostics.WriteFacts{Module: name, Signal: w.Signal})
			}
		}
	}

	return engine.Evaluate(diagInput)
}

func sortedModuleNames(m map[string]*summary.ModuleInfo) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
