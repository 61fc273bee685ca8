// =============================================================================
// CollectCalls - Main Entry Point
// =============================================================================
//
// THE PIPELINE:
//   1. Input Assembler decodes circuit IR + annotations, checks the CUE
//      data contract (internal/irschema)
//   2. State Scanner + Method Extractor summarize every module bottom-up
//      (internal/scanner, internal/methodscan, internal/summary)
//   3. Structural Validator rejects modules that violate the pass's
//      invariants (internal/structcheck)
//   4. Instance Planner decides how many instances each submodule needs
//      (internal/planner)
//   5. Rewriter lowers method calls into concrete instances and wiring
//      (internal/rewriter)
//   6. Supplemental diagnostics are evaluated and attached, never blocking
//      the pass (internal/diagnostics)
//
// WHEN INVESTIGATING UNEXPECTED OUTPUT:
//   Start at the beginning of the pipeline, not the end.
// =============================================================================

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/collectcalls"
	"github.com/ekiwi/untimed-modules/internal/config"
	"github.com/ekiwi/untimed-modules/internal/ir"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable verbose output")
	flag.BoolVar(verbose, "v", false, "enable verbose output (shorthand)")
	configPath := flag.String("config", "", "path to a config file")
	flag.StringVar(configPath, "c", "", "path to a config file (shorthand)")
	output := flag.String("output", "", "write result JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write result JSON to file (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		printUsage()
		os.Exit(1)
	}
	circuitPath, annotationsPath := args[0], args[1]

	circuit, err := readCircuit(circuitPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", circuitPath, err)
		os.Exit(1)
	}

	input, err := readInput(annotationsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", annotationsPath, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, circuitPath)
	if err != nil {
		fmt.Printf("Warning: could not load config: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	result, err := collectcalls.CollectCalls(circuit, input, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		for _, f := range result.Diagnostics {
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", f.Severity, f.Module, f.Detail)
		}
	}

	if err := writeJSON(*output, result); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing result: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: collectcalls [options] <circuit.json> <annotations.json>

Options:
  -v, --verbose     Print supplemental diagnostics to stderr
  -c, --config      Specify a config file
  -o, --output      Write the rewritten circuit + annotations to a file
                     (default: stdout)

Configuration:
  collectcalls looks for configuration in:
    1. ./untimed_modules.json
    2. ./.untimed_modules.json
    3. <circuit dir>/untimed_modules.json
    4. <circuit dir>/.untimed_modules.json
    5. ~/.config/untimed-modules/config.json`)
}

func loadConfig(explicitPath, circuitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load(filepath.Dir(circuitPath))
}

func readCircuit(path string) (ir.Circuit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Circuit{}, err
	}
	var circuit ir.Circuit
	if err := json.Unmarshal(data, &circuit); err != nil {
		return ir.Circuit{}, err
	}
	return circuit, nil
}

func readInput(path string) (annotations.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return annotations.Input{}, err
	}
	var input annotations.Input
	if err := json.Unmarshal(data, &input); err != nil {
		return annotations.Input{}, err
	}
	return input, nil
}

func writeJSON(path string, data interface{}) error {
	if path == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
