package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ekiwi/untimed-modules/internal/annotations"
	"github.com/ekiwi/untimed-modules/internal/collectcalls"
	"github.com/ekiwi/untimed-modules/internal/config"
	"github.com/ekiwi/untimed-modules/internal/ir"
)

func main() {
	output := flag.String("output", "", "write facts JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write facts JSON to file (shorthand)")
	configPath := flag.String("config", "", "path to a config file")
	flag.StringVar(configPath, "c", "", "path to a config file (shorthand)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: collectcalls-facts [-o file] [-c config] <circuit.json> <annotations.json>")
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

	summaries, err := collectcalls.Facts(circuit, input, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := writeJSON(*output, summaries); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing facts: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(explicitPath, circuitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load(circuitPath)
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
