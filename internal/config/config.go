// Package config loads the ambient configuration that controls the
// CollectCalls pass's non-semantic behavior: caching, concurrency, and
// supplemental diagnostics. Pass semantics are never configurable
// (SPEC_FULL.md §3.1) — only how the pass spends wall-clock and disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level configuration for the collectcalls pass.
type Config struct {
	Cache       CacheConfig       `json:"cache,omitempty"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
	Parallelism ParallelismConfig `json:"parallelism,omitempty"`
}

// CacheConfig controls the per-module summary cache (SPEC_FULL.md §3.3).
type CacheConfig struct {
	// Enabled turns the summary cache on or off. Nil means "use the default".
	Enabled *bool `json:"enabled,omitempty"`

	// Dir is the cache directory, used as given: a relative path is
	// resolved against the current working directory.
	Dir string `json:"dir,omitempty"`
}

// DiagnosticsConfig controls the supplemental OPA diagnostics pass
// (SPEC_FULL.md §3.5).
type DiagnosticsConfig struct {
	// EmitIgnoredStateWrites turns on the write_outside_method finding.
	EmitIgnoredStateWrites bool `json:"emitIgnoredStateWrites,omitempty"`

	// PolicyDir overrides the embedded policy set with .rego files read
	// from disk, when non-empty.
	PolicyDir string `json:"policyDir,omitempty"`

	// WideFanoutThreshold is the instance count above which
	// wide_fanout_stateless_child fires. Zero means the built-in default.
	WideFanoutThreshold int `json:"wideFanoutThreshold,omitempty"`
}

// ParallelismConfig bounds the sibling-submodule summarization fan-out
// (SPEC_FULL.md §3.4).
type ParallelismConfig struct {
	// MaxConcurrentSiblings bounds in-flight goroutines. 0 means auto
	// (runtime.NumCPU()).
	MaxConcurrentSiblings int `json:"maxConcurrentSiblings,omitempty"`
}

// DefaultConfig returns a sensible default configuration: caching on, no
// supplemental diagnostics beyond the built-ins, and auto parallelism.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled: boolPtr(true),
			Dir:     ".untimed_modules_cache",
		},
		Diagnostics: DiagnosticsConfig{
			EmitIgnoredStateWrites: true,
		},
		Parallelism: ParallelismConfig{
			MaxConcurrentSiblings: 0,
		},
	}
}

func boolPtr(v bool) *bool { return &v }

// candidatePaths builds the ordered list of config file locations to probe,
// relative to rootPath, skipping rootPath's pair of candidates when rootPath
// resolves to the current working directory.
//
// Order:
//  1. ./untimed_modules.json (current working directory)
//  2. ./.untimed_modules.json (current working directory)
//  3. <rootPath>/untimed_modules.json (if a directory different from cwd)
//  4. <rootPath>/.untimed_modules.json (same condition)
//  5. ~/.config/untimed-modules/config.json
func candidatePaths(rootPath string) []string {
	names := []string{"untimed_modules.json", ".untimed_modules.json"}

	cwd, _ := os.Getwd()
	dirs := []string{cwd}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		if absRoot, err := filepath.Abs(rootPath); err == nil && absRoot != cwd {
			dirs = append(dirs, rootPath)
		}
	}

	var paths []string
	for _, dir := range dirs {
		for _, name := range names {
			paths = append(paths, filepath.Join(dir, name))
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "untimed-modules", "config.json"))
	}
	return paths
}

// Load finds and loads the configuration file, trying each candidate path in
// order and reading the first one that exists. Returns DefaultConfig if none
// of them do.
func Load(rootPath string) (*Config, error) {
	for _, path := range candidatePaths(rootPath) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file, filling in defaults for
// anything the file leaves unset.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	defaults := DefaultConfig()
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = defaults.Cache.Dir
	}
	if cfg.Cache.Enabled == nil {
		cfg.Cache.Enabled = defaults.Cache.Enabled
	}

	return cfg, nil
}

// Save writes the configuration to a file as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// CacheEnabled reports whether the summary cache should be used.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}
