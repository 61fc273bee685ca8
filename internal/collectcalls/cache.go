package collectcalls

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ekiwi/untimed-modules/internal/ir"
)

// cacheIndexVersion is bumped whenever the on-disk cache shape or the
// State Scanner/Method Extractor's output shape changes in a way that would
// make an old cache entry unsafe to reuse.
const cacheIndexVersion = 1

// passVersion identifies the State Scanner + Method Extractor logic that
// produced a cached summary. A cache entry whose PassVersion differs from
// the running binary's is treated as a miss.
const passVersion = "collectcalls-v1"

type cacheEntry struct {
	ContentHash string `json:"content_hash"`
	SummaryPath string `json:"summary_path"`
	PassVersion string `json:"pass_version"`
}

type cacheIndexFile struct {
	Version int                    `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// summaryCache is the content-addressed cache of per-module summaries
// (spec.md §9 / SPEC_FULL.md §3.3), grounded on the teacher's
// internal/indexer/cache.go. It caches only the part of UntimedModuleInfo
// that the State Scanner and Method Extractor compute (LocalState, Methods);
// Submodules are always rebuilt from the freshly-summarized children, since
// those are module-identity pointers, not serializable cache payloads.
type summaryCache struct {
	dir  string
	mu   sync.Mutex
	index cacheIndexFile
}

// cachedSummary is the JSON-serializable slice of summary.ModuleInfo this
// cache stores: everything State Scan + Method Extract computed, without
// the Submodules pointers.
type cachedSummary struct {
	LocalState []byte `json:"local_state"`
	Methods    []byte `json:"methods"`
}

func newSummaryCache(dir string) *summaryCache {
	return &summaryCache{
		dir:   dir,
		index: cacheIndexFile{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)},
	}
}

func (c *summaryCache) indexPath() string { return filepath.Join(c.dir, "index.json") }
func (c *summaryCache) summariesDir() string { return filepath.Join(c.dir, "summaries") }

// Load reads the on-disk index, tolerating a missing or version-stale file
// by starting with an empty index rather than failing the pass — caching is
// a pure optimization (SPEC_FULL.md §3.3).
func (c *summaryCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read summary cache index: %w", err)
	}
	var idx cacheIndexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse summary cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion || idx.Entries == nil {
		idx = cacheIndexFile{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
	}
	c.index = idx
	return nil
}

// Save persists the in-memory index atomically (temp-file-then-rename).
func (c *summaryCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

// contentHash hashes a module's canonical JSON-serialized body plus the pass
// version, so a cache entry is invalidated both by a body edit and by a
// change to the extraction logic itself.
func contentHash(mod ir.Module) (string, error) {
	data, err := json.Marshal(mod)
	if err != nil {
		return "", fmt.Errorf("marshal module for hashing: %w", err)
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(passVersion))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached (LocalState, Methods) pair for a module whose
// content hash matches, or ok=false on any kind of miss.
func (c *summaryCache) Get(moduleName, hash string) (localState []byte, methods []byte, ok bool) {
	c.mu.Lock()
	entry, found := c.index.Entries[moduleName]
	c.mu.Unlock()
	if !found || entry.ContentHash != hash || entry.PassVersion != passVersion {
		return nil, nil, false
	}

	data, err := os.ReadFile(entry.SummaryPath)
	if err != nil {
		return nil, nil, false
	}
	var cached cachedSummary
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil, false
	}
	return cached.LocalState, cached.Methods, true
}

// Put stores the (LocalState, Methods) pair for a module under its content
// hash.
func (c *summaryCache) Put(moduleName, hash string, localState, methods []byte) error {
	path := filepath.Join(c.summariesDir(), moduleName+".json")
	if err := writeJSONAtomic(path, cachedSummary{LocalState: localState, Methods: methods}); err != nil {
		return err
	}
	c.mu.Lock()
	c.index.Entries[moduleName] = cacheEntry{ContentHash: hash, SummaryPath: path, PassVersion: passVersion}
	c.mu.Unlock()
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp cache file: %w", err)
	}
	return nil
}
