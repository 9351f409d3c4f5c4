// CLAUDE:SUMMARY Directory indexer feeding the memory store: hash-index diff, compaction of stale chunks, chunked unique appends.
// Package ingest keeps the memory store in step with a directory of text
// files. Each run hashes the files, diffs against the previous run's index,
// drops memory items of removed or changed files and appends chunks of new
// or changed ones.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/jsonl"
	"github.com/hazyhaar/fouille/fouille/internal/memory"
)

// Source is the meta "source" value of every item written by the indexer.
const Source = "code_index"

// ErrNoRoot is returned when no root directory is configured.
var ErrNoRoot = errors.New("ingest: root directory not configured")

// Config tunes the indexer. A negative Overlap disables chunk overlap.
type Config struct {
	Root       string        `yaml:"root"`
	IndexPath  string        `yaml:"index_path"`
	Extensions []string      `yaml:"extensions"`
	MaxBytes   int64         `yaml:"max_bytes"`
	ChunkSize  int           `yaml:"chunk_size"`
	Overlap    int           `yaml:"overlap"`
	Watch      bool          `yaml:"watch"`
	Debounce   time.Duration `yaml:"debounce"`
}

func (c *Config) defaults() {
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".go", ".py", ".js", ".ts", ".html", ".css", ".json", ".md", ".txt"}
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 300_000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.Overlap == 0 {
		c.Overlap = 150
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// Memory is the subset of the memory store the indexer writes to.
type Memory interface {
	RemoveByMeta(filter map[string]any) (int, error)
	AppendUnique(inputs []memory.Input, baseMeta map[string]any) (int, error)
}

// Report describes one run. Paths are root-relative with forward slashes.
type Report struct {
	Scanned int      `json:"scanned"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
	Pruned  int      `json:"pruned"`
	Written int      `json:"written"`
}

type fileEntry struct {
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

type index map[string]fileEntry

// Indexer is safe for concurrent use; runs are serialized.
type Indexer struct {
	cfg    Config
	mem    Memory
	logger *slog.Logger

	mu       sync.Mutex
	counters watchCounters
}

// New returns an Indexer over cfg.Root that persists its file index at
// cfg.IndexPath. Both are required.
func New(cfg Config, mem Memory, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		return nil, ErrNoRoot
	}
	if cfg.IndexPath == "" {
		return nil, errors.New("ingest: index path not configured")
	}
	cfg.defaults()
	return &Indexer{cfg: cfg, mem: mem, logger: logger.With("root", cfg.Root)}, nil
}

// Config returns the effective configuration.
func (ix *Indexer) Config() Config { return ix.cfg }

// Run performs one index pass.
func (ix *Indexer) Run(ctx context.Context) (Report, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	old := ix.loadIndex()
	cur, err := ix.scan(ctx)
	if err != nil {
		return Report{}, err
	}

	rep := diff(old, cur)
	rep.Scanned = len(cur)

	for _, p := range slices.Concat(rep.Removed, rep.Changed) {
		n, err := ix.mem.RemoveByMeta(map[string]any{"source": Source, "path": p})
		if err != nil {
			return rep, fmt.Errorf("ingest: prune %s: %w", p, err)
		}
		rep.Pruned += n
	}

	for _, p := range slices.Concat(rep.Added, rep.Changed) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		text, err := ix.readText(p)
		if err != nil {
			ix.logger.Warn("ingest: read failed", "path", p, "error", err)
			delete(cur, p)
			continue
		}
		var inputs []memory.Input
		for _, ch := range memory.Chunk(text, ix.cfg.ChunkSize, ix.cfg.Overlap) {
			inputs = append(inputs, memory.Input{Text: ch})
		}
		n, err := ix.mem.AppendUnique(inputs, map[string]any{"source": Source, "path": p})
		if err != nil {
			return rep, fmt.Errorf("ingest: write %s: %w", p, err)
		}
		rep.Written += n
	}

	if err := ix.saveIndex(cur); err != nil {
		return rep, err
	}
	ix.logger.Info("ingest: run complete",
		"scanned", rep.Scanned, "added", len(rep.Added), "removed", len(rep.Removed),
		"changed", len(rep.Changed), "pruned", rep.Pruned, "written", rep.Written,
		"duration_ms", time.Since(start).Milliseconds())
	return rep, nil
}

func (ix *Indexer) wanted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(ix.cfg.Extensions, ext)
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor"
}

func (ix *Indexer) scan(ctx context.Context) (index, error) {
	root := ix.cfg.Root
	indexAbs, _ := filepath.Abs(ix.cfg.IndexPath)
	out := make(index)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			ix.logger.Warn("ingest: walk error", "path", path, "error", err)
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !ix.wanted(d.Name()) {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == indexAbs {
			return nil
		}
		e, err := ix.hashFile(path)
		if err != nil {
			ix.logger.Warn("ingest: hash failed", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		out[filepath.ToSlash(rel)] = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: scan: %w", err)
	}
	return out, nil
}

// hashFile hashes the first MaxBytes of a file.
func (ix *Indexer) hashFile(path string) (fileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileEntry{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fileEntry{}, err
	}
	h := sha1.New()
	if _, err := io.Copy(h, io.LimitReader(f, ix.cfg.MaxBytes)); err != nil {
		return fileEntry{}, err
	}
	return fileEntry{Hash: hex.EncodeToString(h.Sum(nil)), Size: st.Size(), MTime: st.ModTime().Unix()}, nil
}

// readText returns the first MaxBytes of a root-relative file as valid UTF-8.
func (ix *Indexer) readText(rel string) (string, error) {
	f, err := os.Open(filepath.Join(ix.cfg.Root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, ix.cfg.MaxBytes))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), ""), nil
}

func diff(old, cur index) Report {
	rep := Report{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for p, e := range cur {
		prev, ok := old[p]
		switch {
		case !ok:
			rep.Added = append(rep.Added, p)
		case prev.Hash != e.Hash:
			rep.Changed = append(rep.Changed, p)
		}
	}
	for p := range old {
		if _, ok := cur[p]; !ok {
			rep.Removed = append(rep.Removed, p)
		}
	}
	slices.Sort(rep.Added)
	slices.Sort(rep.Removed)
	slices.Sort(rep.Changed)
	return rep
}

// loadIndex reads the previous index. A missing or unreadable index is
// empty, which re-ingests everything.
func (ix *Indexer) loadIndex() index {
	data, err := os.ReadFile(ix.cfg.IndexPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ix.logger.Warn("ingest: index unreadable", "error", err)
		}
		return index{}
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		ix.logger.Warn("ingest: index corrupt, rebuilding", "error", err)
		return index{}
	}
	out := make(index, len(idx))
	for k, v := range idx {
		out[strings.ReplaceAll(k, `\`, "/")] = v
	}
	return out
}

func (ix *Indexer) saveIndex(idx index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("ingest: encode index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ix.cfg.IndexPath), 0o755); err != nil {
		return fmt.Errorf("ingest: mkdir: %w", err)
	}
	if err := jsonl.WriteFileAtomic(ix.cfg.IndexPath, data); err != nil {
		return fmt.Errorf("ingest: save index: %w", err)
	}
	return nil
}
