// Package jsonl implements the append-only JSON-lines logs backing the
// memory and feedback stores: append, tolerant scan, atomic rewrite.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// maxLine bounds a single record. Longer lines are treated as corrupt.
const maxLine = 16 << 20

// Log is one JSON-lines file. All methods are safe for concurrent use; a
// single lock covers the file.
type Log struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open returns a Log for path, creating parent directories. The file itself
// is created on first Append.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: mkdir: %w", err)
	}
	return &Log{path: path, logger: logger.With("log", filepath.Base(path))}, nil
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// Append marshals each record onto its own line.
func (l *Log) Append(records ...any) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("jsonl: encode: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: open: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("jsonl: write: %w", err)
	}
	return f.Close()
}

// Scan calls fn with every well-formed line in file order. Blank lines are
// ignored. Lines that fn rejects (or that exceed the line bound) are
// logged as corrupt and skipped. A missing file yields no lines.
func (l *Log) Scan(fn func(line []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scanLocked(fn)
}

func (l *Log) scanLocked(fn func(line []byte) error) error {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsonl: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = bytes.TrimSpace(line)
			switch {
			case len(line) == 0:
			case len(line) > maxLine:
				l.logger.Warn("jsonl: corrupt record skipped", "line", lineNo, "error", "line too long")
			default:
				if ferr := fn(line); ferr != nil {
					l.logger.Warn("jsonl: corrupt record skipped", "line", lineNo, "error", ferr)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("jsonl: read: %w", err)
		}
	}
}

// Rewrite replaces the file with the lines for which keep returns true.
// The new content is written to a temporary file in the same directory and
// renamed into place, so a crash never leaves a truncated log. Returns the
// number of lines keep rejected; lines keep fails on are dropped as corrupt
// and not counted. Nothing is written when keep rejects no line.
func (l *Log) Rewrite(keep func(line []byte) (bool, error)) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept bytes.Buffer
	dropped := 0
	err := l.scanLocked(func(line []byte) error {
		ok, err := keep(line)
		if err != nil {
			return err
		}
		if ok {
			kept.Write(line)
			kept.WriteByte('\n')
		} else {
			dropped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if dropped == 0 {
		return 0, nil
	}
	if err := WriteFileAtomic(l.path, kept.Bytes()); err != nil {
		return 0, err
	}
	return dropped, nil
}

// WriteFileAtomic writes data to path via a temporary sibling and rename.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("jsonl: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonl: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("jsonl: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonl: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("jsonl: rename: %w", err)
	}
	return nil
}
