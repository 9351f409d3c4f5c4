package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchStats are point-in-time counters of a Watch loop.
type WatchStats struct {
	Events  int64 `json:"events"`
	Runs    int64 `json:"runs"`
	Errors  int64 `json:"errors"`
	LastRun int64 `json:"last_run_unix"`
}

type watchCounters struct {
	events, runs, errors, lastRun atomic.Int64
}

// Stats returns the counters of this indexer's Watch loops.
func (ix *Indexer) Stats() WatchStats {
	c := &ix.counters
	return WatchStats{
		Events:  c.events.Load(),
		Runs:    c.runs.Load(),
		Errors:  c.errors.Load(),
		LastRun: c.lastRun.Load(),
	}
}

// Watch re-runs the indexer whenever a relevant file under the root changes,
// once the debounce window passes without further events. It blocks until
// ctx is cancelled. onRun, if non-nil, receives every run's outcome.
func (ix *Indexer) Watch(ctx context.Context, onRun func(Report, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addTree(w, ix.cfg.Root); err != nil {
		return err
	}
	log := ix.logger
	counters := &ix.counters
	log.Info("ingest: watching", "debounce", ix.cfg.Debounce)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("ingest: watch stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("ingest: watcher closed")
			}
			if !ix.relevant(w, ev) {
				continue
			}
			counters.events.Add(1)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(ix.cfg.Debounce)
			debounceCh = debounceTimer.C
			log.Debug("ingest: change detected, debouncing", "path", ev.Name, "op", ev.Op.String())

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("ingest: watcher closed")
			}
			counters.errors.Add(1)
			log.Warn("ingest: watch error", "error", err)

		case <-debounceCh:
			debounceCh = nil
			rep, err := ix.Run(ctx)
			counters.runs.Add(1)
			counters.lastRun.Store(time.Now().Unix())
			if err != nil {
				counters.errors.Add(1)
				log.Error("ingest: reindex failed", "error", err)
			}
			if onRun != nil {
				onRun(rep, err)
			}
		}
	}
}

// relevant filters events down to wanted files, and starts watching newly
// created directories.
func (ix *Indexer) relevant(w *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if abs, _ := filepath.Abs(ev.Name); abs != "" {
		if idx, _ := filepath.Abs(ix.cfg.IndexPath); abs == idx {
			return false
		}
	}
	if ev.Op&fsnotify.Create != 0 {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			if skipDir(filepath.Base(ev.Name)) {
				return false
			}
			if err := addTree(w, ev.Name); err != nil {
				ix.logger.Warn("ingest: watch add failed", "path", ev.Name, "error", err)
			}
			return true
		}
	}
	return ix.wanted(ev.Name)
}

// addTree watches dir and every non-skipped directory below it; fsnotify
// watches are not recursive.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
