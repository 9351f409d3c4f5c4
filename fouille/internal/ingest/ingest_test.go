package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/memory"
)

type fixture struct {
	root string
	mem  *memory.Store
	ix   *Indexer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	data := t.TempDir()
	root := t.TempDir()
	mem, err := memory.Open(filepath.Join(data, "memory.jsonl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Root = root
	cfg.IndexPath = filepath.Join(data, "code_index.json")
	ix, err := New(cfg, mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{root: root, mem: mem, ix: ix}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) texts(path string) []string {
	var out []string
	for _, it := range f.mem.Items() {
		if it.Meta["source"] == Source && it.Meta["path"] == path {
			out = append(out, it.Text)
		}
	}
	return out
}

func TestNew_RequiresRoot(t *testing.T) {
	// WHAT: an indexer without a root is rejected.
	// WHY: walking "" would index the working directory.
	if _, err := New(Config{IndexPath: "x.json"}, nil, nil); err != ErrNoRoot {
		t.Fatalf("err = %v, want ErrNoRoot", err)
	}
}

func TestRun_AddChangeRemove(t *testing.T) {
	// WHAT: a full lifecycle of one file across three runs.
	// WHY: changed and removed files must not leave stale chunks behind.
	ctx := context.Background()
	f := newFixture(t, Config{ChunkSize: 20, Overlap: -1})
	f.write(t, "pkg/a.go", "package a // alpha bravo charlie")
	f.write(t, "notes.md", "release notes")
	f.write(t, "image.png", "binary")
	f.write(t, ".git/config", "[core]")

	rep, err := f.ix.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(rep.Added, ",") != "notes.md,pkg/a.go" || rep.Written == 0 {
		t.Fatalf("first run = %+v", rep)
	}
	if len(f.texts("pkg/a.go")) != 2 {
		t.Fatalf("chunks of a.go = %q", f.texts("pkg/a.go"))
	}

	rep, err = f.ix.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Added)+len(rep.Changed)+len(rep.Removed) != 0 || rep.Written != 0 {
		t.Fatalf("unchanged run = %+v", rep)
	}

	f.write(t, "pkg/a.go", "package a // delta echo")
	rep, err = f.ix.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Changed) != 1 || rep.Pruned != 2 {
		t.Fatalf("change run = %+v", rep)
	}
	for _, h := range f.mem.SearchText("alpha bravo charlie", 10, nil) {
		if strings.Contains(h, "alpha") {
			t.Fatalf("stale chunk still searchable: %q", h)
		}
	}

	if err := os.Remove(filepath.Join(f.root, "notes.md")); err != nil {
		t.Fatal(err)
	}
	rep, err = f.ix.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Removed) != 1 || rep.Removed[0] != "notes.md" || rep.Pruned != 1 {
		t.Fatalf("remove run = %+v", rep)
	}
	if len(f.texts("notes.md")) != 0 {
		t.Fatal("removed file still in memory")
	}
}

func TestRun_CorruptIndexReingests(t *testing.T) {
	// WHAT: a corrupt index is treated as empty.
	// WHY: a damaged index must not stop the indexer.
	f := newFixture(t, Config{})
	f.write(t, "a.txt", "hello world")
	if err := os.WriteFile(f.ix.Config().IndexPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	rep, err := f.ix.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Added) != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDiff(t *testing.T) {
	// WHAT: diff classifies paths by presence and hash.
	// WHY: the diff drives both pruning and writing.
	old := index{"a": {Hash: "1"}, "b": {Hash: "2"}, "c": {Hash: "3"}}
	cur := index{"a": {Hash: "1"}, "b": {Hash: "9"}, "d": {Hash: "4"}}
	rep := diff(old, cur)
	if strings.Join(rep.Added, ",") != "d" || strings.Join(rep.Changed, ",") != "b" || strings.Join(rep.Removed, ",") != "c" {
		t.Fatalf("diff = %+v", rep)
	}
}

func TestWatch_ReindexesOnWrite(t *testing.T) {
	// WHAT: writing a file under the root triggers a debounced run.
	// WHY: watch mode keeps memory current without restarts.
	f := newFixture(t, Config{Debounce: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan Report, 4)
	done := make(chan error, 1)
	go func() {
		done <- f.ix.Watch(ctx, func(r Report, err error) {
			if err == nil {
				runs <- r
			}
		})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	n := 0
	for {
		select {
		case r := <-runs:
			if len(r.Added) > 0 {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch: %v", err)
				}
				if f.ix.Stats().Runs == 0 {
					t.Fatal("no run counted")
				}
				return
			}
		case <-tick.C:
			// The watcher may not be registered yet; keep touching.
			n++
			f.write(t, "watched.txt", strings.Repeat("x", n))
		case <-deadline:
			t.Fatal("no reindex after write")
		}
	}
}
