package fouille

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/engine"
	"github.com/hazyhaar/fouille/fouille/internal/fetch"
	"github.com/hazyhaar/fouille/fouille/internal/memory"
	"github.com/hazyhaar/fouille/fouille/internal/prefmodel"
	"github.com/hazyhaar/fouille/fouille/internal/result"
)

type stubEngine struct {
	name string
	hits []result.Hit
	err  error
}

func (e *stubEngine) Name() string { return e.name }

func (e *stubEngine) Search(_ context.Context, _ string, max int) ([]result.Hit, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.hits[:min(max, len(e.hits))], nil
}

type noFetch struct{}

func (noFetch) Fetch(context.Context, string) fetch.Page { return fetch.Page{} }

func hit(engineName, title, url string) result.Hit {
	h := result.New(title, url, "snippet about "+title)
	h.Engine = engineName
	return h
}

func setupTestService(t *testing.T, mutate func(*Config), engines ...engine.Engine) *Service {
	t.Helper()
	cfg := &Config{
		DataDir: t.TempDir(),
		Model:   prefmodel.Config{Dim: 64, Hidden: 8, Seed: 1},
	}
	if mutate != nil {
		mutate(cfg)
	}
	if len(engines) == 0 {
		engines = []engine.Engine{
			&stubEngine{name: "one", hits: []result.Hit{
				hit("one", "First", "https://x.test/p"),
				hit("one", "Alpha", "https://a.test/1"),
			}},
			&stubEngine{name: "two", hits: []result.Hit{
				hit("two", "Second", "https://x.test/p"),
				hit("two", "Beta", "https://b.test/2"),
			}},
		}
	}
	svc, err := New(cfg, nil, WithEngines(engines...), WithPageFetcher(noFetch{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func urls(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.URL
	}
	return out
}

func TestService_SearchValidation(t *testing.T) {
	// WHAT: queries shorter than 2 characters are rejected.
	// WHY: input validation is the only error class of Search.
	svc := setupTestService(t, nil)
	for _, q := range []string{"", " ", "a", "  b  "} {
		_, err := svc.Search(context.Background(), SearchRequest{Query: q})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Search(%q) err = %v, want ErrInvalidInput", q, err)
		}
	}
}

func TestService_SearchDedupFirstEngineWins(t *testing.T) {
	// WHAT: a URL returned by two engines appears once with the first title.
	// WHY: URL is the dedup key within one result set.
	svc := setupTestService(t, nil)
	off := false
	resp, err := svc.Search(context.Background(), SearchRequest{Query: " golang ", Personalize: &off})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Query != "golang" || resp.Meta.Personalize || resp.Meta.Count != 3 {
		t.Fatalf("meta = %+v query=%q", resp.Meta, resp.Query)
	}
	got := strings.Join(urls(resp.Results), " ")
	if got != "https://x.test/p https://a.test/1 https://b.test/2" {
		t.Fatalf("order = %s", got)
	}
	if resp.Results[0].Title != "First" {
		t.Fatalf("title = %q, want First", resp.Results[0].Title)
	}
	hist, err := svc.RecentHistory(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Fatalf("unpersonalized search wrote history: %v", hist)
	}
}

func TestService_SearchFailingEngine(t *testing.T) {
	// WHAT: a failing engine contributes nothing; the others still answer.
	// WHY: EngineFailure never aborts a search.
	svc := setupTestService(t, nil,
		&stubEngine{name: "down", err: errors.New("boom")},
		&stubEngine{name: "up", hits: []result.Hit{hit("up", "Ok", "https://ok.test/")}},
	)
	resp, err := svc.Search(context.Background(), SearchRequest{Query: "query"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].URL != "https://ok.test/" {
		t.Fatalf("results = %v", urls(resp.Results))
	}
}

func TestService_PersonalizedSearch(t *testing.T) {
	// WHAT: feedback and strict block reshape the ranking and history is kept.
	// WHY: the end-to-end path from feedback to ranking.
	svc := setupTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.RecordFeedback(ctx, FeedbackInput{URL: "https://b.test/2", Label: "like"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordFeedback(ctx, FeedbackInput{URL: "https://a.test/1", Label: "dislike"}); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Search(ctx, SearchRequest{Query: "golang"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].URL != "https://b.test/2" {
		t.Fatalf("liked URL not first: %v", urls(resp.Results))
	}
	if last := resp.Results[len(resp.Results)-1]; last.URL != "https://a.test/1" {
		t.Fatalf("disliked URL not last: %v", urls(resp.Results))
	}

	on := true
	if _, err := svc.PatchPreferences(ctx, PreferencesPatch{StrictBlock: &on}); err != nil {
		t.Fatal(err)
	}
	resp, err = svc.Search(ctx, SearchRequest{Query: "golang"})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range resp.Results {
		if h.Domain == "a.test" {
			t.Fatalf("strict block kept %s", h.URL)
		}
	}

	hist, err := svc.RecentHistory(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 5 {
		t.Fatalf("history entries = %d, want 5", len(hist))
	}
}

func TestService_RecordFeedbackValidation(t *testing.T) {
	// WHAT: bad labels and URLs are invalid input; valid feedback is counted.
	// WHY: feedback is the training signal; garbage must not reach the log.
	svc := setupTestService(t, nil)
	ctx := context.Background()
	bad := []FeedbackInput{
		{URL: "https://a.example/x", Label: "meh"},
		{URL: "not a url", Label: "like"},
		{URL: "ftp://a.example/x", Label: "like"},
	}
	for _, in := range bad {
		if _, err := svc.RecordFeedback(ctx, in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("RecordFeedback(%+v) err = %v", in, err)
		}
	}
	rec, err := svc.RecordFeedback(ctx, FeedbackInput{URL: "https://a.example/x", Label: "👎"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Label != "dislike" || rec.Domain != "a.example" {
		t.Fatalf("record = %+v", rec)
	}
	st, err := svc.FeedbackStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.Likes != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestService_TrainFromFeedback(t *testing.T) {
	// WHAT: training without feedback is a non-fatal failure; with feedback it succeeds.
	// WHY: TrainingSkipped must never surface as an error.
	svc := setupTestService(t, nil)
	ctx := context.Background()
	if res := svc.TrainFromFeedback(ctx, 0, 1); res.OK || res.Detail != "no data" {
		t.Fatalf("empty train = %+v", res)
	}
	svc.RecordFeedback(ctx, FeedbackInput{URL: "https://a.example/x", Label: "like", Title: "golang"})
	svc.RecordFeedback(ctx, FeedbackInput{URL: "https://b.example/y", Label: "dislike", Title: "gossip"})
	res := svc.TrainFromFeedback(ctx, 0, 3)
	if !res.OK || res.Steps != 3 {
		t.Fatalf("train = %+v", res)
	}
}

func TestService_AutoTrain(t *testing.T) {
	// WHAT: every AutoEvery feedback events trigger a background retrain.
	// WHY: the model keeps learning without an explicit train call.
	svc := setupTestService(t, func(c *Config) { c.Train.AutoEvery = 2 })
	ctx := context.Background()
	svc.RecordFeedback(ctx, FeedbackInput{URL: "https://a.example/x", Label: "like"})
	if svc.model.Trained() {
		t.Fatal("trained after one event")
	}
	svc.RecordFeedback(ctx, FeedbackInput{URL: "https://b.example/y", Label: "dislike"})

	deadline := time.Now().Add(5 * time.Second)
	for !svc.model.Trained() {
		if time.Now().After(deadline) {
			t.Fatal("auto-train did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNew_DatabaseSynchronous(t *testing.T) {
	// WHAT: database.synchronous reaches the preferences database; a mode
	// SQLite does not know fails New instead of being ignored.
	// WHY: durability settings must not silently fall back.
	setupTestService(t, func(c *Config) { c.DB.Synchronous = "full" })

	cfg := &Config{
		DataDir: t.TempDir(),
		Model:   prefmodel.Config{Dim: 64, Hidden: 8, Seed: 1},
		DB:      DBConfig{Synchronous: "paranoid"},
	}
	if svc, err := New(cfg, nil, WithPageFetcher(noFetch{})); err == nil {
		svc.Close()
		t.Fatal("unknown synchronous mode accepted")
	}
}

func TestService_CloseDuringAutoTrain(t *testing.T) {
	// WHAT: feedback racing Close never starts a retrain once Close has begun
	// waiting, and a retrain requested after Close is dropped.
	// WHY: WaitGroup.Add concurrent with Wait panics or leaks a goroutine
	// writing model state after resources are released.
	svc := setupTestService(t, func(c *Config) { c.Train.AutoEvery = 1 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label := "like"
			if i%2 == 1 {
				label = "dislike"
			}
			svc.RecordFeedback(ctx, FeedbackInput{URL: "https://r.example/" + string(rune('a'+i)), Label: label})
		}()
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	svc.trainInBackground()
	if svc.training.Load() {
		t.Error("retrain started after Close")
	}
	if _, err := svc.RecordFeedback(ctx, FeedbackInput{URL: "https://r.example/z", Label: "like"}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestService_Memory(t *testing.T) {
	// WHAT: ingest, search, remove and proposals through the service.
	// WHY: memory is shared by ingestion and the assistant layer.
	svc := setupTestService(t, func(c *Config) { c.Memory.ChunkSize = 40; c.Memory.Overlap = 10 })
	ctx := context.Background()

	long := strings.Repeat("sqlite wal checkpoint ", 6)
	n, err := svc.IngestText(ctx, []memory.Input{
		{Text: long, Meta: map[string]any{"source": "doc"}},
		{Text: "goroutines and channels", Meta: map[string]any{"source": "note"}},
		{Text: "Goroutines  and CHANNELS"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n < 3 {
		t.Fatalf("indexed %d, want long text chunked", n)
	}

	hits, err := svc.SearchMemory(ctx, "channels", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Meta["source"] != "note" {
		t.Fatalf("hits = %+v", hits)
	}

	if _, err := svc.RemoveMemory(ctx, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty filter err = %v", err)
	}
	removed, err := svc.RemoveMemory(ctx, map[string]any{"source": "note"})
	if err != nil || removed != 1 {
		t.Fatalf("removed %d, err %v", removed, err)
	}
	texts, err := svc.SearchMemoryText(ctx, "channels", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 0 {
		t.Fatalf("removed item still found: %v", texts)
	}

	if _, err := svc.SaveProposal(ctx, "  ", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty proposal err = %v", err)
	}
	it, err := svc.SaveProposal(ctx, "diff --git a b", "fix ranking")
	if err != nil {
		t.Fatal(err)
	}
	if it.Type != memory.TypeProposal || it.Meta["objective"] != "fix ranking" {
		t.Fatalf("proposal = %+v", it)
	}
}

func TestPreferencesPatch_CSVAndList(t *testing.T) {
	// WHAT: list fields accept a CSV string or an array; omitted fields are kept.
	// WHY: both the HTTP form and MCP clients send either shape.
	svc := setupTestService(t, nil)
	var patch PreferencesPatch
	body := `{"preferred_domains":"Go.dev, pkg.go.dev","blocked_keywords":["Casino"],"keyword_boost":0.9}`
	if err := json.Unmarshal([]byte(body), &patch); err != nil {
		t.Fatal(err)
	}
	got, err := svc.PatchPreferences(context.Background(), patch)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got.PreferredDomains, ",") != "go.dev,pkg.go.dev" ||
		strings.Join(got.BlockedKeywords, ",") != "casino" ||
		got.KeywordBoost != 0.9 || got.LikeWeight != 1.0 {
		t.Fatalf("prefs = %+v", got)
	}
}

func TestService_IngestDirWithoutRoot(t *testing.T) {
	// WHAT: directory ingestion without a configured root reports it.
	// WHY: the indexer is optional.
	svc := setupTestService(t, nil)
	if _, err := svc.IngestDir(context.Background()); err == nil {
		t.Fatal("expected error without ingest root")
	}
}

func TestLoadConfigFile(t *testing.T) {
	// WHAT: YAML values override defaults; unset values keep them.
	// WHY: the config file is the deployment surface.
	path := t.TempDir() + "/fouille.yaml"
	yml := `
data_dir: /var/lib/fouille
search:
  max_results: 50
  delay_per_domain: 2s
engines:
  - name: news
    kind: rss
    url: https://news.example/rss?q={query}
rerank:
  preference_weight: 0.3
database:
  busy_timeout: 3s
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.MaxResults != 50 || cfg.Search.DelayPerDomain != 2*time.Second || cfg.Search.MaxResultsCap != 200 {
		t.Fatalf("search = %+v", cfg.Search)
	}
	if len(cfg.Engines) != 1 || cfg.Engines[0].Kind != engine.KindRSS {
		t.Fatalf("engines = %+v", cfg.Engines)
	}
	if cfg.Rerank.PreferenceWeight != 0.3 || cfg.Memory.ChunkSize != 1000 {
		t.Fatalf("rerank/memory = %+v %+v", cfg.Rerank, cfg.Memory)
	}
	if cfg.DB.BusyTimeout != 3*time.Second || cfg.DB.Synchronous != "NORMAL" {
		t.Fatalf("database = %+v", cfg.DB)
	}

	if err := os.WriteFile(path, []byte("engines:\n  - kind: api\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("api engine without url accepted")
	}
}
