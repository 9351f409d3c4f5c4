// CLAUDE:SUMMARY Main Service orchestrator: wires engines, crawl governor, fetcher, aggregator, memory, feedback, preference model, preferences and reranker behind the public operations.
// Package fouille is a personal search service: it aggregates several
// search engines, optionally enriches hits by politely fetching their pages,
// and reranks them with explicit preferences, like/dislike feedback and an
// online-trained preference model.
package fouille

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/fouille/dbopen"
	"github.com/hazyhaar/fouille/fouille/internal/aggregate"
	"github.com/hazyhaar/fouille/fouille/internal/crawl"
	"github.com/hazyhaar/fouille/fouille/internal/engine"
	"github.com/hazyhaar/fouille/fouille/internal/feedback"
	"github.com/hazyhaar/fouille/fouille/internal/fetch"
	"github.com/hazyhaar/fouille/fouille/internal/ingest"
	"github.com/hazyhaar/fouille/fouille/internal/memory"
	"github.com/hazyhaar/fouille/fouille/internal/prefmodel"
	"github.com/hazyhaar/fouille/fouille/internal/prefs"
	"github.com/hazyhaar/fouille/fouille/internal/rerank"
	"github.com/hazyhaar/fouille/fouille/internal/result"
	"github.com/hazyhaar/fouille/horosafe"
)

// Hit is one search result as returned to callers.
type Hit = result.Hit

// Aliases so callers outside the module tree can name operation types.
type (
	MemoryInput    = memory.Input
	MemoryHit      = memory.Hit
	MemoryItem     = memory.Item
	FeedbackRecord = feedback.Record
	Preferences    = prefs.Preferences
	HistoryEntry   = prefs.HistoryEntry
	TrainResult    = prefmodel.TrainResult
	IngestReport   = ingest.Report
)

// Service is the fouille orchestrator. Safe for concurrent use.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	agg      *aggregate.Aggregator
	memory   *memory.Store
	feedback *feedback.Store
	model    *prefmodel.Model
	prefs    *prefs.Store
	reranker *rerank.Reranker
	indexer  *ingest.Indexer // nil when no ingest root is configured

	sinceTrain atomic.Int64
	training   atomic.Bool

	ctx    context.Context // cancelled by Close; parents background work
	cancel context.CancelFunc
	bgMu   sync.Mutex // orders bg.Add against the closed flag
	bg     sync.WaitGroup
	closed atomic.Bool
}

type serviceOptions struct {
	engines      []engine.Engine
	client       *http.Client
	urlValidator func(string) error
	fetcher      aggregate.PageFetcher
}

// ServiceOption configures optional dependencies of New.
type ServiceOption func(*serviceOptions)

// WithEngines replaces the engines built from Config.Engines.
func WithEngines(engines ...engine.Engine) ServiceOption {
	return func(o *serviceOptions) { o.engines = engines }
}

// WithHTTPClient sets the client used for engine calls and robots.txt.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(o *serviceOptions) { o.client = c }
}

// WithURLValidator overrides the SSRF check applied before page fetches.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(o *serviceOptions) { o.urlValidator = fn }
}

// WithPageFetcher replaces the page fetcher used by the follow pass.
func WithPageFetcher(f aggregate.PageFetcher) ServiceOption {
	return func(o *serviceOptions) { o.fetcher = f }
}

// New opens the persisted state under cfg.DataDir and wires every component.
func New(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.Search.EngineTimeout}
	}

	engines := o.engines
	if engines == nil {
		var err error
		engines, err = engine.Build(cfg.Engines, engine.Options{
			Client:    o.client,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Search.EngineTimeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	}
	if o.fetcher == nil {
		o.fetcher = fetch.New(fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBytes,
			MaxChars:     cfg.Fetch.MaxChars,
			UserAgent:    cfg.UserAgent,
			URLValidator: o.urlValidator,
		}, logger)
	}
	var robotsOpts []crawl.RobotsOption
	if o.urlValidator != nil {
		robotsOpts = append(robotsOpts, crawl.WithURLValidator(o.urlValidator))
	}
	gov := crawl.NewGovernor(o.client, cfg.UserAgent, cfg.Search.RobotsTimeout, logger, robotsOpts...)

	svc := &Service{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			svc.closeResources()
		}
	}()

	var err error
	svc.agg, err = aggregate.New(engines, gov, o.fetcher, aggregate.Config{
		SnippetChars: cfg.Fetch.SnippetChars,
		Workers:      cfg.Search.FollowWorkers,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("fouille: aggregator: %w", err)
	}
	if svc.memory, err = memory.Open(cfg.memoryPath(), logger); err != nil {
		return nil, err
	}
	if svc.feedback, err = feedback.Open(cfg.feedbackPath(), logger); err != nil {
		return nil, err
	}
	if svc.model, err = prefmodel.Open(cfg.modelDir(), cfg.Model, logger); err != nil {
		return nil, err
	}
	if svc.prefs, err = prefs.Open(cfg.prefsPath(),
		dbopen.WithBusyTimeout(int(cfg.DB.BusyTimeout.Milliseconds())),
		dbopen.WithSynchronous(cfg.DB.Synchronous)); err != nil {
		return nil, err
	}
	svc.reranker = rerank.New(cfg.Rerank, svc.prefs, logger)
	if cfg.Ingest.Root != "" {
		if svc.indexer, err = ingest.New(cfg.Ingest, svc.memory, logger); err != nil {
			return nil, err
		}
	}
	svc.ctx, svc.cancel = context.WithCancel(context.Background())
	ok = true

	logger.Info("fouille: ready",
		"data_dir", cfg.DataDir, "engines", svc.agg.Engines(),
		"memory_items", svc.memory.Len(), "model_trained", svc.model.Trained())
	return svc, nil
}

// Close stops background work and releases resources. Safe to call twice.
func (s *Service) Close() error {
	s.bgMu.Lock()
	first := s.closed.CompareAndSwap(false, true)
	s.bgMu.Unlock()
	if !first {
		return nil
	}
	s.cancel()
	s.bg.Wait()
	return s.closeResources()
}

func (s *Service) closeResources() error {
	var errs []error
	if s.agg != nil {
		errs = append(errs, s.agg.Close())
	}
	if s.prefs != nil {
		errs = append(errs, s.prefs.Close())
	}
	return errors.Join(errs...)
}

// Engines returns the configured engine names.
func (s *Service) Engines() []string { return s.agg.Engines() }

// Config returns the effective configuration.
func (s *Service) Config() Config { return *s.cfg }

// --- Search ---

// SearchRequest is one search call. Zero values take configured defaults;
// Personalize nil means true.
type SearchRequest struct {
	Query          string        `json:"query"`
	MaxResults     int           `json:"max_results"`
	Follow         bool          `json:"follow"`
	Personalize    *bool         `json:"personalize,omitempty"`
	MaxPerDomain   int           `json:"max_per_domain,omitempty"`
	DelayPerDomain time.Duration `json:"delay_per_domain,omitempty"`
}

// SearchMeta describes how a response was produced.
type SearchMeta struct {
	Count       int      `json:"count"`
	Follow      bool     `json:"follow"`
	Personalize bool     `json:"personalize"`
	Engines     []string `json:"engines"`
	DurationMs  int64    `json:"duration_ms"`
}

// SearchResponse is the outcome of Search.
type SearchResponse struct {
	Query   string     `json:"query"`
	Results []Hit      `json:"results"`
	Meta    SearchMeta `json:"meta"`
}

// Search aggregates the engines, optionally follows hits, and reranks.
// Only an invalid query or a cancelled context produce an error; engine and
// fetch failures degrade the result instead.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	q := strings.TrimSpace(req.Query)
	if len([]rune(q)) < 2 {
		return nil, fmt.Errorf("%w: query must be at least 2 characters", ErrInvalidInput)
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = s.cfg.Search.MaxResults
	}
	limit = min(limit, s.cfg.Search.MaxResultsCap)
	perDomain := req.MaxPerDomain
	if perDomain == 0 {
		perDomain = s.cfg.Search.MaxPerDomain
	}
	delay := req.DelayPerDomain
	if delay <= 0 {
		delay = s.cfg.Search.DelayPerDomain
	}
	personalize := req.Personalize == nil || *req.Personalize

	start := time.Now()
	hits := s.agg.Search(ctx, aggregate.Request{
		Query:          q,
		MaxResults:     limit,
		Follow:         req.Follow,
		MaxPerDomain:   perDomain,
		DelayPerDomain: delay,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if personalize {
		hits = s.reranker.Rerank(ctx, hits, q, s.signals(ctx))
	}
	if hits == nil {
		hits = []Hit{}
	}

	resp := &SearchResponse{
		Query:   q,
		Results: hits,
		Meta: SearchMeta{
			Count:       len(hits),
			Follow:      req.Follow,
			Personalize: personalize,
			Engines:     s.agg.Engines(),
			DurationMs:  time.Since(start).Milliseconds(),
		},
	}
	s.logger.Info("fouille: search",
		"query", q, "count", len(hits), "follow", req.Follow,
		"personalize", personalize, "duration_ms", resp.Meta.DurationMs)
	return resp, nil
}

// signals gathers the rerank inputs. Read failures degrade to defaults.
func (s *Service) signals(ctx context.Context) rerank.Signals {
	sig := rerank.Signals{Prefs: prefs.Defaults(), Model: s.model}
	if p, err := s.prefs.Get(ctx); err != nil {
		s.logger.Warn("fouille: preferences unavailable, using defaults", "error", err)
	} else {
		sig.Prefs = p
	}
	if c, err := s.feedback.Counts(); err != nil {
		s.logger.Warn("fouille: feedback counts unavailable", "error", err)
	} else {
		sig.Counts = c
	}
	return sig
}

// --- Feedback & model ---

// FeedbackInput is one like/dislike event.
type FeedbackInput struct {
	URL     string `json:"url"`
	Label   string `json:"label"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
	Query   string `json:"query,omitempty"`
}

// RecordFeedback validates and stores a feedback event, then schedules a
// background retrain every Train.AutoEvery events.
func (s *Service) RecordFeedback(ctx context.Context, in FeedbackInput) (feedback.Record, error) {
	if s.closed.Load() {
		return feedback.Record{}, ErrClosed
	}
	if _, err := horosafe.ValidateScheme(in.URL); err != nil {
		return feedback.Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := feedback.NormalizeLabel(in.Label); err != nil {
		return feedback.Record{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rec, err := s.feedback.Record(feedback.Record{
		URL:     in.URL,
		Title:   strings.TrimSpace(in.Title),
		Summary: strings.TrimSpace(in.Summary),
		Query:   strings.TrimSpace(in.Query),
		Label:   in.Label,
	})
	if err != nil {
		return feedback.Record{}, err
	}
	s.logger.Info("fouille: feedback recorded", "url", rec.URL, "label", rec.Label)

	if every := int64(s.cfg.Train.AutoEvery); every > 0 && s.sinceTrain.Add(1)%every == 0 {
		s.trainInBackground()
	}
	return rec, nil
}

// trainInBackground starts one retrain unless one is already running or the
// service is closing.
func (s *Service) trainInBackground() {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed.Load() {
		return
	}
	if !s.training.CompareAndSwap(false, true) {
		s.logger.Debug("fouille: auto-train skipped, run in progress")
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.training.Store(false)
		res := s.TrainFromFeedback(s.ctx, s.cfg.Train.Limit, 0)
		s.logger.Info("fouille: auto-train finished", "ok", res.OK, "loss", res.Loss, "detail", res.Detail)
	}()
}

// TrainFromFeedback trains the preference model on up to limit feedback
// records (<= 0 reads all) for epochs passes (<= 0 uses the default). It
// never returns an error: failures are reported in the result.
func (s *Service) TrainFromFeedback(ctx context.Context, limit, epochs int) prefmodel.TrainResult {
	records, err := s.feedback.Records(limit)
	if err != nil {
		return prefmodel.TrainResult{OK: false, Detail: err.Error()}
	}
	return s.model.TrainFromFeedback(ctx, records, epochs)
}

// FeedbackStats summarises the feedback log.
func (s *Service) FeedbackStats(ctx context.Context) (feedback.Stats, error) {
	return s.feedback.Stats()
}

// ScoreText returns the preference model's interest score for text.
func (s *Service) ScoreText(text string) float64 { return s.model.ScoreOne(text) }

// --- Memory ---

// IngestText stores texts in memory, splitting long ones into overlapping
// chunks. Texts already present are skipped. Returns how many items were
// stored.
func (s *Service) IngestText(ctx context.Context, items []memory.Input) (int, error) {
	var chunks []memory.Input
	for _, it := range items {
		for _, ch := range memory.Chunk(it.Text, s.cfg.Memory.ChunkSize, s.cfg.Memory.Overlap) {
			chunks = append(chunks, memory.Input{Text: ch, Meta: it.Meta})
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	return s.memory.AppendUnique(chunks, nil)
}

// SearchMemory ranks memory items by similarity to query. topK <= 0 uses the
// configured default.
func (s *Service) SearchMemory(ctx context.Context, query string, topK int, filter map[string]any) ([]memory.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if topK <= 0 {
		topK = s.cfg.Memory.DefaultTopK
	}
	hits := s.memory.Search(query, topK, filter)
	if hits == nil {
		hits = []memory.Hit{}
	}
	return hits, nil
}

// SearchMemoryText is SearchMemory returning only texts.
func (s *Service) SearchMemoryText(ctx context.Context, query string, topK int, filter map[string]any) ([]string, error) {
	hits, err := s.SearchMemory(ctx, query, topK, filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out, nil
}

// RemoveMemory deletes every item whose meta matches filter.
func (s *Service) RemoveMemory(ctx context.Context, filter map[string]any) (int, error) {
	n, err := s.memory.RemoveByMeta(filter)
	if errors.Is(err, memory.ErrEmptyFilter) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return n, err
}

// SaveProposal stores a generated patch proposal with its objective.
func (s *Service) SaveProposal(ctx context.Context, text, objective string) (memory.Item, error) {
	it, err := s.memory.SaveProposal(text, objective)
	if errors.Is(err, memory.ErrEmptyText) {
		return memory.Item{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return it, err
}

// --- Preferences ---

// GetPreferences returns the current preferences.
func (s *Service) GetPreferences(ctx context.Context) (prefs.Preferences, error) {
	return s.prefs.Get(ctx)
}

// UpdatePreferences replaces the preferences.
func (s *Service) UpdatePreferences(ctx context.Context, p prefs.Preferences) error {
	return s.prefs.Update(ctx, p)
}

// RecentHistory returns recently served results, newest first.
func (s *Service) RecentHistory(ctx context.Context, limit int) ([]prefs.HistoryEntry, error) {
	return s.prefs.RecentHistory(ctx, limit)
}

// --- Ingestion ---

// IngestDir runs one pass of the directory indexer.
func (s *Service) IngestDir(ctx context.Context) (ingest.Report, error) {
	if s.indexer == nil {
		return ingest.Report{}, ingest.ErrNoRoot
	}
	return s.indexer.Run(ctx)
}

// WatchDir re-indexes on file changes until ctx is cancelled or the service
// closes.
func (s *Service) WatchDir(ctx context.Context) error {
	if s.indexer == nil {
		return ingest.ErrNoRoot
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	return s.indexer.Watch(ctx, nil)
}
