// CLAUDE:SUMMARY Multi-engine search fan-out: parallel dispatch, engine-order merge, exact-URL dedup, and the polite follow pass (robots, per-domain caps and pacing, page enrichment).
// Package aggregate fans a query out to every engine, merges the hits in
// engine order, deduplicates them by URL and optionally enriches each hit
// with page content under crawl politeness rules.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/fouille/extract"
	"github.com/hazyhaar/fouille/fouille/internal/crawl"
	"github.com/hazyhaar/fouille/fouille/internal/engine"
	"github.com/hazyhaar/fouille/fouille/internal/fetch"
	"github.com/hazyhaar/fouille/fouille/internal/result"
)

// PageFetcher enriches one URL. fetch.Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) fetch.Page
}

// Config configures an Aggregator.
type Config struct {
	SnippetChars int // engine snippet bound in runes. Default: 300.
	Workers      int // follow-pass pool size. Default: 4.
}

func (c *Config) defaults() {
	if c.SnippetChars <= 0 {
		c.SnippetChars = 300
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Request is one aggregation call.
type Request struct {
	Query          string
	MaxResults     int
	Follow         bool
	MaxPerDomain   int
	DelayPerDomain time.Duration
}

// Aggregator is safe for concurrent Search calls.
type Aggregator struct {
	engines []engine.Engine
	gov     *crawl.Governor
	fetcher PageFetcher
	pool    *ants.Pool
	config  Config
	logger  *slog.Logger
}

// New creates an Aggregator. Close releases its worker pool.
func New(engines []engine.Engine, gov *crawl.Governor, fetcher PageFetcher, cfg Config, logger *slog.Logger) (*Aggregator, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		engines: engines,
		gov:     gov,
		fetcher: fetcher,
		pool:    pool,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Close releases the worker pool, waiting up to 5s for in-flight fetches.
func (a *Aggregator) Close() error {
	return a.pool.ReleaseTimeout(5 * time.Second)
}

// Engines returns the configured engine names in dispatch order.
func (a *Aggregator) Engines() []string {
	names := make([]string, len(a.engines))
	for i, e := range a.engines {
		names[i] = e.Name()
	}
	return names
}

// Search runs one aggregation. Engine failures contribute zero hits. The
// result never holds two hits with the same URL and never exceeds
// req.MaxResults.
func (a *Aggregator) Search(ctx context.Context, req Request) []result.Hit {
	perEngine := a.dispatch(ctx, req.Query, req.MaxResults)
	hits := a.merge(perEngine, req.MaxResults)

	if req.Follow && len(hits) > 0 {
		a.follow(ctx, hits, req)
	}
	for i := range hits {
		if hits[i].Title == "" {
			hits[i].Title = hits[i].URL
		}
	}
	return hits
}

// dispatch queries every engine in parallel. Slot i holds engine i's hits
// so merge order does not depend on completion order.
func (a *Aggregator) dispatch(ctx context.Context, query string, max int) [][]result.Hit {
	out := make([][]result.Hit, len(a.engines))
	var g errgroup.Group
	for i, e := range a.engines {
		g.Go(func() error {
			start := time.Now()
			hits, err := e.Search(ctx, query, max)
			if err != nil {
				a.logger.Warn("aggregate: engine failed", "engine", e.Name(), "error", err)
				return nil
			}
			a.logger.Debug("aggregate: engine done", "engine", e.Name(), "hits", len(hits), "duration", time.Since(start))
			out[i] = hits
			return nil
		})
	}
	g.Wait()
	return out
}

// merge concatenates per-engine hits in engine order, keeps the first hit
// per exact URL and stops as soon as max hits are assembled.
func (a *Aggregator) merge(perEngine [][]result.Hit, max int) []result.Hit {
	seen := make(map[string]struct{})
	var out []result.Hit
	for _, hits := range perEngine {
		for _, h := range hits {
			if len(out) >= max {
				return out
			}
			if h.URL == "" {
				continue
			}
			if _, dup := seen[h.URL]; dup {
				continue
			}
			seen[h.URL] = struct{}{}
			h.Snippet = extract.Truncate(h.Snippet, a.config.SnippetChars)
			h.BaseRank = len(out)
			out = append(out, h)
		}
	}
	return out
}

// follow enriches hits in place in three phases:
//  1. robots.txt checks, in parallel
//  2. per-domain slot reservation, sequential in hit order so caps favour
//     better-ranked hits
//  3. pacing and page fetch, in parallel (same-domain fetches serialize in
//     the rate governor)
func (a *Aggregator) follow(ctx context.Context, hits []result.Hit, req Request) {
	pass := a.gov.NewPass(req.MaxPerDomain, req.DelayPerDomain)

	allowed := make([]bool, len(hits))
	a.each(len(hits), func(i int) {
		allowed[i] = pass.Allowed(ctx, hits[i].URL)
	})

	var todo []int
	for i := range hits {
		hits[i].AllowedByRobots = result.Bool(allowed[i])
		if allowed[i] && pass.ReserveSlot(hits[i].Domain) {
			todo = append(todo, i)
		}
	}

	pages := make([]fetch.Page, len(hits))
	fetched := make([]bool, len(hits))
	a.each(len(todo), func(k int) {
		i := todo[k]
		if err := pass.AwaitTurn(ctx, hits[i].Domain); err != nil {
			return
		}
		pages[i] = a.fetcher.Fetch(ctx, hits[i].URL)
		fetched[i] = true
	})

	for i := range hits {
		if !fetched[i] {
			continue
		}
		p := pages[i]
		if hits[i].Title == "" {
			hits[i].Title = p.Title
		}
		if hits[i].Snippet == "" {
			hits[i].Snippet = p.Snippet
		}
		if hits[i].Extract == "" {
			hits[i].Extract = p.Extract
		}
	}
	a.logger.Debug("aggregate: follow done", "hits", len(hits), "fetched", len(todo))
}

// each runs fn(0..n-1) on the pool and waits. When the pool rejects a task
// it runs inline.
func (a *Aggregator) each(n int, fn func(int)) {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			fn(i)
		}
		if err := a.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}
