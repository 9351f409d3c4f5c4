// CLAUDE:SUMMARY Deterministic personalized reranking: base rank, feedback counts, static domain/keyword preferences, learned model score, strict-block filter, best-effort history.
// Package rerank orders aggregated hits for one user.
//
// Rank is a pure function of its inputs. Rerank adds the side effect of
// recording the served head of the list in the query history.
package rerank

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/hazyhaar/fouille/fouille/internal/feedback"
	"github.com/hazyhaar/fouille/fouille/internal/prefmodel"
	"github.com/hazyhaar/fouille/fouille/internal/prefs"
	"github.com/hazyhaar/fouille/fouille/internal/result"
)

// Scorer predicts interest in [0,1] for a text. *prefmodel.Model implements it.
type Scorer interface {
	ScoreOne(text string) float64
}

// HistoryWriter records served URLs. *prefs.Store implements it.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, query string, urls []string) error
}

// Config holds the blending hyperparameters that are not part of the user's
// preferences. Zero selects the default; a negative weight or multiplier
// disables that term.
type Config struct {
	PreferenceWeight      float64 `yaml:"preference_weight" json:"preference_weight"`
	URLFeedbackMultiplier float64 `yaml:"url_feedback_multiplier" json:"url_feedback_multiplier"`
	HistoryLimit          int     `yaml:"history_limit" json:"history_limit"`
}

func (c *Config) defaults() {
	if c.PreferenceWeight == 0 {
		c.PreferenceWeight = 0.7
	}
	if c.URLFeedbackMultiplier == 0 {
		c.URLFeedbackMultiplier = 1.5
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 30
	}
}

// Signals is everything a ranking depends on besides the hits.
type Signals struct {
	Prefs  prefs.Preferences
	Counts feedback.Counts
	Model  Scorer // nil scores every hit neutral
}

// profile is Signals with the preference sets indexed for lookup.
type profile struct {
	Signals
	preferred, blocked map[string]bool
	cfg                Config
}

func newProfile(sig Signals, cfg Config) profile {
	cfg.defaults()
	sig.Prefs = sig.Prefs.Normalize()
	return profile{
		Signals:   sig,
		preferred: toSet(sig.Prefs.PreferredDomains),
		blocked:   toSet(sig.Prefs.BlockedDomains),
		cfg:       cfg,
	}
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, s := range list {
		m[s] = true
	}
	return m
}

func containsAny(text string, keywords []string) bool {
	return slices.ContainsFunc(keywords, func(k string) bool { return strings.Contains(text, k) })
}

// hardBlocked reports whether strict mode must drop h.
func (p *profile) hardBlocked(h *result.Hit) bool {
	domain := strings.ToLower(h.Domain)
	return p.blocked[domain] ||
		p.Counts.DislikesByURL[h.URL] > 0 ||
		p.Counts.DislikesByDomain[domain] > 0
}

func (p *profile) score(h *result.Hit) float64 {
	pr := p.Prefs
	domain := strings.ToLower(h.Domain)

	s := 1 / float64(h.BaseRank+1)

	s += float64(p.Counts.LikesByDomain[domain]) * pr.LikeWeight
	s += float64(p.Counts.DislikesByDomain[domain]) * pr.DislikeWeight
	urlMul := max(p.cfg.URLFeedbackMultiplier, 0)
	s += float64(p.Counts.LikesByURL[h.URL]) * pr.LikeWeight * urlMul
	s += float64(p.Counts.DislikesByURL[h.URL]) * pr.DislikeWeight * urlMul

	if p.preferred[domain] {
		s += pr.DomainBoost
	}
	if p.blocked[domain] {
		s -= pr.DomainBoost
	}

	text := strings.ToLower(h.Title + " " + h.Snippet)
	if containsAny(text, pr.PreferredKeywords) {
		s += pr.KeywordBoost
	}
	if containsAny(text, pr.BlockedKeywords) {
		s -= pr.KeywordBoost
	}

	interest := prefmodel.Neutral
	if p.Model != nil {
		interest = p.Model.ScoreOne(h.ScoringText())
	}
	return s + max(p.cfg.PreferenceWeight, 0)*interest
}

// Score returns the additive score of a single hit.
func Score(h result.Hit, sig Signals, cfg Config) float64 {
	p := newProfile(sig, cfg)
	return p.score(&h)
}

// Rank scores a copy of hits, drops strict-blocked ones when
// sig.Prefs.StrictBlock is set, and sorts by descending score. Ties keep the
// input order. The input slice is not modified.
func Rank(hits []result.Hit, sig Signals, cfg Config) []result.Hit {
	p := newProfile(sig, cfg)
	out := make([]result.Hit, 0, len(hits))
	for _, h := range hits {
		if p.Prefs.StrictBlock && p.hardBlocked(&h) {
			continue
		}
		h.Score = p.score(&h)
		out = append(out, h)
	}
	slices.SortStableFunc(out, func(a, b result.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

// Reranker ranks and records history.
type Reranker struct {
	cfg     Config
	history HistoryWriter
	logger  *slog.Logger
}

// New returns a Reranker. history may be nil.
func New(cfg Config, history HistoryWriter, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &Reranker{cfg: cfg, history: history, logger: logger}
}

// Config returns the effective configuration.
func (r *Reranker) Config() Config { return r.cfg }

// Rerank ranks hits for query, then appends the first HistoryLimit URLs to the
// history. A history failure is logged and otherwise ignored.
func (r *Reranker) Rerank(ctx context.Context, hits []result.Hit, query string, sig Signals) []result.Hit {
	ranked := Rank(hits, sig, r.cfg)
	if r.history == nil || len(ranked) == 0 {
		return ranked
	}
	head := ranked[:min(len(ranked), r.cfg.HistoryLimit)]
	urls := make([]string, len(head))
	for i := range head {
		urls[i] = head[i].URL
	}
	if err := r.history.AppendHistory(ctx, query, urls); err != nil {
		r.logger.Warn("rerank: history write failed", "query", query, "error", err)
	}
	return ranked
}
