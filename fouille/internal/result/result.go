// Package result defines the normalized search hit shared by engines, the
// aggregator and the reranker.
package result

import (
	"github.com/hazyhaar/fouille/horosafe"
)

// Hit is one normalized search result. URL is the dedup key within a result
// set. A Hit is mutated only during the aggregation/rerank pass that
// produces it.
type Hit struct {
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	Snippet         string  `json:"snippet"`
	Extract         string  `json:"extract,omitempty"`
	Domain          string  `json:"domain"`
	Engine          string  `json:"engine,omitempty"`
	AllowedByRobots *bool   `json:"allowed_by_robots,omitempty"`
	BaseRank        int     `json:"base_rank"`
	Score           float64 `json:"score"`
}

// New builds a Hit with Domain derived from url.
func New(title, url, snippet string) Hit {
	return Hit{Title: title, URL: url, Snippet: snippet, Domain: horosafe.Domain(url)}
}

// ScoringText is the text fed to the preference model for a hit.
func (h *Hit) ScoringText() string {
	return h.Title + " " + h.Snippet + " " + h.URL
}

// Bool returns a pointer to b, for AllowedByRobots.
func Bool(b bool) *bool { return &b }
