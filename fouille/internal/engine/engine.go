// Package engine adapts external search backends to a common hit shape.
//
// Three adapter kinds are built from configuration:
//   - api:        any JSON search API (apifetch dot-path mapping)
//   - duckduckgo: the DuckDuckGo HTML endpoint
//   - rss:        search endpoints that answer with an RSS/Atom feed
//
// Every adapter is wrapped in a circuit breaker so a backend that keeps
// failing is skipped for a while instead of costing a timeout per search.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/fouille/extract"
	"github.com/hazyhaar/fouille/fouille/internal/apifetch"
	"github.com/hazyhaar/fouille/fouille/internal/result"
)

// Engine is one search backend. Implementations must be safe for
// concurrent use.
type Engine interface {
	Name() string
	// Search returns up to max hits in the backend's own rank order.
	Search(ctx context.Context, query string, max int) ([]result.Hit, error)
}

// Kinds.
const (
	KindAPI        = "api"
	KindDuckDuckGo = "duckduckgo"
	KindRSS        = "rss"
)

// ErrUnknownKind is returned by Build for an unsupported engine kind.
var ErrUnknownKind = errors.New("engine: unknown kind")

// Spec configures one engine.
type Spec struct {
	Name    string          `yaml:"name"`
	Kind    string          `yaml:"kind"`
	URL     string          `yaml:"url"` // template: {query}, {count}
	Enabled *bool           `yaml:"enabled"`
	API     apifetch.Config `yaml:"api"`
	Breaker BreakerConfig   `yaml:"breaker"`
}

// IsEnabled defaults to true.
func (s Spec) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Options are shared by all engines built together.
type Options struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration // per engine call. Default: 8s.
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	if o.UserAgent == "" {
		o.UserAgent = "fouille/1.0"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Build creates the enabled engines in spec order, each behind a breaker.
func Build(specs []Spec, opts Options) ([]Engine, error) {
	opts.defaults()
	var out []Engine
	for _, s := range specs {
		if !s.IsEnabled() {
			continue
		}
		e, err := build(s, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, WithBreaker(e, NewCircuitBreaker(s.Breaker.options()...)))
	}
	return out, nil
}

func build(s Spec, opts Options) (Engine, error) {
	name := s.Name
	if name == "" {
		name = s.Kind
	}
	switch s.Kind {
	case KindAPI:
		if s.URL == "" {
			return nil, fmt.Errorf("engine %s: url required", name)
		}
		return &APIEngine{name: name, urlTemplate: s.URL, cfg: s.API, client: opts.Client, timeout: opts.Timeout}, nil
	case KindDuckDuckGo:
		return NewDuckDuckGo(name, s.URL, opts), nil
	case KindRSS:
		if s.URL == "" {
			return nil, fmt.Errorf("engine %s: url required", name)
		}
		return NewRSS(name, s.URL, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q (engine %s)", ErrUnknownKind, s.Kind, name)
	}
}

// expandURL fills {query} (query-escaped) and {count} in a URL template.
func expandURL(tmpl, query string, count int) string {
	return strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{count}", strconv.Itoa(count),
	).Replace(tmpl)
}

// normalize turns raw backend fields into a hit: markup stripped, title
// kept as-is when present. Hits without a URL are dropped (ok=false).
func normalize(engine, title, rawURL, snippet string) (result.Hit, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return result.Hit{}, false
	}
	h := result.New(extract.PlainText(title), rawURL, extract.PlainText(snippet))
	h.Engine = engine
	return h, true
}

// APIEngine queries a JSON search API.
type APIEngine struct {
	name        string
	urlTemplate string
	cfg         apifetch.Config
	client      *http.Client
	timeout     time.Duration
}

func (e *APIEngine) Name() string { return e.name }

func (e *APIEngine) Search(ctx context.Context, query string, max int) ([]result.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	items, err := apifetch.Fetch(ctx, e.client, expandURL(e.urlTemplate, query, max), e.cfg)
	if err != nil {
		return nil, err
	}
	hits := make([]result.Hit, 0, min(len(items), max))
	for _, it := range items {
		if len(hits) >= max {
			break
		}
		if h, ok := normalize(e.name, it.Title, it.URL, it.Snippet); ok {
			hits = append(hits, h)
		}
	}
	return hits, nil
}
