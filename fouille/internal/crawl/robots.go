package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/hazyhaar/fouille/horosafe"
)

// maxRobotsBytes bounds robots.txt bodies.
const maxRobotsBytes = 512 << 10

var disallowAll = mustRobots("User-agent: *\nDisallow: /\n")

func mustRobots(s string) *robotstxt.RobotsData {
	d, err := robotstxt.FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// RobotsGate caches one robots.txt policy per origin (scheme+host).
// A nil cached policy is the permissive sentinel: robots.txt was unreachable
// or unparsable, which never blocks crawling. Entries are never invalidated.
// A lookup abandoned by its caller is answered permissively but not cached.
type RobotsGate struct {
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	validate func(string) error

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// RobotsOption configures a RobotsGate.
type RobotsOption func(*RobotsGate)

// WithURLValidator replaces the SSRF check applied to robots.txt URLs and
// their redirects. The default is horosafe.ValidateURL.
func WithURLValidator(fn func(string) error) RobotsOption {
	return func(g *RobotsGate) {
		if fn != nil {
			g.validate = fn
		}
	}
}

// NewRobotsGate creates a gate. client nil uses http.DefaultClient.
func NewRobotsGate(client *http.Client, timeout time.Duration, logger *slog.Logger, opts ...RobotsOption) *RobotsGate {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &RobotsGate{
		timeout:  timeout,
		logger:   logger,
		validate: horosafe.ValidateURL,
		cache:    make(map[string]*robotstxt.RobotsData),
	}
	for _, opt := range opts {
		opt(g)
	}
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("robots: too many redirects")
		}
		return g.validate(req.URL.String())
	}
	g.client = &c
	return g
}

// IsAllowed reports whether userAgent may fetch rawURL. URLs without a host
// are never allowed, nor are origins the URL validator rejects. Concurrent
// first calls for one origin may both fetch robots.txt; the outcome is the
// same either way.
func (g *RobotsGate) IsAllowed(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	origin := horosafe.Origin(rawURL)

	g.mu.Lock()
	policy, ok := g.cache[origin]
	g.mu.Unlock()

	if !ok {
		if err := g.validate(origin + "/robots.txt"); err != nil {
			g.logger.Debug("crawl: robots origin rejected", "origin", origin, "error", err)
			return false
		}
		var cacheable bool
		policy, cacheable = g.load(ctx, origin, userAgent)
		if cacheable {
			g.mu.Lock()
			g.cache[origin] = policy
			g.mu.Unlock()
		}
	}
	if policy == nil {
		return true
	}
	return policy.TestAgent(u.RequestURI(), userAgent)
}

// load fetches and parses origin/robots.txt. 2xx bodies are parsed,
// 401/403 deny everything, any other status or error is permissive (nil).
// cacheable is false when the caller's ctx ended before an answer arrived.
func (g *RobotsGate) load(ctx context.Context, origin, userAgent string) (policy *robotstxt.RobotsData, cacheable bool) {
	rctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	log := g.logger.With("origin", origin)
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		log.Debug("crawl: robots request", "error", err)
		return nil, true
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("crawl: robots lookup abandoned", "error", err)
			return nil, false
		}
		log.Debug("crawl: robots unreachable", "error", err)
		return nil, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return disallowAll, true
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, true
	}

	body, err := horosafe.LimitedReadAll(resp.Body, maxRobotsBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		log.Debug("crawl: robots read", "error", err)
		return nil, true
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		log.Debug("crawl: robots parse", "error", fmt.Errorf("%s: %w", strings.TrimSpace(origin), err))
		return nil, true
	}
	return data, true
}
