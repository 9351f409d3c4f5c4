package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hazyhaar/fouille/fouille/internal/result"
	"github.com/hazyhaar/fouille/horosafe"
)

// RSS queries a search endpoint that answers with an RSS or Atom feed
// (e.g. "https://www.bing.com/search?format=rss&q={query}").
type RSS struct {
	name        string
	urlTemplate string
	client      *http.Client
	userAgent   string
	timeout     time.Duration
}

func NewRSS(name, urlTemplate string, opts Options) *RSS {
	opts.defaults()
	return &RSS{
		name:        name,
		urlTemplate: urlTemplate,
		client:      opts.Client,
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
	}
}

func (r *RSS) Name() string { return r.name }

func (r *RSS) Search(ctx context.Context, query string, max int) ([]result.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, expandURL(r.urlTemplate, query, max), nil)
	if err != nil {
		return nil, fmt.Errorf("rss: new request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rss: http %d", resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("rss: read body: %w", err)
	}

	// One parser per call: gofeed.Parser keeps per-parse state.
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rss: parse: %w", err)
	}

	hits := make([]result.Hit, 0, min(len(feed.Items), max))
	for _, item := range feed.Items {
		if len(hits) >= max {
			break
		}
		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		if h, ok := normalize(r.name, item.Title, item.Link, desc); ok {
			hits = append(hits, h)
		}
	}
	return hits, nil
}
