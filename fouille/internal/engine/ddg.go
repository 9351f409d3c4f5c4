package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/fouille/extract"
	"github.com/hazyhaar/fouille/fouille/internal/result"
	"github.com/hazyhaar/fouille/horosafe"
)

// DefaultDuckDuckGoURL is the HTML (no-JS) endpoint.
const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/?q={query}"

// DuckDuckGo scrapes the DuckDuckGo HTML result page.
type DuckDuckGo struct {
	name        string
	urlTemplate string
	client      *http.Client
	userAgent   string
	timeout     time.Duration
}

// NewDuckDuckGo creates the adapter. An empty urlTemplate uses
// DefaultDuckDuckGoURL.
func NewDuckDuckGo(name, urlTemplate string, opts Options) *DuckDuckGo {
	opts.defaults()
	if urlTemplate == "" {
		urlTemplate = DefaultDuckDuckGoURL
	}
	return &DuckDuckGo{name: name, urlTemplate: urlTemplate, client: opts.Client, userAgent: opts.UserAgent, timeout: opts.Timeout}
}

func (d *DuckDuckGo) Name() string { return d.name }

func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]result.Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, expandURL(d.urlTemplate, query, max), nil)
	if err != nil {
		return nil, fmt.Errorf("ddg: new request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ddg: http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg: http %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("ddg: read body: %w", err)
	}
	return parseDuckDuckGo(body, d.name, max)
}

// parseDuckDuckGo extracts hits from a result page. Ads (result--ad) are
// skipped.
func parseDuckDuckGo(body []byte, engine string, max int) ([]result.Hit, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ddg: parse: %w", err)
	}
	var hits []result.Hit
	for _, n := range extract.QuerySelectorAll(doc, "div.result") {
		if len(hits) >= max {
			break
		}
		if extract.HasClass(n, "result--ad") {
			continue
		}
		link := extract.QuerySelector(n, "a.result__a")
		if link == nil {
			continue
		}
		var snippet string
		if s := extract.QuerySelector(n, ".result__snippet"); s != nil {
			snippet = extract.Text(s)
		}
		h, ok := normalize(engine, extract.Text(link), unwrapRedirect(extract.Attr(link, "href")), snippet)
		if ok {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// unwrapRedirect resolves "//duckduckgo.com/l/?uddg=<target>&rut=..." links
// to their target.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("uddg")
}
