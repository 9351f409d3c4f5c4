// CLAUDE:SUMMARY Page fetcher for result enrichment: SSRF-checked GET, bounded body, tiered content extraction that never fails past its boundary.
// Package fetch retrieves a result page and turns it into a title, a
// snippet and a readable extract.
//
// Extraction is an explicit sequence of tiers, each tried only when the
// previous one produced no usable text:
//
//  1. main content (landmarks / text density), rendered as markdown
//  2. meta description, og:description, first paragraph
//
// Network failures are reported in-band as an Extract prefixed with
// ErrorPrefix; Fetch itself never returns an error.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/fouille/horosafe"
)

// ErrorPrefix marks an Extract that reports a fetch failure.
const ErrorPrefix = "ERROR_FETCH: "

// Page is the enrichment produced for one URL. Empty fields mean the tier
// chain found nothing for them.
type Page struct {
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Extract string `json:"extract,omitempty"`
}

// Failed reports whether p carries a fetch error marker.
func (p Page) Failed() bool { return strings.HasPrefix(p.Extract, ErrorPrefix) }

// Config configures the fetcher.
type Config struct {
	Timeout   time.Duration // per-request timeout. Default: 8s.
	MaxBytes  int64         // max response body. Default: 2 MiB.
	MaxChars  int           // extract/snippet bound in runes. Default: 1600.
	UserAgent string
	// URLValidator validates URLs before fetch and on redirects (SSRF
	// prevention). Default: horosafe.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = horosafe.MaxResponseBody
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 1600
	}
	if c.UserAgent == "" {
		c.UserAgent = "fouille/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// Fetcher performs page fetches. Safe for concurrent use.
type Fetcher struct {
	client *http.Client
	config Config
	md     *converter.Converter
	logger *slog.Logger
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

// Fetch retrieves rawURL and runs the extraction tiers. The timeout bounds
// the whole call regardless of ctx.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Page {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	body, contentType, err := f.get(ctx, rawURL)
	if err != nil {
		f.logger.Debug("fetch: failed", "url", rawURL, "error", err)
		return Page{Extract: ErrorPrefix + err.Error()}
	}
	return f.extract(body, contentType, rawURL)
}

var errStatus = errors.New("unexpected status")

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := f.config.URLValidator(rawURL); err != nil {
		return nil, "", fmt.Errorf("URL blocked: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: http %d", errStatus, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
