// Package crawl enforces crawl politeness: robots.txt compliance, per-domain
// pacing and per-search fetch caps.
//
// A Governor is constructed once per process and shared by all searches.
// Each search opens a Pass, which carries the per-domain fetch counters
// for that search only.
package crawl

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Governor bundles the process-wide politeness state.
type Governor struct {
	Robots    *RobotsGate
	Rate      *RateGovernor
	UserAgent string
}

// NewGovernor creates a Governor with a fresh robots cache and rate state.
func NewGovernor(client *http.Client, userAgent string, robotsTimeout time.Duration, logger *slog.Logger, opts ...RobotsOption) *Governor {
	return &Governor{
		Robots:    NewRobotsGate(client, robotsTimeout, logger, opts...),
		Rate:      NewRateGovernor(),
		UserAgent: userAgent,
	}
}

// Pass is the politeness state of one search call.
type Pass struct {
	gov          *Governor
	maxPerDomain int
	delay        time.Duration

	mu     sync.Mutex
	counts map[string]int
}

// NewPass opens a pass. maxPerDomain <= 0 means no cap.
func (g *Governor) NewPass(maxPerDomain int, delay time.Duration) *Pass {
	return &Pass{gov: g, maxPerDomain: maxPerDomain, delay: delay, counts: make(map[string]int)}
}

// Allowed checks robots.txt for rawURL with the governor's user agent.
func (p *Pass) Allowed(ctx context.Context, rawURL string) bool {
	return p.gov.Robots.IsAllowed(ctx, rawURL, p.gov.UserAgent)
}

// ReserveSlot atomically takes one fetch slot for domain. It returns false
// once the domain's cap for this pass is exhausted.
func (p *Pass) ReserveSlot(domain string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxPerDomain > 0 && p.counts[domain] >= p.maxPerDomain {
		return false
	}
	p.counts[domain]++
	return true
}

// AwaitTurn waits for the domain's pacing interval.
func (p *Pass) AwaitTurn(ctx context.Context, domain string) error {
	_, err := p.gov.Rate.AwaitTurn(ctx, domain, p.delay)
	return err
}
