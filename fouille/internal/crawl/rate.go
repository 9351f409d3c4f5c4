package crawl

import (
	"context"
	"sync"
	"time"
)

// RateGovernor spaces fetches per domain. AwaitTurn holds the domain's lock
// while sleeping, so concurrent callers for one domain queue up instead of
// sleeping the same duration and racing. Timestamps persist across searches.
type RateGovernor struct {
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu      sync.Mutex
	domains map[string]*domainState
}

type domainState struct {
	mu   sync.Mutex
	last time.Time
}

// NewRateGovernor creates a governor on the wall clock.
func NewRateGovernor() *RateGovernor {
	return NewRateGovernorWithClock(time.Now, sleepCtx)
}

// NewRateGovernorWithClock creates a governor with an injected clock and
// sleep function.
func NewRateGovernorWithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *RateGovernor {
	return &RateGovernor{now: now, sleep: sleep, domains: make(map[string]*domainState)}
}

func (g *RateGovernor) state(domain string) *domainState {
	g.mu.Lock()
	defer g.mu.Unlock()
	ds, ok := g.domains[domain]
	if !ok {
		ds = &domainState{}
		g.domains[domain] = ds
	}
	return ds
}

// AwaitTurn blocks until minInterval has elapsed since the last granted turn
// for domain, then records and returns the granted time. On cancellation no
// turn is recorded.
func (g *RateGovernor) AwaitTurn(ctx context.Context, domain string, minInterval time.Duration) (time.Time, error) {
	ds := g.state(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.last.IsZero() && minInterval > 0 {
		if wait := ds.last.Add(minInterval).Sub(g.now()); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return time.Time{}, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	t := g.now()
	if t.Before(ds.last) {
		t = ds.last
	}
	ds.last = t
	return t, nil
}

// LastTurn returns the last granted turn for domain (zero if none).
func (g *RateGovernor) LastTurn(domain string) time.Time {
	ds := g.state(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.last
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
