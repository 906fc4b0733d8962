// Package poller is the status poller: a periodic sweep over
// non-terminal submissions that hands every stale one to the Router
// Core's refresh path. It never writes state itself — refreshes go
// through the same lease/detect/apply pipeline as every other status
// source, so a poller and a callback racing on one submission resolve
// on the lease, not in here.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/registry"
	"github.com/flowctl/workflowrouter/internal/submission"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 16
)

// Refresher is the slice of the Router Core the poller drives.
type Refresher interface {
	Refresh(ctx context.Context, submissionID string) (*submission.Submission, error)
	RecoverStuck(ctx context.Context, submissionID string) (*submission.Submission, error)
}

// Lister is the slice of the Submission Store the poller reads.
type Lister interface {
	ListNonTerminal(ctx context.Context) ([]submission.Submission, error)
}

// Poller scans for stale in-flight submissions on a fixed interval.
type Poller struct {
	store     Lister
	registry  *registry.Registry
	refresher Refresher

	interval    time.Duration
	concurrency int
	limiter     *rate.Limiter

	now func() time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(store Lister, reg *registry.Registry, refresher Refresher) *Poller {
	return &Poller{
		store:       store,
		registry:    reg,
		refresher:   refresher,
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
		// Smooths dispatch so a large stale backlog doesn't hammer the
		// endpoints in one burst.
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
}

// SetInterval overrides the sweep interval.
func (p *Poller) SetInterval(d time.Duration) {
	p.interval = d
}

// SetConcurrency overrides the per-sweep worker bound.
func (p *Poller) SetConcurrency(n int) {
	if n > 0 {
		p.concurrency = n
	}
}

// SetClock overrides the poller's clock. Test hook only.
func (p *Poller) SetClock(now func() time.Time) {
	p.now = now
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop terminates the sweep loop.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("Poller: starting, interval %v, concurrency %d", p.interval, p.concurrency)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Poller: context cancelled, stopping")
			return
		case <-p.stopped:
			log.Printf("Poller: stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass: enumerate non-terminal submissions, pick the
// stale ones, and refresh each under the worker bound. Exported so tests
// and an operator endpoint can trigger a pass without waiting a tick.
func (p *Poller) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { observability.PollerTickDuration.Observe(time.Since(start).Seconds()) }()

	subs, err := p.store.ListNonTerminal(ctx)
	if err != nil {
		log.Printf("Poller: listing non-terminal submissions failed: %v", err)
		return
	}

	stale := p.selectStale(subs)
	observability.PollerStaleSubmissions.Set(float64(len(stale)))
	if len(stale) == 0 {
		return
	}
	log.Printf("Poller: %d of %d in-flight submissions stale", len(stale), len(subs))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, sub := range stale {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(sub submission.Submission) {
			defer wg.Done()
			defer func() { <-sem }()
			p.refreshOne(ctx, sub)
		}(sub)
	}
	wg.Wait()
}

func (p *Poller) selectStale(subs []submission.Submission) []submission.Submission {
	now := p.now()
	var stale []submission.Submission
	for _, sub := range subs {
		route, err := p.registry.Lookup(sub.RouteID)
		if err != nil {
			// Route dropped from config; nothing to poll against.
			continue
		}
		threshold := time.Duration(route.StatusThresholdSeconds) * time.Second
		if now.Sub(sub.LastUpdatedAt) > threshold {
			stale = append(stale, sub)
		}
	}
	return stale
}

func (p *Poller) refreshOne(ctx context.Context, sub submission.Submission) {
	if sub.Status == submission.StatusSubmitted && sub.ExternalID == "" {
		if _, err := p.refresher.RecoverStuck(ctx, sub.SubmissionID); err != nil {
			log.Printf("Poller: recovering stuck submission %s: %v", sub.SubmissionID, err)
		}
		return
	}

	if _, err := p.refresher.Refresh(ctx, sub.SubmissionID); err != nil {
		log.Printf("Poller: refreshing %s: %v", sub.SubmissionID, err)
	}
}
