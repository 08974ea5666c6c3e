package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter enforces politeness per target domain: a cap on
// simultaneous fetches and a minimum delay between requests. The
// worker pool bounds total concurrency; this bounds per-host pressure.
type DomainLimiter struct {
	mu          sync.Mutex
	slots       map[string]chan struct{}
	limiters    map[string]*rate.Limiter
	maxPerHost  int
	minInterval time.Duration
}

// NewDomainLimiter builds a limiter allowing maxPerHost concurrent
// fetches per domain and at most one request per minInterval.
func NewDomainLimiter(maxPerHost int, minInterval time.Duration) *DomainLimiter {
	if maxPerHost <= 0 {
		maxPerHost = 8
	}
	return &DomainLimiter{
		slots:       make(map[string]chan struct{}),
		limiters:    make(map[string]*rate.Limiter),
		maxPerHost:  maxPerHost,
		minInterval: minInterval,
	}
}

// Acquire blocks until the domain has both a free concurrency slot and
// a rate token, or the context ends. The returned release function
// must be called once the fetch completes.
func (l *DomainLimiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain := Domain(rawURL)
	if domain == "" {
		domain = "unknown"
	}
	slot, limiter := l.forDomain(domain)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire slot for %s: %w", domain, ctx.Err())
	}

	if err := limiter.Wait(ctx); err != nil {
		<-slot
		return nil, fmt.Errorf("rate wait for %s: %w", domain, err)
	}

	var once sync.Once
	return func() { once.Do(func() { <-slot }) }, nil
}

func (l *DomainLimiter) forDomain(domain string) (chan struct{}, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[domain]
	if !ok {
		slot = make(chan struct{}, l.maxPerHost)
		l.slots[domain] = slot
	}
	limiter, ok := l.limiters[domain]
	if !ok {
		lim := rate.Inf
		if l.minInterval > 0 {
			lim = rate.Every(l.minInterval)
		}
		limiter = rate.NewLimiter(lim, 1)
		l.limiters[domain] = limiter
	}
	return slot, limiter
}

// VisitTracker provides thread-safe visited URL tracking so discovered
// links are enqueued at most once per session.
type VisitTracker struct {
	seen sync.Map
}

// NewVisitTracker constructs an empty tracker.
func NewVisitTracker() *VisitTracker { return &VisitTracker{} }

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *VisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}
