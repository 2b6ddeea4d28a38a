// Package ratelimit implements per-domain rate limiting for ScrapeWorker
// and CrawlWorker (spec §4.13): randomized min/max delay, a bounded max
// concurrent-per-domain gate, and a KV-backed daily cap. Grounded on the
// teacher's internal/services/crawler/rate_limiter.go per-domain map shape,
// rewritten onto golang.org/x/time/rate instead of a hand-rolled timer.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// ErrRateLimited is returned when a domain's daily cap has been exceeded.
var ErrRateLimited = errors.New("ratelimit: daily cap exceeded")

// Config configures the per-domain limiter.
type Config struct {
	DelayMinMS             int
	DelayMaxMS             int
	MaxConcurrentPerDomain int
	DailyLimit             int
}

type domainState struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

// Limiter gates requests per domain with a randomized delay, a concurrency
// cap, and a persistent daily cap.
type Limiter struct {
	counters interfaces.RateLimitCounter
	config   Config

	mu      sync.Mutex
	domains map[string]*domainState
}

func New(counters interfaces.RateLimitCounter, config Config) *Limiter {
	return &Limiter{counters: counters, config: config, domains: make(map[string]*domainState)}
}

// Acquire first checks rawURL's domain against the daily cap, returning
// ErrRateLimited once the cap is reached (spec §4.13), then blocks on the
// max-concurrent-per-domain gate and a rate-limiter token, and finally counts
// the request against the daily cap.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (release func(), err error) {
	domain := hostOf(rawURL)
	if domain == "" {
		return func() {}, nil
	}

	today := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("ratelimit:%s:%s", domain, today)
	if l.config.DailyLimit > 0 {
		count, err := l.counters.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read daily rate limit counter: %w", err)
		}
		if count >= int64(l.config.DailyLimit) {
			return nil, ErrRateLimited
		}
	}

	state := l.stateFor(domain)

	select {
	case state.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := state.limiter.Wait(ctx); err != nil {
		<-state.sem
		return nil, err
	}

	if l.config.DailyLimit > 0 {
		if _, err := l.counters.Incr(ctx, key, 24*time.Hour); err != nil {
			<-state.sem
			return nil, fmt.Errorf("failed to increment daily rate limit counter: %w", err)
		}
	}

	return func() { <-state.sem }, nil
}

func (l *Limiter) stateFor(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.domains[domain]; ok {
		return s
	}

	delayMin := l.config.DelayMinMS
	delayMax := l.config.DelayMaxMS
	if delayMax < delayMin {
		delayMax = delayMin
	}
	avgDelay := delayMin
	if delayMax > delayMin {
		avgDelay = delayMin + rand.Intn(delayMax-delayMin+1)
	}
	if avgDelay <= 0 {
		avgDelay = 1000
	}

	concurrency := l.config.MaxConcurrentPerDomain
	if concurrency <= 0 {
		concurrency = 1
	}

	s := &domainState{
		limiter: rate.NewLimiter(rate.Every(time.Duration(avgDelay)*time.Millisecond), 1),
		sem:     make(chan struct{}, concurrency),
	}
	l.domains[domain] = s
	return s
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
