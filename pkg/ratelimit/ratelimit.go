// Package ratelimit enforces per-identity token buckets, one per
// endpoint class. Identity is the caller's API key when present,
// otherwise the remote IP.
package ratelimit

import (
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/strata-ai/strata/pkg/config"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when allowed.
	RetryAfter time.Duration
	// Limit is the configured sustained per-minute rate.
	Limit int
}

// Limiter holds one LRU registry of token buckets per endpoint class.
// Eviction bounds memory; an evicted identity simply starts a fresh
// bucket on its next request.
type Limiter struct {
	cfg     *config.RateLimitConfig
	buckets map[config.EndpointClass]*lru.Cache[string, *rate.Limiter]
}

func New(cfg *config.RateLimitConfig) (*Limiter, error) {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[config.EndpointClass]*lru.Cache[string, *rate.Limiter]),
	}
	for class := range cfg.Rules {
		c, err := lru.New[string, *rate.Limiter](cfg.MaxIdentities)
		if err != nil {
			return nil, err
		}
		l.buckets[class] = c
	}
	return l, nil
}

// Allow admits or rejects one request for identity against the class's
// bucket. Unknown classes and a disabled limiter always admit.
func (l *Limiter) Allow(class config.EndpointClass, identity string) Decision {
	if !l.cfg.IsEnabled() {
		return Decision{Allowed: true}
	}
	rule, ok := l.cfg.Rules[class]
	if !ok {
		return Decision{Allowed: true}
	}

	registry := l.buckets[class]
	bucket, ok := registry.Get(identity)
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(rule.PerMinute)/60.0), rule.Burst)
		// A concurrent add for the same identity may race; both sides
		// see a full bucket so the admitted count stays within burst+1.
		registry.Add(identity, bucket)
	}

	reservation := bucket.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return Decision{Allowed: true, Limit: rule.PerMinute}
	}
	reservation.Cancel()
	return Decision{
		Allowed:    false,
		RetryAfter: ceilSecond(delay),
		Limit:      rule.PerMinute,
	}
}

// ceilSecond rounds up so the Retry-After hint is always at least one
// whole second.
func ceilSecond(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
