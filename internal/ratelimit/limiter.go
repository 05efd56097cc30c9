// Package ratelimit bounds the inbound notification rate per source. The
// push provider is trusted but its delivery behavior is not: a subscription
// misconfiguration or replay storm upstream must not translate into a
// claim-write storm against the ledger.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds the per-source rate limit settings
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per source
	RequestsPerSecond float64
	// Burst is the instantaneous burst allowed per source
	Burst int
}

// Limiter hands out one token bucket per source key. Buckets are created
// lazily on first sight of a source and kept for the process lifetime; the
// source population (push provider IPs) is small and stable.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a per-source limiter. Zero values fall back to a
// sustained 50 req/s with a burst of 100.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}

	return &Limiter{
		config:  cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the source may proceed right now
func (l *Limiter) Allow(source string) bool {
	return l.bucket(source).Allow()
}

func (l *Limiter) bucket(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[source]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
		l.buckets[source] = b
	}

	return b
}
