// Package ratelimit provides per-source admission control for the ingestion
// endpoint.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per source address. Allowance regenerates
// continuously with wall-clock time up to the burst cap; admitting a request
// costs one token. Per-source state is created lazily and never evicted;
// callers wanting bounds can layer TTL eviction on top.
type Limiter struct {
	mu      sync.RWMutex
	sources map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// New creates a limiter admitting perSecond requests sustained with the
// given burst per source.
func New(perSecond float64, burst int) *Limiter {
	return &Limiter{
		sources: make(map[string]*rate.Limiter),
		rate:    rate.Limit(perSecond),
		burst:   burst,
	}
}

// Admit reports whether a request from the source may proceed, consuming one
// token when it does. Sources do not interfere with each other.
func (l *Limiter) Admit(source string) bool {
	return l.limiter(source).Allow()
}

func (l *Limiter) limiter(source string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.sources[source]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.sources[source]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.rate, l.burst)
	l.sources[source] = lim
	return lim
}

// Sources returns the number of tracked sources.
func (l *Limiter) Sources() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sources)
}
