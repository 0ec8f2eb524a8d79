package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// StoreLimiters hands out one rate limiter per store domain. Each store has
// its own remote budget, so limiters are never shared across stores.
type StoreLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewStoreLimiters creates a registry allowing one call per interval per store
func NewStoreLimiters(interval time.Duration) *StoreLimiters {
	return &StoreLimiters{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// getOrCreate gets or creates the limiter for a store
func (l *StoreLimiters) getOrCreate(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, exists := l.limiters[domain]; exists {
		return lim
	}

	limit := rate.Inf
	if l.interval > 0 {
		limit = rate.Every(l.interval)
	}
	lim := rate.NewLimiter(limit, 1)
	l.limiters[domain] = lim
	return lim
}

// Wait blocks until the store may receive another call
func (l *StoreLimiters) Wait(ctx context.Context, domain string) error {
	return l.getOrCreate(domain).Wait(ctx)
}

// Forget drops a store's limiter
func (l *StoreLimiters) Forget(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, domain)
}

// sleepContext pauses for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
