package ratelimit

import (
	"context"
	"time"
)

// Limiter is the Rate Limiter component of spec.md §4.6, wired to one
// durable Store. Clock is overridable for deterministic tests.
type Limiter struct {
	store Store
	Clock func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, Clock: time.Now}
}

// Admit applies the sliding-window algorithm for one (resourceURL,
// referrerKey) pair at the given rate cap. windowSeconds is precomputed by
// the caller from the matched Resource's RateCap (see
// resource.RateCap.WindowSeconds).
func (l *Limiter) Admit(ctx context.Context, resourceURL, referrerKey string, rateLimit int64, windowSeconds float64) (MeterRow, bool, error) {
	now := float64(l.Clock().UnixNano()) / 1e9
	return l.store.Admit(ctx, resourceURL, referrerKey, rateLimit, windowSeconds, now)
}

// Seed preallocates one row, per spec.md §4.6's Cartesian-product
// initialization requirement.
func (l *Limiter) Seed(ctx context.Context, resourceURL, referrerKey string, rateLimit int64) error {
	return l.store.Seed(ctx, resourceURL, referrerKey, rateLimit)
}

// Refresh drops every row (spec.md §4.6: "if the Resource table changes,
// all rows are dropped and repopulated").
func (l *Limiter) Refresh(ctx context.Context, resourceURLs []string, referrerKeys []string, rateLimitByURL map[string]int64) error {
	if err := l.store.Reset(ctx); err != nil {
		return err
	}
	for _, url := range resourceURLs {
		rate, capped := rateLimitByURL[url]
		if !capped {
			continue
		}
		for _, key := range referrerKeys {
			if err := l.store.Seed(ctx, url, key, rate); err != nil {
				return err
			}
		}
	}
	return nil
}

// All returns every meter row, for the status page (spec.md §6).
func (l *Limiter) All(ctx context.Context) ([]MeterRow, error) {
	return l.store.All(ctx)
}

func (l *Limiter) Close() error {
	return l.store.Close()
}
