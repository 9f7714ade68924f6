// Package ratelimit implements the sliding-window rate limiter of spec.md
// §4.6: a durable, per-(resource-url, referrer-key) admission meter with
// exactly one admission algorithm shared by every storage backend.
package ratelimit

import "github.com/google/uuid"

// MeterRow is the persisted schema of spec.md §6: "(id, url, referrer,
// count, rate, time, total, rejected) with unique index on (url,
// referrer)". WindowStart is a floating-point Unix timestamp in seconds,
// matching spec.md §3's MeterRow definition.
type MeterRow struct {
	ID          string
	URL         string
	Referrer    string
	WindowCount int64
	RateLimit   int64
	WindowStart float64
	Total       int64
	Rejected    int64
}

// NewRowID generates a MeterRow identifier. Grounded on the corpus's use of
// google/uuid for generated row/request identifiers.
func NewRowID() string {
	return uuid.NewString()
}

// applyAdmission implements spec.md §4.6's admission algorithm as a pure
// function over one row, so every storage backend (memory, SQLite, Redis)
// shares the exact same decision logic and only differs in how it loads,
// locks, and persists the row.
//
// windowSeconds is (rateLimitPeriod × 60) / rateLimit, precomputed by the
// caller from the matched Resource's RateCap.
func applyAdmission(row MeterRow, rateLimit int64, windowSeconds float64, now float64) (next MeterRow, admitted bool) {
	next = row
	next.RateLimit = rateLimit

	switch {
	case next.WindowCount == 0 || next.WindowStart+windowSeconds <= now:
		next.WindowCount = 1
		next.WindowStart = now
		next.Total++
		return next, true
	case next.WindowCount < rateLimit:
		next.WindowCount++
		next.Total++
		return next, true
	default:
		next.Rejected++
		return next, false
	}
}
