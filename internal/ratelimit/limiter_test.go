package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAdmitUsesInjectedClock(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore())
	now := time.Unix(1700000000, 0)
	l.Clock = func() time.Time { return now }

	_, admitted, err := l.Admit(ctx, "u", "r", 1, 60)
	if err != nil || !admitted {
		t.Fatalf("expected first admission, got admitted=%v err=%v", admitted, err)
	}
	_, admitted, err = l.Admit(ctx, "u", "r", 1, 60)
	if err != nil || admitted {
		t.Fatalf("expected second admission in same window to be denied, got admitted=%v err=%v", admitted, err)
	}

	now = now.Add(61 * time.Second)
	_, admitted, err = l.Admit(ctx, "u", "r", 1, 60)
	if err != nil || !admitted {
		t.Fatalf("expected admission after window elapses, got admitted=%v err=%v", admitted, err)
	}
}

func TestLimiterRefreshReseedsCartesianProduct(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore())

	urls := []string{"resA", "resB"}
	keys := []string{"*", "partner"}
	rates := map[string]int64{"resA": 5}

	if err := l.Refresh(ctx, urls, keys, rates); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rows, err := l.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (resA only has a rate cap), got %d", len(rows))
	}
}
