package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreAdmitSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)
	windowSeconds := 60.0 / 3.0

	for i, want := range []bool{true, true, true, false} {
		_, admitted, err := s.Admit(ctx, "https://tiles.example.com/World", "app", 3, windowSeconds, float64(i))
		if err != nil {
			t.Fatalf("Admit: %v", err)
		}
		if admitted != want {
			t.Fatalf("t=%d: admitted=%v, want %v", i, admitted, want)
		}
	}

	row, ok, err := s.Get(ctx, "https://tiles.example.com/World", "app")
	if err != nil || !ok {
		t.Fatalf("Get: row=%+v ok=%v err=%v", row, ok, err)
	}
	if row.Total != 3 || row.Rejected != 1 {
		t.Fatalf("unexpected row totals: %+v", row)
	}
}

func TestRedisStoreSeedThenGet(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)
	if err := s.Seed(ctx, "u", "r", 7); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	row, ok, err := s.Get(ctx, "u", "r")
	if err != nil || !ok {
		t.Fatalf("Get: row=%+v ok=%v err=%v", row, ok, err)
	}
	if row.RateLimit != 7 {
		t.Fatalf("expected seeded rate 7, got %d", row.RateLimit)
	}
}

func TestRedisStoreResetClearsRows(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)
	_ = s.Seed(ctx, "u", "r", 1)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "u", "r"); ok {
		t.Fatalf("expected row gone after reset")
	}
}
