package ratelimit

import (
	"context"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreAdmitSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
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

func TestSQLiteStoreSeedThenAdmit(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	if err := s.Seed(ctx, "u", "r", 2); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 seeded row, got %d", len(all))
	}

	_, admitted, err := s.Admit(ctx, "u", "r", 2, 60, 0)
	if err != nil || !admitted {
		t.Fatalf("expected admit after seed, got admitted=%v err=%v", admitted, err)
	}
}

func TestSQLiteStoreResetClearsAllRows(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)
	_ = s.Seed(ctx, "a", "x", 1)
	_ = s.Seed(ctx, "b", "y", 1)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no rows after reset, got %d", len(all))
	}
}
