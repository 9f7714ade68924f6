package ratelimit

import (
	"context"
	"testing"
)

func TestMemoryStoreAdmitSequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
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
}

func TestMemoryStoreSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Seed(ctx, "u", "r", 5); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	row, _, _ := s.Get(ctx, "u", "r")
	id := row.ID
	if err := s.Seed(ctx, "u", "r", 5); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	row2, ok, _ := s.Get(ctx, "u", "r")
	if !ok || row2.ID != id {
		t.Fatalf("expected seed to be idempotent, got new row %+v", row2)
	}
}

func TestMemoryStoreResetClearsRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Seed(ctx, "u", "r", 5)
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "u", "r"); ok {
		t.Fatalf("expected row gone after reset")
	}
}

func TestMemoryStoreDistinctRowsPerReferrer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, admittedA, _ := s.Admit(ctx, "u", "alice", 1, 60, 0)
	_, admittedB, _ := s.Admit(ctx, "u", "bob", 1, 60, 0)
	if !admittedA || !admittedB {
		t.Fatalf("expected independent rows per referrer to both admit once")
	}
}
