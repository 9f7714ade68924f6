package ratelimit

import "testing"

func TestApplyAdmissionSpecSequence(t *testing.T) {
	// spec.md §8 rate-cap scenario: rateLimit=3, rateLimitPeriod=1 (windowSeconds=20),
	// four sequential requests at t=0,1,2,3 yield admit, admit, admit, reject.
	windowSeconds := 60.0 / 3.0
	var row MeterRow
	wantAdmit := []bool{true, true, true, false}

	for i, want := range wantAdmit {
		now := float64(i)
		var admitted bool
		row, admitted = applyAdmission(row, 3, windowSeconds, now)
		if admitted != want {
			t.Fatalf("t=%d: admitted=%v, want %v (row=%+v)", i, admitted, want, row)
		}
	}
	if row.Rejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", row.Rejected)
	}
	if row.Total != 3 {
		t.Fatalf("expected 3 total admissions, got %d", row.Total)
	}
}

func TestApplyAdmissionResetsAfterWindowElapses(t *testing.T) {
	windowSeconds := 10.0
	row, admitted := applyAdmission(MeterRow{}, 1, windowSeconds, 0)
	if !admitted {
		t.Fatalf("expected first admission")
	}
	row, admitted = applyAdmission(row, 1, windowSeconds, 5)
	if admitted {
		t.Fatalf("expected rejection within window")
	}
	row, admitted = applyAdmission(row, 1, windowSeconds, 10)
	if !admitted {
		t.Fatalf("expected admission once window boundary reached")
	}
	if row.WindowStart != 10 {
		t.Fatalf("expected windowStart reset to 10, got %v", row.WindowStart)
	}
}

func TestNewRowIDUnique(t *testing.T) {
	a, b := NewRowID(), NewRowID()
	if a == "" || b == "" || a == b {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}
