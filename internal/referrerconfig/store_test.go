package referrerconfig

import (
	"path/filepath"
	"testing"
)

func TestLoadCreatesEmptyDocumentWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "referrer-patterns.json")
	store := NewStore(path)

	patterns, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns, got %v", patterns)
	}

	patterns2, err := store.Load()
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(patterns2) != 0 {
		t.Fatalf("expected no patterns on reload, got %v", patterns2)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "referrer-patterns.json")
	store := NewStore(path)

	doc := Document{
		Version: "v1",
		Referrers: []Entry{
			{Protocol: "https", Host: "app.example.org", Path: "*", Key: "app"},
			{Protocol: "*", Host: "*.example.net", Path: "*", MatchAll: true, Key: "partners"},
		},
	}
	if err := store.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	patterns, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}
	if patterns[0].Key != "app" || patterns[1].Key != "partners" {
		t.Fatalf("got patterns %+v", patterns)
	}
	if !patterns[1].MatchAll {
		t.Fatalf("expected second pattern to preserve matchAll=true")
	}
}

func TestLoadRejectsMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "referrer-patterns.json")
	store := NewStore(path)

	doc := Document{Version: "v1", Referrers: []Entry{{Protocol: "https", Host: "app.example.org"}}}
	if err := store.Save(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Load(); err == nil {
		t.Fatal("expected missing key to fail load")
	}
}
