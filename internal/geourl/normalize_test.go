package geourl

import "testing"

func TestParseStandardURL(t *testing.T) {
	tuple, err := Parse("http://tiles.example.com/ArcGIS/rest/services/World/MapServer?f=pjson")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tuple.Protocol != "http" || tuple.Host != "tiles.example.com" || tuple.Port != "*" {
		t.Fatalf("unexpected tuple: %+v", tuple)
	}
	if tuple.Path != "/ArcGIS/rest/services/World/MapServer" {
		t.Fatalf("unexpected path: %q", tuple.Path)
	}
	if tuple.Query != "f=pjson" {
		t.Fatalf("unexpected query: %q", tuple.Query)
	}
}

func TestParseTailSchemeEncodings(t *testing.T) {
	tests := []struct {
		name     string
		tail     string
		protocol string
		host     string
		path     string
	}{
		{"bare", "tiles.example.com/World/MapServer", "*", "tiles.example.com", "/World/MapServer"},
		{"http prefix", "http/tiles.example.com/World/MapServer", "http", "tiles.example.com", "/World/MapServer"},
		{"https prefix", "https/tiles.example.com/World/MapServer", "https", "tiles.example.com", "/World/MapServer"},
		{"wildcard prefix", "*/tiles.example.com/World/MapServer", "*", "tiles.example.com", "/World/MapServer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuple, err := Parse(tt.tail)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if tuple.Protocol != tt.protocol {
				t.Fatalf("protocol: got %q want %q", tuple.Protocol, tt.protocol)
			}
			if tuple.Host != tt.host {
				t.Fatalf("host: got %q want %q", tuple.Host, tt.host)
			}
			if tuple.Path != tt.path {
				t.Fatalf("path: got %q want %q", tuple.Path, tt.path)
			}
		})
	}
}

func TestParsePromotesFirstSegmentToHost(t *testing.T) {
	tuple, err := Parse("tiles.example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tuple.Host != "tiles.example.com" {
		t.Fatalf("expected promoted host, got %q", tuple.Host)
	}
	if tuple.Path != "*" {
		t.Fatalf("expected wildcard path, got %q", tuple.Path)
	}
}

func TestParseEmptyDefaultsToWildcards(t *testing.T) {
	tuple, err := Parse("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tuple.Protocol != "*" || tuple.Host != "*" || tuple.Port != "*" || tuple.Path != "*" {
		t.Fatalf("unexpected tuple: %+v", tuple)
	}
}

func TestParsePortFromTail(t *testing.T) {
	tuple, err := Parse("tiles.example.com:8080/World/MapServer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tuple.Host != "tiles.example.com" || tuple.Port != "8080" {
		t.Fatalf("unexpected tuple: %+v", tuple)
	}
}

func TestTupleString(t *testing.T) {
	tuple := Tuple{Protocol: "http", Host: "tiles.example.com", Port: "*", Path: "/World/MapServer", Query: "f=pjson"}
	got := tuple.String()
	want := "http://tiles.example.com/World/MapServer?f=pjson"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
