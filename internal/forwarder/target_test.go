package forwarder

import (
	"testing"

	"geoproxy.local/geoproxy/internal/geourl"
	"geoproxy.local/geoproxy/internal/resource"
)

func TestBuildUpstreamURLHostRedirectWildcardPath(t *testing.T) {
	res := &resource.Resource{
		Pattern:      resource.URLPattern{Protocol: "https", Host: "maps.example.com", Path: "/arcgis"},
		HostRedirect: &resource.HostRedirect{Host: "internal.example.com", Path: "*"},
	}
	req := geourl.Tuple{Protocol: "https", Host: "maps.example.com", Path: "/arcgis/rest/services"}

	got := BuildUpstreamURL(res, req, "f=json")
	want := "https://internal.example.com/arcgis/rest/services?f=json"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildUpstreamURLHostRedirectFixedPath(t *testing.T) {
	res := &resource.Resource{
		Pattern:      resource.URLPattern{Protocol: "https", Host: "maps.example.com", Path: "/arcgis"},
		HostRedirect: &resource.HostRedirect{Host: "internal.example.com", Port: "6443", Path: "/fixed/path"},
	}
	req := geourl.Tuple{Protocol: "https", Host: "maps.example.com", Path: "/arcgis/rest/services"}

	got := BuildUpstreamURL(res, req, "")
	want := "https://internal.example.com:6443/fixed/path"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildUpstreamURLPrefixMatchAppendsTrailingPath(t *testing.T) {
	res := &resource.Resource{
		Pattern:  resource.URLPattern{Protocol: "https", Host: "maps.example.com", Path: "/arcgis"},
		MatchAll: false,
	}
	req := geourl.Tuple{Protocol: "https", Host: "maps.example.com", Path: "/arcgis/rest/services/World/MapServer"}

	got := BuildUpstreamURL(res, req, "")
	want := "https://maps.example.com/arcgis/rest/services/World/MapServer"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildUpstreamURLExactMatchKeepsResourcePath(t *testing.T) {
	res := &resource.Resource{
		Pattern:  resource.URLPattern{Protocol: "https", Host: "maps.example.com", Path: "/arcgis/exact"},
		MatchAll: true,
	}
	req := geourl.Tuple{Protocol: "https", Host: "maps.example.com", Path: "/arcgis/exact"}

	got := BuildUpstreamURL(res, req, "")
	want := "https://maps.example.com/arcgis/exact"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildUpstreamURLProtocolFallsBackToRequest(t *testing.T) {
	res := &resource.Resource{
		Pattern: resource.URLPattern{Protocol: "*", Host: "maps.example.com", Path: "/arcgis"},
	}
	req := geourl.Tuple{Protocol: "https", Host: "maps.example.com", Path: "/arcgis"}

	got := BuildUpstreamURL(res, req, "")
	want := "https://maps.example.com/arcgis"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
