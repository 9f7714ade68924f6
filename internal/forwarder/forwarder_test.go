package forwarder

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"geoproxy.local/geoproxy/internal/broker"
	"geoproxy.local/geoproxy/internal/geourl"
	"geoproxy.local/geoproxy/internal/resource"
)

func tupleFor(t *testing.T, rawURL string) geourl.Tuple {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return geourl.Tuple{
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Path:     u.Path,
		Query:    u.RawQuery,
	}
}

func TestForwardNoCredentialStreamsThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	res := &resource.Resource{
		ID:      "r1",
		Pattern: resource.URLPattern{Protocol: "http", Host: tupleFor(t, upstream.URL).Host, Port: tupleFor(t, upstream.URL).Port, Path: "/"},
	}

	f := New(upstream.Client(), broker.New(nil))

	inbound := httptest.NewRequest(http.MethodGet, "/proxy/http/example.com/", nil)
	rec := httptest.NewRecorder()

	req := tupleFor(t, upstream.URL+"/")
	err := f.Forward(inbound.Context(), rec, inbound, res, req, "example.com")
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"ok":true}` {
		t.Fatalf("got body %q", got)
	}
}

func TestForwardCredentialBearingInjectsTokenAndRetriesOnAuthFailure(t *testing.T) {
	var upstreamCalls atomic.Int32
	var tokenCalls atomic.Int32

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := upstreamCalls.Add(1)
		q := r.URL.Query()
		if n == 1 {
			// first call: stale token in cache rejected by upstream
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error":{"code":498,"message":"Invalid Token"}}`))
			return
		}
		if q.Get("token") == "" {
			t.Errorf("expected token query param on retry")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer upstream.Close()

	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		switch {
		case strings.Contains(r.URL.Path, "/oauth2/token"):
			_, _ = w.Write([]byte(`{"token":"portal-tok","expires_in":3600}`))
		case strings.Contains(r.URL.Path, "/generateToken"):
			_, _ = w.Write([]byte(`{"token":"server-tok","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer portal.Close()

	ut := tupleFor(t, upstream.URL)
	res := &resource.Resource{
		ID:             "r2",
		Pattern:        resource.URLPattern{Protocol: "http", Host: ut.Host, Port: ut.Port, Path: "/"},
		OAuth2Endpoint: portal.URL + "/oauth2",
		Credentials: resource.Credentials{
			Mode:         resource.CredentialApp,
			ClientID:     "cid",
			ClientSecret: "csecret",
		},
	}
	res.SetToken(&resource.TokenCacheEntry{Value: "stale", ExpiresAt: time.Now().Add(time.Hour)})

	f := New(&http.Client{}, broker.New(&http.Client{}))

	inbound := httptest.NewRequest(http.MethodGet, "/proxy/http/example.com/", nil)
	rec := httptest.NewRecorder()

	req := tupleFor(t, upstream.URL+"/")
	err := f.Forward(inbound.Context(), rec, inbound, res, req, "example.com")
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %q", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"features":[]}` {
		t.Fatalf("got body %q", got)
	}
	if upstreamCalls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d upstream calls", upstreamCalls.Load())
	}
	if tokenCalls.Load() != 2 {
		t.Fatalf("expected broker to mint a fresh app token once (2 round trips), got %d", tokenCalls.Load())
	}
}

func TestForwardStaticTokenResourceIsNotInspectedOrRetried(t *testing.T) {
	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"code":499,"message":"Token Required"}}`))
	}))
	defer upstream.Close()

	ut := tupleFor(t, upstream.URL)
	res := &resource.Resource{
		ID:      "r3",
		Pattern: resource.URLPattern{Protocol: "http", Host: ut.Host, Port: ut.Port, Path: "/"},
		Credentials: resource.Credentials{
			Mode:        resource.CredentialStaticToken,
			StaticToken: "static-tok",
		},
	}

	f := New(upstream.Client(), broker.New(nil))

	inbound := httptest.NewRequest(http.MethodGet, "/proxy/http/example.com/", nil)
	rec := httptest.NewRecorder()

	req := tupleFor(t, upstream.URL+"/")
	err := f.Forward(inbound.Context(), rec, inbound, res, req, "example.com")
	if err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}
	if upstreamCalls.Load() != 1 {
		t.Fatalf("static-token resources aren't credential-bearing, so the Forwarder never inspects the response; want 1 call, got %d", upstreamCalls.Load())
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":499`) {
		t.Fatalf("expected the unretried auth-failure body to reach the client, got %q", rec.Body.String())
	}
}
