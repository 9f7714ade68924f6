package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"geoproxy.local/geoproxy/config"
	"geoproxy.local/geoproxy/internal/dispatcher"
	"geoproxy.local/geoproxy/internal/ratelimit"
	"geoproxy.local/geoproxy/internal/resource"
)

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// createResourceInput is the admin API's wire shape for registering a new
// Resource. It mirrors resource.Resource's public fields one-for-one.
type createResourceInput struct {
	ID             string               `json:"id"`
	Pattern        resource.URLPattern  `json:"pattern"`
	MatchAll       bool                 `json:"matchAll"`
	HostRedirect   *resource.HostRedirect `json:"hostRedirect,omitempty"`
	Credentials    resource.Credentials `json:"credentials"`
	OAuth2Endpoint string               `json:"oauth2Endpoint,omitempty"`
	TokenParamName string               `json:"tokenParamName,omitempty"`
	RateCap        resource.RateCap     `json:"rateCap"`
}

func (in createResourceInput) toResource() *resource.Resource {
	return &resource.Resource{
		ID:             strings.TrimSpace(in.ID),
		Pattern:        in.Pattern,
		MatchAll:       in.MatchAll,
		HostRedirect:   in.HostRedirect,
		Credentials:    in.Credentials,
		OAuth2Endpoint: in.OAuth2Endpoint,
		TokenParamName: in.TokenParamName,
		RateCap:        in.RateCap,
	}
}

// reloadResources re-reads every Resource from durable storage into the
// live Table and repopulates the Rate Limiter's rows, per spec.md §4.6:
// "if the Resource table changes, all rows are dropped and repopulated."
func reloadResources(store *resource.Store, table *resource.Table, limiter *ratelimit.Limiter, referrerKeys []string) error {
	resources, err := store.List()
	if err != nil {
		return err
	}
	table.Reload(resources)

	urls := make([]string, 0, len(resources))
	rateByURL := make(map[string]int64, len(resources))
	for _, res := range resources {
		if !res.RateCap.Enabled() {
			continue
		}
		url := res.CanonicalURL()
		urls = append(urls, url)
		rateByURL[url] = int64(res.RateCap.RateLimit)
	}
	return limiter.Refresh(context.Background(), urls, referrerKeys, rateByURL)
}

func registerHealthRoute(mux *http.ServeMux, allowedOrigins map[string]struct{}) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, r, allowedOrigins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
}

// registerReadinessRoute reports whether the Resource store and the Rate
// Limiter's backing store are both reachable, unlike /health which is a
// plain liveness probe with no dependency checks.
func registerReadinessRoute(mux *http.ServeMux, store *resource.Store, limiter *ratelimit.Limiter, allowedOrigins map[string]struct{}) {
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, r, allowedOrigins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}

		if _, err := store.List(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "resource store unreachable: " + err.Error()})
			return
		}
		if _, err := limiter.All(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rate limiter store unreachable: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
}

func registerMetricsRoute(mux *http.ServeMux, allowedOrigins map[string]struct{}) {
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, r, allowedOrigins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(proxyMetricRegistry.renderPrometheus()))
	})
}

func registerProxyRoutes(mux *http.ServeMux, d *dispatcher.Dispatcher, cfg config.Config, startedAt time.Time) {
	mux.HandleFunc(cfg.PingPath, withRequestTimeout(cfg.UpstreamTimeout, d.Ping(cfg.Version)))
	mux.HandleFunc(cfg.StatusPath, withRequestTimeout(cfg.UpstreamTimeout, d.StatusPage(cfg.Version, startedAt)))

	for _, prefix := range cfg.ListenPrefixes {
		prefix := strings.TrimSuffix(prefix, "/")
		mux.HandleFunc(prefix+"/", withRequestTimeout(cfg.UpstreamTimeout, func(w http.ResponseWriter, r *http.Request) {
			tail := strings.TrimPrefix(r.URL.Path, prefix+"/")
			if r.URL.RawQuery != "" {
				tail += "?" + r.URL.RawQuery
			}
			proxyMetricRegistry.recordRequestStart()
			defer proxyMetricRegistry.recordRequestFinish()
			d.Proxy(w, r, tail)
		}))
	}
}

// registerResourceAdminRoutes wires the admin API for Resource CRUD,
// grounded on the corpus's /api/admin/connections pattern: a collection
// route for list/create and a per-ID route for get/update/delete, each
// followed by a full Table+Limiter reload so dispatch sees the change
// immediately.
func registerResourceAdminRoutes(mux *http.ServeMux, store *resource.Store, table *resource.Table, limiter *ratelimit.Limiter, referrerKeys []string, allowedOrigins map[string]struct{}) {
	mux.HandleFunc("/api/admin/resources", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, r, allowedOrigins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		switch r.Method {
		case http.MethodGet:
			resources, err := store.List()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list resources"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
		case http.MethodPost:
			var input createResourceInput
			if err := readJSONBody(r, &input, 1<<20); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			res := input.toResource()
			if err := res.Validate(); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			if err := store.Put(res); err != nil {
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
				return
			}
			if err := reloadResources(store, table, limiter, referrerKeys); err != nil {
				log.Printf("warning: failed to reload resources after create: %v", err)
			}
			writeJSON(w, http.StatusCreated, res)
		default:
			writeMethodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/admin/resources/", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, r, allowedOrigins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/admin/resources/"))
		if id == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "resource id is required"})
			return
		}

		switch r.Method {
		case http.MethodGet:
			res, err := store.Get(id)
			if err != nil {
				writeResourceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		case http.MethodPut:
			var input createResourceInput
			if err := readJSONBody(r, &input, 1<<20); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			input.ID = id
			res := input.toResource()
			if err := res.Validate(); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			if err := store.Put(res); err != nil {
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
				return
			}
			if err := reloadResources(store, table, limiter, referrerKeys); err != nil {
				log.Printf("warning: failed to reload resources after update: %v", err)
			}
			writeJSON(w, http.StatusOK, res)
		case http.MethodDelete:
			if err := store.Delete(id); err != nil {
				writeResourceError(w, err)
				return
			}
			if err := reloadResources(store, table, limiter, referrerKeys); err != nil {
				log.Printf("warning: failed to reload resources after delete: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w)
		}
	})
}

func writeResourceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, resource.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}
