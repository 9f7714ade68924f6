package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"geoproxy.local/geoproxy/config"
	"geoproxy.local/geoproxy/internal/broker"
	"geoproxy.local/geoproxy/internal/dispatcher"
	"geoproxy.local/geoproxy/internal/forwarder"
	"geoproxy.local/geoproxy/internal/ratelimit"
	"geoproxy.local/geoproxy/internal/referrerconfig"
	"geoproxy.local/geoproxy/internal/resource"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("failed to create data directory %q: %v", cfg.DataDir, err)
	}

	resourceStore, err := resource.NewStore(cfg.DataDir, cfg.MasterKey)
	if err != nil {
		log.Fatalf("failed to initialize resource store: %v", err)
	}
	defer func() {
		if err := resourceStore.Close(); err != nil {
			log.Printf("warning: failed to close resource store: %v", err)
		}
	}()

	resources, err := resourceStore.List()
	if err != nil {
		log.Fatalf("failed to load resources: %v", err)
	}
	table := resource.NewTable(resources)

	referrerStore := referrerconfig.NewStore(cfg.ReferrerPatternsFile)
	referrerPatterns, err := referrerStore.Load()
	if err != nil {
		log.Fatalf("failed to load referrer patterns: %v", err)
	}
	referrerKeys := make([]string, 0, len(referrerPatterns))
	for _, p := range referrerPatterns {
		referrerKeys = append(referrerKeys, p.Key)
	}

	meterStore, err := newMeterStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize rate limiter store: %v", err)
	}
	defer func() {
		if err := meterStore.Close(); err != nil {
			log.Printf("warning: failed to close rate limiter store: %v", err)
		}
	}()

	limiter := ratelimit.NewLimiter(meterStore)
	if err := reloadResources(resourceStore, table, limiter, referrerKeys); err != nil {
		log.Fatalf("failed to seed rate limiter rows: %v", err)
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	tokenBroker := broker.New(httpClient)
	fwd := forwarder.New(httpClient, tokenBroker)
	fwd.InspectionCap = cfg.InspectionCapBytes

	tokenBroker.Metrics = proxyMetricRegistry
	fwd.Metrics = proxyMetricRegistry

	d := dispatcher.New(table, limiter, fwd)
	d.ReferrerPatterns = referrerPatterns
	d.AcceptAnyReferrer = cfg.AcceptAnyReferrer
	d.MustMatch = cfg.MustMatch
	d.Metrics = proxyMetricRegistry
	d.Log = func(event string, fields map[string]any) {
		logProxyDecisionIf(true, event, fields)
	}

	mux := http.NewServeMux()
	registerHealthRoute(mux, cfg.AllowedOrigins)
	registerReadinessRoute(mux, resourceStore, limiter, cfg.AllowedOrigins)
	registerMetricsRoute(mux, cfg.AllowedOrigins)
	registerResourceAdminRoutes(mux, resourceStore, table, limiter, referrerKeys, cfg.AllowedOrigins)

	startedAt := time.Now()
	registerProxyRoutes(mux, d, cfg, startedAt)

	if strings.TrimSpace(cfg.StaticDir) != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	handler := withRequestID(mux)
	if cfg.AdminToken != "" {
		handler = withAdminTokenRequired(cfg.AdminToken, handler)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Printf("geoproxy listening on %s", cfg.Addr)
	log.Printf(
		"meter_backend=%s accept_any_referrer=%t must_match=%t listen_prefixes=%s data_dir=%s",
		cfg.MeterBackend, cfg.AcceptAnyReferrer, cfg.MustMatch, strings.Join(cfg.ListenPrefixes, ","), cfg.DataDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLSCertFile != "" {
			serveErr <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			serveErr <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		stop()
		log.Printf("shutdown signal received, draining connections")
		drainStart := time.Now()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			proxyMetricRegistry.recordShutdownDrain("error", time.Since(drainStart))
			log.Fatalf("graceful shutdown failed: %v", err)
		}
		proxyMetricRegistry.recordShutdownDrain("clean", time.Since(drainStart))
	}
}

func newMeterStore(cfg config.Config) (ratelimit.Store, error) {
	switch cfg.MeterBackend {
	case config.MeterBackendSQLite:
		return ratelimit.NewSQLiteStore(cfg.SQLitePath)
	case config.MeterBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ratelimit.NewRedisStore(client), nil
	default:
		return ratelimit.NewMemoryStore(), nil
	}
}

func withAdminTokenRequired(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/admin/") {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		expected := "Bearer " + token
		if header == "" || header != expected {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
