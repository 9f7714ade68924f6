// Package config loads the geoproxy runtime configuration from the process
// environment. Grounded on the corpus's getEnv/getEnvBool/getEnvInt helper
// style for environment-variable configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	MeterBackendMemory = "memory"
	MeterBackendSQLite = "sqlite"
	MeterBackendRedis  = "redis"
)

type Config struct {
	Addr    string
	DataDir string

	// MasterKey seals Resource credentials at rest (resource.Store).
	MasterKey string

	// ReferrerPatternsFile is a JSON file of allow-listed referrer patterns,
	// loaded once at startup.
	ReferrerPatternsFile string

	MeterBackend string // memory | sqlite | redis
	SQLitePath   string
	RedisAddr    string

	PingPath       string
	StatusPath     string
	ListenPrefixes []string
	StaticDir      string

	AcceptAnyReferrer bool
	MustMatch         bool

	InspectionCapBytes int
	UpstreamTimeout    time.Duration
	ShutdownTimeout    time.Duration

	AllowedOrigins map[string]struct{}
	AdminToken     string

	TLSCertFile string
	TLSKeyFile  string

	Version string
}

func Load() (Config, error) {
	cfg := Config{
		Addr:                 getEnv("GEOPROXY_ADDR", ":8197"),
		DataDir:              getEnv("GEOPROXY_DATA_DIR", defaultDataDir()),
		MasterKey:            getEnv("GEOPROXY_MASTER_KEY", ""),
		ReferrerPatternsFile: getEnv("GEOPROXY_REFERRER_PATTERNS_FILE", ""),
		MeterBackend:         strings.ToLower(getEnv("GEOPROXY_METER_BACKEND", MeterBackendMemory)),
		SQLitePath:           getEnv("GEOPROXY_METER_SQLITE_PATH", ""),
		RedisAddr:            getEnv("GEOPROXY_METER_REDIS_ADDR", ""),
		PingPath:             getEnv("GEOPROXY_PING_PATH", "/ping"),
		StatusPath:           getEnv("GEOPROXY_STATUS_PATH", "/status"),
		ListenPrefixes:       splitCSV(getEnv("GEOPROXY_LISTEN_PREFIXES", "/proxy")),
		StaticDir:            getEnv("GEOPROXY_STATIC_DIR", ""),
		AdminToken:           getEnv("GEOPROXY_ADMIN_TOKEN", ""),
		TLSCertFile:          getEnv("GEOPROXY_TLS_CERT_FILE", ""),
		TLSKeyFile:           getEnv("GEOPROXY_TLS_KEY_FILE", ""),
		Version:              "0.1.5",
		InspectionCapBytes:   64 * 1024,
		UpstreamTimeout:      30 * time.Second,
		ShutdownTimeout:      15 * time.Second,
	}

	if cfg.MasterKey == "" {
		return Config{}, fmt.Errorf("GEOPROXY_MASTER_KEY is required")
	}
	if cfg.ReferrerPatternsFile == "" {
		cfg.ReferrerPatternsFile = cfg.DataDir + "/referrer-patterns.json"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = cfg.DataDir + "/meter.db"
	}

	switch cfg.MeterBackend {
	case MeterBackendMemory, MeterBackendSQLite, MeterBackendRedis:
	default:
		return Config{}, fmt.Errorf("invalid GEOPROXY_METER_BACKEND value %q: expected memory|sqlite|redis", cfg.MeterBackend)
	}
	if cfg.MeterBackend == MeterBackendRedis && strings.TrimSpace(cfg.RedisAddr) == "" {
		return Config{}, fmt.Errorf("GEOPROXY_METER_REDIS_ADDR is required when GEOPROXY_METER_BACKEND=redis")
	}

	if value, err := getEnvBool("GEOPROXY_ACCEPT_ANY_REFERRER", false); err != nil {
		return Config{}, err
	} else {
		cfg.AcceptAnyReferrer = value
	}
	if value, err := getEnvBool("GEOPROXY_MUST_MATCH", false); err != nil {
		return Config{}, err
	} else {
		cfg.MustMatch = value
	}

	if value, err := getEnvInt("GEOPROXY_INSPECTION_CAP_BYTES", cfg.InspectionCapBytes); err != nil {
		return Config{}, err
	} else {
		cfg.InspectionCapBytes = value
	}
	if seconds, err := getEnvInt("GEOPROXY_UPSTREAM_TIMEOUT_SECONDS", int(cfg.UpstreamTimeout/time.Second)); err != nil {
		return Config{}, err
	} else {
		cfg.UpstreamTimeout = time.Duration(seconds) * time.Second
	}
	if seconds, err := getEnvInt("GEOPROXY_SHUTDOWN_TIMEOUT_SECONDS", int(cfg.ShutdownTimeout/time.Second)); err != nil {
		return Config{}, err
	} else {
		cfg.ShutdownTimeout = time.Duration(seconds) * time.Second
	}

	if origins, err := parseAllowedOrigins(getEnv("GEOPROXY_ALLOWED_ORIGINS", "")); err != nil {
		return Config{}, err
	} else {
		cfg.AllowedOrigins = origins
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("GEOPROXY_TLS_CERT_FILE and GEOPROXY_TLS_KEY_FILE must both be set or both be empty")
	}

	return cfg, nil
}

func defaultDataDir() string {
	if xdgDataHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgDataHome != "" {
		return xdgDataHome + "/geoproxy"
	}
	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		return homeDir + "/.local/share/geoproxy"
	}
	return "./geoproxy-data"
}

func getEnv(name, defaultValue string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s value %q: expected true|false", name, raw)
	}
}

func getEnvInt(name string, defaultValue int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, raw, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be > 0", name, value)
	}
	return value, nil
}

func splitCSV(raw string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

func parseCSVSet(raw string) map[string]struct{} {
	out := map[string]struct{}{}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out
	}
	for _, part := range strings.Split(trimmed, ",") {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out[value] = struct{}{}
	}
	return out
}

func parseAllowedOrigins(raw string) (map[string]struct{}, error) {
	out := parseCSVSet(raw)
	for origin := range out {
		parsed, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid GEOPROXY_ALLOWED_ORIGINS entry %q: %w", origin, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("invalid GEOPROXY_ALLOWED_ORIGINS entry %q: expected http or https origin", origin)
		}
		if parsed.Host == "" || parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
			return nil, fmt.Errorf("invalid GEOPROXY_ALLOWED_ORIGINS entry %q: expected origin format scheme://host[:port]", origin)
		}
	}
	return out, nil
}
