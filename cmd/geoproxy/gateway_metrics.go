package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type latencyAggregate struct {
	Count uint64
	Sum   float64
}

// proxyMetrics is the hand-rolled Prometheus exposition counters for the
// dispatcher pipeline: rate-limiter admit/deny decisions, token acquisition
// outcomes, and upstream request/error/latency by Resource.
type proxyMetrics struct {
	mu sync.Mutex

	inFlightRequests uint64

	rateLimitDecisions map[string]uint64 // "<resourceID>|admit" / "|deny"
	tokenAcquisitions  map[string]uint64 // "<resourceID>|success" / "|failure"

	upstreamRequests map[string]uint64 // "<resourceID>|<outcome>"
	upstreamLatency  map[string]latencyAggregate
	upstreamErrors   map[string]uint64 // "<resourceID>"

	shutdownDrainStats map[string]latencyAggregate
}

var proxyMetricRegistry = newProxyMetrics()

func newProxyMetrics() *proxyMetrics {
	return &proxyMetrics{
		rateLimitDecisions: make(map[string]uint64, 16),
		tokenAcquisitions:  make(map[string]uint64, 16),
		upstreamRequests:   make(map[string]uint64, 16),
		upstreamLatency:    make(map[string]latencyAggregate, 16),
		upstreamErrors:     make(map[string]uint64, 16),
		shutdownDrainStats: make(map[string]latencyAggregate, 4),
	}
}

func (m *proxyMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlightRequests = 0
	m.rateLimitDecisions = map[string]uint64{}
	m.tokenAcquisitions = map[string]uint64{}
	m.upstreamRequests = map[string]uint64{}
	m.upstreamLatency = map[string]latencyAggregate{}
	m.upstreamErrors = map[string]uint64{}
	m.shutdownDrainStats = map[string]latencyAggregate{}
}

// RecordRateLimitDecision, RecordTokenAcquisition, ObserveUpstream, and
// RecordUpstreamError are exported so *proxyMetrics satisfies the
// dispatcher.RateLimitObserver, broker.TokenMetrics, and
// forwarder.UpstreamMetrics hook interfaces those packages accept.
func (m *proxyMetrics) RecordRateLimitDecision(resourceID string, admitted bool) {
	outcome := "deny"
	if admitted {
		outcome = "admit"
	}
	key := normalizeMetricLabel(resourceID, "unknown") + "|" + outcome

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitDecisions[key]++
}

func (m *proxyMetrics) RecordTokenAcquisition(resourceID string, succeeded bool) {
	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	key := normalizeMetricLabel(resourceID, "unknown") + "|" + outcome

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenAcquisitions[key]++
}

func (m *proxyMetrics) ObserveUpstream(resourceID string, outcome string, duration time.Duration) {
	id := normalizeMetricLabel(resourceID, "unknown")
	result := normalizeMetricLabel(outcome, "unknown")
	key := id + "|" + result

	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstreamRequests[key]++
	agg := m.upstreamLatency[key]
	agg.Count++
	agg.Sum += duration.Seconds()
	m.upstreamLatency[key] = agg
}

func (m *proxyMetrics) RecordUpstreamError(resourceID string) {
	id := normalizeMetricLabel(resourceID, "unknown")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstreamErrors[id]++
}

func (m *proxyMetrics) recordRequestStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlightRequests++
}

func (m *proxyMetrics) recordRequestFinish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlightRequests > 0 {
		m.inFlightRequests--
	}
}

func (m *proxyMetrics) recordShutdownDrain(outcome string, duration time.Duration) {
	result := normalizeMetricLabel(outcome, "unknown")
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := m.shutdownDrainStats[result]
	agg.Count++
	agg.Sum += duration.Seconds()
	m.shutdownDrainStats[result] = agg
}

func (m *proxyMetrics) renderPrometheus() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var builder strings.Builder
	writeMetricHeader(&builder, "geoproxy_requests_in_flight", "gauge", "Current number of in-flight proxy requests.")
	writeMetricHeader(&builder, "geoproxy_rate_limit_decisions_total", "counter", "Total rate limiter admit/deny decisions by resource.")
	writeMetricHeader(&builder, "geoproxy_token_acquisitions_total", "counter", "Total token broker acquisitions by resource and outcome.")
	writeMetricHeader(&builder, "geoproxy_upstream_requests_total", "counter", "Total upstream requests by resource/outcome.")
	writeMetricHeader(&builder, "geoproxy_upstream_latency_seconds", "summary", "Observed upstream latency by resource/outcome.")
	writeMetricHeader(&builder, "geoproxy_upstream_error_total", "counter", "Total upstream failures by resource.")
	writeMetricHeader(&builder, "geoproxy_shutdown_drain_total", "counter", "Total proxy graceful shutdown drain attempts by outcome.")
	writeMetricHeader(&builder, "geoproxy_shutdown_drain_seconds", "summary", "Observed graceful shutdown drain durations by outcome.")

	fmt.Fprintf(&builder, "geoproxy_requests_in_flight %d\n", m.inFlightRequests)

	for _, key := range sortedMapKeys(m.rateLimitDecisions) {
		resourceID, outcome := splitMetricKey(key)
		fmt.Fprintf(
			&builder,
			"geoproxy_rate_limit_decisions_total{resource=%q,outcome=%q} %d\n",
			escapePromLabel(resourceID),
			escapePromLabel(outcome),
			m.rateLimitDecisions[key],
		)
	}
	for _, key := range sortedMapKeys(m.tokenAcquisitions) {
		resourceID, outcome := splitMetricKey(key)
		fmt.Fprintf(
			&builder,
			"geoproxy_token_acquisitions_total{resource=%q,outcome=%q} %d\n",
			escapePromLabel(resourceID),
			escapePromLabel(outcome),
			m.tokenAcquisitions[key],
		)
	}

	for _, key := range sortedMapKeys(m.upstreamRequests) {
		resourceID, outcome := splitMetricKey(key)
		fmt.Fprintf(
			&builder,
			"geoproxy_upstream_requests_total{resource=%q,outcome=%q} %d\n",
			escapePromLabel(resourceID),
			escapePromLabel(outcome),
			m.upstreamRequests[key],
		)
	}
	for _, key := range sortedLatencyKeys(m.upstreamLatency) {
		resourceID, outcome := splitMetricKey(key)
		agg := m.upstreamLatency[key]
		fmt.Fprintf(
			&builder,
			"geoproxy_upstream_latency_seconds_count{resource=%q,outcome=%q} %d\n",
			escapePromLabel(resourceID),
			escapePromLabel(outcome),
			agg.Count,
		)
		fmt.Fprintf(
			&builder,
			"geoproxy_upstream_latency_seconds_sum{resource=%q,outcome=%q} %.6f\n",
			escapePromLabel(resourceID),
			escapePromLabel(outcome),
			agg.Sum,
		)
	}

	for _, resourceID := range sortedMapKeys(m.upstreamErrors) {
		fmt.Fprintf(
			&builder,
			"geoproxy_upstream_error_total{resource=%q} %d\n",
			escapePromLabel(resourceID),
			m.upstreamErrors[resourceID],
		)
	}

	for _, outcome := range sortedLatencyKeys(m.shutdownDrainStats) {
		agg := m.shutdownDrainStats[outcome]
		fmt.Fprintf(
			&builder,
			"geoproxy_shutdown_drain_total{outcome=%q} %d\n",
			escapePromLabel(outcome),
			agg.Count,
		)
		fmt.Fprintf(
			&builder,
			"geoproxy_shutdown_drain_seconds_count{outcome=%q} %d\n",
			escapePromLabel(outcome),
			agg.Count,
		)
		fmt.Fprintf(
			&builder,
			"geoproxy_shutdown_drain_seconds_sum{outcome=%q} %.6f\n",
			escapePromLabel(outcome),
			agg.Sum,
		)
	}

	return builder.String()
}

func writeMetricHeader(builder *strings.Builder, name string, metricType string, help string) {
	fmt.Fprintf(builder, "# HELP %s %s\n", name, help)
	fmt.Fprintf(builder, "# TYPE %s %s\n", name, metricType)
}

func escapePromLabel(value string) string {
	replaced := strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(replaced, `"`, `\"`)
}

func normalizeMetricLabel(value string, fallback string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return fallback
	}
	var builder strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}
	out := strings.Trim(builder.String(), "_")
	out = strings.ReplaceAll(out, "__", "_")
	if out == "" {
		return fallback
	}
	return out
}

func sortedMapKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedLatencyKeys(values map[string]latencyAggregate) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func splitMetricKey(key string) (string, string) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return key, "unknown"
	}
	return parts[0], parts[1]
}
