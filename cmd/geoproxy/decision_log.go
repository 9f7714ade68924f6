package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"geoproxy.local/geoproxy/internal/util"
)

var decisionLogRedactedKeyFragments = []string{
	"token",
	"secret",
	"password",
	"authorization",
	"cookie",
	"private",
	"client_secret",
	"static_token",
}

var decisionLogHashedKeyFragments = []string{
	"referrer",
	"clientid",
}

// logProxyDecisionIf logs one structured decision line when enabled. Mirrors
// spec.md §5's "structured, greppable log line per decision point" ambient
// requirement.
func logProxyDecisionIf(enabled bool, event string, fields map[string]any) {
	if !enabled {
		return
	}
	logProxyDecision(event, fields)
}

func logProxyDecision(event string, fields map[string]any) {
	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"component": "geoproxy",
		"kind":      "decision",
		"event":     strings.TrimSpace(event),
	}

	for key, value := range fields {
		normalizedKey := strings.TrimSpace(key)
		if normalizedKey == "" {
			continue
		}
		payload[normalizedKey] = sanitizeDecisionValue(normalizedKey, value)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		log.Printf("proxy decision log marshal failed event=%s err=%v", strings.TrimSpace(event), err)
		return
	}
	log.Print(string(encoded))
}

func sanitizeDecisionValue(key string, value any) any {
	return sanitizeDecisionValueDepth(key, value, 0)
}

func sanitizeDecisionValueDepth(key string, value any, depth int) any {
	if depth > 4 {
		return "[truncated]"
	}

	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for childKey, childValue := range typed {
			out[childKey] = sanitizeDecisionValueDepth(childKey, childValue, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(typed))
		for childKey, childValue := range typed {
			out[childKey] = sanitizeDecisionValueDepth(childKey, childValue, depth+1)
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, childValue := range typed {
			out = append(out, sanitizeDecisionValueDepth(key, childValue, depth+1))
		}
		return out
	case []string:
		out := make([]any, 0, len(typed))
		for _, childValue := range typed {
			out = append(out, sanitizeDecisionValueDepth(key, childValue, depth+1))
		}
		return out
	case string:
		return sanitizeDecisionString(key, typed)
	case bool:
		return typed
	case int:
		return typed
	case int64:
		return typed
	case uint64:
		return typed
	case float32:
		return typed
	case float64:
		return typed
	case time.Duration:
		return typed.Milliseconds()
	case error:
		return sanitizeDecisionString(key, typed.Error())
	case fmt.Stringer:
		return sanitizeDecisionString(key, typed.String())
	default:
		return sanitizeDecisionString(key, fmt.Sprintf("%v", value))
	}
}

func sanitizeDecisionString(key string, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalizedKey := strings.ToLower(strings.TrimSpace(key))

	if strings.Contains(normalizedKey, "ip") {
		return maskDecisionIP(trimmed)
	}
	if hasKeyFragment(normalizedKey, decisionLogRedactedKeyFragments) {
		return "[redacted]"
	}
	if hasKeyFragment(normalizedKey, decisionLogHashedKeyFragments) {
		return fingerprintDecisionValue(trimmed)
	}
	return util.CompactMessage(trimmed, 256)
}

func hasKeyFragment(key string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

func fingerprintDecisionValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "sha256:" + hex.EncodeToString(sum[:6])
}

func maskDecisionIP(raw string) string {
	host := strings.TrimSpace(raw)
	if parsedHost, _, err := net.SplitHostPort(host); err == nil {
		host = parsedHost
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fingerprintDecisionValue(raw)
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	masked := ip.Mask(net.CIDRMask(64, 128))
	return masked.String() + "/64"
}
