// Package geourl implements the URL Normalizer, Resource Matcher, and
// Referrer Validator of spec.md §4.1–4.3: it collapses every textual
// representation the proxy accepts (standard URLs, proxy-addressed tail
// paths, and referrer strings) into one fixed-shape Tuple so the rest of the
// pipeline never reparses text.
package geourl

import (
	"net/url"
	"strconv"
	"strings"
)

// Tuple is the normalized (protocol, host, port, path, query) shape every
// input flavor is reduced to. A missing protocol, host, port or path is
// represented as "*"; a missing query is the empty string.
type Tuple struct {
	Protocol string
	Host     string
	Port     string
	Path     string
	Query    string
}

const wildcard = "*"

var tailSchemePrefixes = []string{"https/", "http/", "*/"}

// Parse normalizes a single textual input — a standard "scheme://host[:port]/path?query"
// URL, a bare or scheme-prefixed tail ("host/path", "http/host/path",
// "https/host/path", "*/host/path"), or a referrer string with optional
// wildcards ("*.example.com/*") — into a Tuple.
func Parse(raw string) (Tuple, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Tuple{Protocol: wildcard, Host: wildcard, Port: wildcard, Path: wildcard}, nil
	}

	if idx := strings.Index(raw, "://"); idx > 0 && isLikelyScheme(raw[:idx]) {
		return parseStandardURL(raw)
	}

	return parseTail(raw)
}

func isLikelyScheme(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}

func parseStandardURL(raw string) (Tuple, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Tuple{}, err
	}

	protocol := strings.TrimSuffix(u.Scheme, ":")
	host := u.Hostname()
	port := u.Port()
	path := u.Path

	if host == "" && path != "" {
		host, path = promoteFirstSegment(path)
	}

	return Tuple{
		Protocol: defaultWildcard(protocol),
		Host:     defaultWildcard(host),
		Port:     defaultWildcard(port),
		Path:     defaultWildcard(path),
		Query:    u.RawQuery,
	}, nil
}

// parseTail handles the legacy proxy-addressed tail convention: the proxy
// route handler has already stripped the listen prefix and the '/' after
// it (a single leading '/' is also dropped here), leaving an optional
// scheme-as-path-segment
// ("http/", "https/", "*/") followed by host[:port]/path[?query].
func parseTail(raw string) (Tuple, error) {
	rest := strings.TrimPrefix(raw, "/")

	protocol := wildcard
	for _, prefix := range tailSchemePrefixes {
		if strings.HasPrefix(rest, prefix) {
			protocol = strings.TrimSuffix(prefix, "/")
			rest = rest[len(prefix):]
			break
		}
	}

	query := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}

	host, path := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}

	if host == "" && path != "" {
		host, path = promoteFirstSegment(path)
	}

	port := wildcard
	if ci := strings.LastIndex(host, ":"); ci >= 0 {
		if candidate := host[ci+1:]; isAllDigits(candidate) {
			port = candidate
			host = host[:ci]
		}
	}

	return Tuple{
		Protocol: defaultWildcard(protocol),
		Host:     defaultWildcard(host),
		Port:     defaultWildcard(port),
		Path:     defaultWildcard(path),
		Query:    query,
	}, nil
}

// promoteFirstSegment implements spec.md §4.1's promotion rule: "If the
// parser yields an empty host but a non-empty path, the first path segment
// is promoted to the host and the remainder becomes the path."
func promoteFirstSegment(path string) (host string, remainder string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", path
	}
	parts := strings.SplitN(trimmed, "/", 2)
	host = parts[0]
	if len(parts) == 2 && parts[1] != "" {
		remainder = "/" + parts[1]
	}
	return host, remainder
}

func defaultWildcard(s string) string {
	if strings.TrimSpace(s) == "" {
		return wildcard
	}
	return s
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// String renders the tuple back into a standard URL, used by the Forwarder
// when composing the upstream request target.
func (t Tuple) String() string {
	var b strings.Builder
	protocol := t.Protocol
	if protocol == wildcard || protocol == "" {
		protocol = "http"
	}
	b.WriteString(protocol)
	b.WriteString("://")
	b.WriteString(t.Host)
	if t.Port != wildcard && t.Port != "" {
		b.WriteByte(':')
		b.WriteString(t.Port)
	}
	if t.Path == wildcard || t.Path == "" {
		b.WriteByte('/')
	} else if !strings.HasPrefix(t.Path, "/") {
		b.WriteByte('/')
		b.WriteString(t.Path)
	} else {
		b.WriteString(t.Path)
	}
	if t.Query != "" {
		b.WriteByte('?')
		b.WriteString(t.Query)
	}
	return b.String()
}
