package forwarder

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"regexp"
	"strconv"
)

// DefaultInspectionCap is the default bounded prefix size the Forwarder
// tees for auth-failure inspection (spec.md §4.4: "a configured cap,
// default 64 KiB").
const DefaultInspectionCap = 64 * 1024

// authFailureCodes are the upstream error codes that trigger an invalidate
// + single retry (spec.md §4.4).
var authFailureCodes = map[int]bool{403: true, 498: true, 499: true}

// errorCodePattern locates {"error":{"code":N,...}} permissively, matching
// the Broker's own token-extraction style rather than a full JSON parse —
// the prefix may be truncated or compressed-then-truncated.
var errorCodePattern = regexp.MustCompile(`"error"\s*:\s*\{\s*"code"\s*:\s*(\d+)`)

// wmsContentType is the single MIME-type substring rewritten before the
// response header reaches the client (spec.md §4.4).
const (
	wmsContentType  = "application/vnd.ogc.wms_xml"
	wmsReplacement  = "text/xml"
)

// RewriteContentType implements spec.md §4.4's content-type rewrite.
func RewriteContentType(value string) string {
	if value == "" {
		return value
	}
	return replaceSubstring(value, wmsContentType, wmsReplacement)
}

func replaceSubstring(s, old, new string) string {
	if idx := indexOf(s, old); idx >= 0 {
		return s[:idx] + new + s[idx+len(old):]
	}
	return s
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// DetectAuthFailureCode inspects a (possibly compressed) response body
// prefix and returns the upstream error code it finds (0 if none), with
// isAuthFailure reporting whether that code is 403, 498, or 499.
func DetectAuthFailureCode(prefix []byte, contentEncoding string) (code int, isAuthFailure bool) {
	decoded := decodePrefix(prefix, contentEncoding)
	m := errorCodePattern.FindSubmatch(decoded)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return n, authFailureCodes[n]
}

func decodePrefix(prefix []byte, contentEncoding string) []byte {
	switch contentEncoding {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(prefix))
		if err != nil {
			return prefix
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, DefaultInspectionCap))
		if err != nil && len(out) == 0 {
			return prefix
		}
		return out
	case "deflate":
		r := flate.NewReader(bytes.NewReader(prefix))
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, DefaultInspectionCap))
		if err != nil && len(out) == 0 {
			return prefix
		}
		return out
	default:
		return prefix
	}
}
