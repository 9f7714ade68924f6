package broker

import "regexp"

// tokenQueryPattern implements spec.md §4.5's primary extraction rule: a
// query-string form "...[?&/]token=VALUE" terminated by '&' or end-of-string.
var tokenQueryPattern = regexp.MustCompile(`[?&/]token=([^&\s]+)`)

// tokenJSONPattern is the fallback: JSON form "token":"VALUE" with optional
// whitespace around the colon.
var tokenJSONPattern = regexp.MustCompile(`"token"\s*:\s*"([^"]+)"`)

// extractToken implements spec.md §4.5: "the Broker does not fully
// deserialize the response" — it locates the token field by pattern match,
// permissive enough to pull a token out of a mixed or partial body.
func extractToken(body string) (string, bool) {
	if m := tokenQueryPattern.FindStringSubmatch(body); m != nil {
		return m[1], true
	}
	if m := tokenJSONPattern.FindStringSubmatch(body); m != nil {
		return m[1], true
	}
	return "", false
}

// expiresInSecondsPattern locates an OAuth-style "expires_in": N field
// (seconds), used by the app-credential flow's token exchange responses.
var expiresInSecondsPattern = regexp.MustCompile(`"expires_in"\s*:\s*(\d+)`)

// expiresMinutesPattern locates an ArcGIS-style "expires": N field
// (minutes), used by the user-credential flow's generateToken responses.
var expiresMinutesPattern = regexp.MustCompile(`"expires"\s*:\s*(\d+)`)

func extractExpiresInSeconds(body string) (int64, bool) {
	if m := expiresInSecondsPattern.FindStringSubmatch(body); m != nil {
		return parseDigits(m[1]), true
	}
	return 0, false
}

func extractExpiresInMinutes(body string) (int64, bool) {
	if m := expiresMinutesPattern.FindStringSubmatch(body); m != nil {
		return parseDigits(m[1]), true
	}
	return 0, false
}

func parseDigits(s string) int64 {
	var n int64
	for _, r := range s {
		n = n*10 + int64(r-'0')
	}
	return n
}
