package geourl

import "strings"

// Pattern is the subset of a configured Resource's URL pattern the matcher
// needs (spec.md §4.2). Kept independent of the resource package to avoid an
// import cycle; callers adapt their own Resource type into a Pattern slice.
type Pattern struct {
	Protocol string
	Host     string
	Path     string
	MatchAll bool
}

// Match implements spec.md §4.2: the first Pattern in order satisfying all of
// host, protocol, and path match wins. Port is deliberately excluded from
// matching — see spec.md §9 ("Port is parsed but not part of matching"),
// preserved here rather than silently fixed.
func Match(req Tuple, patterns []Pattern) (index int, ok bool) {
	for i, p := range patterns {
		if !protocolMatch(req.Protocol, p.Protocol) {
			continue
		}
		if !hostMatch(req.Host, p.Host) {
			continue
		}
		if !pathMatch(req.Path, p.Path, p.MatchAll) {
			continue
		}
		return i, true
	}
	return -1, false
}

func protocolMatch(reqProtocol, patternProtocol string) bool {
	return patternProtocol == wildcard || reqProtocol == wildcard || strings.EqualFold(reqProtocol, patternProtocol)
}

// hostMatch implements the §4.2 host-segment rule: split both hosts on '.',
// require equal segment count, and allow '*' per segment. A pattern host of
// exactly "*" is a fast path matching any host at all (mirroring the
// Referrer Validator's "*" sentinel in §4.3) — without it the segment-count
// check below would reject "*" against any request host with more than one
// label, even though a bare "*" means "match everything".
func hostMatch(reqHost, patternHost string) bool {
	if patternHost == wildcard {
		return true
	}
	reqSegments := strings.Split(reqHost, ".")
	patternSegments := strings.Split(patternHost, ".")
	if len(reqSegments) != len(patternSegments) {
		return false
	}
	for i, segment := range patternSegments {
		if segment == wildcard {
			continue
		}
		if !strings.EqualFold(reqSegments[i], segment) {
			return false
		}
	}
	return true
}

// pathMatch implements §4.2: matchAll requires exact equality (or pattern
// "*"); otherwise the pattern path must be a case-insensitive prefix of the
// request path (or pattern "*").
func pathMatch(reqPath, patternPath string, matchAll bool) bool {
	if patternPath == wildcard {
		return true
	}
	if matchAll {
		return reqPath == patternPath
	}
	return strings.HasPrefix(strings.ToLower(reqPath), strings.ToLower(patternPath))
}
