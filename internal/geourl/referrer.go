package geourl

// ReferrerPattern is a normalized allow-list entry (spec.md §3). Key is the
// canonical string used to index Rate Limiter meter rows, so the same
// physical (resource, caller-class) pair always indexes the same row.
type ReferrerPattern struct {
	Protocol string
	Host     string
	Path     string
	MatchAll bool
	Key      string
}

// AllWildcardsKey is the sentinel allow-list entry (spec.md §4.3) that
// enables the "accept any referrer" fast path.
const AllWildcardsKey = "*"

// ValidateReferrer implements spec.md §4.3. If acceptAny is set the fast
// path applies unconditionally and every non-empty referrer maps to the
// sentinel key "*". Otherwise the referrer is normalized via Parse and
// compared against each pattern in order; the first match's Key is
// returned.
func ValidateReferrer(referrerRaw string, patterns []ReferrerPattern, acceptAny bool) (key string, ok bool) {
	if acceptAny {
		return AllWildcardsKey, true
	}

	referrer, err := Parse(referrerRaw)
	if err != nil {
		return "", false
	}

	for _, p := range patterns {
		if !protocolMatch(referrer.Protocol, p.Protocol) {
			continue
		}
		if !hostMatch(referrer.Host, p.Host) {
			continue
		}
		if !pathMatch(referrer.Path, p.Path, p.MatchAll) {
			continue
		}
		return p.Key, true
	}
	return "", false
}
