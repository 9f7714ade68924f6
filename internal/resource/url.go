package resource

import "geoproxy.local/geoproxy/internal/geourl"

// CanonicalURL renders the Resource's configured pattern back into the URL
// string used as the Rate Limiter's resource-url key and as the basis for
// Token Broker endpoint derivation (spec.md §4.5, §4.6).
func (r *Resource) CanonicalURL() string {
	t := geourl.Tuple{
		Protocol: r.Pattern.Protocol,
		Host:     r.Pattern.Host,
		Port:     r.Pattern.Port,
		Path:     r.Pattern.Path,
		Query:    r.Pattern.Query,
	}
	return t.String()
}
