package forwarder

import (
	"strings"

	"geoproxy.local/geoproxy/internal/geourl"
	"geoproxy.local/geoproxy/internal/resource"
	"geoproxy.local/geoproxy/internal/util"
)

// BuildUpstreamURL implements spec.md §4.4's host-redirect / target
// composition rule.
//
// If the Resource declares a hostRedirect, the upstream URL is composed
// from hostRedirect.host, optionally hostRedirect.port, and — if
// hostRedirect.path is empty or "*" — the request's path; otherwise
// hostRedirect.path. Otherwise the upstream URL is composed from the
// Resource's own host+path plus the request's trailing path elements when
// matchAll is false.
func BuildUpstreamURL(res *resource.Resource, req geourl.Tuple, mergedQuery string) string {
	protocol := res.Pattern.Protocol
	if protocol == "" || protocol == "*" {
		protocol = req.Protocol
	}
	if protocol == "" || protocol == "*" {
		protocol = "http"
	}

	if res.HostRedirect != nil {
		t := geourl.Tuple{
			Protocol: protocol,
			Host:     res.HostRedirect.Host,
			Port:     res.HostRedirect.Port,
			Path:     redirectPath(res.HostRedirect.Path, req.Path),
			Query:    mergedQuery,
		}
		return t.String()
	}

	path := res.Pattern.Path
	if !res.MatchAll {
		path = appendTrailingPath(res.Pattern.Path, req.Path)
	}

	t := geourl.Tuple{
		Protocol: protocol,
		Host:     res.Pattern.Host,
		Port:     res.Pattern.Port,
		Path:     path,
		Query:    mergedQuery,
	}
	return t.String()
}

func redirectPath(hostRedirectPath, requestPath string) string {
	if hostRedirectPath == "" || hostRedirectPath == "*" {
		return requestPath
	}
	return hostRedirectPath
}

// appendTrailingPath appends whatever portion of reqPath extends past
// resourcePath, so a prefix-matched Resource still forwards the caller's
// full sub-path to the upstream.
func appendTrailingPath(resourcePath, reqPath string) string {
	if resourcePath == "" || resourcePath == "*" {
		return reqPath
	}
	lowerResource := strings.ToLower(resourcePath)
	lowerReq := strings.ToLower(reqPath)
	if !strings.HasPrefix(lowerReq, lowerResource) {
		return resourcePath
	}
	trailing := reqPath[len(resourcePath):]
	if trailing == "" {
		return resourcePath
	}
	return util.JoinPath(resourcePath, trailing)
}
