package broker

import "strings"

// deriveUserTokenEndpoint implements spec.md §4.5's user-credential flow
// step 1: derive the token-info endpoint from the resource's own URL.
func deriveUserTokenEndpoint(resourceURL string) string {
	if idx := strings.Index(resourceURL, "/rest/"); idx >= 0 {
		return resourceURL[:idx] + "/rest/info"
	}
	if idx := strings.Index(resourceURL, "/sharing/"); idx >= 0 {
		return resourceURL[:idx] + "/sharing/rest/info"
	}
	return strings.TrimRight(resourceURL, "/") + "/arcgis/rest/info"
}

// oauth2ExchangeEndpoint implements the app-credential flow's step 2: the
// portal-token-to-server-token exchange URL is the oauth2 endpoint with
// "/oauth2" rewritten to "/generateToken".
func oauth2ExchangeEndpoint(oauth2Endpoint string) string {
	return strings.Replace(oauth2Endpoint, "/oauth2", "/generateToken", 1)
}
