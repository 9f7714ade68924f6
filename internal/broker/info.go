package broker

import "encoding/json"

// infoResponse is the shape of an ArcGIS-style "/rest/info" response. Unlike
// the final token response, this one is a normal, fully-formed JSON
// document, so it is parsed rather than pattern-matched.
type infoResponse struct {
	AuthInfo struct {
		TokenServicesURL string `json:"tokenServicesUrl"`
	} `json:"authInfo"`
	OwningSystemURL string `json:"owningSystemUrl"`
}

// resolveTokenServicesURL implements spec.md §4.5 step 2: prefer
// authInfo.tokenServicesUrl, falling back to owningSystemUrl +
// "/sharing/generateToken".
func resolveTokenServicesURL(body string) string {
	var info infoResponse
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		return ""
	}
	if info.AuthInfo.TokenServicesURL != "" {
		return info.AuthInfo.TokenServicesURL
	}
	if info.OwningSystemURL != "" {
		return info.OwningSystemURL + "/sharing/generateToken"
	}
	return ""
}
