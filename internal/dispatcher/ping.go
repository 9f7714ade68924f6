package dispatcher

import (
	"encoding/json"
	"net/http"

	"geoproxy.local/geoproxy/internal/geourl"
)

// PingResponse is the wire shape of spec.md §6's ping endpoint.
type PingResponse struct {
	ProxyVersion      string `json:"Proxy Version"`
	ConfigurationFile string `json:"Configuration File"`
	LogFile           string `json:"Log File"`
	Referrer          string `json:"referrer"`
}

// Ping implements spec.md §4.7 step 1 / §6's `GET <pingPath>` contract.
func (d *Dispatcher) Ping(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		referrerKey, _ := geourl.ValidateReferrer(r.Referer(), d.ReferrerPatterns, d.AcceptAnyReferrer)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(PingResponse{
			ProxyVersion:      version,
			ConfigurationFile: "OK",
			LogFile:           "OK",
			Referrer:          referrerKey,
		})
	}
}
