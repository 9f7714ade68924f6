package dispatcher

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"time"

	"geoproxy.local/geoproxy/internal/resource"
)

// StatusPage implements spec.md §6's `GET <statusPath>` contract: an HTML
// status page with uptime, per-Resource counters, and a dump of meter rows.
// Rendering itself is treated as an external collaborator's concern (spec.md
// §1 Non-goals name the status/ping HTML surface) — this handler supplies
// the data, not a templating layer.
func (d *Dispatcher) StatusPage(version string, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := d.Limiter.All(r.Context())
		if err != nil {
			rows = nil
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><html><head><title>geoproxy status</title></head><body>\n")
		fmt.Fprintf(w, "<h1>geoproxy %s</h1>\n", html.EscapeString(version))
		fmt.Fprintf(w, "<p>uptime: %s</p>\n", time.Since(startedAt).Round(time.Second))

		fmt.Fprintf(w, "<h2>resources</h2>\n<table border=\"1\"><tr><th>id</th><th>total</th><th>first</th><th>last</th></tr>\n")
		resources := append([]*resource.Resource(nil), d.Table.All()...)
		sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
		for _, res := range resources {
			counters := res.SnapshotCounters()
			fmt.Fprintf(w, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>\n",
				html.EscapeString(res.ID), counters.TotalRequests,
				formatTime(counters.FirstRequest), formatTime(counters.LastRequest))
		}
		fmt.Fprintf(w, "</table>\n")

		fmt.Fprintf(w, "<h2>meter rows</h2>\n<table border=\"1\"><tr><th>url</th><th>referrer</th><th>count</th><th>rate</th><th>total</th><th>rejected</th></tr>\n")
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].URL != rows[j].URL {
				return rows[i].URL < rows[j].URL
			}
			return rows[i].Referrer < rows[j].Referrer
		})
		for _, row := range rows {
			fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td></tr>\n",
				html.EscapeString(row.URL), html.EscapeString(row.Referrer),
				row.WindowCount, row.RateLimit, row.Total, row.Rejected)
		}
		fmt.Fprintf(w, "</table>\n</body></html>\n")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
