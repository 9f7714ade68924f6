// Package dispatcher implements the Request Dispatcher of spec.md §4.7: the
// top-level per-request orchestration that ties the Normalizer, Matcher,
// Referrer Validator, Rate Limiter, Token Broker, and Forwarder together.
package dispatcher

import (
	"net/http"
	"time"

	"geoproxy.local/geoproxy/internal/apierr"
	"geoproxy.local/geoproxy/internal/forwarder"
	"geoproxy.local/geoproxy/internal/geourl"
	"geoproxy.local/geoproxy/internal/ratelimit"
	"geoproxy.local/geoproxy/internal/resource"
)

// RateLimitObserver receives a callback for every admit/deny decision Proxy
// makes, keyed by the matched Resource's ID. Optional; a nil Metrics field
// on Dispatcher means decisions are not observed.
type RateLimitObserver interface {
	RecordRateLimitDecision(resourceID string, admitted bool)
}

// DecisionLogger receives a structured decision-log callback for each of
// Proxy's major decision points (referrer reject, no-resource reject, rate
// reject, dispatch success), mirroring spec.md §5's ambient "structured,
// greppable log line per decision point" requirement. Optional; nil means
// no logging.
type DecisionLogger func(event string, fields map[string]any)

// Dispatcher holds every component the per-request pipeline touches, plus
// the policy knobs spec.md §4.7 names (must-match, accept-any-referrer).
type Dispatcher struct {
	Table     *resource.Table
	Limiter   *ratelimit.Limiter
	Forwarder *forwarder.Forwarder

	ReferrerPatterns  []geourl.ReferrerPattern
	AcceptAnyReferrer bool
	MustMatch         bool

	Metrics RateLimitObserver
	Log     DecisionLogger

	Clock func() time.Time
}

func (d *Dispatcher) logDecision(event string, fields map[string]any) {
	if d.Log == nil {
		return
	}
	d.Log(event, fields)
}

func New(table *resource.Table, limiter *ratelimit.Limiter, fwd *forwarder.Forwarder) *Dispatcher {
	return &Dispatcher{
		Table:     table,
		Limiter:   limiter,
		Forwarder: fwd,
		Clock:     time.Now,
	}
}

// Proxy implements spec.md §4.7 steps 2–5 for one already-normalized request
// tail (the portion of the path following the configured listen-prefix,
// with its leading separator already stripped by the caller, plus the
// request's query string after a '?'). A panic while handling the request
// is recovered and reported as an InternalError.
func (d *Dispatcher) Proxy(w http.ResponseWriter, r *http.Request, tail string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			apierr.WriteJSON(w, apierr.Internal("unexpected panic while handling request"), r.URL.String())
		}
	}()

	req, err := geourl.Parse(tail)
	if err != nil {
		apierr.WriteJSON(w, apierr.BadRequest(err.Error()), r.URL.String())
		return
	}

	referrerKey, ok := geourl.ValidateReferrer(r.Referer(), d.ReferrerPatterns, d.AcceptAnyReferrer)
	if !ok {
		d.logDecision("referrer_denied", map[string]any{"referrer": r.Referer(), "path": req.String()})
		apierr.WriteJSON(w, apierr.ReferrerDenied(r.Referer()), r.URL.String())
		return
	}

	res, matched := d.Table.Match(req)
	if !matched {
		if d.MustMatch {
			d.logDecision("no_resource", map[string]any{"path": req.String()})
			apierr.WriteJSON(w, apierr.NoResource(req.String()), r.URL.String())
			return
		}
		res = syntheticResource(req)
	}

	res.IncrementCounters(d.Clock())

	if res.RateCap.Enabled() {
		_, admitted, err := d.Limiter.Admit(r.Context(), res.CanonicalURL(), referrerKey, int64(res.RateCap.RateLimit), res.RateCap.WindowSeconds())
		if err != nil {
			apierr.WriteJSON(w, apierr.LimiterUnavailable(err.Error()), r.URL.String())
			return
		}
		if d.Metrics != nil {
			d.Metrics.RecordRateLimitDecision(res.ID, admitted)
		}
		if !admitted {
			d.logDecision("rate_exceeded", map[string]any{"resource_id": res.ID, "referrer": referrerKey})
			apierr.WriteJSON(w, apierr.RateExceeded(res.CanonicalURL(), referrerKey), r.URL.String())
			return
		}
	}

	if err := d.Forwarder.Forward(r.Context(), w, r, res, req, referrerKey); err != nil {
		writeForwardError(w, err, r.URL.String())
		return
	}
	d.logDecision("dispatch_success", map[string]any{"resource_id": res.ID, "referrer": referrerKey})
}

func writeForwardError(w http.ResponseWriter, err error, requestURL string) {
	if apiErr, ok := apierr.As(err); ok {
		apierr.WriteJSON(w, apiErr, requestURL)
		return
	}
	apierr.WriteJSON(w, apierr.Internal(err.Error()), requestURL)
}

// syntheticResource implements spec.md §4.7 step 3's pass-through fallback:
// when no configured Resource matches and must-match is off, the request is
// forwarded to exactly the host and path it named, with no credentials and
// no rate cap.
func syntheticResource(req geourl.Tuple) *resource.Resource {
	return &resource.Resource{
		ID: "synthetic:" + req.String(),
		Pattern: resource.URLPattern{
			Protocol: req.Protocol,
			Host:     req.Host,
			Port:     req.Port,
			Path:     req.Path,
		},
		MatchAll: true,
	}
}
