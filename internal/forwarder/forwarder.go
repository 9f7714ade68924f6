// Package forwarder implements the Proxy Forwarder of spec.md §4.4: it
// merges parameters, injects tokens, opens the upstream connection, streams
// bytes bidirectionally, inspects the response for auth-failure signals,
// and retries once on detected token expiry.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"geoproxy.local/geoproxy/internal/apierr"
	"geoproxy.local/geoproxy/internal/broker"
	"geoproxy.local/geoproxy/internal/geourl"
	"geoproxy.local/geoproxy/internal/resource"
)

// UpstreamMetrics receives callbacks for every upstream request Forward
// sends and every upstream failure it detects. Optional; a nil Metrics
// field on Forwarder means upstream calls are not observed.
type UpstreamMetrics interface {
	ObserveUpstream(resourceID string, outcome string, duration time.Duration)
	RecordUpstreamError(resourceID string)
}

// Forwarder is the Proxy Forwarder. InspectionCap bounds how much of the
// response body is teed for auth-failure inspection.
type Forwarder struct {
	client        *http.Client
	broker        *broker.Broker
	InspectionCap int
	Metrics       UpstreamMetrics
}

func New(client *http.Client, b *broker.Broker) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	return &Forwarder{client: client, broker: b, InspectionCap: DefaultInspectionCap}
}

// Forward implements the public contract of spec.md §4.4: given the
// matched Resource, the normalized request tuple, the canonical referrer
// key, and the inbound request/response streams, forward to upstream and
// stream the response back, retrying at most once on a detected
// auth-failure signal.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, inbound *http.Request, res *resource.Resource, req geourl.Tuple, referrerKey string) error {
	var bodyBytes []byte
	if inbound.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(inbound.Body)
		if err != nil {
			return apierr.BadRequest("failed to read request body")
		}
	}

	retried := false
	for {
		token, err := f.resolveToken(ctx, res, referrerKey)
		if err != nil {
			return err
		}

		mergedQuery := MergeParams(res.Pattern.Query, req.Query, token)
		upstreamURL := BuildUpstreamURL(res, req, mergedQuery)

		sentAt := time.Now()
		resp, err := f.send(ctx, inbound, upstreamURL, bodyBytes)
		if err != nil {
			f.observeUpstream(res.ID, "error", time.Since(sentAt))
			f.recordUpstreamError(res.ID)
			return apierr.UpstreamError(http.StatusBadGateway, err.Error())
		}
		f.observeUpstream(res.ID, "success", time.Since(sentAt))

		if !res.CredentialBearing() {
			return f.stream(w, resp, nil)
		}

		prefix, rest, readErr := teePrefix(resp.Body, f.capOrDefault())
		if readErr != nil {
			resp.Body.Close()
			f.recordUpstreamError(res.ID)
			return apierr.UpstreamError(http.StatusBadGateway, readErr.Error())
		}

		if _, isAuthFailure := DetectAuthFailureCode(prefix, resp.Header.Get("Content-Encoding")); isAuthFailure && !retried {
			resp.Body.Close()
			f.recordUpstreamError(res.ID)
			retried = true
			f.broker.Invalidate(res)
			continue
		}

		return f.streamBuffered(w, resp, prefix, rest)
	}
}

func (f *Forwarder) resolveToken(ctx context.Context, res *resource.Resource, referrerKey string) (string, error) {
	switch res.Credentials.Mode {
	case resource.CredentialStaticToken:
		return res.Credentials.StaticToken, nil
	case resource.CredentialUser, resource.CredentialApp:
		return f.broker.Acquire(ctx, res, referrerKey)
	default:
		return "", nil
	}
}

func (f *Forwarder) send(ctx context.Context, inbound *http.Request, upstreamURL string, body []byte) (*http.Response, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	outbound, err := http.NewRequestWithContext(ctx, inbound.Method, target.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	outbound.Header = inbound.Header.Clone()
	outbound.Host = target.Host

	return f.client.Do(outbound)
}

func (f *Forwarder) observeUpstream(resourceID, outcome string, duration time.Duration) {
	if f.Metrics == nil {
		return
	}
	f.Metrics.ObserveUpstream(resourceID, outcome, duration)
}

func (f *Forwarder) recordUpstreamError(resourceID string) {
	if f.Metrics == nil {
		return
	}
	f.Metrics.RecordUpstreamError(resourceID)
}

func (f *Forwarder) capOrDefault() int {
	if f.InspectionCap > 0 {
		return f.InspectionCap
	}
	return DefaultInspectionCap
}

// teePrefix reads up to cap bytes from body (the tee'd inspection prefix)
// and returns them alongside the unread remainder, without discarding any
// bytes — the prefix is re-spliced ahead of the remainder when streaming.
func teePrefix(body io.Reader, capBytes int) (prefix []byte, rest io.Reader, err error) {
	buf := make([]byte, capBytes)
	n, readErr := io.ReadFull(body, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		return nil, nil, readErr
	}
	return buf[:n], body, nil
}

func (f *Forwarder) stream(w http.ResponseWriter, resp *http.Response, prefix []byte) error {
	defer resp.Body.Close()
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if len(prefix) > 0 {
		_, _ = w.Write(prefix)
	}
	_, err := io.Copy(w, resp.Body)
	return err
}

func (f *Forwarder) streamBuffered(w http.ResponseWriter, resp *http.Response, prefix []byte, rest io.Reader) error {
	defer resp.Body.Close()
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := io.Copy(w, rest)
	return err
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			if key == "Content-Type" {
				value = RewriteContentType(value)
			}
			dst.Add(key, value)
		}
	}
}
