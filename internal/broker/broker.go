// Package broker implements the Token Broker of spec.md §4.5: it acquires,
// caches, and refreshes upstream bearer tokens on a Resource's behalf via
// two credential flows, serializing concurrent acquisitions per Resource so
// at most one network round-trip is in flight at a time.
package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"geoproxy.local/geoproxy/internal/apierr"
	"geoproxy.local/geoproxy/internal/resource"
)

const (
	maxTokenLifetime  = 55 * time.Minute
	infoResponseLimit = 1 << 16
	fetchTimeout      = 30 * time.Second
)

// acquisition is one in-flight token fetch, shared by every caller that
// asks for a token on the same Resource while it is running. Grounded on
// claims.Cache's inflight/refreshState single-flight pattern.
type acquisition struct {
	done  chan struct{}
	token string
	err   error
}

// TokenMetrics receives a callback for every token acquisition the broker
// actually performs (cache hits do not count). Optional; a nil Metrics
// field on Broker means acquisitions are not observed.
type TokenMetrics interface {
	RecordTokenAcquisition(resourceID string, succeeded bool)
}

// Broker is the Token Broker. Clock is overridable for deterministic tests.
type Broker struct {
	client  *http.Client
	Clock   func() time.Time
	Metrics TokenMetrics

	mu       sync.Mutex
	inflight map[string]*acquisition
}

func New(client *http.Client) *Broker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Broker{
		client:   client,
		Clock:    time.Now,
		inflight: make(map[string]*acquisition),
	}
}

// Acquire returns a live token for res, using the cached entry if still
// live, otherwise performing (or joining) a single in-flight network
// acquisition. referrerKey is passed explicitly by the caller — the
// user-credential flow's generateToken call needs it, and threading it
// through the call avoids the source's reported referrer-out-of-scope bug
// (spec.md §9).
func (b *Broker) Acquire(ctx context.Context, res *resource.Resource, referrerKey string) (string, error) {
	now := b.Clock()
	if cached := res.CachedToken(); cached.Live(now) {
		return cached.Value, nil
	}

	b.mu.Lock()
	if existing, ok := b.inflight[res.ID]; ok {
		done := existing.done
		b.mu.Unlock()
		select {
		case <-done:
			return existing.token, existing.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	state := &acquisition{done: make(chan struct{})}
	b.inflight[res.ID] = state
	b.mu.Unlock()

	// The fetch runs on its own context, not the initiating caller's: per
	// spec.md §5, an acquisition started for one request must run to
	// completion and populate the cache even if that caller disconnects,
	// and every other caller joined on state.done via the select below
	// must see the fetch's own outcome, never a cancellation borrowed from
	// whichever request happened to start it.
	fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	token, lifetime, err := b.fetch(fetchCtx, res, referrerKey)
	cancel()
	if b.Metrics != nil {
		b.Metrics.RecordTokenAcquisition(res.ID, err == nil)
	}
	if err == nil {
		acquiredAt := b.Clock()
		res.SetToken(&resource.TokenCacheEntry{
			Value:      token,
			AcquiredAt: acquiredAt,
			ExpiresAt:  acquiredAt.Add(lifetime),
		})
	}

	b.mu.Lock()
	state.token, state.err = token, err
	close(state.done)
	delete(b.inflight, res.ID)
	b.mu.Unlock()

	return token, err
}

// Invalidate clears the cached token, per spec.md §4.4's auth-failure
// retry path.
func (b *Broker) Invalidate(res *resource.Resource) {
	res.InvalidateToken()
}

func (b *Broker) fetch(ctx context.Context, res *resource.Resource, referrerKey string) (string, time.Duration, error) {
	switch res.Credentials.Mode {
	case resource.CredentialApp:
		return b.fetchAppToken(ctx, res)
	case resource.CredentialUser:
		return b.fetchUserToken(ctx, res, referrerKey)
	default:
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("resource %s has no broker-managed credential mode", res.ID))
	}
}

// fetchAppToken implements spec.md §4.5's app-credential flow.
func (b *Broker) fetchAppToken(ctx context.Context, res *resource.Resource) (string, time.Duration, error) {
	endpoint := strings.TrimRight(res.OAuth2Endpoint, "/")
	if endpoint == "" {
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("resource %s has no oauth2Endpoint configured", res.ID))
	}

	portalBody, err := b.postForm(ctx, endpoint+"/token", url.Values{
		"client_id":     {res.Credentials.ClientID},
		"client_secret": {res.Credentials.ClientSecret},
		"grant_type":    {"client_credentials"},
		"f":             {"json"},
	})
	if err != nil {
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("app-credential portal token request failed: %v", err))
	}
	portalToken, ok := extractToken(portalBody)
	if !ok {
		return "", 0, apierr.TokenAcquisitionFailed("app-credential portal token response did not contain a token")
	}

	serverBody, err := b.postForm(ctx, oauth2ExchangeEndpoint(endpoint), url.Values{
		"token":     {portalToken},
		"serverURL": {res.CanonicalURL()},
		"f":         {"json"},
	})
	if err != nil {
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("app-credential server token exchange failed: %v", err))
	}
	serverToken, ok := extractToken(serverBody)
	if !ok {
		return "", 0, apierr.TokenAcquisitionFailed("app-credential server token exchange did not contain a token")
	}

	lifetime := maxTokenLifetime
	if seconds, ok := extractExpiresInSeconds(serverBody); ok {
		lifetime = capLifetime(time.Duration(seconds) * time.Second)
	}
	return serverToken, lifetime, nil
}

// fetchUserToken implements spec.md §4.5's user-credential flow.
func (b *Broker) fetchUserToken(ctx context.Context, res *resource.Resource, referrerKey string) (string, time.Duration, error) {
	infoURL := deriveUserTokenEndpoint(res.CanonicalURL())
	infoBody, err := b.getJSON(ctx, infoURL+"?f=json")
	if err != nil {
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("user-credential info request failed: %v", err))
	}

	tokenServicesURL := resolveTokenServicesURL(infoBody)
	if tokenServicesURL == "" {
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("resource %s: info response had no tokenServicesUrl or owningSystemUrl", res.ID))
	}

	genBody, err := b.postForm(ctx, tokenServicesURL, url.Values{
		"request":    {"getToken"},
		"f":          {"json"},
		"referer":    {referrerKey},
		"expiration": {"60"},
		"username":   {res.Credentials.Username},
		"password":   {res.Credentials.Password},
	})
	if err != nil {
		return "", 0, apierr.TokenAcquisitionFailed(fmt.Sprintf("user-credential generateToken request failed: %v", err))
	}
	token, ok := extractToken(genBody)
	if !ok {
		return "", 0, apierr.TokenAcquisitionFailed("user-credential generateToken response did not contain a token")
	}

	lifetime := maxTokenLifetime
	if minutes, ok := extractExpiresInMinutes(genBody); ok {
		lifetime = capLifetime(time.Duration(minutes) * time.Minute)
	}
	return token, lifetime, nil
}

func capLifetime(declared time.Duration) time.Duration {
	if declared <= 0 || declared > maxTokenLifetime {
		return maxTokenLifetime
	}
	return declared
}

func (b *Broker) postForm(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *Broker) getJSON(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	return b.do(req)
}

func (b *Broker) do(req *http.Request) (string, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, infoResponseLimit))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upstream returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
