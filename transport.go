package backendauth

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Transport wraps base with bearer authentication for the protected API.
//
// Requests outside the configured origin+path prefix are delegated untouched.
// For protected requests the transport resolves a token (non-forced), attaches
// it unless an Authorization header is already present, and on a 401 performs
// exactly one forced refresh-and-retry. HTTP status codes are never turned
// into errors; only transport-level failures propagate.
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{client: c, base: base}
}

// HTTPClient returns an http.Client whose transport authenticates protected
// requests. Cookies and other client-level behavior follow the HTTP client
// injected at build time.
func (c *Client) HTTPClient() *http.Client {
	return c.authClient
}

// Do sends the request through the authenticated transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.authClient.Do(req)
}

type authTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.client
	if !c.protectedTarget(req.URL) {
		c.metricInc(MetricRequestBypassed)
		return t.base.RoundTrip(req)
	}

	value, err := c.AccessToken(req.Context())
	if err != nil {
		// Proceed unauthenticated; the backend's own 401/403 surfaces to the
		// caller like any other response.
		c.logger.Debug("sending protected request without token", zap.Error(err))
		value = ""
	}

	out := req.Clone(req.Context())
	attached := false
	if value != "" && out.Header.Get("Authorization") == "" {
		out.Header.Set("Authorization", "Bearer "+value)
		attached = true
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !attached {
		return resp, err
	}

	// The attached token was rejected. Retry requires a replayable body.
	if req.Body != nil && req.GetBody == nil {
		c.metricInc(MetricUnauthorizedFinal)
		return resp, nil
	}

	fresh, ferr := c.ForceRefresh(req.Context())
	if ferr != nil || fresh == "" {
		c.metricInc(MetricUnauthorizedFinal)
		return resp, nil
	}

	// Resolve the retry body before touching the original response: if the
	// body cannot be replayed, the caller still gets the 401 intact.
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			c.metricInc(MetricUnauthorizedFinal)
			return resp, nil
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+fresh)

	drainAndClose(resp.Body)
	c.metricInc(MetricUnauthorizedRetry)
	c.emit(req.Context(), Event{
		EventType: EventUnauthorizedRetry,
		Success:   true,
		Metadata:  map[string]string{"path": req.URL.Path},
	})
	c.logger.Debug("retrying after 401", zap.String("path", req.URL.Path))

	resp2, err2 := t.base.RoundTrip(retry)
	if err2 == nil && resp2.StatusCode == http.StatusUnauthorized {
		// Exactly one retry; the second 401 goes to the caller as-is.
		c.metricInc(MetricUnauthorizedFinal)
	}
	return resp2, err2
}

// protectedTarget reports whether u addresses the protected API: same origin
// as API.BaseURL and a path under API.PathPrefix. Everything else, including
// the app's own routes, passes through untouched.
func (c *Client) protectedTarget(u *url.URL) bool {
	if u == nil || c.apiOrigin == nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, c.apiOrigin.Scheme) || !strings.EqualFold(u.Host, c.apiOrigin.Host) {
		return false
	}
	return strings.HasPrefix(u.Path, c.config.API.PathPrefix)
}

// drainAndClose releases the discarded 401 response's connection for reuse.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
