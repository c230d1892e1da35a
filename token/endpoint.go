package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrEndpointUnavailable wraps network failures and non-2xx responses from
	// the token endpoint.
	ErrEndpointUnavailable = errors.New("token endpoint unavailable")
	// ErrPayloadMalformed is returned for a 2xx response whose body is not the
	// expected JSON shape or carries no token.
	ErrPayloadMalformed = errors.New("token endpoint payload malformed")
)

// maxPayloadSize bounds the endpoint response body read.
const maxPayloadSize = 64 * 1024

// endpointPayload mirrors the token endpoint's response. The backend has
// shipped both field names for the token value; accept either, preferring
// "token". expires_at is epoch milliseconds.
type endpointPayload struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Endpoint fetches bearer tokens from the cookie-authenticated token route.
//
// The HTTP client is injected so the caller controls the cookie jar and
// timeouts; Endpoint itself owns only the request shape and payload
// normalization.
type Endpoint struct {
	url        string
	client     *http.Client
	defaultTTL time.Duration
	now        func() time.Time
}

// NewEndpoint creates a token endpoint client. A nil httpClient defaults to
// http.DefaultClient and a nil now to time.Now. defaultTTL is the expiry
// fallback when the payload carries neither expires_at nor a parseable JWT
// exp claim.
func NewEndpoint(url string, httpClient *http.Client, defaultTTL time.Duration, now func() time.Time) *Endpoint {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if now == nil {
		now = time.Now
	}
	return &Endpoint{
		url:        url,
		client:     httpClient,
		defaultTTL: defaultTTL,
		now:        now,
	}
}

// Fetch performs one GET against the token endpoint and normalizes the
// payload into a [Token]. A 2xx response without a token value is a failure.
func (e *Endpoint) Fetch(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadSize))
		return Token{}, fmt.Errorf("%w: status %d", ErrEndpointUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}

	var payload endpointPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}

	value := payload.Token
	if value == "" {
		value = payload.AccessToken
	}
	if value == "" {
		return Token{}, fmt.Errorf("%w: missing token field", ErrPayloadMalformed)
	}

	return Token{Value: value, ExpiresAt: e.resolveExpiry(value, payload.ExpiresAt)}, nil
}

func (e *Endpoint) resolveExpiry(value string, expiresAtMs int64) time.Time {
	if expiresAtMs > 0 {
		return time.UnixMilli(expiresAtMs)
	}
	if exp, ok := expiryFromJWT(value); ok {
		return exp
	}
	return e.now().Add(e.defaultTTL)
}
