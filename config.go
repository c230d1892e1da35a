package backendauth

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config defines the tunables for a backendauth [Client].
//
// Config instances are intended to be configured during initialization and
// then treated as immutable. All timing values are explicit configuration:
// none of them is correctness-critical, only latency/redundancy tradeoffs.
type Config struct {
	Token     TokenConfig
	Lock      LockConfig
	Broadcast BroadcastConfig
	API       APIConfig
	Events    EventsConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls the token endpoint client and cache freshness.
type TokenConfig struct {
	// EndpointURL is the cookie-authenticated token route, typically
	// <app origin>/api/auth/backend-token.
	EndpointURL string
	// FreshnessMargin is how long before expiry a cached token stops being
	// reused, so a token never expires mid-flight.
	FreshnessMargin time.Duration
	// DefaultTTL is the assumed lifetime when the endpoint payload carries
	// neither expires_at nor a parseable JWT exp claim.
	DefaultTTL time.Duration
	// RequestTimeout bounds a single token endpoint call.
	RequestTimeout time.Duration
}

/*
====================================
LOCK CONFIG
====================================
*/

// LockConfig controls the cross-process refresh lock.
type LockConfig struct {
	// Key is the shared lock key; every client of the same backend must use
	// the same value.
	Key string
	// TTL reclaims a lock whose holder crashed mid-refresh. It can lapse
	// while a slow refresh is still in flight; the resulting redundant
	// refresh is accepted and self-healing.
	TTL time.Duration
	// PollInterval is how often a contending client re-checks lock release
	// while waiting for the holder's broadcast.
	PollInterval time.Duration
}

/*
====================================
BROADCAST CONFIG
====================================
*/

// BroadcastConfig controls the token announcement channel.
type BroadcastConfig struct {
	// Channel is the shared channel name; clients using the same name
	// interoperate.
	Channel string
	// WaitTimeout bounds how long a contending client waits for the lock
	// holder's token_refreshed announcement before forcing its own refresh.
	WaitTimeout time.Duration
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig scopes which requests receive the bearer token.
type APIConfig struct {
	// BaseURL is the protected backend origin. Only requests whose URL
	// resolves to this origin are authenticated.
	BaseURL string
	// PathPrefix further restricts authentication to matching paths.
	PathPrefix string
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig controls the async token lifecycle event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process metrics registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Only Token.EndpointURL
// and API.BaseURL must be filled in by the caller.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			FreshnessMargin: 60 * time.Second,
			DefaultTTL:      5 * time.Minute,
			RequestTimeout:  10 * time.Second,
		},
		Lock: LockConfig{
			Key:          "backendauth:refresh_lock",
			TTL:          10 * time.Second,
			PollInterval: 150 * time.Millisecond,
		},
		Broadcast: BroadcastConfig{
			Channel:     "backendauth:token_events",
			WaitTimeout: 1500 * time.Millisecond,
		},
		API: APIConfig{
			PathPrefix: "/api/",
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All fields are values; a shallow copy is a deep copy.
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internally consistent, usable values.
func (c *Config) Validate() error {
	// Token
	if c.Token.EndpointURL == "" {
		return errors.New("Token EndpointURL is required")
	}
	if u, err := url.Parse(c.Token.EndpointURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Token EndpointURL must be an absolute URL")
	}
	if c.Token.FreshnessMargin <= 0 {
		return errors.New("Token FreshnessMargin must be > 0")
	}
	if c.Token.DefaultTTL <= c.Token.FreshnessMargin {
		return errors.New("Token DefaultTTL must exceed FreshnessMargin")
	}
	if c.Token.RequestTimeout <= 0 {
		return errors.New("Token RequestTimeout must be > 0")
	}

	// Lock
	if c.Lock.Key == "" {
		return errors.New("Lock Key is required")
	}
	if c.Lock.TTL <= 0 {
		return errors.New("Lock TTL must be > 0")
	}
	if c.Lock.PollInterval <= 0 {
		return errors.New("Lock PollInterval must be > 0")
	}
	if c.Lock.PollInterval >= c.Lock.TTL {
		return errors.New("Lock PollInterval must be < Lock TTL")
	}

	// Broadcast
	if c.Broadcast.Channel == "" {
		return errors.New("Broadcast Channel is required")
	}
	if c.Broadcast.WaitTimeout <= 0 {
		return errors.New("Broadcast WaitTimeout must be > 0")
	}

	// API
	if c.API.BaseURL == "" {
		return errors.New("API BaseURL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("API BaseURL must be an absolute URL")
	}
	if !strings.HasPrefix(c.API.PathPrefix, "/") {
		return errors.New("API PathPrefix must start with '/'")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when Events are enabled")
	}

	return nil
}
