package backendauth

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/optiview/backendauth/coordinate"
	"github.com/optiview/backendauth/token"
)

// Builder assembles a [Client]. Construction is allocation-only: no I/O
// happens until Build, and Build itself only opens the broadcast
// subscription.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	coordinator coordinate.Transport
	httpClient  *http.Client
	logger      *zap.Logger
	eventSink   EventSink
	clock       func() time.Time

	built bool
}

// New creates a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects Redis-backed cross-process coordination.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCoordinator injects a coordination transport directly, overriding
// WithRedis. Tests use this to wire several clients to one [coordinate.Local].
func (b *Builder) WithCoordinator(t coordinate.Transport) *Builder {
	b.coordinator = t
	return b
}

// WithHTTPClient sets the HTTP client used for both the token endpoint and
// protected API calls. This is where the cookie jar for the
// cookie-authenticated token route lives.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventSink sets the lifecycle event sink and enables event dispatch.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	b.config.Events.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles the in-process metrics registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock injects the time source used for freshness decisions. Tests
// substitute a fake clock; production leaves this unset.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration, wires the coordination transport, and
// starts the broadcast subscription. A Builder is single-use.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiOrigin, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, errors.New("API BaseURL must be an absolute URL")
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	coordinator := b.coordinator
	ownsCoordinator := false
	if coordinator == nil {
		if b.redis != nil {
			coordinator = coordinate.NewRedis(b.redis, cfg.Lock.Key, cfg.Broadcast.Channel)
		} else {
			// Single-process deployment: same contract, no shared backend.
			coordinator = coordinate.NewLocal(now)
		}
		ownsCoordinator = true
	}

	c := &Client{
		config:          cfg,
		ownerID:         uuid.NewString(),
		apiOrigin:       &url.URL{Scheme: apiOrigin.Scheme, Host: apiOrigin.Host},
		cache:           token.NewCache(now),
		endpoint:        token.NewEndpoint(cfg.Token.EndpointURL, httpClient, cfg.Token.DefaultTTL, now),
		coordinator:     coordinator,
		httpClient:      httpClient,
		metrics:         NewMetrics(cfg.Metrics),
		events:          newEventDispatcher(cfg.Events, b.eventSink),
		logger:          logger,
		now:             now,
		ownsCoordinator: ownsCoordinator,
		closed:          make(chan struct{}),
	}

	authClient := *httpClient
	authClient.Transport = c.Transport(httpClient.Transport)
	c.authClient = &authClient

	unsubscribe, err := coordinator.Subscribe(c.handleBroadcast)
	if err != nil {
		if c.events != nil {
			c.events.Close()
		}
		return nil, err
	}
	c.unsubscribe = unsubscribe

	return c, nil
}
