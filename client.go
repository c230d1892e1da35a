package backendauth

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/optiview/backendauth/coordinate"
	"github.com/optiview/backendauth/token"
)

// Client is the shared bearer-token cache and authenticated HTTP client for
// the protected backend API.
//
// A Client is built once through [Builder.Build] and is safe for concurrent
// use. Each Client carries a random owner ID identifying it in the
// coordination domain; processes of the same backend coordinate refreshes
// through the configured [coordinate.Transport] so that (best-effort) only
// one of them hits the token endpoint at a time.
type Client struct {
	config    Config
	ownerID   string
	apiOrigin *url.URL

	cache       *token.Cache
	endpoint    *token.Endpoint
	coordinator coordinate.Transport
	group       singleflight.Group

	// refreshGen advances on every forced refresh; the singleflight key is
	// derived from it so a forced refresh never joins a flight started before
	// the cached token was proven dead.
	refreshGen atomic.Uint64

	httpClient  *http.Client
	authClient  *http.Client
	metrics     *Metrics
	events      *eventDispatcher
	logger      *zap.Logger
	now         func() time.Time
	unsubscribe func()

	// ownsCoordinator is set when Build constructed the transport itself, in
	// which case Close tears it down.
	ownsCoordinator bool
	closed          chan struct{}
}

// OwnerID returns the client's random per-process identifier, used as lock
// owner and broadcast origin.
func (c *Client) OwnerID() string {
	if c == nil {
		return ""
	}
	return c.ownerID
}

// Close stops the broadcast subscription and flushes the event dispatcher.
// In-flight requests are not interrupted.
func (c *Client) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.ownsCoordinator && c.coordinator != nil {
		_ = c.coordinator.Close()
	}
	if c.events != nil {
		c.events.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of the client's metrics.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// EventsDropped returns the number of lifecycle events discarded under
// dispatcher backpressure.
func (c *Client) EventsDropped() uint64 {
	if c == nil || c.events == nil {
		return 0
	}
	return c.events.Dropped()
}

// Token returns the cached token value, or "" when none is cached. It says
// nothing about freshness; use [Client.AccessToken] to resolve a usable token.
func (c *Client) Token() string {
	tok, ok := c.cache.Get()
	if !ok {
		return ""
	}
	return tok.Value
}

// ClearToken drops the local token and announces the clear to sibling
// processes. Called on logout.
func (c *Client) ClearToken(ctx context.Context) {
	c.cache.Clear()
	c.publish(ctx, coordinate.Message{
		Type:   coordinate.MessageTokenCleared,
		Origin: c.ownerID,
	})
	c.emit(ctx, Event{EventType: EventTokenCleared, Success: true})
}

// handleBroadcast applies a sibling's announcement to the local cache. The
// last announcement received wins; both tokens in a redundant-refresh race
// are independently valid.
func (c *Client) handleBroadcast(msg coordinate.Message) {
	if msg.Origin == c.ownerID {
		return
	}

	switch msg.Type {
	case coordinate.MessageTokenRefreshed:
		adopted := token.Token{
			Value:     msg.Token,
			ExpiresAt: time.UnixMilli(msg.ExpiresAt),
		}
		c.cache.Set(adopted)
		c.metricInc(MetricBroadcastAdopted)
		c.logger.Debug("adopted broadcast token",
			zap.String("origin", msg.Origin),
			zap.Time("expires_at", adopted.ExpiresAt))
		c.emit(context.Background(), Event{
			EventType: EventBroadcastAdopted,
			ExpiresAt: adopted.ExpiresAt,
			Success:   true,
			Metadata:  map[string]string{"origin": msg.Origin},
		})
	case coordinate.MessageTokenCleared:
		c.cache.Clear()
		c.logger.Debug("cleared token on broadcast", zap.String("origin", msg.Origin))
		c.emit(context.Background(), Event{
			EventType: EventTokenCleared,
			Success:   true,
			Metadata:  map[string]string{"origin": msg.Origin},
		})
	}
}

func (c *Client) publish(ctx context.Context, msg coordinate.Message) {
	if c.coordinator == nil {
		return
	}
	if err := c.coordinator.Publish(ctx, msg); err != nil {
		c.logger.Warn("broadcast publish failed", zap.Error(err))
	}
}

func (c *Client) emit(ctx context.Context, event Event) {
	if c.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if event.Owner == "" {
		event.Owner = c.ownerID
	}
	c.events.Emit(ctx, event)
}

func (c *Client) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
