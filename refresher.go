package backendauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/optiview/backendauth/coordinate"
)

// AccessToken resolves a bearer token: the cached one when still fresh,
// otherwise the result of a (possibly shared) refresh. Concurrent callers in
// one process collapse into a single token endpoint call; across processes
// the refresh lock elects a single refresher, best-effort.
//
// On failure the cache is cleared, siblings are notified, and
// [ErrTokenUnavailable] is returned; callers are expected to proceed
// unauthenticated rather than fail hard.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.resolveToken(ctx, false)
}

// ForceRefresh drops the cached token and performs a refresh regardless of
// freshness. Used after a 401 proved the cached token dead.
func (c *Client) ForceRefresh(ctx context.Context) (string, error) {
	c.refreshGen.Add(1)
	c.cache.Clear()
	return c.resolveToken(ctx, true)
}

func (c *Client) resolveToken(ctx context.Context, force bool) (string, error) {
	if c.isClosed() {
		return "", ErrClientClosed
	}

	if !force {
		if tok, ok := c.cache.Get(); ok && tok.Fresh(c.now(), c.config.Token.FreshnessMargin) {
			c.metricInc(MetricTokenCacheHit)
			return tok.Value, nil
		}
		c.metricInc(MetricTokenCacheMiss)
	}

	// Single-flight within the process: concurrent callers share one refresh.
	// The flight runs on a context detached from the first caller so a caller
	// cancellation cannot poison the shared result; every stage inside is
	// individually bounded. Keying the flight on the refresh generation keeps
	// a forced refresh from joining a pre-401 flight that could resolve to
	// the very token the server just rejected.
	key := "refresh." + strconv.FormatUint(c.refreshGen.Load(), 10)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	if shared {
		c.metricInc(MetricRefreshJoined)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// doRefresh is the cross-process refresh cycle: elect a refresher via the
// lock, prefer adopting the winner's broadcast, hit the token endpoint only
// when still stale, then announce the outcome.
func (c *Client) doRefresh(ctx context.Context) (string, error) {
	start := time.Now()

	acquired, err := c.coordinator.AcquireLock(ctx, c.ownerID, c.config.Lock.TTL)
	switch {
	case err != nil:
		// Coordination is best-effort: with the backend unreachable there is
		// no holder to wait on, so refresh immediately without the lock.
		c.logger.Warn("refresh lock acquire failed", zap.Error(err))
	case !acquired:
		c.metricInc(MetricLockContended)
		c.emit(ctx, Event{EventType: EventLockContended, Success: true})
		c.logger.Debug("refresh lock contended, waiting for broadcast")

		if value, ok := c.awaitSibling(ctx); ok {
			return value, nil
		}

		// The holder went quiet past the wait budget. Try once more, then
		// force through without the lock: forward progress beats strict
		// mutual exclusion, and a redundant refresh is harmless.
		if acquired, err = c.coordinator.AcquireLock(ctx, c.ownerID, c.config.Lock.TTL); err != nil || !acquired {
			c.metricInc(MetricLockForced)
			c.logger.Debug("forcing refresh without lock")
		}
	}
	if acquired {
		c.metricInc(MetricLockAcquired)
		defer c.releaseLock(ctx)
	}

	// Another process may have refreshed between our staleness check and the
	// lock grant.
	if tok, ok := c.cache.Get(); ok && tok.Fresh(c.now(), c.config.Token.FreshnessMargin) {
		return tok.Value, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.config.Token.RequestTimeout)
	defer cancel()

	tok, err := c.endpoint.Fetch(fetchCtx)
	if err != nil {
		c.cache.Clear()
		c.publish(ctx, coordinate.Message{
			Type:   coordinate.MessageTokenCleared,
			Origin: c.ownerID,
		})
		c.metricInc(MetricRefreshFailure)
		c.emit(ctx, Event{EventType: EventRefreshFailed, Error: err.Error()})
		c.logger.Warn("token refresh failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}

	c.cache.Set(tok)
	c.publish(ctx, coordinate.Message{
		Type:      coordinate.MessageTokenRefreshed,
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt.UnixMilli(),
		Origin:    c.ownerID,
	})
	c.metricInc(MetricRefreshSuccess)
	c.metrics.Observe(MetricRefreshLatency, time.Since(start))
	c.emit(ctx, Event{EventType: EventRefreshSucceeded, ExpiresAt: tok.ExpiresAt, Success: true})
	c.logger.Debug("token refreshed", zap.Time("expires_at", tok.ExpiresAt))

	return tok.Value, nil
}

// awaitSibling waits up to Broadcast.WaitTimeout for the lock holder's
// refresh to land, polling the cache (fed by the broadcast subscription) and
// the lock state every Lock.PollInterval. Returns the adopted value, or
// ok=false when the budget lapsed or the lock was released without a usable
// token.
func (c *Client) awaitSibling(ctx context.Context) (string, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, c.config.Broadcast.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.Lock.PollInterval)
	defer ticker.Stop()

	for {
		if tok, ok := c.cache.Get(); ok && tok.Fresh(c.now(), c.config.Token.FreshnessMargin) {
			return tok.Value, true
		}

		if _, held, err := c.coordinator.LockOwner(waitCtx); err == nil && !held {
			// Holder finished (or its lock lapsed). Its announcement can still
			// be in flight, so give delivery one more poll before contending
			// for the lock again.
			select {
			case <-waitCtx.Done():
			case <-ticker.C:
			}
			if tok, ok := c.cache.Get(); ok && tok.Fresh(c.now(), c.config.Token.FreshnessMargin) {
				return tok.Value, true
			}
			return "", false
		}

		select {
		case <-waitCtx.Done():
			return "", false
		case <-ticker.C:
		}
	}
}

func (c *Client) releaseLock(ctx context.Context) {
	if err := c.coordinator.ReleaseLock(ctx, c.ownerID); err != nil {
		c.logger.Warn("refresh lock release failed", zap.Error(err))
	}
}
