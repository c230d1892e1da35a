package backendauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/optiview/backendauth/coordinate"
	"github.com/optiview/backendauth/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness wires a Client to a stub backend: the token endpoint counts its
// calls and issues tokens valid for tokenTTL on the harness clock.
type harness struct {
	client     *Client
	clock      *fakeClock
	srv        *httptest.Server
	tokenCalls atomic.Int64
	tokenTTL   time.Duration
	failToken  atomic.Bool
	mux        *http.ServeMux
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		tokenTTL: 300 * time.Second,
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/api/auth/backend-token", func(w http.ResponseWriter, _ *http.Request) {
		if h.failToken.Load() {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		n := h.tokenCalls.Add(1)
		fmt.Fprintf(w, `{"token":"tok-%d","expires_at":%d}`, n, h.clock.Now().Add(h.tokenTTL).UnixMilli())
	})

	h.srv = httptest.NewServer(h.mux)
	t.Cleanup(h.srv.Close)

	cfg := DefaultConfig()
	cfg.Token.EndpointURL = h.srv.URL + "/api/auth/backend-token"
	cfg.API.BaseURL = h.srv.URL
	// Short waits keep contention tests fast without changing semantics.
	cfg.Broadcast.WaitTimeout = 300 * time.Millisecond
	cfg.Lock.PollInterval = 20 * time.Millisecond
	cfg.Lock.TTL = 2 * time.Second

	client, err := New().
		WithConfig(cfg).
		WithHTTPClient(h.srv.Client()).
		WithClock(h.clock.Now).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)

	h.client = client
	return h
}

func TestAccessTokenFetchesOnceWhileFresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.client.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if first != "tok-1" {
		t.Fatalf("expected tok-1, got %q", first)
	}

	// Within the freshness window every call reuses the cached token.
	h.clock.Advance(200 * time.Second)
	for i := 0; i < 5; i++ {
		got, err := h.client.AccessToken(ctx)
		if err != nil {
			t.Fatalf("AccessToken failed: %v", err)
		}
		if got != "tok-1" {
			t.Fatalf("expected cached tok-1, got %q", got)
		}
	}
	if calls := h.tokenCalls.Load(); calls != 1 {
		t.Fatalf("expected 1 endpoint call, got %d", calls)
	}
}

func TestAccessTokenRefreshesPastFreshnessMargin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.client.AccessToken(ctx); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	// 300s token, 60s margin: at 241s the cached token is no longer fresh.
	h.clock.Advance(241 * time.Second)

	got, err := h.client.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if got != "tok-2" {
		t.Fatalf("expected refreshed tok-2, got %q", got)
	}
	if calls := h.tokenCalls.Load(); calls != 2 {
		t.Fatalf("expected 2 endpoint calls, got %d", calls)
	}
}

func TestAccessTokenSingleFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Slow the endpoint down so all callers overlap one flight.
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		n := h.tokenCalls.Add(1)
		fmt.Fprintf(w, `{"token":"tok-%d","expires_at":%d}`, n, h.clock.Now().Add(h.tokenTTL).UnixMilli())
	}))
	defer slow.Close()

	cfg := DefaultConfig()
	cfg.Token.EndpointURL = slow.URL + "/api/auth/backend-token"
	cfg.API.BaseURL = slow.URL
	client, err := New().
		WithConfig(cfg).
		WithHTTPClient(slow.Client()).
		WithClock(h.clock.Now).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer client.Close()

	const callers = 16
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := client.AccessToken(ctx)
			if err != nil {
				t.Errorf("AccessToken failed: %v", err)
				return
			}
			results <- got
		}()
	}

	// Let the callers pile up on the in-flight refresh, then release it.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if calls := h.tokenCalls.Load(); calls != 1 {
		t.Fatalf("expected exactly 1 endpoint call, got %d", calls)
	}
	for got := range results {
		if got != "tok-1" {
			t.Fatalf("caller received %q, want tok-1", got)
		}
	}
}

func TestRefreshFailureClearsCacheAndReturnsError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.client.AccessToken(ctx); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	h.failToken.Store(true)
	h.clock.Advance(h.tokenTTL) // cached token fully expired

	if _, err := h.client.AccessToken(ctx); !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("expected ErrTokenUnavailable, got %v", err)
	}
	if h.client.Token() != "" {
		t.Fatal("cache must be cleared after a failed refresh")
	}

	// Recovery on the next attempt once the endpoint heals.
	h.failToken.Store(false)
	got, err := h.client.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken after recovery failed: %v", err)
	}
	if got == "" {
		t.Fatal("expected a token after recovery")
	}
}

func TestForceRefreshBypassesFreshCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.client.AccessToken(ctx); err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}

	got, err := h.client.ForceRefresh(ctx)
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if got != "tok-2" {
		t.Fatalf("expected tok-2 from forced refresh, got %q", got)
	}
	if calls := h.tokenCalls.Load(); calls != 2 {
		t.Fatalf("expected 2 endpoint calls, got %d", calls)
	}
}

func TestRefreshContendedAdoptsSiblingBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A sibling, identified by a foreign owner, holds the lock and announces
	// its refresh while we wait.
	if ok, _ := h.client.coordinator.AcquireLock(ctx, "sibling", 2*time.Second); !ok {
		t.Fatal("sibling lock acquire failed")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = h.client.coordinator.Publish(ctx, coordinate.Message{
			Type:      coordinate.MessageTokenRefreshed,
			Token:     "sibling-token",
			ExpiresAt: h.clock.Now().Add(5 * time.Minute).UnixMilli(),
			Origin:    "sibling",
		})
	}()

	got, err := h.client.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if got != "sibling-token" {
		t.Fatalf("expected adopted sibling-token, got %q", got)
	}
	if calls := h.tokenCalls.Load(); calls != 0 {
		t.Fatalf("expected no endpoint calls, got %d", calls)
	}
}

func TestRefreshForcesThroughWhenHolderGoesQuiet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A sibling holds the lock for longer than the whole wait budget and
	// never broadcasts. The client must still make progress.
	if ok, _ := h.client.coordinator.AcquireLock(ctx, "sibling", time.Hour); !ok {
		t.Fatal("sibling lock acquire failed")
	}

	got, err := h.client.AccessToken(ctx)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if got != "tok-1" {
		t.Fatalf("expected tok-1 from forced refresh, got %q", got)
	}
	if v := h.client.MetricsSnapshot().Counters[MetricLockForced]; v != 1 {
		t.Fatalf("expected MetricLockForced=1, got %d", v)
	}
}

func TestAccessTokenAfterCloseFails(t *testing.T) {
	h := newHarness(t)
	h.client.Close()

	if _, err := h.client.AccessToken(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

// gatedCoordinator wraps Local so a test can park the lock acquire and
// release paths at precise points.
type gatedCoordinator struct {
	*coordinate.Local
	acquireEntered chan struct{}
	acquireRelease chan struct{}
	releaseEntered chan struct{}
	releaseRelease chan struct{}
	acquireOnce    sync.Once
	releaseOnce    sync.Once
}

func newGatedCoordinator(now func() time.Time) *gatedCoordinator {
	return &gatedCoordinator{
		Local:          coordinate.NewLocal(now),
		acquireEntered: make(chan struct{}),
		acquireRelease: make(chan struct{}),
		releaseEntered: make(chan struct{}),
		releaseRelease: make(chan struct{}),
	}
}

func (g *gatedCoordinator) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	g.acquireOnce.Do(func() { close(g.acquireEntered) })
	select {
	case <-g.acquireRelease:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return g.Local.AcquireLock(ctx, owner, ttl)
}

func (g *gatedCoordinator) ReleaseLock(ctx context.Context, owner string) error {
	g.releaseOnce.Do(func() { close(g.releaseEntered) })
	select {
	case <-g.releaseRelease:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Local.ReleaseLock(ctx, owner)
}

func TestForcedRefreshDoesNotJoinStaleFlight(t *testing.T) {
	clock := newFakeClock()

	var tokenCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := tokenCalls.Add(1)
		fmt.Fprintf(w, `{"token":"tok-%d","expires_at":%d}`, n, clock.Now().Add(300*time.Second).UnixMilli())
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Token.EndpointURL = srv.URL + "/api/auth/backend-token"
	cfg.API.BaseURL = srv.URL
	cfg.Broadcast.WaitTimeout = 2 * time.Second
	cfg.Lock.PollInterval = 10 * time.Millisecond
	cfg.Lock.TTL = 2 * time.Second

	gate := newGatedCoordinator(clock.Now)
	client, err := New().
		WithConfig(cfg).
		WithHTTPClient(srv.Client()).
		WithCoordinator(gate).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer client.Close()

	// First caller enters a refresh flight and parks inside the lock acquire.
	firstDone := make(chan string, 1)
	go func() {
		v, _ := client.AccessToken(context.Background())
		firstDone <- v
	}()
	<-gate.acquireEntered

	// A still-unexpired token lands in the cache while the flight is parked.
	// Once released, the flight resolves to it from the post-lock recheck,
	// then parks again inside the deferred lock release, still joinable.
	client.cache.Set(token.Token{Value: "stale", ExpiresAt: clock.Now().Add(10 * time.Minute)})
	close(gate.acquireRelease)
	<-gate.releaseEntered

	// A 401 has just proven "stale" dead. The forced refresh must not adopt
	// the parked flight's result.
	forcedDone := make(chan string, 1)
	go func() {
		v, ferr := client.ForceRefresh(context.Background())
		if ferr != nil {
			t.Errorf("ForceRefresh failed: %v", ferr)
		}
		forcedDone <- v
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.releaseRelease)

	if v := <-firstDone; v != "stale" {
		t.Fatalf("parked flight should resolve to the cached value, got %q", v)
	}
	if v := <-forcedDone; v != "tok-1" {
		t.Fatalf("forced refresh returned %q, want freshly issued tok-1", v)
	}
	if calls := tokenCalls.Load(); calls != 1 {
		t.Fatalf("expected 1 endpoint call, got %d", calls)
	}
}
