//go:build integration
// +build integration

package test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/optiview/backendauth"
)

// rig is a stub application backend plus the shared Redis every client under
// test coordinates through. Tokens count up so tests can assert exactly how
// many refreshes reached the endpoint.
type rig struct {
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	srv        *httptest.Server
	tokenCalls atomic.Int64
	tokenTTL   time.Duration
}

func newRig(t *testing.T) *rig {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	r := &rig{
		mr:       mr,
		rdb:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		tokenTTL: 5 * time.Minute,
	}
	t.Cleanup(func() { _ = r.rdb.Close() })

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/backend-token", func(w http.ResponseWriter, _ *http.Request) {
		n := r.tokenCalls.Add(1)
		fmt.Fprintf(w, `{"token":"itok-%d","expires_at":%d}`, n, time.Now().Add(r.tokenTTL).UnixMilli())
	})
	r.srv = httptest.NewServer(mux)
	t.Cleanup(r.srv.Close)

	return r
}

func (r *rig) config() backendauth.Config {
	cfg := backendauth.DefaultConfig()
	cfg.Token.EndpointURL = r.srv.URL + "/api/auth/backend-token"
	cfg.API.BaseURL = r.srv.URL
	// Tight enough that a test never waits long, loose enough that pub/sub
	// delivery always beats the forced-refresh fallback.
	cfg.Broadcast.WaitTimeout = 500 * time.Millisecond
	cfg.Lock.PollInterval = 20 * time.Millisecond
	cfg.Lock.TTL = 2 * time.Second
	return cfg
}

func (r *rig) newClient(t *testing.T) *backendauth.Client {
	t.Helper()

	client, err := backendauth.New().
		WithConfig(r.config()).
		WithRedis(r.rdb).
		WithHTTPClient(r.srv.Client()).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// settle gives go-redis pub/sub deliveries time to land.
func settle() {
	time.Sleep(150 * time.Millisecond)
}
