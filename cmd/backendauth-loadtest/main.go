package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/optiview/backendauth"
)

func main() {
	var (
		clients     = flag.Int("clients", 8, "number of coordinating client processes to simulate")
		concurrency = flag.Int("concurrency", 64, "number of concurrent request workers")
		ops         = flag.Int("ops", 50000, "protected API requests to issue")
		tokenTTL    = flag.Duration("token-ttl", 15*time.Second, "lifetime of tokens issued by the stub endpoint")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	var refreshCalls atomic.Int64
	var apiCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/backend-token", func(w http.ResponseWriter, _ *http.Request) {
		n := refreshCalls.Add(1)
		expiresAt := time.Now().Add(*tokenTTL).UnixMilli()
		fmt.Fprintf(w, `{"token":"loadtest-%d","expires_at":%d}`, n, expiresAt)
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := backendauth.DefaultConfig()
	cfg.Token.EndpointURL = srv.URL + "/api/auth/backend-token"
	cfg.API.BaseURL = srv.URL
	// Keep headroom inside the configured TTL so refreshes actually recur
	// during the run.
	if cfg.Token.FreshnessMargin >= *tokenTTL {
		cfg.Token.FreshnessMargin = *tokenTTL / 3
	}

	pool := make([]*backendauth.Client, *clients)
	for i := range pool {
		client, err := backendauth.New().
			WithConfig(cfg).
			WithRedis(rdb).
			WithHTTPClient(srv.Client()).
			WithMetricsEnabled(true).
			WithLatencyHistograms(true).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build client %d failed: %v\n", i, err)
			os.Exit(1)
		}
		defer client.Close()
		pool[i] = client
	}

	fmt.Printf("running %d ops across %d clients with %d workers...\n", *ops, *clients, *concurrency)

	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, *ops)
		mu        sync.Mutex
	)

	ctx := context.Background()
	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= *ops {
					return
				}
				client := pool[i%len(pool)]

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/data", nil)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}

				t0 := time.Now()
				resp, err := client.Do(req)
				d := time.Since(t0)
				if err != nil || resp.StatusCode != http.StatusOK {
					atomic.AddInt64(&failures, 1)
				}
				if resp != nil {
					resp.Body.Close()
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	fmt.Println("---- results ----")
	printStats("request", computeStats(total, latencies, failures))
	fmt.Printf("endpoint refreshes=%d api calls=%d\n", refreshCalls.Load(), apiCalls.Load())

	var success, joined, contended, adopted, forced uint64
	for _, client := range pool {
		snap := client.MetricsSnapshot()
		success += snap.Counters[backendauth.MetricRefreshSuccess]
		joined += snap.Counters[backendauth.MetricRefreshJoined]
		contended += snap.Counters[backendauth.MetricLockContended]
		adopted += snap.Counters[backendauth.MetricBroadcastAdopted]
		forced += snap.Counters[backendauth.MetricLockForced]
	}
	fmt.Printf("refresh: success=%d joined=%d contended=%d adopted=%d forced=%d\n",
		success, joined, contended, adopted, forced)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
