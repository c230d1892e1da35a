package internaldefs

import (
	backendauth "github.com/optiview/backendauth"
)

// CounterDef maps one core counter to its exported name and help text.
type CounterDef struct {
	ID   backendauth.MetricID
	Name string
	Help string
}

// HistogramDef maps one core histogram to its exported name and help text.
type HistogramDef struct {
	ID   backendauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: backendauth.MetricTokenCacheHit, Name: "backendauth_token_cache_hit_total", Help: "Token resolutions served from the fresh in-memory cache."},
	{ID: backendauth.MetricTokenCacheMiss, Name: "backendauth_token_cache_miss_total", Help: "Token resolutions that found no fresh cached token."},
	{ID: backendauth.MetricRefreshSuccess, Name: "backendauth_refresh_success_total", Help: "Successful token endpoint refreshes."},
	{ID: backendauth.MetricRefreshFailure, Name: "backendauth_refresh_failure_total", Help: "Failed token endpoint refreshes."},
	{ID: backendauth.MetricRefreshJoined, Name: "backendauth_refresh_joined_total", Help: "Callers collapsed into an already in-flight refresh."},
	{ID: backendauth.MetricBroadcastAdopted, Name: "backendauth_broadcast_adopted_total", Help: "Tokens adopted from a sibling process's announcement."},
	{ID: backendauth.MetricLockAcquired, Name: "backendauth_lock_acquired_total", Help: "Refresh lock acquisitions."},
	{ID: backendauth.MetricLockContended, Name: "backendauth_lock_contended_total", Help: "Lock attempts that found a live lock held elsewhere."},
	{ID: backendauth.MetricLockForced, Name: "backendauth_lock_forced_total", Help: "Refreshes forced through after the contention wait lapsed."},
	{ID: backendauth.MetricUnauthorizedRetry, Name: "backendauth_unauthorized_retry_total", Help: "Requests retried once after a 401."},
	{ID: backendauth.MetricUnauthorizedFinal, Name: "backendauth_unauthorized_final_total", Help: "401 responses surfaced to callers after the single retry."},
	{ID: backendauth.MetricRequestBypassed, Name: "backendauth_request_bypassed_total", Help: "Requests delegated untouched outside the protected origin."},
}

// HistogramDefs lists every exported histogram in render order.
var HistogramDefs = []HistogramDef{
	{ID: backendauth.MetricRefreshLatency, Name: "backendauth_refresh_duration_seconds", Help: "Token refresh duration."},
}

// HistogramBounds are the Prometheus le labels for the 8 fixed buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the OTel-safe instrument name suffixes matching
// HistogramBounds index-for-index.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice into the fixed
// 8-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form both
// exporters expose.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
