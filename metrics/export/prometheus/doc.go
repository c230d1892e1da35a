// Package prometheus provides Prometheus collectors for backendauth metrics.
//
// [NewPrometheusExporter] accepts a [backendauth.Client] and exposes an [http.Handler]
// that renders all backendauth counters and histograms in Prometheus text exposition
// format. Counter names are prefixed backendauth_*_total; the single histogram is
// backendauth_refresh_duration_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate client state.
package prometheus
