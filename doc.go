// Package backendauth provides a shared bearer-token cache and an
// authenticated HTTP client for the protected backend API.
//
// A short-lived token is fetched from a cookie-authenticated token endpoint,
// cached in process memory, and coordinated across client processes of the
// same backend: a TTL-bounded Redis lock elects a single refresher and a
// pub/sub channel announces refreshed/cleared tokens so siblings adopt the
// result instead of stampeding the endpoint. Requests to the protected
// origin get the token attached and one transparent refresh-and-retry on 401.
//
// The package is designed for concurrent use: Client methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// backendauth is the public surface. It exposes [Client], [Builder],
// [Config], and value types (MetricsSnapshot, Event). Token state lives in
// token/, coordination primitives in coordinate/; neither decides refresh
// policy.
//
// # What this package must NOT do
//
//   - Persist tokens. The cache is memory only; a restart starts cold.
//   - Turn HTTP status codes into errors. A 401 that survives the single
//     retry is returned to the caller as a response.
//   - Promise linearizable cross-process mutual exclusion. The refresh lock
//     is TTL-bounded; a redundant refresh after lock expiry is accepted and
//     self-healing.
package backendauth
