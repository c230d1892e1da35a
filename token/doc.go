// Package token provides the in-memory bearer token cache and the token
// endpoint client used by the backendauth refresh coordinator.
//
// # Freshness
//
// A token is fresh when the current time is more than a configured margin
// before its expiry, so a token is never attached to a request it could
// expire under. The margin belongs to the caller, not the token: [Token.Fresh]
// takes it as a parameter and [Cache] stores nothing beyond the token itself.
//
// # What this package must NOT do
//
//   - Persist tokens anywhere. The cache is process memory only; cross-process
//     sharing is the coordinate package's job.
//   - Decide when to refresh. That policy lives in the root package.
package token
