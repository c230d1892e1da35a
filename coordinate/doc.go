// Package coordinate provides the cross-process primitives behind shared
// token refresh: a TTL-bounded refresh lock and a publish/subscribe channel
// for token lifecycle announcements.
//
// # Two implementations
//
// [Redis] coordinates client processes of the same backend through a shared
// Redis: the lock is SET NX PX (the TTL reclaims a lock abandoned by a
// crashed holder) and announcements travel over pub/sub. [Local] keeps the
// same contract inside one process for deployments with a single client,
// selected at construction time rather than branched on per call.
//
// # Lock semantics
//
// The lock is an election hint, not mutual exclusion: it can expire while its
// holder's refresh is still in flight, letting a second process start a
// redundant refresh. Both resulting tokens are independently valid and the
// last announcement wins, so the race is self-healing.
//
// # What this package must NOT do
//
//   - Hold token state. It moves messages and owns the lock key, nothing else.
//   - Retry or wait. Bounded waiting is refresh-coordinator policy.
package coordinate
