package coordinate

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable wraps coordination backend failures. Callers treat
// coordination as best-effort: a refresh proceeds even when the lock or the
// channel is unreachable.
var ErrBackendUnavailable = errors.New("coordination backend unavailable")

// Handler receives broadcast messages. It is called from the transport's
// delivery goroutine and must not block.
type Handler func(Message)

// Transport is the strategy interface for cross-process refresh coordination.
//
// Implementations provide a single TTL-bounded lock and a broadcast channel
// shared by every client of the same backend.
type Transport interface {
	// AcquireLock attempts to take the refresh lock for owner with the given
	// TTL. It returns false when a live lock is held by another owner. An
	// expired lock may be taken immediately by anyone.
	AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the lock iff it is still held by owner. Releasing
	// a lock that expired or was taken over is a no-op.
	ReleaseLock(ctx context.Context, owner string) error

	// LockOwner returns the current live lock holder, if any.
	LockOwner(ctx context.Context) (string, bool, error)

	// Publish sends a message to every subscriber, including the publisher's
	// own process.
	Publish(ctx context.Context, msg Message) error

	// Subscribe registers a handler for broadcast messages and returns a stop
	// function that unregisters it.
	Subscribe(handler Handler) (func(), error)

	// Close releases transport resources. Subscriptions stop delivering after
	// Close returns.
	Close() error
}
