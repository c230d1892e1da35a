package coordinate

import (
	"context"
	"sync"
	"time"
)

// Local is the single-process transport: the same lock and broadcast contract
// as [Redis], kept in memory. Also the seam integration tests use to wire
// several clients to one coordination domain without Redis.
type Local struct {
	now func() time.Time

	mu       sync.Mutex
	owner    string
	expires  time.Time
	handlers map[int]Handler
	nextID   int
	closed   bool
}

// NewLocal creates a Local transport. A nil now defaults to time.Now.
func NewLocal(now func() time.Time) *Local {
	if now == nil {
		now = time.Now
	}
	return &Local{
		now:      now,
		handlers: make(map[int]Handler),
	}
}

// AcquireLock takes the lock when it is free or its TTL has lapsed.
func (l *Local) AcquireLock(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" && l.now().Before(l.expires) {
		return false, nil
	}
	l.owner = owner
	l.expires = l.now().Add(ttl)
	return true, nil
}

// ReleaseLock frees the lock iff owner still holds it.
func (l *Local) ReleaseLock(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
		l.expires = time.Time{}
	}
	return nil
}

// LockOwner reports the live holder; an expired lock reads as free.
func (l *Local) LockOwner(context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == "" || !l.now().Before(l.expires) {
		return "", false, nil
	}
	return l.owner, true, nil
}

// Publish delivers msg synchronously to every registered handler.
func (l *Local) Publish(_ context.Context, msg Message) error {
	if !msg.Valid() {
		return nil
	}
	l.mu.Lock()
	handlers := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Subscribe registers handler and returns its stop function.
func (l *Local) Subscribe(handler Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrBackendUnavailable
	}
	id := l.nextID
	l.nextID++
	l.handlers[id] = handler

	var once sync.Once
	stop := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
	return stop, nil
}

// Close drops all handlers and rejects further subscriptions.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = make(map[int]Handler)
	return nil
}
