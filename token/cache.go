package token

import (
	"sync"
	"time"
)

// Cache holds the process-local bearer token.
//
// All access is mutex-guarded; readers get a copy, so a caller never observes
// a partially written token. The clock is injected so tests can drive
// freshness without sleeping.
type Cache struct {
	mu  sync.RWMutex
	tok Token
	now func() time.Time
}

// NewCache creates an empty cache. A nil now defaults to time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{now: now}
}

// Get returns the cached token and whether one is present. Presence says
// nothing about freshness; use [Cache.Fresh] for that.
func (c *Cache) Get() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tok, c.tok.Value != ""
}

// Fresh reports whether the cached token satisfies the freshness margin.
func (c *Cache) Fresh(margin time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tok.Fresh(c.now(), margin)
}

// Set replaces the cached token. Last write wins: broadcast adoption and
// local refresh results go through the same path.
func (c *Cache) Set(t Token) {
	c.mu.Lock()
	c.tok = t
	c.mu.Unlock()
}

// Clear drops the cached token. Called on logout, on a refresh failure, and
// on a cleared broadcast from a sibling process.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.tok = Token{}
	c.mu.Unlock()
}

// Now returns the cache's current time. Exposed so the owning client shares
// one clock with the cache.
func (c *Cache) Now() time.Time {
	return c.now()
}
