package coordinate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// Redis coordinates refreshes across processes through a shared Redis.
//
// The lock key holds the owner ID with a PX TTL, so an abandoned lock heals
// itself without a reaper. Announcements use pub/sub on a fixed channel; any
// two clients configured with the same key and channel interoperate.
type Redis struct {
	client  redis.UniversalClient
	lockKey string
	channel string

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
	closed  bool
}

// NewRedis creates a Redis transport using the given lock key and broadcast
// channel name. The client is borrowed, not owned: Close stops subscriptions
// but leaves the client open.
func NewRedis(client redis.UniversalClient, lockKey, channel string) *Redis {
	return &Redis{
		client:  client,
		lockKey: lockKey,
		channel: channel,
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

// AcquireLock takes the refresh lock via SET NX PX. Redis expires the key
// after ttl, which is what lets any process reclaim a stale lock.
func (r *Redis) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.lockKey, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock only while owner still holds it, using a Lua
// compare-and-del so a lock stolen after expiry is never released from under
// its new holder.
func (r *Redis) ReleaseLock(ctx context.Context, owner string) error {
	if err := releaseLockLua.Run(ctx, r.client, []string{r.lockKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// LockOwner reports the live lock holder, if any.
func (r *Redis) LockOwner(ctx context.Context) (string, bool, error) {
	owner, err := r.client.Get(ctx, r.lockKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return owner, true, nil
}

// Publish sends msg to every subscriber on the channel.
func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Subscribe starts a pub/sub consumer delivering decoded messages to handler.
// Messages that fail to decode are dropped; the channel is shared with other
// deployments only by configuration, never by protocol negotiation.
func (r *Redis) Subscribe(handler Handler) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrBackendUnavailable
	}
	pubsub := r.client.Subscribe(context.Background(), r.channel)
	r.pubsubs[pubsub] = struct{}{}
	r.mu.Unlock()

	go func() {
		for raw := range pubsub.Channel() {
			if msg, ok := decodeMessage([]byte(raw.Payload)); ok {
				handler(msg)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.pubsubs, pubsub)
			r.mu.Unlock()
			_ = pubsub.Close()
		})
	}
	return stop, nil
}

// Close stops every active subscription. The Redis client itself is left to
// its owner.
func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	open := make([]*redis.PubSub, 0, len(r.pubsubs))
	for ps := range r.pubsubs {
		open = append(open, ps)
	}
	r.pubsubs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for _, ps := range open {
		_ = ps.Close()
	}
	return nil
}
