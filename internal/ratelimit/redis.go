package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares window state across instances through Redis. The count
// and block for a key live in two Redis keys; the Lua script keeps the
// read-modify-write atomic so concurrent logins cannot under-count.
type RedisLimiter struct {
	client   *redis.Client
	policies map[string]Policy
	prefix   string
}

// allowScript returns {-1, blockTTLms} while a key is blocked. Otherwise it
// increments the window counter, arms the block once the threshold is
// reached, and returns {count, windowTTLms}. Deleting the counter at block
// time makes the window restart cleanly after the block expires.
var allowScript = redis.NewScript(`
local blocked = redis.call("PTTL", KEYS[2])
if blocked > 0 then
  return {-1, blocked}
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
if count >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "1", "PX", ttl + tonumber(ARGV[3]))
  redis.call("DEL", KEYS[1])
end
return {count, ttl}
`)

// RedisOption configures RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisPolicy overrides the policy for one action.
func WithRedisPolicy(action string, p Policy) RedisOption {
	return func(l *RedisLimiter) { l.policies[action] = p }
}

// WithKeyPrefix namespaces the Redis keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// NewRedisLimiter constructs the shared backend.
func NewRedisLimiter(client *redis.Client, opts ...RedisOption) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	l := &RedisLimiter{
		client:   client,
		policies: DefaultPolicies(),
		prefix:   "rl",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) Allow(ctx context.Context, identifier, action, origin string) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok || policy.MaxAttempts <= 0 {
		return Decision{Allowed: true}, nil
	}
	key := l.prefix + ":" + Key(identifier, action, origin)
	blockKey := key + ":block"

	result, err := allowScript.Run(ctx, l.client,
		[]string{key, blockKey},
		policy.Window.Milliseconds(),
		policy.MaxAttempts,
		policy.BlockDuration.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("ratelimit: unexpected redis response")
	}
	count, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("ratelimit: invalid redis counter")
	}
	ttlMillis, _ := values[1].(int64)

	if count < 0 {
		retry := time.Duration(ttlMillis) * time.Millisecond
		return Decision{
			Allowed:      false,
			RetryAfter:   retry,
			BlockedUntil: time.Now().Add(retry),
		}, nil
	}
	remaining := policy.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}
