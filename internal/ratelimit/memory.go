package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limiter tracks attempts per (identifier, action, origin) in a sliding
// window and blocks keys past their threshold. Backends may be in-process or
// shared; the login path is agnostic.
type Limiter interface {
	Allow(ctx context.Context, identifier, action, origin string) (Decision, error)
}

// MemoryLimiter is the in-process backend. State does not survive restarts;
// deployments spanning instances use the Redis backend instead.
type MemoryLimiter struct {
	mu       sync.Mutex
	policies map[string]Policy
	windows  map[string]*window
	now      func() time.Time
	maxKeys  int
}

type window struct {
	count        int
	resetAt      time.Time
	blockedUntil time.Time
}

// MemoryOption configures MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithPolicy overrides the policy for one action.
func WithPolicy(action string, p Policy) MemoryOption {
	return func(l *MemoryLimiter) { l.policies[action] = p }
}

// WithNow overrides the time source (useful for tests).
func WithNow(fn func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithMaxKeys caps tracked keys; stale windows are collected when the cap is
// reached.
func WithMaxKeys(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// NewMemoryLimiter constructs the in-process limiter with default policies.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		policies: DefaultPolicies(),
		windows:  make(map[string]*window),
		now:      time.Now,
		maxKeys:  100000,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Limiter = (*MemoryLimiter)(nil)

// Allow records one attempt. Attempts during a block are rejected without
// incrementing; after the block elapses the window fully resets.
func (l *MemoryLimiter) Allow(_ context.Context, identifier, action, origin string) (Decision, error) {
	policy, ok := l.policies[action]
	if !ok || policy.MaxAttempts <= 0 {
		return Decision{Allowed: true}, nil
	}
	key := Key(identifier, action, origin)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if exists {
		if !w.blockedUntil.IsZero() {
			if now.Before(w.blockedUntil) {
				return Decision{
					Allowed:      false,
					RetryAfter:   w.blockedUntil.Sub(now),
					BlockedUntil: w.blockedUntil,
				}, nil
			}
			// block elapsed: the window restarts with this attempt
			delete(l.windows, key)
			exists = false
		} else if now.After(w.resetAt) {
			delete(l.windows, key)
			exists = false
		}
	}
	if !exists {
		if len(l.windows) >= l.maxKeys {
			l.collect(now)
		}
		if len(l.windows) >= l.maxKeys {
			return Decision{}, errors.New("ratelimit: key capacity exceeded")
		}
		w = &window{resetAt: now.Add(policy.Window)}
		l.windows[key] = w
	}

	w.count++
	if w.count >= policy.MaxAttempts {
		w.blockedUntil = w.resetAt.Add(policy.BlockDuration)
	}
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxAttempts - w.count,
	}, nil
}

// Sweep drops expired windows. Periodic maintenance calls it; nothing in the
// request path depends on it.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.windows)
	l.collect(l.now())
	return before - len(l.windows)
}

func (l *MemoryLimiter) collect(now time.Time) {
	for key, w := range l.windows {
		expired := now.After(w.resetAt)
		if !w.blockedUntil.IsZero() {
			expired = now.After(w.blockedUntil)
		}
		if expired {
			delete(l.windows, key)
		}
	}
}
