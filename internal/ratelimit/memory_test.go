package ratelimit

import (
	"context"
	"testing"
	"time"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestWindowAllowsUpToThreshold(t *testing.T) {
	now, _ := testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(
		WithNow(now),
		WithPolicy(ActionLogin, Policy{MaxAttempts: 3, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute}),
	)

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(context.Background(), "u1", ActionLogin, "203.0.113.1")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d within threshold must be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Fatalf("attempt %d: remaining %d, want %d", i, d.Remaining, 3-i)
		}
	}

	// the (max+1)-th attempt is rejected and does not increment
	d, err := l.Allow(context.Background(), "u1", ActionLogin, "203.0.113.1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("attempt past threshold must be rejected")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", d.RetryAfter)
	}
}

func TestBlockExpiresAndWindowRestarts(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(
		WithNow(now),
		WithPolicy(ActionLogin, Policy{MaxAttempts: 2, Window: 10 * time.Minute, BlockDuration: 20 * time.Minute}),
	)

	for i := 0; i < 2; i++ {
		if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "o"); !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "o"); d.Allowed {
		t.Fatalf("expected block")
	}

	// inside window + block the key stays rejected
	advance(25 * time.Minute)
	if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "o"); d.Allowed {
		t.Fatalf("still blocked at window+15m")
	}

	// past window + blockDuration the next attempt restarts the window
	advance(10 * time.Minute)
	d, _ := l.Allow(context.Background(), "u1", ActionLogin, "o")
	if !d.Allowed {
		t.Fatalf("expected fresh window after block elapsed")
	}
	if d.Remaining != 1 {
		t.Fatalf("window did not restart: remaining %d", d.Remaining)
	}
}

func TestWindowResetWithoutBlock(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(
		WithNow(now),
		WithPolicy(ActionLogin, Policy{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute}),
	)

	for i := 0; i < 3; i++ {
		if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "o"); !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	advance(16 * time.Minute)
	d, _ := l.Allow(context.Background(), "u1", ActionLogin, "o")
	if !d.Allowed || d.Remaining != 4 {
		t.Fatalf("expected reset window, got %+v", d)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now, _ := testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(
		WithNow(now),
		WithPolicy(ActionLogin, Policy{MaxAttempts: 1, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute}),
	)

	if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "ip1"); !d.Allowed {
		t.Fatalf("first attempt should pass")
	}
	if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "ip1"); d.Allowed {
		t.Fatalf("same key should block")
	}
	// different origin, action or identifier each get their own window
	if d, _ := l.Allow(context.Background(), "u1", ActionLogin, "ip2"); !d.Allowed {
		t.Fatalf("different origin should not share the window")
	}
	if d, _ := l.Allow(context.Background(), "u1", ActionPasswordReset, "ip1"); !d.Allowed {
		t.Fatalf("different action should not share the window")
	}
	if d, _ := l.Allow(context.Background(), "u2", ActionLogin, "ip1"); !d.Allowed {
		t.Fatalf("different identifier should not share the window")
	}
}

func TestUnknownActionIsUnlimited(t *testing.T) {
	l := NewMemoryLimiter()
	for i := 0; i < 500; i++ {
		d, err := l.Allow(context.Background(), "u1", "unconfigured", "o")
		if err != nil || !d.Allowed {
			t.Fatalf("unconfigured action must pass through")
		}
	}
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(
		WithNow(now),
		WithPolicy(ActionLogin, Policy{MaxAttempts: 5, Window: 10 * time.Minute, BlockDuration: 10 * time.Minute}),
	)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := l.Allow(context.Background(), id, ActionLogin, "o"); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}
	if dropped := l.Sweep(); dropped != 0 {
		t.Fatalf("nothing should be expired yet, dropped %d", dropped)
	}
	advance(11 * time.Minute)
	if dropped := l.Sweep(); dropped != 3 {
		t.Fatalf("expected 3 expired windows, dropped %d", dropped)
	}
}
