package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func newRegistry(t *testing.T, opts ...Option) (*Registry, *audit.MemoryStore) {
	t.Helper()
	events := audit.NewMemoryStore()
	sink, err := audit.NewSink(events)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	reg, err := NewRegistry(sink, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg, events
}

func eventCount(t *testing.T, events *audit.MemoryStore, eventType string) int {
	t.Helper()
	got, err := events.List(context.Background(), audit.Filter{Type: eventType})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return len(got)
}

func TestAdmitAndTouch(t *testing.T) {
	reg, events := newRegistry(t)

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "203.0.113.9", "cli/1.0"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got := reg.Touch(context.Background(), "tok-1", "203.0.113.9"); got != TouchValid {
		t.Fatalf("Touch = %v, want valid", got)
	}
	if n := eventCount(t, events, audit.EventSessionAdmitted); n != 1 {
		t.Fatalf("expected one admission event, got %d", n)
	}
}

func TestAdmitRejectsEmptyPrincipal(t *testing.T) {
	reg, _ := newRegistry(t)
	if err := reg.Admit(context.Background(), "t1", "", "tok-1", "", ""); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := reg.Admit(context.Background(), "t1", "p1", "  ", "", ""); err == nil {
		t.Fatalf("expected validation error for blank token")
	}
}

func TestAdmitSameTokenOtherPrincipalReleasesOldOwner(t *testing.T) {
	reg, _ := newRegistry(t)

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-shared", "", ""); err != nil {
		t.Fatalf("Admit p1: %v", err)
	}
	if err := reg.Admit(context.Background(), "t1", "p2", "tok-shared", "", ""); err != nil {
		t.Fatalf("Admit p2: %v", err)
	}
	if n := reg.Active("p1"); n != 0 {
		t.Fatalf("old owner still counted: Active(p1) = %d", n)
	}
	if n := reg.Active("p2"); n != 1 {
		t.Fatalf("Active(p2) = %d, want 1", n)
	}
	if got := reg.Touch(context.Background(), "tok-shared", ""); got != TouchValid {
		t.Fatalf("Touch = %v, want valid", got)
	}
}

func TestCapEvictsLeastRecentlyActive(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	now, advance := testClock(start)
	reg, events := newRegistry(t, WithClock(now))

	for i := 0; i < DefaultCap; i++ {
		if err := reg.Admit(context.Background(), "t1", "p1", fmt.Sprintf("tok-%d", i), "", ""); err != nil {
			t.Fatalf("Admit: %v", err)
		}
		advance(time.Minute)
	}
	// touch the oldest so tok-1 becomes the eviction candidate
	if got := reg.Touch(context.Background(), "tok-0", ""); got != TouchValid {
		t.Fatalf("Touch tok-0 = %v", got)
	}
	advance(time.Minute)

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-new", "", ""); err != nil {
		t.Fatalf("Admit over cap: %v", err)
	}
	if n := reg.Active("p1"); n != DefaultCap {
		t.Fatalf("cap violated: %d active", n)
	}
	if got := reg.Touch(context.Background(), "tok-1", ""); got != TouchExpired {
		t.Fatalf("tok-1 should have been evicted, Touch = %v", got)
	}
	if got := reg.Touch(context.Background(), "tok-0", ""); got != TouchValid {
		t.Fatalf("tok-0 should have survived, Touch = %v", got)
	}
	if n := eventCount(t, events, audit.EventSessionEvicted); n != 1 {
		t.Fatalf("expected one eviction event, got %d", n)
	}
}

func TestReadmittingSameTokenDoesNotEvict(t *testing.T) {
	reg, events := newRegistry(t, WithCap(1))

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "", ""); err != nil {
		t.Fatalf("re-Admit: %v", err)
	}
	if n := reg.Active("p1"); n != 1 {
		t.Fatalf("active = %d, want 1", n)
	}
	if n := eventCount(t, events, audit.EventSessionEvicted); n != 0 {
		t.Fatalf("replacing a token must not evict, got %d events", n)
	}
}

func TestIdleTimeoutExpires(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	now, advance := testClock(start)
	reg, _ := newRegistry(t, WithClock(now))

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	advance(DefaultIdleTimeout - time.Minute)
	if got := reg.Touch(context.Background(), "tok-1", ""); got != TouchValid {
		t.Fatalf("session expired early: %v", got)
	}
	// the touch above restarted the idle window
	advance(DefaultIdleTimeout + time.Minute)
	if got := reg.Touch(context.Background(), "tok-1", ""); got != TouchExpired {
		t.Fatalf("session should have idled out, got %v", got)
	}
	if n := reg.Active("p1"); n != 0 {
		t.Fatalf("expired session still counted: %d", n)
	}
}

func TestUnknownTokenReadsExpired(t *testing.T) {
	reg, _ := newRegistry(t)
	if got := reg.Touch(context.Background(), "no-such", ""); got != TouchExpired {
		t.Fatalf("Touch unknown = %v, want expired", got)
	}
}

func TestOriginMismatchLogsButKeepsSession(t *testing.T) {
	reg, events := newRegistry(t)

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "203.0.113.9", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got := reg.Touch(context.Background(), "tok-1", "198.51.100.7"); got != TouchMismatch {
		t.Fatalf("Touch = %v, want mismatch", got)
	}
	// still valid from the admitted origin
	if got := reg.Touch(context.Background(), "tok-1", "203.0.113.9"); got != TouchValid {
		t.Fatalf("mismatch must not revoke by default, got %v", got)
	}
	got, _ := events.List(context.Background(), audit.Filter{Type: audit.EventSessionOriginMismatch})
	if len(got) != 1 {
		t.Fatalf("expected one mismatch event, got %d", len(got))
	}
	if got[0].Reason != "expected_origin:203.0.113.9" {
		t.Fatalf("unexpected reason %q", got[0].Reason)
	}
}

func TestOriginMismatchRevokesWhenConfigured(t *testing.T) {
	reg, events := newRegistry(t, WithRevokeOnOriginMismatch(true))

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "203.0.113.9", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got := reg.Touch(context.Background(), "tok-1", "198.51.100.7"); got != TouchMismatch {
		t.Fatalf("Touch = %v, want mismatch", got)
	}
	if got := reg.Touch(context.Background(), "tok-1", "203.0.113.9"); got != TouchExpired {
		t.Fatalf("session should be revoked, got %v", got)
	}
	if n := eventCount(t, events, audit.EventSessionRevoked); n != 1 {
		t.Fatalf("expected one revocation event, got %d", n)
	}
}

func TestRevoke(t *testing.T) {
	reg, events := newRegistry(t)

	if err := reg.Admit(context.Background(), "t1", "p1", "tok-1", "", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	reg.Revoke(context.Background(), "tok-1", "logout")
	if got := reg.Touch(context.Background(), "tok-1", ""); got != TouchExpired {
		t.Fatalf("revoked session still touchable: %v", got)
	}
	got, _ := events.List(context.Background(), audit.Filter{Type: audit.EventSessionRevoked})
	if len(got) != 1 || got[0].Reason != "logout" {
		t.Fatalf("unexpected revocation events: %+v", got)
	}

	// revoking again is a quiet no-op
	reg.Revoke(context.Background(), "tok-1", "logout")
	if n := eventCount(t, events, audit.EventSessionRevoked); n != 1 {
		t.Fatalf("double revoke logged twice")
	}
}

func TestRevokeAll(t *testing.T) {
	reg, _ := newRegistry(t)

	for i := 0; i < 3; i++ {
		if err := reg.Admit(context.Background(), "t1", "p1", fmt.Sprintf("tok-%d", i), "", ""); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	if err := reg.Admit(context.Background(), "t1", "p2", "other", "", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if n := reg.RevokeAll(context.Background(), "p1", "account_locked"); n != 3 {
		t.Fatalf("RevokeAll = %d, want 3", n)
	}
	if reg.Active("p1") != 0 || reg.Active("p2") != 1 {
		t.Fatalf("RevokeAll scope wrong: p1=%d p2=%d", reg.Active("p1"), reg.Active("p2"))
	}
}

func TestSweep(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	now, advance := testClock(start)
	reg, _ := newRegistry(t, WithClock(now))

	if err := reg.Admit(context.Background(), "t1", "p1", "stale", "", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	advance(DefaultIdleTimeout + time.Minute)
	if err := reg.Admit(context.Background(), "t1", "p1", "fresh", "", ""); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if n := reg.Sweep(context.Background()); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if got := reg.Touch(context.Background(), "fresh", ""); got != TouchValid {
		t.Fatalf("fresh session swept: %v", got)
	}
}

func TestConcurrentAdmitsRespectCap(t *testing.T) {
	reg, _ := newRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = reg.Admit(context.Background(), "t1", "p1", fmt.Sprintf("tok-%d", i), "", "")
		}(i)
	}
	wg.Wait()

	if n := reg.Active("p1"); n != DefaultCap {
		t.Fatalf("active = %d, want %d", n, DefaultCap)
	}
}
