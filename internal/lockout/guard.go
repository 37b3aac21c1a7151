package lockout

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/obs"
)

// DefaultThreshold locks an account after this many failed attempts when the
// tenant has no threshold of its own.
const DefaultThreshold = 5

const systemActor = "system"

// Notification describes a lock transition for the external side channel.
type Notification struct {
	TenantID    string
	PrincipalID string
	Reason      string
	LockedAt    time.Time
}

// Notifier delivers lockout notifications. Delivery failure never rolls back
// the lock.
type Notifier interface {
	NotifyLockout(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyLockout(context.Context, Notification) error { return nil }

// Guard runs the per-account failed-login state machine: Unlocked and Locked,
// with admin unlock closing the loop.
type Guard struct {
	store    Store
	sink     *audit.Sink
	notifier Notifier
	now      func() time.Time
}

// GuardOption configures Guard.
type GuardOption func(*Guard)

// WithNotifier sets the lockout side channel.
func WithNotifier(n Notifier) GuardOption {
	return func(g *Guard) {
		if n != nil {
			g.notifier = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGuard constructs the lockout guard.
func NewGuard(store Store, sink *audit.Sink, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("lockout: store is required")
	}
	if sink == nil {
		return nil, errors.New("lockout: audit sink is required")
	}
	g := &Guard{
		store:    store,
		sink:     sink,
		notifier: NopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// IsLocked reports the lock state. A store failure reads as locked: the
// guard fails closed rather than letting an attacker through during an
// outage.
func (g *Guard) IsLocked(ctx context.Context, tenantID, principalID string) bool {
	st, err := g.store.State(ctx, tenantID, principalID)
	if err != nil {
		return true
	}
	return st.Locked()
}

// RegisterFailure increments the failed counter and locks the account when
// the count reaches threshold. Exactly one account_locked event and one
// notification fire per transition regardless of how many failures race past
// the threshold.
func (g *Guard) RegisterFailure(ctx context.Context, tenantID, principalID, ip string, threshold int) (locked bool, err error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	count, err := g.store.Increment(ctx, tenantID, principalID)
	if err != nil {
		return true, err
	}
	if count < threshold {
		return false, nil
	}
	st, transitioned, err := g.store.Lock(ctx, tenantID, principalID, systemActor, "failed_attempt_threshold")
	if err != nil {
		return true, err
	}
	if !transitioned {
		return true, nil
	}
	obs.ObserveLockout()
	g.sink.Record(ctx, audit.Event{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Type:        audit.EventAccountLocked,
		IP:          ip,
		Reason:      "failed_attempt_threshold",
		Metadata: map[string]string{
			"failed_count": strconv.Itoa(count),
			"threshold":    strconv.Itoa(threshold),
		},
	})
	lockedAt := g.now().UTC()
	if st.LockedAt != nil {
		lockedAt = *st.LockedAt
	}
	if err := g.notifier.NotifyLockout(ctx, Notification{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Reason:      "failed_attempt_threshold",
		LockedAt:    lockedAt,
	}); err != nil {
		obs.Emit(map[string]any{
			"ts":    g.now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "lockout_notification_failed",
			"error": err.Error(),
		})
	}
	return true, nil
}

// RegisterSuccess resets the counter after a successful credential check
// while unlocked.
func (g *Guard) RegisterSuccess(ctx context.Context, tenantID, principalID string) error {
	return g.store.Reset(ctx, tenantID, principalID)
}

// Unlock is the admin operation closing the state loop: lock metadata and
// the counter clear, and the actor lands in the event reason.
func (g *Guard) Unlock(ctx context.Context, tenantID, principalID, actor string) error {
	if err := g.store.Unlock(ctx, tenantID, principalID); err != nil {
		return err
	}
	g.sink.Record(ctx, audit.Event{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Type:        audit.EventAccountUnlocked,
		Success:     true,
		Reason:      "unlocked_by:" + actor,
	})
	return nil
}

// LockByAdmin locks an account on operator request rather than by counter.
func (g *Guard) LockByAdmin(ctx context.Context, tenantID, principalID, actor, reason string) error {
	if reason == "" {
		reason = "admin_lock"
	}
	_, transitioned, err := g.store.Lock(ctx, tenantID, principalID, actor, reason)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	obs.ObserveLockout()
	g.sink.Record(ctx, audit.Event{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Type:        audit.EventAccountLocked,
		Reason:      reason,
		Metadata:    map[string]string{"locked_by": actor},
	})
	return nil
}

// State exposes the raw security state for admin screens.
func (g *Guard) State(ctx context.Context, tenantID, principalID string) (State, error) {
	return g.store.State(ctx, tenantID, principalID)
}
