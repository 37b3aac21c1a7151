// Package session tracks active authenticated sessions per principal with an
// idle timeout and a bounded concurrency cap.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/obs"
)

// ErrInvalidInput marks malformed registry arguments.
var ErrInvalidInput = errors.New("session: invalid input")

// DefaultCap is the maximum number of concurrent sessions per principal.
const DefaultCap = 5

// DefaultIdleTimeout invalidates a session after this much inactivity.
const DefaultIdleTimeout = 8 * time.Hour

// Session is one admitted login, keyed by an opaque token.
type Session struct {
	Token        string
	TenantID     string
	PrincipalID  string
	Origin       string
	UserAgent    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// TouchResult is the outcome of a session liveness check.
type TouchResult int

const (
	// TouchValid means the session is live and its activity clock advanced.
	TouchValid TouchResult = iota
	// TouchExpired means the session idled out or is unknown.
	TouchExpired
	// TouchMismatch means the caller's origin differs from the admitted one.
	TouchMismatch
)

func (r TouchResult) String() string {
	switch r {
	case TouchValid:
		return "valid"
	case TouchExpired:
		return "expired"
	case TouchMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Registry holds the in-process session table. All methods are safe for
// concurrent use; eviction under the cap is best-effort by contract, so a
// single mutex is enough.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	byPrincipal map[string]map[string]struct{}

	cap              int
	idleTimeout      time.Duration
	revokeOnMismatch bool
	sink             *audit.Sink
	now              func() time.Time
}

// Option configures Registry.
type Option func(*Registry)

// WithCap overrides the per-principal concurrency cap.
func WithCap(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.cap = n
		}
	}
}

// WithIdleTimeout overrides the inactivity window.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithRevokeOnOriginMismatch makes an origin mismatch revoke the session
// instead of only logging it. Off by default.
func WithRevokeOnOriginMismatch(on bool) Option {
	return func(r *Registry) { r.revokeOnMismatch = on }
}

// WithClock overrides time for tests.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry builds a Registry writing lifecycle events to sink.
func NewRegistry(sink *audit.Sink, opts ...Option) (*Registry, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidInput)
	}
	r := &Registry{
		sessions:    make(map[string]*Session),
		byPrincipal: make(map[string]map[string]struct{}),
		cap:         DefaultCap,
		idleTimeout: DefaultIdleTimeout,
		sink:        sink,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Admit registers a new session for principalID. If the principal is already
// at the cap, the least-recently-active prior session is evicted first, so the
// live count never exceeds the cap.
func (r *Registry) Admit(ctx context.Context, tenantID, principalID, token, origin, userAgent string) error {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	token = strings.TrimSpace(token)
	if principalID == "" || token == "" {
		return fmt.Errorf("%w: principal and token are required", ErrInvalidInput)
	}

	now := r.now()
	var evicted *Session
	var replaced bool

	r.mu.Lock()
	if existing, ok := r.sessions[token]; ok {
		if existing.PrincipalID == principalID {
			replaced = true
		} else {
			// same token under another principal: release the old
			// owner's index entry so its Active count stays honest
			r.dropLocked(token)
		}
	}
	tokens := r.byPrincipal[principalID]
	if !replaced && len(tokens) >= r.cap {
		evicted = r.oldestLocked(tokens)
		if evicted != nil {
			r.dropLocked(evicted.Token)
		}
	}
	s := &Session{
		Token:        token,
		TenantID:     tenantID,
		PrincipalID:  principalID,
		Origin:       origin,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[token] = s
	if r.byPrincipal[principalID] == nil {
		r.byPrincipal[principalID] = make(map[string]struct{})
	}
	r.byPrincipal[principalID][token] = struct{}{}
	total := len(r.sessions)
	r.mu.Unlock()

	obs.SetActiveSessions(total)
	if evicted != nil {
		r.sink.Record(ctx, audit.Event{
			TenantID:    evicted.TenantID,
			PrincipalID: evicted.PrincipalID,
			Type:        audit.EventSessionEvicted,
			IP:          evicted.Origin,
			Reason:      "concurrency_cap",
		})
	}
	r.sink.Record(ctx, audit.Event{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Type:        audit.EventSessionAdmitted,
		IP:          origin,
		UserAgent:   userAgent,
		Success:     true,
	})
	return nil
}

// Touch validates token and advances its activity clock. Expired and unknown
// tokens both read as expired; expired sessions are removed on the way out.
// An origin mismatch is reported and logged but, unless configured otherwise,
// the session stays valid.
func (r *Registry) Touch(ctx context.Context, token, origin string) TouchResult {
	now := r.now()

	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return TouchExpired
	}
	if now.Sub(s.LastActivity) > r.idleTimeout {
		r.dropLocked(token)
		total := len(r.sessions)
		r.mu.Unlock()
		obs.SetActiveSessions(total)
		return TouchExpired
	}
	if origin != "" && s.Origin != "" && origin != s.Origin {
		cp := *s
		if r.revokeOnMismatch {
			r.dropLocked(token)
		}
		total := len(r.sessions)
		r.mu.Unlock()
		obs.SetActiveSessions(total)
		r.sink.Record(ctx, audit.Event{
			TenantID:    cp.TenantID,
			PrincipalID: cp.PrincipalID,
			Type:        audit.EventSessionOriginMismatch,
			IP:          origin,
			Reason:      "expected_origin:" + cp.Origin,
		})
		if r.revokeOnMismatch {
			r.sink.Record(ctx, audit.Event{
				TenantID:    cp.TenantID,
				PrincipalID: cp.PrincipalID,
				Type:        audit.EventSessionRevoked,
				IP:          origin,
				Reason:      "origin_mismatch",
			})
		}
		return TouchMismatch
	}
	s.LastActivity = now
	r.mu.Unlock()
	return TouchValid
}

// Revoke removes token and records the reason. Revoking an unknown token is a
// no-op.
func (r *Registry) Revoke(ctx context.Context, token, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok {
		r.dropLocked(token)
	}
	total := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	obs.SetActiveSessions(total)
	r.sink.Record(ctx, audit.Event{
		TenantID:    s.TenantID,
		PrincipalID: s.PrincipalID,
		Type:        audit.EventSessionRevoked,
		IP:          s.Origin,
		Reason:      reason,
	})
}

// RevokeAll removes every session held by principalID, e.g. after an account
// lock or a forced password reset.
func (r *Registry) RevokeAll(ctx context.Context, principalID, reason string) int {
	r.mu.Lock()
	var dropped []*Session
	for token := range r.byPrincipal[principalID] {
		if s, ok := r.sessions[token]; ok {
			dropped = append(dropped, s)
		}
		r.dropLocked(token)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	obs.SetActiveSessions(total)
	for _, s := range dropped {
		r.sink.Record(ctx, audit.Event{
			TenantID:    s.TenantID,
			PrincipalID: s.PrincipalID,
			Type:        audit.EventSessionRevoked,
			IP:          s.Origin,
			Reason:      reason,
		})
	}
	return len(dropped)
}

// Active reports the live session count for principalID.
func (r *Registry) Active(principalID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPrincipal[principalID])
}

// Sweep drops sessions that idled out. It is the periodic maintenance entry
// point; Touch already expires lazily, this just bounds memory.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for token, s := range r.sessions {
		if now.Sub(s.LastActivity) > r.idleTimeout {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		r.dropLocked(token)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	obs.SetActiveSessions(total)
	return len(expired)
}

// oldestLocked returns the least-recently-active session among tokens.
// Caller holds r.mu.
func (r *Registry) oldestLocked(tokens map[string]struct{}) *Session {
	var oldest *Session
	for token := range tokens {
		s, ok := r.sessions[token]
		if !ok {
			continue
		}
		if oldest == nil || s.LastActivity.Before(oldest.LastActivity) {
			oldest = s
		}
	}
	return oldest
}

// dropLocked removes token from both indexes. Caller holds r.mu.
func (r *Registry) dropLocked(token string) {
	s, ok := r.sessions[token]
	if !ok {
		return
	}
	delete(r.sessions, token)
	if tokens := r.byPrincipal[s.PrincipalID]; tokens != nil {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(r.byPrincipal, s.PrincipalID)
		}
	}
}
