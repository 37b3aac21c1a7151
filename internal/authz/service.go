package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/obs"
)

const defaultCacheTTL = 3 * time.Second

// Service computes authorization decisions from role-derived permissions,
// explicit grants and license-seat state. It holds no mutable domain state of
// its own and is safe for concurrent use.
type Service struct {
	reads readLayer
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithCacheTTL bounds how long read-mostly snapshots may be served from
// memory. Keep it in the low seconds: a stale "licensed" or "active" row past
// the TTL would be a security-relevant false allow.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.reads.cache = newDecisionCache(ttl)
		}
	}
}

// WithoutCache disables snapshot caching; every decision hits the store.
func WithoutCache() ServiceOption {
	return func(s *Service) { s.reads.cache = nil }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the authorization façade.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	svc := &Service{
		reads: readLayer{store: store, cache: newDecisionCache(defaultCacheTTL)},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	// the cache expires on the same clock the service decides with
	if svc.reads.cache != nil {
		svc.reads.cache.now = svc.now
	}
	return svc, nil
}

// Authorize decides whether the principal may perform action in the tenant.
// scopeType narrows which grants apply and defaults to "resource". The result
// is always an explicit allow or deny; store failures fail closed.
func (s *Service) Authorize(ctx context.Context, principalID, tenantID, action, scopeType string) Decision {
	d := s.authorize(ctx, principalID, tenantID, action, scopeType)
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	obs.ObserveAuthzDecision(outcome, d.Reason)
	return d
}

func (s *Service) authorize(ctx context.Context, principalID, tenantID, action, scopeType string) Decision {
	principalID = strings.TrimSpace(principalID)
	tenantID = strings.TrimSpace(tenantID)
	action = strings.TrimSpace(action)
	if principalID == "" || tenantID == "" || action == "" {
		return deny(ReasonNoPermission)
	}
	if scopeType == "" {
		scopeType = ScopeResource
	}

	m, err := s.reads.membership(ctx, tenantID, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return deny(ReasonMembershipInactive)
		}
		return deny(ReasonStoreUnavailable)
	}
	if m.Status != MembershipActive {
		return deny(ReasonMembershipInactive)
	}

	tenant, err := s.reads.tenant(ctx, tenantID)
	if err != nil {
		return deny(ReasonStoreUnavailable)
	}
	if seatGated(tenant, action) {
		active, err := s.reads.seatActive(ctx, tenantID, principalID)
		if err != nil {
			return deny(ReasonStoreUnavailable)
		}
		if !active {
			return deny(ReasonNoLicenseSeat)
		}
	}

	grants, err := s.reads.grants(ctx, tenantID, scopeType, action)
	if err != nil {
		return deny(ReasonStoreUnavailable)
	}
	switch resolveGrants(grants, m) {
	case VerdictAllow:
		return allow(ReasonExplicitGrant)
	case VerdictDeny:
		return deny(ReasonExplicitGrant)
	}

	perms := s.permissionsFor(ctx, m)
	if _, ok := perms[action]; ok {
		return allow(ReasonRolePermission)
	}
	return deny(ReasonNoPermission)
}

func (s *Service) permissionsFor(ctx context.Context, m Membership) map[string]struct{} {
	perms := make(map[string]struct{})
	if len(m.RoleIDs) == 0 {
		return perms
	}
	roles, err := s.reads.roles(ctx, m.TenantID, m.RoleIDs)
	if err != nil {
		return perms
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			perms[p] = struct{}{}
		}
	}
	return perms
}
