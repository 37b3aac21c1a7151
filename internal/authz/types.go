package authz

import "time"

// MembershipStatus is the lifecycle state of a principal's tenant membership.
// Only active memberships contribute permissions.
const (
	MembershipInvited  = "invited"
	MembershipActive   = "active"
	MembershipDisabled = "disabled"
)

// Effect of an explicit access grant.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Scope types form a small closed set; this is deliberately not a policy
// language.
const (
	ScopeResource = "resource"
	ScopeFeature  = "feature"
)

// Grant target kinds, from most to least specific. An empty kind means the
// grant applies tenant-wide.
const (
	TargetPrincipal = "principal"
	TargetRole      = "role"
	TargetCompany   = "company"
)

// Decision reasons surfaced to callers and the audit trail.
const (
	ReasonExplicitGrant      = "explicit_grant"
	ReasonNoPermission       = "no_permission"
	ReasonMembershipInactive = "membership_inactive"
	ReasonNoLicenseSeat      = "no_license_seat"
	ReasonStoreUnavailable   = "store_unavailable"
	ReasonRolePermission     = "role_permission"
)

// Tenant is the isolation boundary owning roles, memberships, grants and the
// seat ledger. Identity is immutable once provisioned.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LockoutThreshold is the failed-login count that locks an account.
	// Zero means "use the deployment default".
	LockoutThreshold int `json:"lockout_threshold,omitempty"`

	// SeatActionPrefixes lists action prefixes (e.g. "payroll.") that
	// require an active license seat. Empty means no seat gating.
	SeatActionPrefixes []string `json:"seat_action_prefixes,omitempty"`
}

// Role belongs to exactly one tenant. System roles are seeded at provisioning
// time and cannot be deleted through admin operations.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	System      bool      `json:"system"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership links a principal to a tenant with role and company attachments.
type Membership struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	Status      string    `json:"status"`
	RoleIDs     []string  `json:"role_ids"`
	CompanyIDs  []string  `json:"company_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// PrimaryRoleID mirrors the first attached role for legacy consumers.
	// It is a derived projection; decisions never read it.
	PrimaryRoleID string `json:"primary_role_id,omitempty"`
}

// AccessGrant is an explicit allow/deny override scoped by (scope type, scope
// key), optionally narrowed to a principal, role or company within the tenant.
type AccessGrant struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ScopeType  string    `json:"scope_type"`
	ScopeKey   string    `json:"scope_key"`
	Effect     string    `json:"effect"`
	TargetKind string    `json:"target_kind,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// License is the per-tenant seat ledger.
type License struct {
	TenantID  string    `json:"tenant_id"`
	Capacity  int       `json:"capacity"`
	Assigned  int       `json:"assigned"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the terminal result of an authorization check. Every code path
// ends in one; errors never escape as an implicit allow.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }
