package authz

import "context"

// Store describes the point lookups the decision path needs. Implementations
// must not interpret the data; all precedence logic lives in this package.
type Store interface {
	Tenant(ctx context.Context, tenantID string) (Tenant, error)
	MembershipByPrincipal(ctx context.Context, tenantID, principalID string) (Membership, error)
	RolesByIDs(ctx context.Context, tenantID string, roleIDs []string) ([]Role, error)
	GrantsByScope(ctx context.Context, tenantID, scopeType, scopeKey string) ([]AccessGrant, error)
	SeatActive(ctx context.Context, tenantID, principalID string) (bool, error)
}

// AdminStore carries the mutations behind admin operations. The surrounding
// application invokes these, never end users directly.
type AdminStore interface {
	Store

	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, tenantID, roleID string) error
	RoleByID(ctx context.Context, tenantID, roleID string) (Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]Role, error)
	SetRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string) error

	AttachRole(ctx context.Context, tenantID, principalID, roleID string) (Membership, error)
	DetachRole(ctx context.Context, tenantID, principalID, roleID string) (Membership, error)

	CreateGrant(ctx context.Context, grant *AccessGrant) error
	UpdateGrant(ctx context.Context, tenantID, grantID string, upd GrantUpdate) (AccessGrant, error)
	DeleteGrant(ctx context.Context, tenantID, grantID string) error
	ListGrants(ctx context.Context, tenantID string) ([]AccessGrant, error)

	License(ctx context.Context, tenantID string) (License, error)
	AssignSeat(ctx context.Context, tenantID, principalID string) error
	RevokeSeat(ctx context.Context, tenantID, principalID string) error

	// KnownPermissions returns the tenant's permission token registry.
	// Admin operations reject tokens outside of it.
	KnownPermissions(ctx context.Context, tenantID string) ([]string, error)
	EnsurePermissions(ctx context.Context, tenantID string, tokens []string) error
}

// RoleUpdate applies partial changes to a tenant-defined role.
type RoleUpdate struct {
	Name        *string
	Permissions []string
}

// GrantUpdate flips a grant's effect. Scope and target are immutable; change
// those by replacing the grant.
type GrantUpdate struct {
	Effect *string
}
