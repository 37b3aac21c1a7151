package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/ids"
)

// Admin wraps the mutation surface invoked by the surrounding application.
// Permission tokens are validated against the tenant registry here, at admin
// time, so the decision path never has to reject unknown tokens.
type Admin struct {
	store AdminStore
}

// NewAdmin constructs the admin façade.
func NewAdmin(store AdminStore) (*Admin, error) {
	if store == nil {
		return nil, errors.New("authz: admin store is required")
	}
	return &Admin{store: store}, nil
}

func (a *Admin) CreateRole(ctx context.Context, tenantID, key, name string, permissions []string) (Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	key = strings.TrimSpace(strings.ToLower(key))
	name = strings.TrimSpace(name)
	if tenantID == "" || key == "" || name == "" {
		return Role{}, fmt.Errorf("%w: tenant_id, key and name are required", ErrInvalidInput)
	}
	perms, err := a.validateTokens(ctx, tenantID, permissions)
	if err != nil {
		return Role{}, err
	}
	role := &Role{
		ID:          ids.New(),
		TenantID:    tenantID,
		Key:         key,
		Name:        name,
		Permissions: perms,
	}
	if err := a.store.CreateRole(ctx, role); err != nil {
		return Role{}, err
	}
	return *role, nil
}

func (a *Admin) UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return Role{}, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	existing, err := a.store.RoleByID(ctx, tenantID, roleID)
	if err != nil {
		return Role{}, err
	}
	if existing.System {
		return Role{}, ErrSystemRole
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Permissions != nil {
		perms, err := a.validateTokens(ctx, tenantID, upd.Permissions)
		if err != nil {
			return Role{}, err
		}
		upd.Permissions = perms
	}
	return a.store.UpdateRole(ctx, roleID, upd)
}

func (a *Admin) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	existing, err := a.store.RoleByID(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if existing.System {
		return ErrSystemRole
	}
	return a.store.DeleteRole(ctx, tenantID, roleID)
}

func (a *Admin) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return a.store.ListRoles(ctx, tenantID)
}

func (a *Admin) SetRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string) error {
	tenantID = strings.TrimSpace(tenantID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || roleID == "" {
		return fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	existing, err := a.store.RoleByID(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if existing.System {
		return ErrSystemRole
	}
	perms, err := a.validateTokens(ctx, tenantID, permissions)
	if err != nil {
		return err
	}
	return a.store.SetRolePermissions(ctx, tenantID, roleID, perms)
}

// AttachRole adds a role to the principal's membership. The store refreshes
// the legacy primary-role projection from the first attached role; decisions
// never read that field.
func (a *Admin) AttachRole(ctx context.Context, tenantID, principalID, roleID string) (Membership, error) {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || principalID == "" || roleID == "" {
		return Membership{}, fmt.Errorf("%w: tenant_id, principal_id and role_id are required", ErrInvalidInput)
	}
	if _, err := a.store.RoleByID(ctx, tenantID, roleID); err != nil {
		return Membership{}, err
	}
	return a.store.AttachRole(ctx, tenantID, principalID, roleID)
}

func (a *Admin) DetachRole(ctx context.Context, tenantID, principalID, roleID string) (Membership, error) {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	roleID = strings.TrimSpace(roleID)
	if tenantID == "" || principalID == "" || roleID == "" {
		return Membership{}, fmt.Errorf("%w: tenant_id, principal_id and role_id are required", ErrInvalidInput)
	}
	return a.store.DetachRole(ctx, tenantID, principalID, roleID)
}

func (a *Admin) CreateGrant(ctx context.Context, tenantID, scopeType, scopeKey, effect, targetKind, targetID string) (AccessGrant, error) {
	tenantID = strings.TrimSpace(tenantID)
	scopeType = strings.TrimSpace(strings.ToLower(scopeType))
	scopeKey = strings.TrimSpace(scopeKey)
	effect = strings.TrimSpace(strings.ToLower(effect))
	targetKind = strings.TrimSpace(strings.ToLower(targetKind))
	targetID = strings.TrimSpace(targetID)

	if tenantID == "" || scopeKey == "" {
		return AccessGrant{}, fmt.Errorf("%w: tenant_id and scope_key are required", ErrInvalidInput)
	}
	if scopeType != ScopeResource && scopeType != ScopeFeature {
		return AccessGrant{}, fmt.Errorf("%w: unsupported scope_type %s", ErrInvalidInput, scopeType)
	}
	if effect != EffectAllow && effect != EffectDeny {
		return AccessGrant{}, fmt.Errorf("%w: effect must be allow or deny", ErrInvalidInput)
	}
	switch targetKind {
	case "", TargetPrincipal, TargetRole, TargetCompany:
	default:
		return AccessGrant{}, fmt.Errorf("%w: unsupported target_kind %s", ErrInvalidInput, targetKind)
	}
	if targetKind != "" && targetID == "" {
		return AccessGrant{}, fmt.Errorf("%w: target_id is required for targeted grants", ErrInvalidInput)
	}
	if scopeType == ScopeResource {
		if _, err := a.validateTokens(ctx, tenantID, []string{scopeKey}); err != nil {
			return AccessGrant{}, err
		}
	}

	grant := &AccessGrant{
		ID:         ids.New(),
		TenantID:   tenantID,
		ScopeType:  scopeType,
		ScopeKey:   scopeKey,
		Effect:     effect,
		TargetKind: targetKind,
		TargetID:   targetID,
	}
	if err := a.store.CreateGrant(ctx, grant); err != nil {
		return AccessGrant{}, err
	}
	return *grant, nil
}

func (a *Admin) UpdateGrant(ctx context.Context, tenantID, grantID string, upd GrantUpdate) (AccessGrant, error) {
	tenantID = strings.TrimSpace(tenantID)
	grantID = strings.TrimSpace(grantID)
	if tenantID == "" || grantID == "" {
		return AccessGrant{}, fmt.Errorf("%w: tenant_id and grant_id are required", ErrInvalidInput)
	}
	if upd.Effect != nil {
		effect := strings.TrimSpace(strings.ToLower(*upd.Effect))
		if effect != EffectAllow && effect != EffectDeny {
			return AccessGrant{}, fmt.Errorf("%w: effect must be allow or deny", ErrInvalidInput)
		}
		upd.Effect = &effect
	}
	return a.store.UpdateGrant(ctx, tenantID, grantID, upd)
}

func (a *Admin) DeleteGrant(ctx context.Context, tenantID, grantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	grantID = strings.TrimSpace(grantID)
	if tenantID == "" || grantID == "" {
		return fmt.Errorf("%w: tenant_id and grant_id are required", ErrInvalidInput)
	}
	return a.store.DeleteGrant(ctx, tenantID, grantID)
}

func (a *Admin) ListGrants(ctx context.Context, tenantID string) ([]AccessGrant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return a.store.ListGrants(ctx, tenantID)
}

func (a *Admin) License(ctx context.Context, tenantID string) (License, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return License{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return a.store.License(ctx, tenantID)
}

func (a *Admin) AssignSeat(ctx context.Context, tenantID, principalID string) error {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	if tenantID == "" || principalID == "" {
		return fmt.Errorf("%w: tenant_id and principal_id are required", ErrInvalidInput)
	}
	return a.store.AssignSeat(ctx, tenantID, principalID)
}

func (a *Admin) RevokeSeat(ctx context.Context, tenantID, principalID string) error {
	tenantID = strings.TrimSpace(tenantID)
	principalID = strings.TrimSpace(principalID)
	if tenantID == "" || principalID == "" {
		return fmt.Errorf("%w: tenant_id and principal_id are required", ErrInvalidInput)
	}
	return a.store.RevokeSeat(ctx, tenantID, principalID)
}

// EnsurePermissions extends the tenant's permission token registry. Used by
// provisioning and seeds.
func (a *Admin) EnsurePermissions(ctx context.Context, tenantID string, tokens []string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	cleaned := dedupeTokens(tokens)
	if len(cleaned) == 0 {
		return fmt.Errorf("%w: at least one permission token is required", ErrInvalidInput)
	}
	return a.store.EnsurePermissions(ctx, tenantID, cleaned)
}

func (a *Admin) validateTokens(ctx context.Context, tenantID string, tokens []string) ([]string, error) {
	cleaned := dedupeTokens(tokens)
	if len(cleaned) == 0 {
		return nil, nil
	}
	known, err := a.store.KnownPermissions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	knownSet := toSet(known)
	for _, token := range cleaned {
		if _, ok := knownSet[token]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
	}
	return cleaned, nil
}

func dedupeTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
