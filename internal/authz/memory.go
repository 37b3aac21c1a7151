package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process AdminStore. It backs tests and single-node
// deployments; production uses the Postgres implementation behind the same
// interfaces.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]Tenant
	roles       map[string]Role                 // roleID -> role
	memberships map[string]Membership           // tenantID\x00principalID
	grants      map[string]AccessGrant          // grantID
	licenses    map[string]License              // tenantID
	seats       map[string]map[string]struct{}  // tenantID -> principal set
	registry    map[string]map[string]struct{}  // tenantID -> token set
	now         func() time.Time
}

var _ AdminStore = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]Tenant),
		roles:       make(map[string]Role),
		memberships: make(map[string]Membership),
		grants:      make(map[string]AccessGrant),
		licenses:    make(map[string]License),
		seats:       make(map[string]map[string]struct{}),
		registry:    make(map[string]map[string]struct{}),
		now:         time.Now,
	}
}

func memberKey(tenantID, principalID string) string {
	return tenantID + "\x00" + principalID
}

// PutTenant upserts a tenant row. Provisioning is outside the core; tests and
// dev wiring call this directly.
func (s *MemoryStore) PutTenant(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	t.UpdatedAt = s.now().UTC()
	s.tenants[t.ID] = t
}

// PutMembership upserts a membership row.
func (s *MemoryStore) PutMembership(m Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	m.UpdatedAt = s.now().UTC()
	m.PrimaryRoleID = firstRole(m.RoleIDs)
	s.memberships[memberKey(m.TenantID, m.PrincipalID)] = m
}

// PutLicense sets the tenant seat capacity.
func (s *MemoryStore) PutLicense(tenantID string, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[tenantID] = License{TenantID: tenantID, Capacity: capacity, UpdatedAt: s.now().UTC()}
}

func (s *MemoryStore) Tenant(_ context.Context, tenantID string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) MembershipByPrincipal(_ context.Context, tenantID, principalID string) (Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[memberKey(tenantID, principalID)]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) RolesByIDs(_ context.Context, tenantID string, roleIDs []string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Role
	for _, id := range roleIDs {
		role, ok := s.roles[id]
		if !ok || role.TenantID != tenantID {
			continue
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *MemoryStore) GrantsByScope(_ context.Context, tenantID, scopeType, scopeKey string) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessGrant
	for _, g := range s.grants {
		if g.TenantID == tenantID && g.ScopeType == scopeType && g.ScopeKey == scopeKey {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SeatActive(_ context.Context, tenantID, principalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.seats[tenantID]
	if !ok {
		return false, nil
	}
	_, active := set[principalID]
	return active, nil
}

func (s *MemoryStore) CreateRole(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.TenantID == role.TenantID && existing.Key == role.Key {
			return ErrConflict
		}
	}
	role.CreatedAt = s.now().UTC()
	role.UpdatedAt = role.CreatedAt
	s.roles[role.ID] = *role
	return nil
}

func (s *MemoryStore) UpdateRole(_ context.Context, roleID string, upd RoleUpdate) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Permissions != nil {
		role.Permissions = append([]string(nil), upd.Permissions...)
	}
	role.UpdatedAt = s.now().UTC()
	s.roles[roleID] = role
	return role, nil
}

func (s *MemoryStore) DeleteRole(_ context.Context, tenantID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.roles, roleID)
	for key, m := range s.memberships {
		if m.TenantID != tenantID {
			continue
		}
		m.RoleIDs = removeString(m.RoleIDs, roleID)
		m.PrimaryRoleID = firstRole(m.RoleIDs)
		s.memberships[key] = m
	}
	return nil
}

func (s *MemoryStore) RoleByID(_ context.Context, tenantID, roleID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (s *MemoryStore) ListRoles(_ context.Context, tenantID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Role
	for _, role := range s.roles {
		if role.TenantID == tenantID {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) SetRolePermissions(_ context.Context, tenantID, roleID string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok || role.TenantID != tenantID {
		return ErrNotFound
	}
	role.Permissions = append([]string(nil), permissions...)
	role.UpdatedAt = s.now().UTC()
	s.roles[roleID] = role
	return nil
}

func (s *MemoryStore) AttachRole(_ context.Context, tenantID, principalID, roleID string) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey(tenantID, principalID)
	m, ok := s.memberships[key]
	if !ok {
		return Membership{}, ErrNotFound
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return m, nil
		}
	}
	m.RoleIDs = append(m.RoleIDs, roleID)
	m.PrimaryRoleID = firstRole(m.RoleIDs)
	m.UpdatedAt = s.now().UTC()
	s.memberships[key] = m
	return m, nil
}

func (s *MemoryStore) DetachRole(_ context.Context, tenantID, principalID, roleID string) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey(tenantID, principalID)
	m, ok := s.memberships[key]
	if !ok {
		return Membership{}, ErrNotFound
	}
	m.RoleIDs = removeString(m.RoleIDs, roleID)
	m.PrimaryRoleID = firstRole(m.RoleIDs)
	m.UpdatedAt = s.now().UTC()
	s.memberships[key] = m
	return m, nil
}

func (s *MemoryStore) CreateGrant(_ context.Context, grant *AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant.CreatedAt = s.now().UTC()
	s.grants[grant.ID] = *grant
	return nil
}

func (s *MemoryStore) UpdateGrant(_ context.Context, tenantID, grantID string, upd GrantUpdate) (AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok || g.TenantID != tenantID {
		return AccessGrant{}, ErrNotFound
	}
	if upd.Effect != nil {
		g.Effect = *upd.Effect
	}
	s.grants[grantID] = g
	return g, nil
}

func (s *MemoryStore) DeleteGrant(_ context.Context, tenantID, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok || g.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.grants, grantID)
	return nil
}

func (s *MemoryStore) ListGrants(_ context.Context, tenantID string) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessGrant
	for _, g := range s.grants {
		if g.TenantID == tenantID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) License(_ context.Context, tenantID string) (License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lic, ok := s.licenses[tenantID]
	if !ok {
		return License{}, ErrNotFound
	}
	lic.Assigned = len(s.seats[tenantID])
	return lic, nil
}

func (s *MemoryStore) AssignSeat(_ context.Context, tenantID, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[tenantID]
	if !ok {
		return ErrNotFound
	}
	set := s.seats[tenantID]
	if set == nil {
		set = make(map[string]struct{})
		s.seats[tenantID] = set
	}
	if _, already := set[principalID]; already {
		return nil
	}
	if len(set) >= lic.Capacity {
		return fmt.Errorf("%w: capacity %d", ErrSeatsExhausted, lic.Capacity)
	}
	set[principalID] = struct{}{}
	return nil
}

func (s *MemoryStore) RevokeSeat(_ context.Context, tenantID, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.seats[tenantID]
	if !ok {
		return ErrNotFound
	}
	delete(set, principalID)
	return nil
}

func (s *MemoryStore) KnownPermissions(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.registry[tenantID]
	out := make([]string, 0, len(set))
	for token := range set {
		out = append(out, token)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) EnsurePermissions(_ context.Context, tenantID string, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.registry[tenantID]
	if set == nil {
		set = make(map[string]struct{})
		s.registry[tenantID] = set
	}
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return nil
}

func removeString(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func firstRole(roleIDs []string) string {
	if len(roleIDs) == 0 {
		return ""
	}
	return roleIDs[0]
}
