package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/authz"
)

var _ authz.AdminStore = (*Store)(nil)

func (s *Store) Tenant(ctx context.Context, tenantID string) (authz.Tenant, error) {
	if s.db == nil {
		return authz.Tenant{}, errors.New("database connection unavailable")
	}
	var (
		t        authz.Tenant
		prefixes []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, lockout_threshold, seat_action_prefixes, created_at, updated_at
		from tenants
		where id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.LockoutThreshold, &prefixes, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Tenant{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Tenant{}, err
	}
	if len(prefixes) > 0 {
		if err := json.Unmarshal(prefixes, &t.SeatActionPrefixes); err != nil {
			return authz.Tenant{}, fmt.Errorf("decode seat prefixes: %w", err)
		}
	}
	return t, nil
}

func (s *Store) MembershipByPrincipal(ctx context.Context, tenantID, principalID string) (authz.Membership, error) {
	if s.db == nil {
		return authz.Membership{}, errors.New("database connection unavailable")
	}
	var (
		m       authz.Membership
		primary sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, principal_id, status, primary_role_id, created_at, updated_at
		from memberships
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&m.ID, &m.TenantID, &m.PrincipalID, &m.Status, &primary, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Membership{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Membership{}, err
	}
	if primary.Valid {
		m.PrimaryRoleID = primary.String
	}

	m.RoleIDs, err = s.membershipRoles(ctx, m.ID)
	if err != nil {
		return authz.Membership{}, err
	}
	m.CompanyIDs, err = s.membershipCompanies(ctx, m.ID)
	if err != nil {
		return authz.Membership{}, err
	}
	return m, nil
}

func (s *Store) membershipRoles(ctx context.Context, membershipID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id from membership_roles
		where membership_id = $1
		order by position
	`, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Store) membershipCompanies(ctx context.Context, membershipID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select company_id from membership_companies
		where membership_id = $1
		order by company_id
	`, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Store) RolesByIDs(ctx context.Context, tenantID string, roleIDs []string) ([]authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(roleIDs))
	args := make([]any, 0, len(roleIDs)+1)
	args = append(args, tenantID)
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, tenant_id, key, name, system, created_at, updated_at
		from roles
		where tenant_id = $1 and id in (%s)
		order by key
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var r authz.Role
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Key, &r.Name, &r.System, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions, err = s.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select token from role_permissions
		where role_id = $1
		order by token
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Store) GrantsByScope(ctx context.Context, tenantID, scopeType, scopeKey string) ([]authz.AccessGrant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, scope_type, scope_key, effect, target_kind, target_id, created_at
		from access_grants
		where tenant_id = $1 and scope_type = $2 and scope_key = $3
		order by created_at
	`, tenantID, scopeType, scopeKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) SeatActive(ctx context.Context, tenantID, principalID string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from license_seats
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateRole(ctx context.Context, role *authz.Role) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, key, name, system)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, role.ID, role.TenantID, role.Key, role.Name, role.System)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.ErrConflict
			case pgErrForeignKeyViolation:
				return authz.ErrNotFound
			}
		}
		return err
	}
	for _, token := range role.Permissions {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, token) values ($1, $2)
		`, role.ID, token); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd authz.RoleUpdate) (authz.Role, error) {
	if s.db == nil {
		return authz.Role{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil {
		res, err := tx.ExecContext(ctx, `
			update roles set name = $1, updated_at = now() where id = $2
		`, *upd.Name, roleID)
		if err != nil {
			return authz.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return authz.Role{}, err
		}
		if aff == 0 {
			return authz.Role{}, authz.ErrNotFound
		}
	}
	if upd.Permissions != nil {
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return authz.Role{}, err
		}
		for _, token := range upd.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, token) values ($1, $2)
			`, roleID, token); err != nil {
				return authz.Role{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, roleID); err != nil {
			return authz.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return authz.Role{}, err
	}
	return s.roleByID(ctx, roleID)
}

func (s *Store) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from roles where tenant_id = $1 and id = $2
	`, tenantID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) RoleByID(ctx context.Context, tenantID, roleID string) (authz.Role, error) {
	role, err := s.roleByID(ctx, roleID)
	if err != nil {
		return authz.Role{}, err
	}
	if role.TenantID != tenantID {
		return authz.Role{}, authz.ErrNotFound
	}
	return role, nil
}

func (s *Store) roleByID(ctx context.Context, roleID string) (authz.Role, error) {
	if s.db == nil {
		return authz.Role{}, errors.New("database connection unavailable")
	}
	var r authz.Role
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, key, name, system, created_at, updated_at
		from roles
		where id = $1
	`, roleID).Scan(&r.ID, &r.TenantID, &r.Key, &r.Name, &r.System, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.Role{}, err
	}
	r.Permissions, err = s.rolePermissions(ctx, r.ID)
	if err != nil {
		return authz.Role{}, err
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]authz.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, key, name, system, created_at, updated_at
		from roles
		where tenant_id = $1
		order by key
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []authz.Role
	for rows.Next() {
		var r authz.Role
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Key, &r.Name, &r.System, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions, err = s.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, tenantID, roleID string, permissions []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx, `
		select 1 from roles where tenant_id = $1 and id = $2
	`, tenantID, roleID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, token := range permissions {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, token) values ($1, $2)
		`, roleID, token); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AttachRole(ctx context.Context, tenantID, principalID, roleID string) (authz.Membership, error) {
	if s.db == nil {
		return authz.Membership{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Membership{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var membershipID string
	if err := tx.QueryRowContext(ctx, `
		select id from memberships where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&membershipID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Membership{}, authz.ErrNotFound
		}
		return authz.Membership{}, err
	}
	var one int
	if err := tx.QueryRowContext(ctx, `
		select 1 from roles where tenant_id = $1 and id = $2
	`, tenantID, roleID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Membership{}, authz.ErrNotFound
		}
		return authz.Membership{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into membership_roles (membership_id, role_id, position)
		values ($1, $2, coalesce((select max(position) + 1 from membership_roles where membership_id = $1), 0))
	`, membershipID, roleID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Membership{}, authz.ErrConflict
		}
		return authz.Membership{}, err
	}
	if err := refreshPrimaryRole(ctx, tx, membershipID); err != nil {
		return authz.Membership{}, err
	}
	if err := tx.Commit(); err != nil {
		return authz.Membership{}, err
	}
	return s.MembershipByPrincipal(ctx, tenantID, principalID)
}

func (s *Store) DetachRole(ctx context.Context, tenantID, principalID, roleID string) (authz.Membership, error) {
	if s.db == nil {
		return authz.Membership{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Membership{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var membershipID string
	if err := tx.QueryRowContext(ctx, `
		select id from memberships where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&membershipID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Membership{}, authz.ErrNotFound
		}
		return authz.Membership{}, err
	}
	res, err := tx.ExecContext(ctx, `
		delete from membership_roles where membership_id = $1 and role_id = $2
	`, membershipID, roleID)
	if err != nil {
		return authz.Membership{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return authz.Membership{}, err
	}
	if aff == 0 {
		return authz.Membership{}, authz.ErrNotFound
	}
	if err := refreshPrimaryRole(ctx, tx, membershipID); err != nil {
		return authz.Membership{}, err
	}
	if err := tx.Commit(); err != nil {
		return authz.Membership{}, err
	}
	return s.MembershipByPrincipal(ctx, tenantID, principalID)
}

// refreshPrimaryRole mirrors the first attached role into the legacy
// projection column. Decisions never read it.
func refreshPrimaryRole(ctx context.Context, tx *sql.Tx, membershipID string) error {
	_, err := tx.ExecContext(ctx, `
		update memberships set
			primary_role_id = (
				select role_id from membership_roles
				where membership_id = $1
				order by position limit 1
			),
			updated_at = now()
		where id = $1
	`, membershipID)
	return err
}

func (s *Store) CreateGrant(ctx context.Context, grant *authz.AccessGrant) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into access_grants (id, tenant_id, scope_type, scope_key, effect, target_kind, target_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at
	`, grant.ID, grant.TenantID, grant.ScopeType, grant.ScopeKey, grant.Effect,
		nullIfEmpty(grant.TargetKind), nullIfEmpty(grant.TargetID))
	if err := row.Scan(&grant.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.ErrConflict
			case pgErrForeignKeyViolation:
				return authz.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) UpdateGrant(ctx context.Context, tenantID, grantID string, upd authz.GrantUpdate) (authz.AccessGrant, error) {
	if s.db == nil {
		return authz.AccessGrant{}, errors.New("database connection unavailable")
	}
	if upd.Effect != nil {
		res, err := s.db.ExecContext(ctx, `
			update access_grants set effect = $1 where tenant_id = $2 and id = $3
		`, *upd.Effect, tenantID, grantID)
		if err != nil {
			return authz.AccessGrant{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return authz.AccessGrant{}, err
		}
		if aff == 0 {
			return authz.AccessGrant{}, authz.ErrNotFound
		}
	}
	var grant authz.AccessGrant
	var targetKind, targetID sql.NullString
	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, scope_type, scope_key, effect, target_kind, target_id, created_at
		from access_grants
		where tenant_id = $1 and id = $2
	`, tenantID, grantID)
	if err := row.Scan(&grant.ID, &grant.TenantID, &grant.ScopeType, &grant.ScopeKey,
		&grant.Effect, &targetKind, &targetID, &grant.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.AccessGrant{}, authz.ErrNotFound
		}
		return authz.AccessGrant{}, err
	}
	grant.TargetKind = targetKind.String
	grant.TargetID = targetID.String
	return grant, nil
}

func (s *Store) DeleteGrant(ctx context.Context, tenantID, grantID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from access_grants where tenant_id = $1 and id = $2
	`, tenantID, grantID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, tenantID string) ([]authz.AccessGrant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, scope_type, scope_key, effect, target_kind, target_id, created_at
		from access_grants
		where tenant_id = $1
		order by created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) License(ctx context.Context, tenantID string) (authz.License, error) {
	if s.db == nil {
		return authz.License{}, errors.New("database connection unavailable")
	}
	var lic authz.License
	err := s.db.QueryRowContext(ctx, `
		select l.tenant_id, l.capacity, l.updated_at,
			(select count(*) from license_seats s where s.tenant_id = l.tenant_id)
		from licenses l
		where l.tenant_id = $1
	`, tenantID).Scan(&lic.TenantID, &lic.Capacity, &lic.UpdatedAt, &lic.Assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.License{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.License{}, err
	}
	return lic, nil
}

func (s *Store) AssignSeat(ctx context.Context, tenantID, principalID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var capacity, assigned int
	if err := tx.QueryRowContext(ctx, `
		select capacity, (select count(*) from license_seats s where s.tenant_id = l.tenant_id)
		from licenses l
		where l.tenant_id = $1
		for update
	`, tenantID).Scan(&capacity, &assigned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ErrNotFound
		}
		return err
	}
	if assigned >= capacity {
		return authz.ErrSeatsExhausted
	}
	if _, err := tx.ExecContext(ctx, `
		insert into license_seats (tenant_id, principal_id) values ($1, $2)
	`, tenantID, principalID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.ErrConflict
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) RevokeSeat(ctx context.Context, tenantID, principalID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from license_seats where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) KnownPermissions(ctx context.Context, tenantID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select token from permission_registry
		where tenant_id = $1
		order by token
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *Store) EnsurePermissions(ctx context.Context, tenantID string, tokens []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, token := range tokens {
		if _, err := tx.ExecContext(ctx, `
			insert into permission_registry (tenant_id, token)
			values ($1, $2) on conflict do nothing
		`, tenantID, token); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanGrants(rows *sql.Rows) ([]authz.AccessGrant, error) {
	var grants []authz.AccessGrant
	for rows.Next() {
		var (
			g         authz.AccessGrant
			kind, tgt sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.TenantID, &g.ScopeType, &g.ScopeKey, &g.Effect, &kind, &tgt, &g.CreatedAt); err != nil {
			return nil, err
		}
		if kind.Valid {
			g.TargetKind = kind.String
		}
		if tgt.Valid {
			g.TargetID = tgt.String
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
