package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/lockout"
)

var _ lockout.Store = (*Store)(nil)

func (s *Store) State(ctx context.Context, tenantID, principalID string) (lockout.State, error) {
	if s.db == nil {
		return lockout.State{}, errors.New("database connection unavailable")
	}
	var (
		st       lockout.State
		lockedAt sql.NullTime
		lockedBy sql.NullString
		reason   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select tenant_id, principal_id, failed_count, locked_at, locked_by, reason
		from principal_security
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID).Scan(&st.TenantID, &st.PrincipalID, &st.FailedCount, &lockedAt, &lockedBy, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return lockout.State{TenantID: tenantID, PrincipalID: principalID}, nil
	}
	if err != nil {
		return lockout.State{}, err
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		st.LockedAt = &t
	}
	if lockedBy.Valid {
		st.LockedBy = lockedBy.String
	}
	if reason.Valid {
		st.Reason = reason.String
	}
	return st, nil
}

// Increment is a single upsert statement so concurrent failures serialize on
// the row and never under-count.
func (s *Store) Increment(ctx context.Context, tenantID, principalID string) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		insert into principal_security (tenant_id, principal_id, failed_count)
		values ($1, $2, 1)
		on conflict (tenant_id, principal_id) do update
		set failed_count = principal_security.failed_count + 1, updated_at = now()
		returning failed_count
	`, tenantID, principalID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Reset(ctx context.Context, tenantID, principalID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update principal_security
		set failed_count = 0, updated_at = now()
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID)
	return err
}

// Lock stamps lock metadata once. The "locked_at is null" condition makes the
// transition idempotent under races: the first statement to land wins and
// reports transitioned = true.
func (s *Store) Lock(ctx context.Context, tenantID, principalID, lockedBy, reason string) (lockout.State, bool, error) {
	if s.db == nil {
		return lockout.State{}, false, errors.New("database connection unavailable")
	}
	var lockedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		insert into principal_security (tenant_id, principal_id, failed_count, locked_at, locked_by, reason)
		values ($1, $2, 0, now(), $3, $4)
		on conflict (tenant_id, principal_id) do update
		set locked_at = now(), locked_by = $3, reason = $4, updated_at = now()
		where principal_security.locked_at is null
		returning locked_at
	`, tenantID, principalID, lockedBy, nullIfEmpty(reason)).Scan(&lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// already locked; report current state without transitioning
		st, serr := s.State(ctx, tenantID, principalID)
		if serr != nil {
			return lockout.State{}, false, serr
		}
		return st, false, nil
	}
	if err != nil {
		return lockout.State{}, false, err
	}
	st, err := s.State(ctx, tenantID, principalID)
	if err != nil {
		return lockout.State{}, false, err
	}
	return st, true, nil
}

func (s *Store) Unlock(ctx context.Context, tenantID, principalID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update principal_security
		set failed_count = 0, locked_at = null, locked_by = null, reason = null, updated_at = now()
		where tenant_id = $1 and principal_id = $2
	`, tenantID, principalID)
	return err
}
