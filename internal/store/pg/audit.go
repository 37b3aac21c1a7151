package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/geo"
)

var _ audit.EventStore = (*Store)(nil)

func (s *Store) Append(ctx context.Context, event *audit.Event) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	var geoJSON, metaJSON []byte
	if event.Geo != nil {
		b, err := json.Marshal(event.Geo)
		if err != nil {
			return fmt.Errorf("marshal geo: %w", err)
		}
		geoJSON = b
	}
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into auth_events (id, tenant_id, principal_id, type, occurred_at, ip, geo, user_agent, success, reason, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, event.ID, nullIfEmpty(event.TenantID), nullIfEmpty(event.PrincipalID), event.Type,
		event.OccurredAt, nullIfEmpty(event.IP), geoJSON, nullIfEmpty(event.UserAgent),
		event.Success, nullIfEmpty(event.Reason), metaJSON)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			// same ULID landing twice means the sink already retried;
			// the event is durably there
			return nil
		}
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
		idx   = 1
	)
	add := func(clause string, arg any) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, arg)
		idx++
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.PrincipalID != "" {
		add("principal_id = $%d", filter.PrincipalID)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= $%d", filter.To)
	}

	query := `
		select id, tenant_id, principal_id, type, occurred_at, ip, geo, user_agent, success, reason, metadata
		from auth_events`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by occurred_at desc"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	query += fmt.Sprintf(" limit $%d", idx)
	args = append(args, limit)
	idx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(" offset $%d", idx)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e                     audit.Event
			tenant, principal     sql.NullString
			ip, userAgent, reason sql.NullString
			geoJSON, metaJSON     []byte
		)
		if err := rows.Scan(&e.ID, &tenant, &principal, &e.Type, &e.OccurredAt, &ip, &geoJSON, &userAgent, &e.Success, &reason, &metaJSON); err != nil {
			return nil, err
		}
		if tenant.Valid {
			e.TenantID = tenant.String
		}
		if principal.Valid {
			e.PrincipalID = principal.String
		}
		if ip.Valid {
			e.IP = ip.String
		}
		if userAgent.Valid {
			e.UserAgent = userAgent.String
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		if len(geoJSON) > 0 {
			var loc geo.Location
			if err := json.Unmarshal(geoJSON, &loc); err != nil {
				return nil, fmt.Errorf("decode geo: %w", err)
			}
			e.Geo = &loc
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
