package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/authz"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTenantNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select id, name, lockout_threshold, seat_action_prefixes.*from tenants").
		WithArgs("t-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Tenant(context.Background(), "t-missing")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestTenantDecodesSeatPrefixes(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("select id, name, lockout_threshold, seat_action_prefixes.*from tenants").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "lockout_threshold", "seat_action_prefixes", "created_at", "updated_at"}).
			AddRow("t1", "Acme", 5, []byte(`["payroll."]`), now, now))

	tenant, err := store.Tenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Tenant: %v", err)
	}
	if tenant.LockoutThreshold != 5 {
		t.Fatalf("threshold = %d", tenant.LockoutThreshold)
	}
	if len(tenant.SeatActionPrefixes) != 1 || tenant.SeatActionPrefixes[0] != "payroll." {
		t.Fatalf("prefixes = %v", tenant.SeatActionPrefixes)
	}
	expectationsMet(t, mock)
}

func TestMembershipByPrincipal(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("select id, tenant_id, principal_id, status, primary_role_id.*from memberships").
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "principal_id", "status", "primary_role_id", "created_at", "updated_at"}).
			AddRow("m1", "t1", "p1", authz.MembershipActive, "r1", now, now))
	mock.ExpectQuery("select role_id from membership_roles").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow("r1").AddRow("r2"))
	mock.ExpectQuery("select company_id from membership_companies").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow("c1"))

	m, err := store.MembershipByPrincipal(context.Background(), "t1", "p1")
	if err != nil {
		t.Fatalf("MembershipByPrincipal: %v", err)
	}
	if m.PrimaryRoleID != "r1" || len(m.RoleIDs) != 2 || len(m.CompanyIDs) != 1 {
		t.Fatalf("unexpected membership: %+v", m)
	}
	expectationsMet(t, mock)
}

func TestSeatActive(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select 1 from license_seats").
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("select 1 from license_seats").
		WithArgs("t1", "p2").
		WillReturnError(sql.ErrNoRows)

	active, err := store.SeatActive(context.Background(), "t1", "p1")
	if err != nil || !active {
		t.Fatalf("SeatActive(p1) = %v, %v", active, err)
	}
	active, err = store.SeatActive(context.Background(), "t1", "p2")
	if err != nil || active {
		t.Fatalf("SeatActive(p2) = %v, %v", active, err)
	}
	expectationsMet(t, mock)
}

func TestCreateRoleConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into roles").
		WithArgs("r1", "t1", "approver", "Approver", false).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.CreateRole(context.Background(), &authz.Role{
		ID: "r1", TenantID: "t1", Key: "approver", Name: "Approver",
	})
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	expectationsMet(t, mock)
}

func TestAssignSeatExhausted(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select capacity, .*from licenses").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "count"}).AddRow(2, 2))
	mock.ExpectRollback()

	err := store.AssignSeat(context.Background(), "t1", "p9")
	if !errors.Is(err, authz.ErrSeatsExhausted) {
		t.Fatalf("err = %v, want ErrSeatsExhausted", err)
	}
	expectationsMet(t, mock)
}

func TestIncrementReturnsNewCount(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into principal_security").
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_count"}).AddRow(3))

	count, err := store.Increment(context.Background(), "t1", "p1")
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	expectationsMet(t, mock)
}

func TestLockAlreadyLocked(t *testing.T) {
	store, mock := newMock(t)
	lockedAt := time.Now().Add(-time.Hour)
	mock.ExpectQuery("insert into principal_security").
		WithArgs("t1", "p1", "system", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select tenant_id, principal_id, failed_count, locked_at.*from principal_security").
		WithArgs("t1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "principal_id", "failed_count", "locked_at", "locked_by", "reason"}).
			AddRow("t1", "p1", 5, lockedAt, "system", "threshold_reached"))

	st, transitioned, err := store.Lock(context.Background(), "t1", "p1", "system", "threshold_reached")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if transitioned {
		t.Fatalf("second lock must not report a transition")
	}
	if st.LockedAt == nil || !st.Locked() {
		t.Fatalf("state not locked: %+v", st)
	}
	expectationsMet(t, mock)
}

func TestStateMissingRowIsZero(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select tenant_id, principal_id, failed_count, locked_at.*from principal_security").
		WithArgs("t1", "p-new").
		WillReturnError(sql.ErrNoRows)

	st, err := store.State(context.Background(), "t1", "p-new")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.FailedCount != 0 || st.Locked() {
		t.Fatalf("expected zero state, got %+v", st)
	}
	expectationsMet(t, mock)
}

func TestAppendEvent(t *testing.T) {
	store, mock := newMock(t)
	occurred := time.Now()
	mock.ExpectExec("insert into auth_events").
		WithArgs("evt-1", sqlmock.AnyArg(), sqlmock.AnyArg(), audit.EventLoginFailed,
			occurred, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Append(context.Background(), &audit.Event{
		ID:          "evt-1",
		TenantID:    "t1",
		PrincipalID: "p1",
		Type:        audit.EventLoginFailed,
		OccurredAt:  occurred,
		IP:          "203.0.113.9",
		Reason:      "invalid_credentials",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	expectationsMet(t, mock)
}

func TestListEventsWithFilters(t *testing.T) {
	store, mock := newMock(t)
	occurred := time.Now()
	geoJSON := []byte(`{"country":"Uganda","country_code":"UG","city":"Kampala"}`)
	mock.ExpectQuery("select id, tenant_id, principal_id, type, occurred_at.*from auth_events where tenant_id = .* and type = .* order by occurred_at desc limit").
		WithArgs("t1", audit.EventLoginFailed, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "principal_id", "type", "occurred_at", "ip", "geo", "user_agent", "success", "reason", "metadata"}).
			AddRow("evt-1", "t1", "p1", audit.EventLoginFailed, occurred, "203.0.113.9", geoJSON, nil, false, "invalid_credentials", nil))

	events, err := store.List(context.Background(), audit.Filter{
		TenantID: "t1",
		Type:     audit.EventLoginFailed,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Geo == nil || events[0].Geo.City != "Kampala" {
		t.Fatalf("geo not decoded: %+v", events[0].Geo)
	}
	expectationsMet(t, mock)
}
