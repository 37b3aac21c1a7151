package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/authz"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/lockout"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/loginsec"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/ratelimit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/session"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/token"
)

type apiFixture struct {
	api      *API
	handler  http.Handler
	store    *authz.MemoryStore
	events   *audit.MemoryStore
	provider *loginsec.LocalProvider
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("PAYRUN_AUTH_SECRET", "handlers-test-secret")
	token.ResetSecretForTests()
	t.Cleanup(token.ResetSecretForTests)

	events := audit.NewMemoryStore()
	sink, err := audit.NewSink(events)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	guard, err := lockout.NewGuard(lockout.NewMemoryStore(), sink)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	sessions, err := session.NewRegistry(sink)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	provider := loginsec.NewLocalProvider()
	limiter := ratelimit.NewMemoryLimiter()
	login, err := loginsec.NewService(provider, limiter, guard, sessions, sink)
	if err != nil {
		t.Fatalf("new login service: %v", err)
	}

	store := authz.NewMemoryStore()
	authorizer, err := authz.NewService(store)
	if err != nil {
		t.Fatalf("new authz service: %v", err)
	}
	admin, err := authz.NewAdmin(store)
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}

	api := New(Config{
		Version:    "test",
		Authorizer: authorizer,
		Admin:      admin,
		Login:      login,
		Guard:      guard,
		Sink:       sink,
	})
	return &apiFixture{
		api:      api,
		handler:  api.Handler(),
		store:    store,
		events:   events,
		provider: provider,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, authorize bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorize {
		req.Header.Set("Authorization", "Bearer "+f.mintToken(t, "admin-1", "t1", "admin"))
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) mintToken(t *testing.T, principalID, tenantID string, roles ...string) string {
	t.Helper()
	tok, err := token.Generate(principalID, tenantID, roles, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["service"] != "payrun-authz" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}
}

func TestLoginFlow(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.provider.Register("user@acme.test", "orange-crate-41", loginsec.Principal{ID: "p1", TenantID: "t1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rr := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "user@acme.test",
		"secret":     "orange-crate-41",
	}, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	sessionToken, _ := body["token"].(string)
	if sessionToken == "" {
		t.Fatal("expected session token in response")
	}
	if body["principal_id"] != "p1" || body["tenant_id"] != "t1" {
		t.Fatalf("unexpected identity in response: %v", body)
	}

	// session is valid, then gone after logout
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/session", nil)
	req.Header.Set("X-Session-Token", sessionToken)
	check := httptest.NewRecorder()
	f.handler.ServeHTTP(check, req)
	if check.Code != http.StatusOK {
		t.Fatalf("expected valid session, got %d", check.Code)
	}

	out := f.do(t, http.MethodPost, "/v1/auth/logout", map[string]string{"token": sessionToken}, false)
	if out.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", out.Code)
	}
	gone := httptest.NewRecorder()
	f.handler.ServeHTTP(gone, req.Clone(req.Context()))
	if gone.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", gone.Code)
	}
}

func TestLoginRejectsBadCredentialsUniformly(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.provider.Register("user@acme.test", "orange-crate-41", loginsec.Principal{ID: "p1", TenantID: "t1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	wrongSecret := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "user@acme.test",
		"secret":     "nope",
	}, false)
	unknownUser := f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"identifier": "ghost@acme.test",
		"secret":     "nope",
	}, false)

	for _, rr := range []*httptest.ResponseRecorder{wrongSecret, unknownUser} {
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
		var body map[string]any
		decodeBody(t, rr, &body)
		if body["error"] != loginsec.GenericFailure {
			t.Fatalf("expected uniform failure message, got %v", body["error"])
		}
	}
}

func TestDecisionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.store.PutTenant(authz.Tenant{ID: "t1", Name: "Acme"})
	if err := f.store.CreateRole(context.Background(), &authz.Role{
		ID:          "r1",
		TenantID:    "t1",
		Key:         "approver",
		Name:        "Approver",
		Permissions: []string{"payroll.approve"},
	}); err != nil {
		t.Fatalf("seed role: %v", err)
	}
	f.store.PutMembership(authz.Membership{
		ID:          "m1",
		TenantID:    "t1",
		PrincipalID: "p1",
		Status:      authz.MembershipActive,
		RoleIDs:     []string{"r1"},
	})

	rr := f.do(t, http.MethodPost, "/v1/authz/decision", map[string]string{
		"principal_id": "p1",
		"tenant_id":    "t1",
		"action":       "payroll.approve",
		"scope_type":   authz.ScopeResource,
	}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var decision authz.Decision
	decodeBody(t, rr, &decision)
	if !decision.Allowed || decision.Reason != authz.ReasonRolePermission {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestAdminRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/tenants/t1/roles", nil, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestAdminRejectsCrossTenantToken(t *testing.T) {
	f := newAPIFixture(t)
	f.store.PutTenant(authz.Tenant{ID: "t2", Name: "Globex"})
	if err := f.store.EnsurePermissions(context.Background(), "t2", []string{"payroll.view"}); err != nil {
		t.Fatalf("seed permissions: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"key":         "intruder",
		"name":        "Intruder",
		"permissions": []string{"payroll.view"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/t2/roles", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.mintToken(t, "admin-1", "t1", "admin"))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-tenant token, got %d: %s", rr.Code, rr.Body.String())
	}
	roles, err := f.store.ListRoles(context.Background(), "t2")
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("cross-tenant token must not create roles, got %d", len(roles))
	}
}

func TestAdminRequiresAdminRole(t *testing.T) {
	f := newAPIFixture(t)
	f.store.PutTenant(authz.Tenant{ID: "t1", Name: "Acme"})

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/t1/roles", nil)
	req.Header.Set("Authorization", "Bearer "+f.mintToken(t, "viewer-1", "t1", "viewer"))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d", rr.Code)
	}
}

func TestAdminRoleLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.store.PutTenant(authz.Tenant{ID: "t1", Name: "Acme"})
	if err := f.store.EnsurePermissions(context.Background(), "t1", []string{"payroll.view", "payroll.approve"}); err != nil {
		t.Fatalf("seed permissions: %v", err)
	}

	created := f.do(t, http.MethodPost, "/v1/tenants/t1/roles", map[string]any{
		"key":         "reviewer",
		"name":        "Reviewer",
		"permissions": []string{"payroll.view"},
	}, true)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var role authz.Role
	decodeBody(t, created, &role)
	if role.ID == "" || role.Key != "reviewer" {
		t.Fatalf("unexpected role: %+v", role)
	}
	if loc := created.Header().Get("Location"); loc != fmt.Sprintf("/v1/tenants/t1/roles/%s", role.ID) {
		t.Fatalf("unexpected location header: %q", loc)
	}

	dup := f.do(t, http.MethodPost, "/v1/tenants/t1/roles", map[string]any{
		"key":         "reviewer",
		"name":        "Reviewer Again",
		"permissions": []string{"payroll.view"},
	}, true)
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate key, got %d", dup.Code)
	}

	unknown := f.do(t, http.MethodPost, "/v1/tenants/t1/roles", map[string]any{
		"key":         "ghost",
		"name":        "Ghost",
		"permissions": []string{"payroll.nonexistent"},
	}, true)
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown permission token, got %d", unknown.Code)
	}

	listed := f.do(t, http.MethodGet, "/v1/tenants/t1/roles", nil, true)
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	var listing struct {
		Roles []authz.Role `json:"roles"`
	}
	decodeBody(t, listed, &listing)
	if len(listing.Roles) != 1 {
		t.Fatalf("expected one role, got %d", len(listing.Roles))
	}

	deleted := f.do(t, http.MethodDelete, "/v1/tenants/t1/roles/"+role.ID, nil, true)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", deleted.Code)
	}
}

func TestAdminLockUnlockPrincipal(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/tenants/t1/principals/p1/lock", map[string]string{"reason": "offboarding"}, true)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on lock, got %d: %s", rr.Code, rr.Body.String())
	}

	state := f.do(t, http.MethodGet, "/v1/tenants/t1/principals/p1/security", nil, true)
	if state.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", state.Code)
	}
	var sec map[string]any
	decodeBody(t, state, &sec)
	if sec["locked"] != true {
		t.Fatalf("expected locked state, got %v", sec)
	}

	unlock := f.do(t, http.MethodPost, "/v1/tenants/t1/principals/p1/unlock", nil, true)
	if unlock.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on unlock, got %d", unlock.Code)
	}
}

func TestAdminEventListing(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.provider.Register("user@acme.test", "orange-crate-41", loginsec.Principal{ID: "p1", TenantID: "t1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"identifier": "user@acme.test", "secret": "wrong"}, false)
	f.do(t, http.MethodPost, "/v1/auth/login", map[string]string{"identifier": "user@acme.test", "secret": "orange-crate-41"}, false)

	rr := f.do(t, http.MethodGet, "/v1/tenants/t1/events?type="+audit.EventLoginFailed, nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var listing struct {
		Events []audit.Event `json:"events"`
	}
	decodeBody(t, rr, &listing)
	if len(listing.Events) != 1 {
		t.Fatalf("expected one failed login event, got %d", len(listing.Events))
	}
	if listing.Events[0].PrincipalID != "p1" {
		t.Fatalf("unexpected principal on event: %+v", listing.Events[0])
	}

	filtered := f.do(t, http.MethodGet, "/v1/tenants/t1/events?success=true", nil, true)
	decodeBody(t, filtered, &listing)
	for _, ev := range listing.Events {
		if !ev.Success {
			t.Fatalf("expected only successful events, got %+v", ev)
		}
	}
}
