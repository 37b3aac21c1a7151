package loginsec

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLoadUsersSeedsProvider(t *testing.T) {
	provider := NewLocalProvider()
	seed := `[
		{"identifier": "user@acme.test", "secret": "orange-crate-41", "principal_id": "p1", "tenant_id": "t1"},
		{"identifier": "ops@globex.test", "secret": "blue-anchor-7", "principal_id": "p2", "tenant_id": "t2", "lockout_threshold": 3}
	]`

	n, err := provider.LoadUsers(strings.NewReader(seed))
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 users loaded, got %d", n)
	}

	p, err := provider.Lookup(context.Background(), "ops@globex.test")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.ID != "p2" || p.TenantID != "t2" || p.LockoutThreshold != 3 {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if err := provider.Verify(context.Background(), "user@acme.test", "orange-crate-41"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := provider.Verify(context.Background(), "user@acme.test", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestLoadUsersRejectsIncompleteRecord(t *testing.T) {
	provider := NewLocalProvider()
	seed := `[{"identifier": "user@acme.test", "secret": "x", "principal_id": "p1"}]`

	if _, err := provider.LoadUsers(strings.NewReader(seed)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing tenant_id, got %v", err)
	}

	if _, err := provider.LoadUsers(strings.NewReader(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected decode error for non-array payload")
	}
}
