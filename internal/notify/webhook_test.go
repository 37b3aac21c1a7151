package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/lockout"
)

func TestNotifyLockoutPostsJSON(t *testing.T) {
	var got lockoutPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	lockedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	err = hook.NotifyLockout(context.Background(), lockout.Notification{
		TenantID:    "t1",
		PrincipalID: "p1",
		Reason:      "threshold_reached",
		LockedAt:    lockedAt,
	})
	if err != nil {
		t.Fatalf("NotifyLockout: %v", err)
	}
	if got.Type != "account_locked" || got.TenantID != "t1" || got.PrincipalID != "p1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if !got.LockedAt.Equal(lockedAt) {
		t.Fatalf("locked_at = %v", got.LockedAt)
	}
}

func TestNotifyLockoutRejectsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := hook.NotifyLockout(context.Background(), lockout.Notification{}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestNewWebhookRequiresEndpoint(t *testing.T) {
	if _, err := NewWebhook("  "); err == nil {
		t.Fatalf("expected validation error")
	}
}
