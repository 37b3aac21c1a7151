package audit

import (
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/geo"
)

// Authentication and security event types. The set is closed; consumers
// filter and alert on these names.
const (
	EventLoginSuccess          = "login_success"
	EventLoginFailed           = "login_failed"
	EventAccountLocked         = "account_locked"
	EventAccountUnlocked       = "account_unlocked"
	EventRateLimited           = "rate_limited"
	EventSessionAdmitted       = "session_admitted"
	EventSessionEvicted        = "session_evicted"
	EventSessionRevoked        = "session_revoked"
	EventSessionOriginMismatch = "session_origin_mismatch"
)

// Event is an immutable authentication/security record. The core only ever
// appends; nothing updates or deletes a persisted event.
type Event struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id,omitempty"`
	PrincipalID string            `json:"principal_id,omitempty"`
	Type        string            `json:"type"`
	OccurredAt  time.Time         `json:"occurred_at"`
	IP          string            `json:"ip,omitempty"`
	Geo         *geo.Location     `json:"geo,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Success     bool              `json:"success"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Filter narrows event listings for the admin query surface.
type Filter struct {
	TenantID    string
	PrincipalID string
	Type        string
	Success     *bool
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}
