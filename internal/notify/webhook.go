// Package notify delivers lockout notifications to an external webhook.
// Delivery is best-effort: a failed POST is reported to the caller, who logs
// it and moves on; the lock itself is never rolled back.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/lockout"
)

// ErrInvalidInput marks malformed notifier configuration.
var ErrInvalidInput = errors.New("notify: invalid input")

// DefaultTimeout bounds one webhook delivery.
const DefaultTimeout = 5 * time.Second

// Webhook posts lockout notifications as JSON to a fixed endpoint. It
// implements lockout.Notifier.
type Webhook struct {
	endpoint string
	client   *http.Client
}

// Option configures Webhook.
type Option func(*Webhook)

// WithClient overrides the HTTP client, mostly for tests.
func WithClient(c *http.Client) Option {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithTimeout overrides the delivery deadline.
func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) {
		if d > 0 {
			w.client.Timeout = d
		}
	}
}

// NewWebhook builds a notifier for endpoint.
func NewWebhook(endpoint string, opts ...Option) (*Webhook, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidInput)
	}
	w := &Webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

type lockoutPayload struct {
	Type        string    `json:"type"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	Reason      string    `json:"reason,omitempty"`
	LockedAt    time.Time `json:"locked_at"`
}

// NotifyLockout implements lockout.Notifier.
func (w *Webhook) NotifyLockout(ctx context.Context, n lockout.Notification) error {
	body, err := json.Marshal(lockoutPayload{
		Type:        "account_locked",
		TenantID:    n.TenantID,
		PrincipalID: n.PrincipalID,
		Reason:      n.Reason,
		LockedAt:    n.LockedAt,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver notification: unexpected status %d", resp.StatusCode)
	}
	return nil
}
