// Package loginsec is the authentication-path façade. It orchestrates the
// rate limiter, the lockout guard, the external credential check, and the
// session registry around a single AttemptLogin entry point.
package loginsec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/ids"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/lockout"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/obs"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/ratelimit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/session"
)

// ErrInvalidInput marks malformed façade arguments.
var ErrInvalidInput = errors.New("loginsec: invalid input")

// GenericFailure is the only failure message ever shown to the caller. Wrong
// password, locked account, and rate-limited attempts all read the same to
// prevent account enumeration; internal events retain the true reason.
const GenericFailure = "Invalid email or password"

// Outcome discriminates login results for the host application. Everything
// except OutcomeSession carries GenericFailure outward.
type Outcome int

const (
	OutcomeSession Outcome = iota
	OutcomeInvalidCredentials
	OutcomeLockedOut
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSession:
		return "session"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeLockedOut:
		return "locked_out"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Result is the outcome of one login attempt. Token is set only for
// OutcomeSession; RetryAfter is set only for OutcomeRateLimited and is for
// internal use, never shown to the end user.
type Result struct {
	Outcome     Outcome
	Message     string
	Token       string
	PrincipalID string
	TenantID    string
	RetryAfter  time.Duration
}

// Service wires the login pipeline together.
type Service struct {
	provider IdentityProvider
	limiter  ratelimit.Limiter
	guard    *lockout.Guard
	sessions *session.Registry
	sink     *audit.Sink
	newToken func() string
}

// Option configures Service.
type Option func(*Service)

// WithTokenFunc overrides session token generation for tests.
func WithTokenFunc(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

// NewService builds the façade. All collaborators are required.
func NewService(provider IdentityProvider, limiter ratelimit.Limiter, guard *lockout.Guard, sessions *session.Registry, sink *audit.Sink, opts ...Option) (*Service, error) {
	if provider == nil || limiter == nil || guard == nil || sessions == nil || sink == nil {
		return nil, fmt.Errorf("%w: all collaborators are required", ErrInvalidInput)
	}
	s := &Service{
		provider: provider,
		limiter:  limiter,
		guard:    guard,
		sessions: sessions,
		sink:     sink,
		newToken: ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AttemptLogin runs one authentication attempt: rate-limit gate, lock gate,
// credential check, then session admission or failure accounting. Every path
// terminates in an explicit outcome and attempts to record an audit event.
func (s *Service) AttemptLogin(ctx context.Context, identifier, secret, origin, userAgent string) Result {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return failure(OutcomeInvalidCredentials)
	}

	rl, err := s.limiter.Allow(ctx, identifier, ratelimit.ActionLogin, origin)
	if err != nil {
		// a broken limiter backend must not take logins down with it;
		// the lockout counter remains the backstop
		obs.Error("rate_limiter_unavailable", err, nil)
	} else if !rl.Allowed {
		obs.ObserveRateLimited(ratelimit.ActionLogin)
		obs.ObserveLoginAttempt("rate_limited")
		s.sink.Record(ctx, audit.Event{
			Type:      audit.EventRateLimited,
			IP:        origin,
			UserAgent: userAgent,
			Reason:    ratelimit.ActionLogin,
			Metadata:  map[string]string{"identifier": identifier},
		})
		r := failure(OutcomeRateLimited)
		r.RetryAfter = rl.RetryAfter
		return r
	}

	p, err := s.provider.Lookup(ctx, identifier)
	if err != nil {
		reason := "unknown_identifier"
		if !errors.Is(err, ErrUnknownIdentity) {
			reason = "identity_provider_unavailable"
			obs.Error("identity_lookup_failed", err, nil)
		}
		obs.ObserveLoginAttempt("failure")
		s.sink.Record(ctx, audit.Event{
			Type:      audit.EventLoginFailed,
			IP:        origin,
			UserAgent: userAgent,
			Reason:    reason,
			Metadata:  map[string]string{"identifier": identifier},
		})
		return failure(OutcomeInvalidCredentials)
	}

	// the lock gate runs before the credential check so a locked account
	// never reaches the identity provider
	if s.guard.IsLocked(ctx, p.TenantID, p.ID) {
		obs.ObserveLoginAttempt("locked_out")
		s.sink.Record(ctx, audit.Event{
			TenantID:    p.TenantID,
			PrincipalID: p.ID,
			Type:        audit.EventLoginFailed,
			IP:          origin,
			UserAgent:   userAgent,
			Reason:      "account_locked",
		})
		return failure(OutcomeLockedOut)
	}

	if err := s.provider.Verify(ctx, identifier, secret); err != nil {
		locked, ferr := s.guard.RegisterFailure(ctx, p.TenantID, p.ID, origin, p.LockoutThreshold)
		if ferr != nil {
			obs.Error("lockout_increment_failed", ferr, nil)
		}
		obs.ObserveLoginAttempt("failure")
		s.sink.Record(ctx, audit.Event{
			TenantID:    p.TenantID,
			PrincipalID: p.ID,
			Type:        audit.EventLoginFailed,
			IP:          origin,
			UserAgent:   userAgent,
			Reason:      "invalid_credentials",
		})
		if locked {
			return failure(OutcomeLockedOut)
		}
		return failure(OutcomeInvalidCredentials)
	}

	if err := s.guard.RegisterSuccess(ctx, p.TenantID, p.ID); err != nil {
		obs.Error("lockout_reset_failed", err, nil)
	}
	token := s.newToken()
	if err := s.sessions.Admit(ctx, p.TenantID, p.ID, token, origin, userAgent); err != nil {
		obs.ObserveLoginAttempt("failure")
		return failure(OutcomeInvalidCredentials)
	}
	obs.ObserveLoginAttempt("success")
	s.sink.Record(ctx, audit.Event{
		TenantID:    p.TenantID,
		PrincipalID: p.ID,
		Type:        audit.EventLoginSuccess,
		IP:          origin,
		UserAgent:   userAgent,
		Success:     true,
	})
	return Result{
		Outcome:     OutcomeSession,
		Token:       token,
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
	}
}

// Logout revokes the session behind token. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) {
	s.sessions.Revoke(ctx, token, "logout")
}

// Validate checks a bearer session token against the registry.
func (s *Service) Validate(ctx context.Context, token, origin string) session.TouchResult {
	return s.sessions.Touch(ctx, token, origin)
}

func failure(outcome Outcome) Result {
	return Result{Outcome: outcome, Message: GenericFailure}
}
