package ratelimit

import "time"

// Guarded action names. Policies are keyed by these.
const (
	ActionLogin         = "login"
	ActionPasswordReset = "password_reset"
	ActionAPI           = "api"
	ActionSecondFactor  = "second_factor"
)

// Policy bounds one action: MaxAttempts per sliding Window, then a block of
// BlockDuration past the window end.
type Policy struct {
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// DefaultPolicies returns the deployment defaults. Hosts override per action
// through WithPolicy.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ActionLogin:         {MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute},
		ActionPasswordReset: {MaxAttempts: 3, Window: 60 * time.Minute, BlockDuration: 60 * time.Minute},
		ActionAPI:           {MaxAttempts: 100, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute},
		ActionSecondFactor:  {MaxAttempts: 3, Window: 5 * time.Minute, BlockDuration: 15 * time.Minute},
	}
}

// Decision reports the outcome of one attempt.
type Decision struct {
	Allowed      bool
	Remaining    int
	RetryAfter   time.Duration
	BlockedUntil time.Time
}

// Key joins the dimensions a window is tracked by.
func Key(identifier, action, origin string) string {
	return identifier + "\x00" + action + "\x00" + origin
}
