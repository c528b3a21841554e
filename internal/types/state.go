package types

import (
	"math"
	"time"
)

// WindowState is what a WindowStore reports for one sliding-window evaluation.
type WindowState struct {
	Allowed bool
	// Count is the number of entries inside the window after the evaluation.
	Count      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Decision is the consumer-facing result of a rate-limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
	// Degraded is set when the store could not be reached and the decision failed open.
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as used by Retry-After headers.
func (d Decision) RetryAfterSeconds() int {
	return ceilSeconds(d.RetryAfter)
}

// LockoutState is the raw lockout view of one identity as stored.
type LockoutState struct {
	Locked      bool
	LockedUntil time.Time
	Failures    int
}

// LockoutStatus is the consumer-facing answer of CheckLockout.
type LockoutStatus struct {
	Locked           bool      `json:"locked"`
	RemainingSeconds int       `json:"remaining_seconds,omitempty"`
	LockedUntil      time.Time `json:"locked_until"`
	Failures         int       `json:"failures"`
}

// FailureResult is returned by RecordFailure.
type FailureResult struct {
	Locked bool `json:"locked"`
	// JustLocked is true only for the failure that triggered the lockout.
	JustLocked   bool      `json:"just_locked"`
	Failures     int       `json:"failures"`
	AttemptsLeft int       `json:"attempts_left"`
	LockedUntil  time.Time `json:"locked_until"`
}

// Lease identifies one successful lock acquisition.
type Lease struct {
	ResourceID string    `json:"resource_id"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IdempotencyRecord maps an external reference to the result it produced.
type IdempotencyRecord struct {
	Reference string    `json:"reference" dynamodbav:"reference"`
	ResultID  string    `json:"result_id" dynamodbav:"result_id"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// SecondsUntil is the whole number of seconds left until t, rounded up.
func SecondsUntil(t, now time.Time) int {
	return ceilSeconds(t.Sub(now))
}
