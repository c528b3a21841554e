package guard

import (
	"fmt"
	"gatekeep/internal/types"
)

// RejectionMessage is the user-facing text for a rate-limited operation.
func RejectionMessage(op types.Operation, retryAfterSeconds int) string {
	var what string
	switch op {
	case types.OpLogin:
		what = "Too many login attempts"
	case types.OpRegistration:
		what = "Too many registration attempts"
	case types.OpPasswordReset:
		what = "Too many password reset requests"
	case types.OpExportSingle, types.OpExportBulk:
		what = "Too many export requests"
	default:
		what = "Too many requests"
	}
	return fmt.Sprintf("%s. Please try again in %s.", what, humanizeSeconds(retryAfterSeconds))
}

// LockoutMessage is distinct from RejectionMessage so callers can tell an account lock
// from a plain rate limit.
func LockoutMessage(remainingSeconds int) string {
	return fmt.Sprintf("Account locked due to too many failed login attempts. Retry in %d seconds.", remainingSeconds)
}

func humanizeSeconds(s int) string {
	switch {
	case s <= 1:
		return "1 second"
	case s < 60:
		return fmt.Sprintf("%d seconds", s)
	case s == 60:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", (s+59)/60)
	}
}
