package guard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a guard decision for logs and metrics.
type Outcome int

const (
	Allowed Outcome = iota
	Rejected
	// FailedOpen means the store was unreachable and the action was let through.
	FailedOpen
	Acquired
	// Unavailable means a lock could not be taken within its retry budget.
	Unavailable
	Duplicate
)

var OutcomeTextMap = map[Outcome]string{
	Allowed:     "allowed",
	Rejected:    "rejected",
	FailedOpen:  "failed_open",
	Acquired:    "acquired",
	Unavailable: "unavailable",
	Duplicate:   "duplicate",
}

func (o Outcome) String() string {
	return OutcomeTextMap[o]
}

var timeNow = time.Now

func SetTimeNowFn(f func() time.Time) {
	timeNow = f
}

func RestoreTimeNow() {
	timeNow = time.Now
}

// newToken returns a value unique to one call: the clock in nanoseconds plus a random uuid.
// Used both as window entry nonce and as lock holder token.
func newToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
}
