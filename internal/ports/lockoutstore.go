package ports

import (
	"context"
	"gatekeep/internal/types"
	"time"
)

// LockoutStore tracks failed authentications and lockouts per account identity.
type LockoutStore interface {
	// RecordFailure counts one failure at now. Reaching cfg.Threshold writes a lockout
	// record and clears the counter in the same atomic step. An identity that is already
	// locked is reported as such without counting.
	RecordFailure(ctx context.Context, identity string, cfg types.LockoutConfig, now time.Time) (types.LockoutState, error)

	// Check reports the lockout at now, deleting an expired record.
	Check(ctx context.Context, identity string, now time.Time) (types.LockoutState, error)

	// Clear removes both the counter and the lockout record.
	Clear(ctx context.Context, identity string) error
}
