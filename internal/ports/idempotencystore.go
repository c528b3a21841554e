package ports

import (
	"context"
	"gatekeep/internal/types"
	"time"
)

// IdempotencyStore persists processed external references.
type IdempotencyStore interface {
	// Get returns the record for reference, or nil when none exists.
	Get(ctx context.Context, reference string) (*types.IdempotencyRecord, error)

	// PutIfAbsent writes rec with ttl unless a record already exists.
	// Returns true when rec was written.
	PutIfAbsent(ctx context.Context, rec types.IdempotencyRecord, ttl time.Duration) (bool, error)
}
