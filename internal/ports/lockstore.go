package ports

import (
	"context"
	"time"
)

// LockStore holds mutual-exclusion records keyed by store key.
type LockStore interface {
	// SetIfAbsent stores token under key with ttl only when key is free.
	SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Delete removes key regardless of its holder.
	Delete(ctx context.Context, key string) error

	// DeleteIfHolder removes key only while it still holds token.
	DeleteIfHolder(ctx context.Context, key, token string) (bool, error)

	// Holder returns the current token, or "" when key is free.
	Holder(ctx context.Context, key string) (string, error)
}
