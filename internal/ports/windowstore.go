package ports

import (
	"context"
	"gatekeep/internal/types"
	"time"
)

// WindowStore keeps sliding-window entries per (operation, identifier) scope.
// Implementations MUST evaluate and mutate in a single atomic step.
type WindowStore interface {
	// Hit evaluates the window at now and, when allowed, records one entry named nonce.
	Hit(ctx context.Context, scope string, policy types.Policy, now time.Time, nonce string) (types.WindowState, error)

	// Peek evaluates the window at now without recording anything.
	Peek(ctx context.Context, scope string, policy types.Policy, now time.Time) (types.WindowState, error)

	// Reset drops every entry and any block for the scope.
	Reset(ctx context.Context, scope string) error
}
