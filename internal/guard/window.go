package guard

import (
	"context"
	"gatekeep/internal/metrics"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"
	"time"

	log "github.com/sirupsen/logrus"
)

// SlidingWindowLimiter answers "has identifier X performed more than N actions of type T in
// the last W". All counting happens in the store; the limiter holds no state of its own.
type SlidingWindowLimiter struct {
	store ports.WindowStore
	rec   metrics.Recorder
}

func NewSlidingWindowLimiter(store ports.WindowStore, rec metrics.Recorder) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		store: store,
		rec:   metrics.OrNoOp(rec),
	}
}

// Check evaluates the window and records the action when it is allowed.
// It fails open: when the store cannot be reached the action is allowed with the full quota.
func (l *SlidingWindowLimiter) Check(ctx context.Context, identifier string, policy types.Policy) types.Decision {
	now := timeNow()
	st, err := l.store.Hit(ctx, scopeOf(policy.Operation, identifier), policy, now, newToken(now))
	if err != nil {
		return l.failOpen(policy, identifier, now, "check", err)
	}
	d := toDecision(st, policy, now)
	outcome := Allowed
	if !d.Allowed {
		outcome = Rejected
		log.WithFields(log.Fields{
			"operation":   policy.Operation.String(),
			"identifier":  identifier,
			"count":       st.Count,
			"retry_after": d.RetryAfterSeconds(),
		}).Info("rate limit exceeded")
	}
	l.rec.Add(metrics.Decisions, 1, map[string]string{"operation": policy.Operation.String(), "outcome": outcome.String()})
	return d
}

// Status runs the same evaluation as Check without recording anything.
func (l *SlidingWindowLimiter) Status(ctx context.Context, identifier string, policy types.Policy) types.Decision {
	now := timeNow()
	st, err := l.store.Peek(ctx, scopeOf(policy.Operation, identifier), policy, now)
	if err != nil {
		return l.failOpen(policy, identifier, now, "status", err)
	}
	return toDecision(st, policy, now)
}

// Reset clears the window and any block for identifier.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, identifier string, op types.Operation) error {
	if err := l.store.Reset(ctx, scopeOf(op, identifier)); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"operation":  op.String(),
			"identifier": identifier,
		}).Error("failed to reset rate limit")
		return err
	}
	log.WithFields(log.Fields{"operation": op.String(), "identifier": identifier}).Info("rate limit reset")
	return nil
}

func (l *SlidingWindowLimiter) failOpen(policy types.Policy, identifier string, now time.Time, call string, err error) types.Decision {
	log.WithError(err).WithFields(log.Fields{
		"component":  "rate_limiter",
		"operation":  policy.Operation.String(),
		"identifier": identifier,
		"call":       call,
		"degraded":   true,
	}).Warn("rate limiter store unavailable, failing open")
	l.rec.Add(metrics.Degraded, 1, map[string]string{"component": "rate_limiter"})
	l.rec.Add(metrics.Decisions, 1, map[string]string{"operation": policy.Operation.String(), "outcome": FailedOpen.String()})
	return types.Decision{
		Allowed:   true,
		Limit:     policy.MaxAttempts,
		Remaining: policy.MaxAttempts,
		ResetAt:   now.Add(policy.Window),
		Degraded:  true,
	}
}

func toDecision(st types.WindowState, policy types.Policy, now time.Time) types.Decision {
	d := types.Decision{
		Allowed: st.Allowed,
		Limit:   policy.MaxAttempts,
		ResetAt: st.ResetAt,
	}
	if st.Allowed {
		d.Remaining = max(policy.MaxAttempts-st.Count, 0)
		return d
	}
	d.RetryAfter = st.RetryAfter
	d.ResetAt = now.Add(st.RetryAfter)
	return d
}

// scopeOf is the store scope of one (operation, identifier) pair.
func scopeOf(op types.Operation, identifier string) string {
	return op.String() + ":" + identifier
}
