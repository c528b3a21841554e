package guard

import (
	"context"
	"gatekeep/internal/metrics"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"
	"time"

	log "github.com/sirupsen/logrus"
)

// ResourceLockManager hands out mutual-exclusion locks on resource ids. A lock is a store key
// holding a per-acquisition holder token, created only when absent and always with a TTL.
type ResourceLockManager struct {
	store ports.LockStore
	cfg   types.LockConfig
	rec   metrics.Recorder
}

func NewResourceLockManager(store ports.LockStore, cfg types.LockConfig, rec metrics.Recorder) (*ResourceLockManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = types.DefaultLockKeyPrefix
	}
	return &ResourceLockManager{
		store: store,
		cfg:   cfg,
		rec:   metrics.OrNoOp(rec),
	}, nil
}

func (m *ResourceLockManager) Config() types.LockConfig {
	return m.cfg
}

func (m *ResourceLockManager) key(resourceID string) string {
	return m.cfg.KeyPrefix + resourceID
}

// TryAcquire makes a single attempt. A store error counts as not acquired.
func (m *ResourceLockManager) TryAcquire(ctx context.Context, resourceID string) (types.Lease, bool) {
	now := timeNow()
	token := newToken(now)
	ok, err := m.store.SetIfAbsent(ctx, m.key(resourceID), token, m.cfg.TTL)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"component": "lock",
			"resource":  resourceID,
			"degraded":  true,
		}).Warn("lock store unavailable")
		m.rec.Add(metrics.Degraded, 1, map[string]string{"component": "lock"})
		return types.Lease{}, false
	}
	if !ok {
		return types.Lease{}, false
	}
	return types.Lease{
		ResourceID: resourceID,
		Token:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.cfg.TTL),
	}, true
}

// Acquire retries TryAcquire every RetryInterval, at most MaxAttempts times. It gives up early
// when ctx is done.
func (m *ResourceLockManager) Acquire(ctx context.Context, resourceID string) (types.Lease, bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for attempt := 1; ; attempt++ {
		lease, ok := m.TryAcquire(ctx, resourceID)
		if ok {
			m.rec.Observe(metrics.LockWaits, float64(attempt), map[string]string{"outcome": Acquired.String()})
			return lease, true
		}
		if attempt >= m.cfg.MaxAttempts {
			m.rec.Observe(metrics.LockWaits, float64(attempt), map[string]string{"outcome": Unavailable.String()})
			log.WithFields(log.Fields{"resource": resourceID, "attempts": attempt}).Info("lock unavailable")
			return types.Lease{}, false
		}
		if timer == nil {
			timer = time.NewTimer(m.cfg.RetryInterval)
		} else {
			timer.Reset(m.cfg.RetryInterval)
		}
		select {
		case <-ctx.Done():
			m.rec.Observe(metrics.LockWaits, float64(attempt), map[string]string{"outcome": Unavailable.String()})
			log.WithError(ctx.Err()).WithField("resource", resourceID).Info("lock wait cancelled")
			return types.Lease{}, false
		case <-timer.C:
		}
	}
}

// AcquireMany locks every resource in the given order, skipping duplicates. It is all or
// nothing: when one resource cannot be acquired every lease taken so far is released and
// false is returned.
func (m *ResourceLockManager) AcquireMany(ctx context.Context, resourceIDs []string) ([]types.Lease, bool) {
	seen := make(map[string]struct{}, len(resourceIDs))
	leases := make([]types.Lease, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		lease, ok := m.Acquire(ctx, id)
		if !ok {
			log.WithFields(log.Fields{
				"resource": id,
				"rollback": len(leases),
			}).Info("lock batch failed, rolling back")
			// Rollback must run even when ctx is what made the batch fail.
			m.ReleaseAll(context.WithoutCancel(ctx), leases)
			return nil, false
		}
		leases = append(leases, lease)
	}
	return leases, true
}

// Release deletes the lock on resourceID whoever holds it. A holder whose lock already
// expired and was taken over can delete the new holder's lock this way; prefer ReleaseLease.
func (m *ResourceLockManager) Release(ctx context.Context, resourceID string) {
	if err := m.store.Delete(ctx, m.key(resourceID)); err != nil {
		log.WithError(err).WithField("resource", resourceID).Warn("failed to release lock")
	}
}

// ReleaseLease deletes the lock only while it is still held by lease. It returns false when
// the lock expired or belongs to someone else.
func (m *ResourceLockManager) ReleaseLease(ctx context.Context, lease types.Lease) bool {
	ok, err := m.store.DeleteIfHolder(ctx, m.key(lease.ResourceID), lease.Token)
	if err != nil {
		log.WithError(err).WithField("resource", lease.ResourceID).Warn("failed to release lock")
		return false
	}
	if !ok {
		log.WithField("resource", lease.ResourceID).Warn("lock no longer held at release")
	}
	return ok
}

func (m *ResourceLockManager) ReleaseAll(ctx context.Context, leases []types.Lease) {
	for i := len(leases) - 1; i >= 0; i-- {
		m.ReleaseLease(ctx, leases[i])
	}
}

// WithLocks runs fn while holding every lock in resourceIDs.
// It returns types.ErrLockUnavailable without calling fn when the batch cannot be acquired.
func (m *ResourceLockManager) WithLocks(ctx context.Context, resourceIDs []string, fn func(ctx context.Context) error) error {
	leases, ok := m.AcquireMany(ctx, resourceIDs)
	if !ok {
		return types.Err(types.ErrLockUnavailable, nil, "resources %v", resourceIDs)
	}
	defer m.ReleaseAll(context.WithoutCancel(ctx), leases)
	return fn(ctx)
}

// Holder returns the token currently holding resourceID, or "" when it is free.
func (m *ResourceLockManager) Holder(ctx context.Context, resourceID string) (string, error) {
	return m.store.Holder(ctx, m.key(resourceID))
}
