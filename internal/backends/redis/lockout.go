package redis

import (
	"context"
	"fmt"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutStore implements ports.LockoutStore. The lockout record holds the locked-until
// timestamp in milliseconds so expiry is judged by the caller's clock, with the key TTL
// only reclaiming memory.
type LockoutStore struct {
	cli    redis.Cmdable
	runner ports.ScriptRunner
}

func NewLockoutStore(cli redis.Cmdable, runner ports.ScriptRunner) *LockoutStore {
	return &LockoutStore{cli: cli, runner: runner}
}

// RecordFailure reports Failures == 0 when the identity was already locked before this call.
func (s *LockoutStore) RecordFailure(ctx context.Context, identity string, cfg types.LockoutConfig, now time.Time) (types.LockoutState, error) {
	nowMs := now.UnixMilli()
	lockMs := cfg.LockDuration.Milliseconds()
	out, err := s.runner.RunScript(ctx, ScriptLockoutFailure,
		[]string{getFailureKeyName(identity), getLockoutKeyName(identity)},
		nowMs,
		cfg.Threshold,
		cfg.FailureWindow.Milliseconds(),
		lockMs,
		nowMs+lockMs,
	)
	if err != nil {
		return types.LockoutState{}, types.Err(types.ErrStoreAccess, err, "record failure %s", identity)
	}
	return toLockoutState(out)
}

func (s *LockoutStore) Check(ctx context.Context, identity string, now time.Time) (types.LockoutState, error) {
	out, err := s.runner.RunScript(ctx, ScriptLockoutCheck,
		[]string{getFailureKeyName(identity), getLockoutKeyName(identity)},
		now.UnixMilli(),
	)
	if err != nil {
		return types.LockoutState{}, types.Err(types.ErrStoreAccess, err, "check lockout %s", identity)
	}
	return toLockoutState(out)
}

func (s *LockoutStore) Clear(ctx context.Context, identity string) error {
	if err := s.cli.Del(ctx, getFailureKeyName(identity), getLockoutKeyName(identity)).Err(); err != nil {
		return types.Err(types.ErrStoreAccess, err, "clear lockout %s", identity)
	}
	return nil
}

// toLockoutState decodes the {locked, failures, locked_until_ms} script tuple.
func toLockoutState(out []int64) (types.LockoutState, error) {
	if len(out) != 3 {
		return types.LockoutState{}, fmt.Errorf("lockout: unexpected response length %d", len(out))
	}
	st := types.LockoutState{
		Locked:   out[0] == 1,
		Failures: int(out[1]),
	}
	if out[2] > 0 {
		st.LockedUntil = time.UnixMilli(out[2])
	}
	return st, nil
}
