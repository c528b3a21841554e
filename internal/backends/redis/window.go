package redis

import (
	"context"
	"fmt"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowStore implements ports.WindowStore with one sorted set per scope, scored by
// the millisecond timestamp of each accepted action, plus an optional block marker.
type WindowStore struct {
	cli    redis.Cmdable
	runner ports.ScriptRunner
}

func NewWindowStore(cli redis.Cmdable, runner ports.ScriptRunner) *WindowStore {
	return &WindowStore{cli: cli, runner: runner}
}

func (s *WindowStore) Hit(ctx context.Context, scope string, policy types.Policy, now time.Time, nonce string) (types.WindowState, error) {
	return s.eval(ctx, scope, policy, now, nonce, true)
}

func (s *WindowStore) Peek(ctx context.Context, scope string, policy types.Policy, now time.Time) (types.WindowState, error) {
	return s.eval(ctx, scope, policy, now, "", false)
}

func (s *WindowStore) Reset(ctx context.Context, scope string) error {
	if err := s.cli.Del(ctx, getWindowKeyName(scope), getBlockKeyName(scope)).Err(); err != nil {
		return types.Err(types.ErrStoreAccess, err, "reset window %s", scope)
	}
	return nil
}

func (s *WindowStore) eval(ctx context.Context, scope string, policy types.Policy, now time.Time, nonce string, record bool) (types.WindowState, error) {
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()
	blockMs := policy.BlockDuration.Milliseconds()
	flag := "0"
	if record {
		flag = "1"
	}
	out, err := s.runner.RunScript(ctx, ScriptSlidingWindow,
		[]string{getWindowKeyName(scope), getBlockKeyName(scope)},
		nowMs,              // ARGV[1]
		nowMs-windowMs,     // ARGV[2]
		windowMs,           // ARGV[3]
		policy.MaxAttempts, // ARGV[4]
		blockMs,            // ARGV[5]
		nonce,              // ARGV[6]
		flag,               // ARGV[7]
		nowMs+blockMs,      // ARGV[8]
		windowMs+blockMs,   // ARGV[9]
	)
	if err != nil {
		return types.WindowState{}, types.Err(types.ErrStoreAccess, err, "sliding window %s", scope)
	}
	if len(out) != 4 {
		return types.WindowState{}, fmt.Errorf("sliding window %s: unexpected response length %d", scope, len(out))
	}
	return types.WindowState{
		Allowed:    out[0] == 1,
		Count:      int(out[1]),
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
		ResetAt:    time.UnixMilli(out[3]),
	}, nil
}
