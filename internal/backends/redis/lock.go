package redis

import (
	"context"
	"errors"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockStore implements ports.LockStore with plain keys holding the holder token.
type LockStore struct {
	cli    redis.Cmdable
	runner ports.ScriptRunner
}

func NewLockStore(cli redis.Cmdable, runner ports.ScriptRunner) *LockStore {
	return &LockStore{cli: cli, runner: runner}
}

func (s *LockStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, types.Err(types.ErrStoreAccess, err, "acquire %s", key)
	}
	return ok, nil
}

func (s *LockStore) Delete(ctx context.Context, key string) error {
	if err := s.cli.Del(ctx, key).Err(); err != nil {
		return types.Err(types.ErrStoreAccess, err, "release %s", key)
	}
	return nil
}

func (s *LockStore) DeleteIfHolder(ctx context.Context, key, token string) (bool, error) {
	out, err := s.runner.RunScript(ctx, ScriptReleaseIfHolder, []string{key}, token)
	if err != nil {
		return false, types.Err(types.ErrStoreAccess, err, "release %s", key)
	}
	return len(out) == 1 && out[0] == 1, nil
}

func (s *LockStore) Holder(ctx context.Context, key string) (string, error) {
	token, err := s.cli.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", types.Err(types.ErrStoreAccess, err, "holder %s", key)
	}
	return token, nil
}
