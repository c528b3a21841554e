package redis

import (
	"context"
	"errors"
	"gatekeep/internal/types"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore implements ports.IdempotencyStore with one JSON value per reference.
type IdempotencyStore struct {
	cli redis.Cmdable
}

func NewIdempotencyStore(cli redis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{cli: cli}
}

func (s *IdempotencyStore) Get(ctx context.Context, reference string) (*types.IdempotencyRecord, error) {
	out, err := s.cli.Get(ctx, getIdempotencyKeyName(reference)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, types.Err(types.ErrStoreAccess, err, "get idempotency record %s", reference)
	}
	var rec types.IdempotencyRecord
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		return nil, types.Err(types.ErrStoreAccess, err, "decode idempotency record %s", reference)
	}
	return &rec, nil
}

func (s *IdempotencyStore) PutIfAbsent(ctx context.Context, rec types.IdempotencyRecord, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	ok, err := s.cli.SetNX(ctx, getIdempotencyKeyName(rec.Reference), string(b), ttl).Result()
	if err != nil {
		return false, types.Err(types.ErrStoreAccess, err, "put idempotency record %s", rec.Reference)
	}
	return ok, nil
}
