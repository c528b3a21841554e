package guard

import (
	"context"
	"errors"
	"gatekeep/internal/types"
	"sync"
	"sync/atomic"
	"time"

	redisbackend "gatekeep/internal/backends/redis"
)

func (s *UnitTestSuite) TestMarkThenIsProcessed() {
	ctx := context.Background()
	s.False(s.idem.IsProcessed(ctx, "evt_123"))

	s.True(s.idem.MarkProcessed(ctx, "evt_123", "order_1"))
	s.True(s.idem.IsProcessed(ctx, "evt_123"))
	s.True(s.idem.IsProcessed(ctx, "evt_123"))

	rec, ok := s.idem.Lookup(ctx, "evt_123")
	s.True(ok)
	s.Equal("order_1", rec.ResultID)
	s.True(s.now.Equal(rec.CreatedAt))
	s.Equal(24*time.Hour, s.mr.TTL("gk:idem:evt_123"))
}

func (s *UnitTestSuite) TestMarkProcessedNeverUpdates() {
	ctx := context.Background()
	s.True(s.idem.MarkProcessed(ctx, "evt_1", "order_1"))
	s.False(s.idem.MarkProcessed(ctx, "evt_1", "order_2"))
	rec, ok := s.idem.Lookup(ctx, "evt_1")
	s.True(ok)
	s.Equal("order_1", rec.ResultID)

	s.False(s.idem.MarkProcessed(ctx, "", "order_3"))
	s.False(s.idem.IsProcessed(ctx, ""))
}

func (s *UnitTestSuite) TestRunExecutesOnce() {
	ctx := context.Background()
	var calls atomic.Int32
	charge := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "order_77", nil
	}

	id, dup, err := s.idem.Run(ctx, "pi_77", charge)
	s.NoError(err)
	s.False(dup)
	s.Equal("order_77", id)

	id, dup, err = s.idem.Run(ctx, "pi_77", charge)
	s.NoError(err)
	s.True(dup)
	s.Equal("order_77", id)
	s.Equal(int32(1), calls.Load())
}

func (s *UnitTestSuite) TestRunDoesNotMarkFailures() {
	ctx := context.Background()
	boom := errors.New("gateway timeout")
	_, _, err := s.idem.Run(ctx, "pi_88", func(ctx context.Context) (string, error) {
		return "", boom
	})
	s.ErrorIs(err, boom)
	s.False(s.idem.IsProcessed(ctx, "pi_88"))

	id, dup, err := s.idem.Run(ctx, "pi_88", func(ctx context.Context) (string, error) {
		return "order_88", nil
	})
	s.NoError(err)
	s.False(dup)
	s.Equal("order_88", id)

	_, _, err = s.idem.Run(ctx, "", func(ctx context.Context) (string, error) { return "x", nil })
	s.Error(err)
}

func (s *UnitTestSuite) TestRunSerializedByLock() {
	ctx := context.Background()
	cfg := s.locks.Config()
	cfg.MaxAttempts = 1000
	locks, err := NewResourceLockManager(redisbackend.NewLockStore(s.cli, redisbackend.NewScriptRunner(s.cli, nil)), cfg, nil)
	s.Require().NoError(err)

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locks.WithLocks(ctx, []string{"payment:pi_99"}, func(ctx context.Context) error {
				_, _, err := s.idem.Run(ctx, "pi_99", func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "order_99", nil
				})
				return err
			})
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(int32(1), calls.Load())
}

func (s *UnitTestSuite) TestIdempotencyFailsOpen() {
	cli := s.deadClient()
	g, err := NewIdempotencyGuard(redisbackend.NewIdempotencyStore(cli), types.DefaultIdempotencyConfig(), nil)
	s.Require().NoError(err)

	s.False(g.IsProcessed(context.Background(), "evt"))
	s.False(g.MarkProcessed(context.Background(), "evt", "r"))

	id, dup, err := g.Run(context.Background(), "evt", func(ctx context.Context) (string, error) { return "r", nil })
	s.NoError(err)
	s.False(dup)
	s.Equal("r", id)
}

func (s *UnitTestSuite) TestIdempotencyConfigValidated() {
	_, err := NewIdempotencyGuard(nil, types.IdempotencyConfig{}, nil)
	s.Error(err)
}
