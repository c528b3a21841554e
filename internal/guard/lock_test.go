package guard

import (
	"context"
	"errors"
	"gatekeep/internal/types"
	"time"

	redisbackend "gatekeep/internal/backends/redis"
)

func (s *UnitTestSuite) TestAcquireStockLockTwice() {
	ctx := context.Background()
	first, ok := s.locks.AcquireStockLock(ctx, "sku-42")
	s.True(ok)
	s.Equal("stock:sku-42", first.ResourceID)
	s.Equal(s.now.Add(10*time.Second), first.ExpiresAt)

	_, ok = s.locks.AcquireStockLock(ctx, "sku-42")
	s.False(ok)

	holder, err := s.locks.Holder(ctx, StockResource("sku-42"))
	s.NoError(err)
	s.Equal(first.Token, holder)
	s.True(s.mr.Exists("lock:stock:sku-42"))

	s.locks.ReleaseStockLock(ctx, "sku-42")
	_, ok = s.locks.AcquireStockLock(ctx, "sku-42")
	s.True(ok)
}

func (s *UnitTestSuite) TestHolderTokensAreUnique() {
	ctx := context.Background()
	a, ok := s.locks.TryAcquire(ctx, "r1")
	s.True(ok)
	b, ok := s.locks.TryAcquire(ctx, "r2")
	s.True(ok)
	s.NotEqual(a.Token, b.Token)
}

func (s *UnitTestSuite) TestAcquireManyRollsBack() {
	ctx := context.Background()
	other, ok := s.locks.TryAcquire(ctx, "b")
	s.Require().True(ok)

	leases, ok := s.locks.AcquireMany(ctx, []string{"a", "b", "c"})
	s.False(ok)
	s.Nil(leases)

	for _, id := range []string{"a", "c"} {
		holder, err := s.locks.Holder(ctx, id)
		s.NoError(err)
		s.Empty(holder, id)
	}
	holder, err := s.locks.Holder(ctx, "b")
	s.NoError(err)
	s.Equal(other.Token, holder)
}

func (s *UnitTestSuite) TestAcquireManyAllOrNothing() {
	ctx := context.Background()
	leases, ok := s.locks.AcquireMany(ctx, []string{"x", "y", "x", "z"})
	s.True(ok)
	s.Require().Len(leases, 3)
	s.Equal([]string{"x", "y", "z"}, []string{leases[0].ResourceID, leases[1].ResourceID, leases[2].ResourceID})

	s.locks.ReleaseAll(ctx, leases)
	for _, id := range []string{"x", "y", "z"} {
		holder, err := s.locks.Holder(ctx, id)
		s.NoError(err)
		s.Empty(holder)
	}

	leases, ok = s.locks.AcquireMany(ctx, nil)
	s.True(ok)
	s.Empty(leases)
}

func (s *UnitTestSuite) TestAcquireStockLocks() {
	ctx := context.Background()
	_, ok := s.locks.AcquireStockLock(ctx, "sku-2")
	s.Require().True(ok)

	_, ok = s.locks.AcquireStockLocks(ctx, []string{"sku-1", "sku-2"})
	s.False(ok)
	s.False(s.mr.Exists("lock:stock:sku-1"))

	s.locks.ReleaseStockLock(ctx, "sku-2")
	leases, ok := s.locks.AcquireStockLocks(ctx, []string{"sku-1", "sku-2"})
	s.True(ok)
	s.Len(leases, 2)
}

func (s *UnitTestSuite) TestAcquireWaitsForRelease() {
	ctx := context.Background()
	cfg := s.locks.Config()
	cfg.MaxAttempts = 1000
	patient, err := NewResourceLockManager(redisbackend.NewLockStore(s.cli, redisbackend.NewScriptRunner(s.cli, nil)), cfg, nil)
	s.Require().NoError(err)

	held, ok := s.locks.TryAcquire(ctx, "slow")
	s.Require().True(ok)
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.locks.ReleaseLease(context.Background(), held)
	}()
	lease, ok := patient.Acquire(ctx, "slow")
	s.True(ok)
	s.NotEqual(held.Token, lease.Token)
}

func (s *UnitTestSuite) TestAcquireHonorsContext() {
	cfg := s.locks.Config()
	cfg.MaxAttempts = 1000
	cfg.RetryInterval = time.Second
	m, err := NewResourceLockManager(redisbackend.NewLockStore(s.cli, redisbackend.NewScriptRunner(s.cli, nil)), cfg, nil)
	s.Require().NoError(err)

	_, ok := m.TryAcquire(context.Background(), "busy")
	s.Require().True(ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, ok = m.Acquire(ctx, "busy")
	s.False(ok)
	s.Less(time.Since(start), time.Second)
}

func (s *UnitTestSuite) TestReleaseIsUnconditional() {
	ctx := context.Background()
	_, ok := s.locks.TryAcquire(ctx, "shared")
	s.Require().True(ok)

	s.locks.Release(ctx, "shared")
	holder, err := s.locks.Holder(ctx, "shared")
	s.NoError(err)
	s.Empty(holder)
}

func (s *UnitTestSuite) TestReleaseLeaseChecksOwnership() {
	ctx := context.Background()
	stale, ok := s.locks.TryAcquire(ctx, "sku-9")
	s.Require().True(ok)

	// The stale holder's lock expires and someone else takes it.
	s.mr.FastForward(11 * time.Second)
	fresh, ok := s.locks.TryAcquire(ctx, "sku-9")
	s.Require().True(ok)

	s.False(s.locks.ReleaseLease(ctx, stale))
	holder, err := s.locks.Holder(ctx, "sku-9")
	s.NoError(err)
	s.Equal(fresh.Token, holder)

	s.True(s.locks.ReleaseLease(ctx, fresh))
}

func (s *UnitTestSuite) TestWithLocks() {
	ctx := context.Background()
	calls := 0
	err := s.locks.WithLocks(ctx, []string{"p", "q"}, func(ctx context.Context) error {
		calls++
		holder, err := s.locks.Holder(ctx, "p")
		s.NoError(err)
		s.NotEmpty(holder)
		return nil
	})
	s.NoError(err)
	s.Equal(1, calls)
	s.False(s.mr.Exists("lock:p"))
	s.False(s.mr.Exists("lock:q"))

	boom := errors.New("boom")
	err = s.locks.WithLocks(ctx, []string{"p"}, func(ctx context.Context) error { return boom })
	s.ErrorIs(err, boom)
	s.False(s.mr.Exists("lock:p"))

	_, ok := s.locks.TryAcquire(ctx, "q")
	s.Require().True(ok)
	err = s.locks.WithLocks(ctx, []string{"p", "q"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	s.ErrorIs(err, types.ErrLockUnavailable)
	s.Equal(1, calls)
	s.False(s.mr.Exists("lock:p"))
}

func (s *UnitTestSuite) TestLockNotAcquiredWhenStoreDown() {
	cli := s.deadClient()
	m, err := NewResourceLockManager(redisbackend.NewLockStore(cli, redisbackend.NewScriptRunner(cli, nil)), s.locks.Config(), nil)
	s.Require().NoError(err)

	_, ok := m.TryAcquire(context.Background(), "r")
	s.False(ok)
	_, ok = m.AcquireMany(context.Background(), []string{"r", "s"})
	s.False(ok)
}

func (s *UnitTestSuite) TestLockConfigValidated() {
	_, err := NewResourceLockManager(nil, types.LockConfig{}, nil)
	s.Error(err)

	cfg := types.DefaultLockConfig()
	cfg.KeyPrefix = ""
	m, err := NewResourceLockManager(nil, cfg, nil)
	s.NoError(err)
	s.Equal(types.DefaultLockKeyPrefix, m.Config().KeyPrefix)
}
