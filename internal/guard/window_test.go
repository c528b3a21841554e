package guard

import (
	"context"
	"gatekeep/internal/metrics"
	"gatekeep/internal/types"
	"sync"
	"sync/atomic"
	"time"

	redisbackend "gatekeep/internal/backends/redis"
)

func (s *UnitTestSuite) TestFirstNCallsAllowedThenRejected() {
	ctx := context.Background()
	for i := 4; i >= 0; i-- {
		d := s.policies.CheckRegistration(ctx, "198.51.100.1")
		s.True(d.Allowed)
		s.Equal(5, d.Limit)
		s.Equal(i, d.Remaining)
		s.advance(time.Second)
	}
	d := s.policies.CheckRegistration(ctx, "198.51.100.1")
	s.False(d.Allowed)
	s.Equal(0, d.Remaining)
	// No block for registration: retry when the oldest entry leaves the window.
	s.Equal(15*time.Minute-5*time.Second, d.RetryAfter)
	s.Equal(s.now.Add(d.RetryAfter), d.ResetAt)
}

func (s *UnitTestSuite) TestWindowExpiry() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.True(s.policies.CheckPasswordReset(ctx, "a@example.com").Allowed)
	}
	s.False(s.policies.CheckPasswordReset(ctx, "a@example.com").Allowed)

	s.advance(time.Hour)
	d := s.policies.CheckPasswordReset(ctx, "a@example.com")
	s.True(d.Allowed)
	s.Equal(2, d.Remaining)
}

func (s *UnitTestSuite) TestSlidingNotFixed() {
	ctx := context.Background()
	p := types.Policy{Operation: types.OpExportSingle, MaxAttempts: 2, Window: time.Minute}

	s.True(s.limiter.Check(ctx, "ip", p).Allowed)
	s.advance(40 * time.Second)
	s.True(s.limiter.Check(ctx, "ip", p).Allowed)
	s.advance(10 * time.Second)
	d := s.limiter.Check(ctx, "ip", p)
	s.False(d.Allowed)
	s.Equal(10*time.Second, d.RetryAfter)

	// Only the first entry has left the window.
	s.advance(10 * time.Second)
	d = s.limiter.Check(ctx, "ip", p)
	s.True(d.Allowed)
	s.Equal(0, d.Remaining)
}

func (s *UnitTestSuite) TestIdentifiersAreIndependent() {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		s.True(s.policies.CheckExport(ctx, "10.0.0.1", true).Allowed)
	}
	s.False(s.policies.CheckExport(ctx, "10.0.0.1", true).Allowed)

	d := s.policies.CheckExport(ctx, "10.0.0.2", true)
	s.True(d.Allowed)
	s.Equal(1, d.Remaining)

	// Single and bulk exports have separate budgets.
	d = s.policies.CheckExport(ctx, "10.0.0.1", false)
	s.True(d.Allowed)
	s.Equal(4, d.Remaining)
}

func (s *UnitTestSuite) TestLoginBlockScenario() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d := s.policies.CheckLogin(ctx, "203.0.113.7")
		s.True(d.Allowed)
		s.advance(time.Second)
	}
	d := s.policies.CheckLogin(ctx, "203.0.113.7")
	s.False(d.Allowed)
	s.Greater(d.RetryAfterSeconds(), 1790)
	s.LessOrEqual(d.RetryAfterSeconds(), 1800)

	// The block outlives the 15 minute window.
	s.advance(20 * time.Minute)
	d = s.policies.CheckLogin(ctx, "203.0.113.7")
	s.False(d.Allowed)
	s.Equal(600, d.RetryAfterSeconds())

	s.advance(10 * time.Minute)
	s.True(s.policies.CheckLogin(ctx, "203.0.113.7").Allowed)
}

func (s *UnitTestSuite) TestZeroMaxAttemptsAlwaysRejects() {
	ctx := context.Background()
	p := types.Policy{Operation: types.OpExportBulk, MaxAttempts: 0, Window: time.Minute}
	d := s.limiter.Check(ctx, "ip", p)
	s.False(d.Allowed)
	s.Equal(time.Minute, d.RetryAfter)
	s.False(s.limiter.Check(ctx, "ip", p).Allowed)
}

func (s *UnitTestSuite) TestStatusDoesNotConsume() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := s.policies.Status(ctx, types.OpLogin, "192.0.2.1")
		s.NoError(err)
		s.True(d.Allowed)
		s.Equal(5, d.Remaining)
	}
	s.policies.CheckLogin(ctx, "192.0.2.1")
	d, err := s.policies.Status(ctx, types.OpLogin, "192.0.2.1")
	s.NoError(err)
	s.Equal(4, d.Remaining)
}

func (s *UnitTestSuite) TestReset() {
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		s.policies.CheckLogin(ctx, "192.0.2.9")
	}
	s.False(s.policies.CheckLogin(ctx, "192.0.2.9").Allowed)

	s.NoError(s.policies.Reset(ctx, types.OpLogin, "192.0.2.9"))
	d := s.policies.CheckLogin(ctx, "192.0.2.9")
	s.True(d.Allowed)
	s.Equal(4, d.Remaining)
}

func (s *UnitTestSuite) TestUnknownOperation() {
	_, err := s.policies.Check(context.Background(), types.Operation(99), "x")
	s.ErrorIs(err, types.ErrUnknownOperation)
	_, err = s.policies.Status(context.Background(), types.Operation(99), "x")
	s.ErrorIs(err, types.ErrUnknownOperation)
	s.ErrorIs(s.policies.Reset(context.Background(), types.Operation(99), "x"), types.ErrUnknownOperation)
}

func (s *UnitTestSuite) TestPolicyLimiterValidatesTable() {
	policies := types.DefaultPolicies()
	delete(policies, types.OpExportBulk)
	_, err := NewPolicyLimiter(s.limiter, policies)
	s.ErrorIs(err, types.ErrInvalidPolicy)

	policies = types.DefaultPolicies()
	p := policies[types.OpLogin]
	p.Operation = types.OpRegistration
	policies[types.OpLogin] = p
	_, err = NewPolicyLimiter(s.limiter, policies)
	s.ErrorIs(err, types.ErrInvalidPolicy)

	policies = types.DefaultPolicies()
	p = policies[types.OpLogin]
	p.Window = 0
	policies[types.OpLogin] = p
	_, err = NewPolicyLimiter(s.limiter, policies)
	s.ErrorIs(err, types.ErrInvalidPolicy)

	policies = types.DefaultPolicies()
	policies[types.Operation(42)] = types.Policy{Operation: types.Operation(42), MaxAttempts: 1, Window: time.Second}
	_, err = NewPolicyLimiter(s.limiter, policies)
	s.ErrorIs(err, types.ErrInvalidPolicy)

	// The limiter keeps its own copy.
	policies = types.DefaultPolicies()
	pl, err := NewPolicyLimiter(s.limiter, policies)
	s.NoError(err)
	policies[types.OpLogin] = types.Policy{}
	got, err := pl.Policy(types.OpLogin)
	s.NoError(err)
	s.Equal(5, got.MaxAttempts)
}

func (s *UnitTestSuite) TestConcurrentCallersNeverExceedBudget() {
	ctx := context.Background()
	p := types.Policy{Operation: types.OpRegistration, MaxAttempts: 5, Window: time.Minute}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.limiter.Check(ctx, "198.51.100.77", p).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(5), allowed.Load())
}

func (s *UnitTestSuite) TestFailOpenWhenStoreUnavailable() {
	cli := s.deadClient()
	rec := &countingRecorder{}
	limiter := NewSlidingWindowLimiter(redisbackend.NewWindowStore(cli, redisbackend.NewScriptRunner(cli, nil)), rec)
	pl, err := NewPolicyLimiter(limiter, types.DefaultPolicies())
	s.Require().NoError(err)

	for i := 0; i < 10; i++ {
		d := pl.CheckLogin(context.Background(), "203.0.113.7")
		s.True(d.Allowed)
		s.True(d.Degraded)
		s.Equal(5, d.Remaining)
	}
	d, err := pl.Status(context.Background(), types.OpLogin, "203.0.113.7")
	s.NoError(err)
	s.True(d.Allowed)
	s.Equal(11, rec.count(metrics.Degraded))
	s.Error(pl.Reset(context.Background(), types.OpLogin, "203.0.113.7"))
}

func (s *UnitTestSuite) TestDecisionMetrics() {
	rec := &countingRecorder{}
	runner := redisbackend.NewScriptRunner(s.cli, nil)
	limiter := NewSlidingWindowLimiter(redisbackend.NewWindowStore(s.cli, runner), rec)
	p := types.Policy{Operation: types.OpExportBulk, MaxAttempts: 1, Window: time.Minute}

	limiter.Check(context.Background(), "ip", p)
	limiter.Check(context.Background(), "ip", p)
	s.Equal(2, rec.count(metrics.Decisions))
	s.Equal(0, rec.count(metrics.Degraded))
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) Add(name string, value float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name] += int(value)
}

func (r *countingRecorder) Observe(name string, value float64, tags map[string]string) {}

func (r *countingRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}
