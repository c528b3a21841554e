package guard

import (
	"context"
	"errors"
	"gatekeep/internal/types"
	"time"

	"github.com/goccy/go-json"

	redisbackend "gatekeep/internal/backends/redis"
)

func (s *UnitTestSuite) TestLockoutAfterThreshold() {
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		res := s.lockout.RecordFailure(ctx, "victim@example.com")
		s.False(res.Locked)
		s.Equal(i, res.Failures)
		s.Equal(5-i, res.AttemptsLeft)
	}
	st := s.lockout.CheckLockout(ctx, "victim@example.com")
	s.False(st.Locked)
	s.Equal(4, st.Failures)

	s.advance(5 * time.Second)
	res := s.lockout.RecordFailure(ctx, "victim@example.com")
	s.True(res.Locked)
	s.True(res.JustLocked)
	s.Equal(0, res.AttemptsLeft)

	s.advance(5 * time.Second)
	st = s.lockout.CheckLockout(ctx, "victim@example.com")
	s.True(st.Locked)
	s.Greater(st.RemainingSeconds, 1790)
	s.LessOrEqual(st.RemainingSeconds, 1800)
	// The counter was consumed by the lockout.
	s.Equal(0, st.Failures)
}

func (s *UnitTestSuite) TestLockoutFailuresWhileLockedAreNotCounted() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.lockout.RecordFailure(ctx, "b@example.com")
	}
	res := s.lockout.RecordFailure(ctx, "b@example.com")
	s.True(res.Locked)
	s.False(res.JustLocked)
	s.Len(s.pub.payloads, 1)
}

func (s *UnitTestSuite) TestLockoutExpires() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.lockout.RecordFailure(ctx, "c@example.com")
	}
	s.True(s.lockout.CheckLockout(ctx, "c@example.com").Locked)

	s.advance(30*time.Minute + time.Second)
	st := s.lockout.CheckLockout(ctx, "c@example.com")
	s.False(st.Locked)
	s.Equal(0, st.RemainingSeconds)

	res := s.lockout.RecordFailure(ctx, "c@example.com")
	s.False(res.Locked)
	s.Equal(1, res.Failures)
}

func (s *UnitTestSuite) TestClearOnSuccess() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.lockout.RecordFailure(ctx, "d@example.com")
	}
	s.lockout.ClearOnSuccess(ctx, "d@example.com")
	st := s.lockout.CheckLockout(ctx, "d@example.com")
	s.False(st.Locked)
	s.Equal(0, st.Failures)

	for i := 0; i < 5; i++ {
		s.lockout.RecordFailure(ctx, "d@example.com")
	}
	s.True(s.lockout.CheckLockout(ctx, "d@example.com").Locked)
	s.lockout.ClearOnSuccess(ctx, "d@example.com")
	s.False(s.lockout.CheckLockout(ctx, "d@example.com").Locked)
	s.Equal(4, s.lockout.RecordFailure(ctx, "d@example.com").AttemptsLeft)
}

func (s *UnitTestSuite) TestLockoutPublishesEvent() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.lockout.RecordFailure(ctx, "e@example.com")
	}
	s.Require().Len(s.pub.payloads, 1)
	s.Equal("arn:aws:sns:us-east-1:000000000000:lockouts", s.pub.arns[0])

	var evt LockoutEvent
	s.NoError(json.Unmarshal(s.pub.payloads[0], &evt))
	s.Equal(LockoutEventType, evt.Type)
	s.Equal("e@example.com", evt.Identity)
	s.Equal(5, evt.Failures)
	s.True(s.now.Add(30 * time.Minute).Equal(evt.LockedUntil))
}

func (s *UnitTestSuite) TestLockoutPublishFailureIsNotSurfaced() {
	s.pub.err = errors.New("sns down")
	for i := 0; i < 5; i++ {
		s.lockout.RecordFailure(context.Background(), "f@example.com")
	}
	s.True(s.lockout.CheckLockout(context.Background(), "f@example.com").Locked)
}

func (s *UnitTestSuite) TestLockoutFailsOpen() {
	cli := s.deadClient()
	tracker, err := NewAccountLockoutTracker(
		redisbackend.NewLockoutStore(cli, redisbackend.NewScriptRunner(cli, nil)),
		types.DefaultLockoutConfig(),
	)
	s.Require().NoError(err)

	for i := 0; i < 10; i++ {
		res := tracker.RecordFailure(context.Background(), "g@example.com")
		s.False(res.Locked)
		s.Equal(5, res.AttemptsLeft)
	}
	s.False(tracker.CheckLockout(context.Background(), "g@example.com").Locked)
	tracker.ClearOnSuccess(context.Background(), "g@example.com")
}

func (s *UnitTestSuite) TestLockoutConfigValidated() {
	_, err := NewAccountLockoutTracker(nil, types.LockoutConfig{})
	s.Error(err)
}
