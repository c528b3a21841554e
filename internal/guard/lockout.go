package guard

import (
	"context"
	"gatekeep/internal/metrics"
	"gatekeep/internal/ports"
	"gatekeep/internal/types"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// LockoutEvent is published when an identity transitions to locked.
type LockoutEvent struct {
	Type        string    `json:"type"`
	Identity    string    `json:"identity"`
	Failures    int       `json:"failures"`
	LockedUntil time.Time `json:"locked_until"`
}

const LockoutEventType = "account_locked"

// AccountLockoutTracker escalates repeated failed authentications of one account identity
// to a hard lockout. It is independent of the IP based PolicyLimiter.
type AccountLockoutTracker struct {
	store    ports.LockoutStore
	cfg      types.LockoutConfig
	rec      metrics.Recorder
	pub      ports.Publisher
	topicArn string
}

type LockoutOption func(*AccountLockoutTracker)

// WithLockoutPublisher publishes a LockoutEvent to topicArn on every new lockout.
func WithLockoutPublisher(pub ports.Publisher, topicArn string) LockoutOption {
	return func(t *AccountLockoutTracker) {
		t.pub = pub
		t.topicArn = topicArn
	}
}

func WithLockoutRecorder(rec metrics.Recorder) LockoutOption {
	return func(t *AccountLockoutTracker) {
		t.rec = metrics.OrNoOp(rec)
	}
}

func NewAccountLockoutTracker(store ports.LockoutStore, cfg types.LockoutConfig, opts ...LockoutOption) (*AccountLockoutTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &AccountLockoutTracker{
		store: store,
		cfg:   cfg,
		rec:   metrics.NoOp{},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *AccountLockoutTracker) Config() types.LockoutConfig {
	return t.cfg
}

// RecordFailure counts one failed authentication for identity. The failure that reaches the
// threshold locks the account and reports JustLocked. On store errors it fails open and
// reports the account as unlocked with its full allowance.
func (t *AccountLockoutTracker) RecordFailure(ctx context.Context, identity string) types.FailureResult {
	now := timeNow()
	st, err := t.store.RecordFailure(ctx, identity, t.cfg, now)
	if err != nil {
		t.degraded("record_failure", identity, err)
		return types.FailureResult{AttemptsLeft: t.cfg.Threshold}
	}
	res := types.FailureResult{
		Locked:      st.Locked,
		JustLocked:  st.Locked && st.Failures > 0,
		Failures:    st.Failures,
		LockedUntil: st.LockedUntil,
	}
	if !st.Locked {
		res.AttemptsLeft = max(t.cfg.Threshold-st.Failures, 0)
	}
	if res.JustLocked {
		log.WithFields(log.Fields{
			"identity":     identity,
			"failures":     st.Failures,
			"locked_until": st.LockedUntil,
		}).Warn("account locked")
		t.rec.Add(metrics.Decisions, 1, map[string]string{"operation": "lockout", "outcome": Rejected.String()})
		t.publish(ctx, identity, st)
	}
	return res
}

// CheckLockout reports whether identity is locked and for how long.
func (t *AccountLockoutTracker) CheckLockout(ctx context.Context, identity string) types.LockoutStatus {
	now := timeNow()
	st, err := t.store.Check(ctx, identity, now)
	if err != nil {
		t.degraded("check", identity, err)
		return types.LockoutStatus{}
	}
	status := types.LockoutStatus{
		Locked:   st.Locked,
		Failures: st.Failures,
	}
	if st.Locked {
		status.LockedUntil = st.LockedUntil
		status.RemainingSeconds = types.SecondsUntil(st.LockedUntil, now)
	}
	return status
}

// ClearOnSuccess forgets every failure and lockout of identity.
func (t *AccountLockoutTracker) ClearOnSuccess(ctx context.Context, identity string) {
	if err := t.store.Clear(ctx, identity); err != nil {
		t.degraded("clear", identity, err)
	}
}

func (t *AccountLockoutTracker) publish(ctx context.Context, identity string, st types.LockoutState) {
	if t.pub == nil || t.topicArn == "" {
		return
	}
	b, err := json.Marshal(LockoutEvent{
		Type:        LockoutEventType,
		Identity:    identity,
		Failures:    st.Failures,
		LockedUntil: st.LockedUntil,
	})
	if err != nil {
		log.WithError(err).Error("failed to marshal lockout event")
		return
	}
	if err := t.pub.PublishRaw(ctx, t.topicArn, b); err != nil {
		log.WithError(err).WithField("identity", identity).Error("failed to publish lockout event")
	}
}

func (t *AccountLockoutTracker) degraded(call, identity string, err error) {
	log.WithError(err).WithFields(log.Fields{
		"component": "lockout",
		"call":      call,
		"identity":  identity,
		"degraded":  true,
	}).Warn("lockout store unavailable, failing open")
	t.rec.Add(metrics.Degraded, 1, map[string]string{"component": "lockout"})
}
