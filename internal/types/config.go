package types

import (
	"fmt"
	"time"
)

// LockoutConfig drives the account lockout escalation.
// Threshold failures inside FailureWindow lock the account for LockDuration.
type LockoutConfig struct {
	Threshold     int
	FailureWindow time.Duration
	LockDuration  time.Duration
}

// LockConfig drives resource locks. TTL is a crash-safety valve only; critical sections
// must finish well under it. Acquire polls every RetryInterval up to MaxAttempts times.
type LockConfig struct {
	TTL           time.Duration
	RetryInterval time.Duration
	MaxAttempts   int
	KeyPrefix     string
}

type IdempotencyConfig struct {
	TTL time.Duration
}

const (
	DefaultLockKeyPrefix = "lock:"
	DefaultIdempotentTTL = 24 * time.Hour
)

func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:     5,
		FailureWindow: 15 * time.Minute,
		LockDuration:  30 * time.Minute,
	}
}

func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:           10 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		MaxAttempts:   100,
		KeyPrefix:     DefaultLockKeyPrefix,
	}
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{TTL: DefaultIdempotentTTL}
}

func (c LockoutConfig) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("lockout threshold must be at least 1")
	}
	if c.FailureWindow < time.Millisecond {
		return fmt.Errorf("lockout failure window must be at least 1ms")
	}
	if c.LockDuration < time.Millisecond {
		return fmt.Errorf("lockout duration must be at least 1ms")
	}
	return nil
}

func (c LockConfig) Validate() error {
	if c.TTL < time.Millisecond {
		return fmt.Errorf("lock ttl must be at least 1ms")
	}
	if c.RetryInterval < 0 {
		return fmt.Errorf("lock retry interval must be non-negative")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("lock max attempts must be at least 1")
	}
	return nil
}

func (c IdempotencyConfig) Validate() error {
	if c.TTL < time.Second {
		return fmt.Errorf("idempotency ttl must be at least 1s")
	}
	return nil
}
