package backends

import (
	"fmt"
	"gatekeep/internal/types"
	"strconv"
	"time"
)

const (
	LockoutThresholdKey = "LOCKOUT_THRESHOLD"
	LockoutWindowKey    = "LOCKOUT_WINDOW"
	LockoutDurationKey  = "LOCKOUT_DURATION"
	LockTTLKey          = "LOCK_TTL"
	LockRetryKey        = "LOCK_RETRY_INTERVAL"
	LockMaxAttemptsKey  = "LOCK_MAX_ATTEMPTS"
	IdempotencyTTLKey   = "IDEMPOTENCY_TTL"
)

// LockoutConfigFromEnv starts from types.DefaultLockoutConfig and applies any overrides.
func LockoutConfigFromEnv() (types.LockoutConfig, error) {
	cfg := types.DefaultLockoutConfig()
	var err error
	if cfg.Threshold, err = intFromEnv(LockoutThresholdKey, cfg.Threshold); err != nil {
		return cfg, err
	}
	if cfg.FailureWindow, err = durationFromEnv(LockoutWindowKey, cfg.FailureWindow); err != nil {
		return cfg, err
	}
	if cfg.LockDuration, err = durationFromEnv(LockoutDurationKey, cfg.LockDuration); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LockConfigFromEnv starts from types.DefaultLockConfig and applies any overrides.
func LockConfigFromEnv() (types.LockConfig, error) {
	cfg := types.DefaultLockConfig()
	var err error
	if cfg.TTL, err = durationFromEnv(LockTTLKey, cfg.TTL); err != nil {
		return cfg, err
	}
	if cfg.RetryInterval, err = durationFromEnv(LockRetryKey, cfg.RetryInterval); err != nil {
		return cfg, err
	}
	if cfg.MaxAttempts, err = intFromEnv(LockMaxAttemptsKey, cfg.MaxAttempts); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func IdempotencyConfigFromEnv() (types.IdempotencyConfig, error) {
	cfg := types.DefaultIdempotencyConfig()
	var err error
	if cfg.TTL, err = durationFromEnv(IdempotencyTTLKey, cfg.TTL); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func intFromEnv(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
