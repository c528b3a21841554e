package main

import (
	"context"
	"gatekeep/cmd/gatekeep/cmds"
	"gatekeep/internal/api"
	"gatekeep/internal/backends"
	"gatekeep/internal/guard"
	"gatekeep/internal/metrics"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	redisbackend "gatekeep/internal/backends/redis"
)

func main() {
	// Load environment variables
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	err := godotenv.Load(envFile)
	if err != nil {
		log.Info("The .env file not found.")
	}
	setupLogging()

	port, err := strconv.Atoi(getenv("HTTP_PORT", "8080"))
	if err != nil {
		log.Fatalf("Invalid HTTP_PORT: %v", err)
	}

	redisClient, err := backends.RedisClientFromEnv()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.WithError(err).Warn("failed to close Redis client")
		}
	}()

	rec := metrics.NewPrometheus()
	runner := redisbackend.NewScriptRunner(redisClient, rec)
	if err := runner.Load(context.Background()); err != nil {
		log.WithError(err).Warn("failed to preload scripts, they will be loaded on first use")
	}

	policyTable, err := cmds.LoadPolicies(os.Getenv("POLICY_FILE"))
	if err != nil {
		log.Fatalf("Failed to load policies: %v", err)
	}
	policies, err := guard.NewPolicyLimiter(
		guard.NewSlidingWindowLimiter(redisbackend.NewWindowStore(redisClient, runner), rec),
		policyTable,
	)
	if err != nil {
		log.Fatalf("Invalid policies: %v", err)
	}

	lockoutCfg, err := backends.LockoutConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid lockout config: %v", err)
	}
	lockoutArn := os.Getenv("LOCKOUT_SNS_ARN")
	publisher, err := backends.PublisherFromEnv(lockoutArn)
	if err != nil {
		log.Fatalf("Failed to initialize publisher: %v", err)
	}
	lockout, err := guard.NewAccountLockoutTracker(
		redisbackend.NewLockoutStore(redisClient, runner),
		lockoutCfg,
		guard.WithLockoutPublisher(publisher, lockoutArn),
		guard.WithLockoutRecorder(rec),
	)
	if err != nil {
		log.Fatalf("Failed to initialize lockout tracker: %v", err)
	}

	lockStore, err := backends.LockBackendFromEnv(redisClient, runner)
	if err != nil {
		log.Fatalf("Failed to initialize lock store: %v", err)
	}
	lockCfg, err := backends.LockConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid lock config: %v", err)
	}
	locks, err := guard.NewResourceLockManager(lockStore, lockCfg, rec)
	if err != nil {
		log.Fatalf("Failed to initialize lock manager: %v", err)
	}

	idemStore, err := backends.IdempotencyBackendFromEnv(redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize idempotency store: %v", err)
	}
	idemCfg, err := backends.IdempotencyConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid idempotency config: %v", err)
	}
	idem, err := guard.NewIdempotencyGuard(idemStore, idemCfg, rec)
	if err != nil {
		log.Fatalf("Failed to initialize idempotency guard: %v", err)
	}

	h := api.NewHandler(policies, lockout, locks, idem, rec.Handler())
	stop, done := api.RunServerInterruptible(port, h)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shutting down")
		close(stop)
		if err := <-done; err != nil {
			log.WithError(err).Error("server stopped with error")
		}
	case err := <-done:
		if err != nil {
			log.WithError(err).Error("server stopped with error")
		}
	}
}

func setupLogging() {
	level, err := log.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		log.WithError(err).Warn("invalid LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
