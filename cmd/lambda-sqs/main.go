//go:build lambda

package main

import (
	"gatekeep/internal/backends"
	"gatekeep/internal/consumer"
	"gatekeep/internal/guard"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
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
	log.SetFormatter(&log.JSONFormatter{})

	topicArn := os.Getenv("FORWARD_SNS_ARN")
	if topicArn == "" {
		log.Fatal("FORWARD_SNS_ARN is required")
	}
	referenceExpr := os.Getenv("REFERENCE_EXPR")
	if referenceExpr == "" {
		referenceExpr = "data.object.id"
	}

	publisher, err := backends.PublisherFromEnv(topicArn)
	if err != nil {
		log.Fatalf("Failed to initialize publisher: %v", err)
	}

	// The client lives as long as the Lambda execution environment.
	redisClient, err := backends.RedisClientFromEnv()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	runner := redisbackend.NewScriptRunner(redisClient, nil)

	lockStore, err := backends.LockBackendFromEnv(redisClient, runner)
	if err != nil {
		log.Fatalf("Failed to initialize lock store: %v", err)
	}
	lockCfg, err := backends.LockConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid lock config: %v", err)
	}
	locks, err := guard.NewResourceLockManager(lockStore, lockCfg, nil)
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
	idem, err := guard.NewIdempotencyGuard(idemStore, idemCfg, nil)
	if err != nil {
		log.Fatalf("Failed to initialize idempotency guard: %v", err)
	}

	handler := &consumer.PaymentHandler{
		Idem:          idem,
		Locks:         locks,
		Publisher:     publisher,
		TopicArn:      topicArn,
		ReferenceExpr: referenceExpr,
	}

	// Start Lambda runtime
	lambda.Start(handler.HandleSQSEvent)
}
