package backends

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"gatekeep/internal/backends/ddb"
	"gatekeep/internal/ports"
	"gatekeep/internal/pub"
	"gatekeep/internal/types"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redisbackend "gatekeep/internal/backends/redis"
)

const (
	LockBackendEnvKey        = "LOCK_BACKEND"
	IdempotencyBackendEnvKey = "IDEMPOTENCY_BACKEND"
	BackendDDB               = "ddb"
	BackendRedis             = "redis"

	DDBEndpointKey = "DDB_ENDPOINT"
	DDBTableKey    = "DDB_TABLE"
	SNSEndpointKey = "SNS_ENDPOINT"

	RedisHost    = "REDIS_HOST"
	RedisPort    = "REDIS_PORT"
	RedisUser    = "REDIS_USER"
	RedisPass    = "REDIS_PASS"
	RedisTLS     = "REDIS_SSL"
	RedisDBNum   = "REDIS_DB_NUM"
	RedisTimeout = "REDIS_TIMEOUT"

	defaultTable = "gatekeep"
)
const AmazonRootCA1PEM = `-----BEGIN CERTIFICATE-----
MIIDQTCCAimgAwIBAgITBmyfz5m/jAo54vB4ikPmljZbyjANBgkqhkiG9w0BAQsF
ADA5MQswCQYDVQQGEwJVUzEPMA0GA1UEChMGQW1hem9uMRkwFwYDVQQDExBBbWF6
b24gUm9vdCBDQSAxMB4XDTE1MDUyNjAwMDAwMFoXDTM4MDExNzAwMDAwMFowOTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoTBkFtYXpvbjEZMBcGA1UEAxMQQW1hem9uIFJv
b3QgQ0EgMTCCASIwDQYJKoZIhvcNAQEBBQADggEPADCCAQoCggEBALJ4gHHKeNXj
ca9HgFB0fW7Y14h29Jlo91ghYPl0hAEvrAIthtOgQ3pOsqTQNroBvo3bSMgHFzZM
9O6II8c+6zf1tRn4SWiw3te5djgdYZ6k/oI2peVKVuRF4fn9tBb6dNqcmzU5L/qw
IFAGbHrQgLKm+a/sRxmPUDgH3KKHOVj4utWp+UhnMJbulHheb4mjUcAwhmahRWa6
VOujw5H5SNz/0egwLX0tdHA114gk957EWW67c4cX8jJGKLhD+rcdqsq08p8kDi1L
93FcXmn/6pUCyziKrlA4b9v7LWIbxcceVOF34GfID5yHI9Y/QCB/IIDEgEw+OyQm
jgSubJrIqg0CAwEAAaNCMEAwDwYDVR0TAQH/BAUwAwEB/zAOBgNVHQ8BAf8EBAMC
AYYwHQYDVR0OBBYEFIQYzIU07LwMlJQuCFmcx7IQTgoIMA0GCSqGSIb3DQEBCwUA
A4IBAQCY8jdaQZChGsV2USggNiMOruYou6r4lK5IpDB/G/wkjUu0yKGX9rbxenDI
U5PMCCjjmCXPI6T53iHTfIUJrU6adTrCC2qJeHZERxhlbI1Bjjt/msv0tadQ1wUs
N+gDS63pYaACbvXy8MWy7Vu33PqUXHeeE6V/Uq2V8viTO96LXFvKWlJbYK8U90vv
o/ufQJVtMVT8QtPHRh8jrdkPSHCa2XV4cdFyQzR1bldZwgJcJmApzyMZFo6IQ6XU
5MsI+yMRQ+hDKXJioaldXgjUkK642M4UwtBV8ob2xJNDd2ZhwLnoQdeXeGADbkpy
rqXRfboQnoZsG4q5WTP468SQvvG5
-----END CERTIFICATE-----`

// LockBackendFromEnv constructs the LockStore named by "LOCK_BACKEND".
// Supported backends are "redis" (default) and "ddb" (DynamoDB, table from "DDB_TABLE").
func LockBackendFromEnv(redisClient *redis.Client, runner ports.ScriptRunner) (ports.LockStore, error) {
	switch backend := getenv(LockBackendEnvKey, BackendRedis); backend {
	case BackendRedis:
		return redisbackend.NewLockStore(redisClient, runner), nil
	case BackendDDB:
		ddbClient, err := ddbClientFromEnv()
		if err != nil {
			return nil, err
		}
		return ddb.NewLockStore(getenv(DDBTableKey, defaultTable), ddbClient), nil
	default:
		return nil, types.Err(types.ErrInvalidBackend, nil, "%s=%q", LockBackendEnvKey, backend)
	}
}

// IdempotencyBackendFromEnv constructs the IdempotencyStore named by "IDEMPOTENCY_BACKEND".
// Supported backends are "redis" (default) and "ddb".
func IdempotencyBackendFromEnv(redisClient *redis.Client) (ports.IdempotencyStore, error) {
	switch backend := getenv(IdempotencyBackendEnvKey, BackendRedis); backend {
	case BackendRedis:
		return redisbackend.NewIdempotencyStore(redisClient), nil
	case BackendDDB:
		ddbClient, err := ddbClientFromEnv()
		if err != nil {
			return nil, err
		}
		return ddb.NewIdempotencyStore(getenv(DDBTableKey, defaultTable), ddbClient), nil
	default:
		return nil, types.Err(types.ErrInvalidBackend, nil, "%s=%q", IdempotencyBackendEnvKey, backend)
	}
}

// PublisherFromEnv returns an SNS publisher, or a no-op one when topicArn is empty.
func PublisherFromEnv(topicArn string) (ports.Publisher, error) {
	if topicArn == "" {
		log.Info("no topic configured, events will not be published")
		return pub.Noop{}, nil
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, err
	}
	var endpoint *string
	if se := os.Getenv(SNSEndpointKey); se != "" {
		endpoint = aws.String(se)
	}
	cli := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != nil {
			// Local testing only
			o.BaseEndpoint = endpoint
			o.Region = getenv("AWS_REGION", "us-east-1")
			o.Credentials = staticCredentials()
		}
	})
	return pub.NewSNS(cli), nil
}

// ddbClientFromEnv creates a DynamoDB client from environment variables, if any.
func ddbClientFromEnv() (*dynamodb.Client, error) {
	var ddbEndpoint *string
	de := os.Getenv(DDBEndpointKey)
	if de != "" {
		ddbEndpoint = aws.String(de)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())

	if err != nil {
		return nil, err
	}

	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if ddbEndpoint != nil {
			// This is used for testing only locally
			o.BaseEndpoint = ddbEndpoint
			o.Region = getenv("AWS_REGION", "us-east-1")
			o.Credentials = staticCredentials()
		}
	})
	return ddbClient, nil
}

func staticCredentials() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(
		getenv("AWS_ACCESS_KEY_ID", "x"),
		getenv("AWS_SECRET_ACCESS_KEY", "x"),
		"",
	)
}

// RedisClientFromEnv creates a Redis client from environment variables, if any.
// REDIS_TIMEOUT bounds every dial, read and write; it is the only timeout a limiter
// call has. The caller owns the client and closes it on shutdown.
func RedisClientFromEnv() (*redis.Client, error) {
	opts, err := redisOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opts)
	_, err = redisClient.Ping(context.Background()).Result()
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return redisClient, nil
}

func redisOptionsFromEnv() (*redis.Options, error) {
	host := getenv(RedisHost, "localhost")
	port := getenv(RedisPort, "6379")
	user := os.Getenv(RedisUser)
	pass := os.Getenv(RedisPass)
	tlsEnabled := parseBoolean(getenv(RedisTLS, "false"))
	dbNumStr := getenv(RedisDBNum, "0")
	dbNum, err := strconv.Atoi(dbNumStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis DB number: %w", err)
	}
	timeout, err := time.ParseDuration(getenv(RedisTimeout, "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid Redis timeout: %w", err)
	}

	var tlsConfig *tls.Config
	if tlsEnabled {
		// Create a CA certificate pool and add our CA certificate
		caCerts := x509.NewCertPool()
		if !caCerts.AppendCertsFromPEM([]byte(AmazonRootCA1PEM)) {
			return nil, fmt.Errorf("failed to retrieve CA certificate")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCerts,
		}
	}

	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Username:     user,
		Password:     pass,
		DB:           dbNum,
		TLSConfig:    tlsConfig,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}, nil
}

// getenv retrieves the value of the environment variable named by the key.
func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func parseBoolean(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}
