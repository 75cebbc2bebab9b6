package suite

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository/storage"
)

const (
	expireDuration  = 120
	maxWaitDuration = 120 * time.Second
)

const (
	redisPort  = "6379/tcp"
	redisImage = "redis"
	redisTag   = "alpine"

	dynamoPort  = "8000/tcp"
	dynamoImage = "amazon/dynamodb-local"
	dynamoTag   = "latest"
)

// Suite - a test with a Redis client.
type Suite struct {
	*testing.T
	Logger *slog.Logger

	Storage *redis.Client
}

// DynamoSuite - a test with a DynamoDB client.
type DynamoSuite struct {
	*testing.T
	Logger *slog.Logger

	Storage *dynamodb.Client
}

// New - starts a throwaway Redis container.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	ctx := newContext(t)
	pool, resource := runContainer(t, redisImage, redisTag)

	redisHost := resource.GetHostPort(redisPort)

	var redisClient *redis.Client
	if err := pool.Retry(func() error {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisHost,
		})
		return redisClient.Ping(ctx).Err()
	}); err != nil {
		// the container is purged by the cleanup registered in runContainer
		t.Fatalf("could not connect to redis: %v", err)
	}

	if err := redisClient.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("could not flush database: %v", err)
	}

	return ctx, &Suite{
		T:       t,
		Logger:  newLogger(),
		Storage: redisClient,
	}
}

// NewDynamo - starts a throwaway DynamoDB Local container.
func NewDynamo(t *testing.T) (context.Context, *DynamoSuite) {
	t.Helper()

	ctx := newContext(t)
	pool, resource := runContainer(t, dynamoImage, dynamoTag)

	var client *dynamodb.Client
	if err := pool.Retry(func() error {
		dynamoStorage, err := storage.NewDynamoStorage(ctx, storage.DynamoOptions{
			Region:          "us-east-1",
			Endpoint:        "http://" + resource.GetHostPort(dynamoPort),
			AccessKeyID:     "local",
			SecretAccessKey: "local",
		})
		if err != nil {
			return err
		}

		client = dynamoStorage.Connection
		_, err = client.ListTables(ctx, &dynamodb.ListTablesInput{})
		return err
	}); err != nil {
		// the container is purged by the cleanup registered in runContainer
		t.Fatalf("could not connect to dynamodb: %v", err)
	}

	return ctx, &DynamoSuite{
		T:       t,
		Logger:  newLogger(),
		Storage: client,
	}
}

func newContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), maxWaitDuration)
	t.Cleanup(func() {
		cancel()
	})

	return ctx
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func runContainer(t *testing.T, image, tag string) (*dockertest.Pool, *dockertest.Resource) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}

	// pulls an image, creates a container based on it and runs it
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: image,
		Tag:        tag,
		Env:        []string{},
	}, func(config *docker.HostConfig) {
		// set AutoRemove to true so that stopped container goes away by itself
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start resource: %v", err)
	}

	// never returns error
	_ = resource.Expire(expireDuration) // Tell docker to hard kill the container in 120 seconds

	// exponential backoff-retry, because the application in the container might not be ready to accept connections yet
	pool.MaxWait = maxWaitDuration

	t.Cleanup(func() {
		if err = pool.Purge(resource); err != nil {
			t.Fatalf("could not purge resource: %v", err)
		}
	})

	return pool, resource
}
