package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rocketscienceinc/tictactoe-live/internal/config"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository/dynamo"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository/storage"
)

var (
	ErrAddrNotFound          = errors.New("redis address string is empty")
	ErrUnknownStorageDriver  = errors.New("unknown storage driver")
	ErrTableNamesNotProvided = errors.New("dynamo table names are empty")
)

// Repositories - holds the stores selected by configuration.
type Repositories struct {
	Matches     repository.MatchRepository
	Connections repository.ConnectionRepository

	close func() error
}

// Close - releases the underlying storage.
func (that *Repositories) Close() error {
	if that.close == nil {
		return nil
	}

	return that.close()
}

// OpenRepositories - connects to the configured storage driver.
func OpenRepositories(ctx context.Context, logger *slog.Logger, conf *config.Config) (*Repositories, error) {
	switch conf.Storage.Driver {
	case config.StorageRedis:
		return openRedis(ctx, conf)
	case config.StorageDynamo:
		return openDynamo(ctx, logger, conf)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownStorageDriver, conf.Storage.Driver)
}

func openRedis(ctx context.Context, conf *config.Config) (*Repositories, error) {
	if conf.Redis.Host == "" || conf.Redis.Port == "" {
		return nil, ErrAddrNotFound
	}

	redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr(), conf.Redis.Password, conf.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	return &Repositories{
		Matches:     repository.NewMatchRepository(redisStorage.Connection, conf.Redis.MatchTTL),
		Connections: repository.NewConnectionRepository(redisStorage.Connection, conf.Redis.ConnectionTTL),
		close:       redisStorage.Close,
	}, nil
}

func openDynamo(ctx context.Context, logger *slog.Logger, conf *config.Config) (*Repositories, error) {
	if conf.Dynamo.MatchTable == "" || conf.Dynamo.ConnectionTable == "" {
		return nil, ErrTableNamesNotProvided
	}

	dynamoStorage, err := storage.NewDynamoStorage(ctx, storage.DynamoOptions{
		Region:          conf.Dynamo.Region,
		Endpoint:        conf.Dynamo.Endpoint,
		AccessKeyID:     conf.Dynamo.AccessKeyID,
		SecretAccessKey: conf.Dynamo.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to dynamo storage: %w", err)
	}

	// a custom endpoint means a local emulator, whose tables nobody provisioned
	if conf.Dynamo.Endpoint != "" {
		logger.Info("ensuring dynamo tables", "endpoint", conf.Dynamo.Endpoint)

		if err = dynamo.EnsureTables(ctx, dynamoStorage.Connection, conf.Dynamo.MatchTable, conf.Dynamo.ConnectionTable); err != nil {
			return nil, fmt.Errorf("could not create dynamo tables: %w", err)
		}
	}

	return &Repositories{
		Matches:     dynamo.NewMatchRepository(dynamoStorage.Connection, conf.Dynamo.MatchTable),
		Connections: dynamo.NewConnectionRepository(dynamoStorage.Connection, conf.Dynamo.ConnectionTable, conf.Dynamo.ConnectionTTL),
	}, nil
}
