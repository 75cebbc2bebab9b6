package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

const connectionKeyPrefix = "connection:"

var ErrConnectionNotFound = errors.New("connection not found")

// ConnectionRepository - keeps liveness records of transport endpoints.
type ConnectionRepository interface {
	Save(ctx context.Context, conn *entity.Connection) error
	// Touch extends the record's lifetime.
	Touch(ctx context.Context, endpointID string) error
	GetByID(ctx context.Context, endpointID string) (*entity.Connection, error)
	Delete(ctx context.Context, endpointID string) error
}

type dbConnection struct {
	client *redis.Client
	ttl    time.Duration
}

// NewConnectionRepository - creates the Redis connection store; a zero ttl keeps records forever.
func NewConnectionRepository(client *redis.Client, ttl time.Duration) ConnectionRepository {
	return &dbConnection{
		client: client,
		ttl:    ttl,
	}
}

// Save - stores conn and stamps its expiry.
func (that *dbConnection) Save(ctx context.Context, conn *entity.Connection) error {
	conn.ExpiresAt = time.Time{}
	if that.ttl > 0 {
		conn.ExpiresAt = time.Now().Add(that.ttl).UTC()
	}

	connJSON, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	if err = that.client.Set(ctx, connectionKey(conn.EndpointID), connJSON, that.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set connection: %w", err)
	}

	return nil
}

// Touch - extends the expiry of a live record.
func (that *dbConnection) Touch(ctx context.Context, endpointID string) error {
	if that.ttl == 0 {
		return nil
	}

	ok, err := that.client.Expire(ctx, connectionKey(endpointID), that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to touch connection: %w", err)
	}

	if !ok {
		return ErrConnectionNotFound
	}

	return nil
}

// GetByID - reads a connection. The expiry follows the key's live ttl, so touches are reflected.
func (that *dbConnection) GetByID(ctx context.Context, endpointID string) (*entity.Connection, error) {
	key := connectionKey(endpointID)

	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)

	_, err := that.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.PTTL(ctx, key)

		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrConnectionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get connection by id: %w", err)
	}

	response, err := getCmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by id: %w", err)
	}

	var conn entity.Connection
	if err = json.Unmarshal(response, &conn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}

	conn.ExpiresAt = time.Time{}
	if ttl := ttlCmd.Val(); ttl > 0 {
		conn.ExpiresAt = time.Now().Add(ttl).UTC()
	}

	return &conn, nil
}

// Delete - removes a record. A missing record is not an error.
func (that *dbConnection) Delete(ctx context.Context, endpointID string) error {
	if err := that.client.Del(ctx, connectionKey(endpointID)).Err(); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	return nil
}

func connectionKey(endpointID string) string {
	return connectionKeyPrefix + endpointID
}
