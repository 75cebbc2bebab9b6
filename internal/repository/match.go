package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

const matchKeyPrefix = "match:"

// MatchRepository - stores matches with optimistic concurrency on Match.Version.
type MatchRepository interface {
	// Create stores a new match. An existing id is reported as apperror.ErrStoreConflict.
	Create(ctx context.Context, match *entity.Match) error
	GetByID(ctx context.Context, id string) (*entity.Match, error)
	// Update persists match only if the stored version still equals match.Version,
	// then bumps match.Version. A stale version is apperror.ErrStoreConflict.
	Update(ctx context.Context, match *entity.Match) error
}

type dbMatch struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMatchRepository - returns a Redis backed repository. A zero ttl keeps matches forever.
func NewMatchRepository(client *redis.Client, ttl time.Duration) MatchRepository {
	return &dbMatch{
		client: client,
		ttl:    ttl,
	}
}

// Create - stores a new match. A taken id is apperror.ErrStoreConflict.
func (that *dbMatch) Create(ctx context.Context, match *entity.Match) error {
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	created, err := that.client.SetNX(ctx, matchKey(match.ID), matchJSON, that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	if !created {
		return fmt.Errorf("%w: match id %s already taken", apperror.ErrStoreConflict, match.ID)
	}

	return nil
}

// GetByID - reads a match. A missing key is apperror.ErrMatchNotFound.
func (that *dbMatch) GetByID(ctx context.Context, id string) (*entity.Match, error) {
	response, err := that.client.Get(ctx, matchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrMatchNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	return unmarshalMatch(response)
}

// Update - writes match if the stored version still equals match.Version, then bumps it.
func (that *dbMatch) Update(ctx context.Context, match *entity.Match) error {
	key := matchKey(match.ID)

	next := match.Clone()
	next.Version++

	matchJSON, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		response, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperror.ErrMatchNotFound
		}

		if err != nil {
			return fmt.Errorf("failed to get match by id: %w", err)
		}

		stored, err := unmarshalMatch(response)
		if err != nil {
			return err
		}

		if stored.Version != match.Version {
			return fmt.Errorf("%w: stored version %d, expected %d", apperror.ErrStoreConflict, stored.Version, match.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, matchJSON, that.ttl)
			return nil
		})

		return err
	}

	err = that.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: match %s changed during update", apperror.ErrStoreConflict, match.ID)
	}

	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}

	match.Version = next.Version

	return nil
}

func unmarshalMatch(data []byte) (*entity.Match, error) {
	var match entity.Match
	if err := json.Unmarshal(data, &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	return &match, nil
}

func matchKey(id string) string {
	return matchKeyPrefix + id
}
