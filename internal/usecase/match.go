package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/pkg"
)

type matchRepo interface {
	Create(ctx context.Context, match *entity.Match) error
	GetByID(ctx context.Context, id string) (*entity.Match, error)
	Update(ctx context.Context, match *entity.Match) error
}

// RetryPolicy - bounds reloads after a conflicting write. MaxRetries counts the attempts after the first one.
type RetryPolicy struct {
	// MaxRetries bounds the attempts after the first one.
	MaxRetries uint64
	Interval   time.Duration
}

// MatchUseCase - runs match operations against the store.
type MatchUseCase struct {
	logger    *slog.Logger
	matchRepo matchRepo
	retry     RetryPolicy
}

// NewMatchUseCase - creates the use case over matchRepo.
func NewMatchUseCase(logger *slog.Logger, matchRepo matchRepo, retry RetryPolicy) *MatchUseCase {
	return &MatchUseCase{
		logger:    logger.With("component", "match_usecase"),
		matchRepo: matchRepo,
		retry:     retry,
	}
}

// StartMatch - creates a match with creator as X. An id collision is retried with a fresh id.
func (that *MatchUseCase) StartMatch(ctx context.Context, creator entity.Participant) (*entity.Match, error) {
	var match *entity.Match

	err := that.withRetry(ctx, func() error {
		match = entity.NewMatch(pkg.GenerateMatchID(), creator)

		return that.matchRepo.Create(ctx, match)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	return match, nil
}

// JoinMatch - binds joiner as O.
func (that *MatchUseCase) JoinMatch(ctx context.Context, matchID string, joiner entity.Participant) (*entity.Match, error) {
	return that.mutate(ctx, matchID, func(match *entity.Match) error {
		return match.Join(joiner)
	})
}

// MakeMove - applies a move. A mover acting from a new endpoint is rebound to it.
func (that *MatchUseCase) MakeMove(ctx context.Context, matchID string, mover entity.Participant, mark string, position int) (*entity.Match, error) {
	return that.mutate(ctx, matchID, func(match *entity.Match) error {
		if err := match.ApplyMove(mover.PlayerID, mark, position); err != nil {
			return err
		}

		match.Rebind(mover)

		return nil
	})
}

// ResetMatch - starts a new round. A requester acting from a new endpoint is rebound to it.
func (that *MatchUseCase) ResetMatch(ctx context.Context, matchID string, requester entity.Participant) (*entity.Match, error) {
	return that.mutate(ctx, matchID, func(match *entity.Match) error {
		match.Reset()
		match.Rebind(requester)

		return nil
	})
}

// GetMatch - reads a match.
func (that *MatchUseCase) GetMatch(ctx context.Context, matchID string) (*entity.Match, error) {
	match, err := that.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return match, nil
}

// mutate runs load, apply, conditional persist for one match, reloading on conflicts.
// Engine errors end the loop at once and nothing is persisted.
func (that *MatchUseCase) mutate(ctx context.Context, matchID string, apply func(match *entity.Match) error) (*entity.Match, error) {
	log := that.logger.With("method", "mutate", "matchID", matchID)

	var match *entity.Match

	err := that.withRetry(ctx, func() error {
		loaded, err := that.matchRepo.GetByID(ctx, matchID)
		if err != nil {
			return fmt.Errorf("failed to get match: %w", err)
		}

		if err = apply(loaded); err != nil {
			return err
		}

		if err = that.matchRepo.Update(ctx, loaded); err != nil {
			if errors.Is(err, apperror.ErrStoreConflict) {
				log.Debug("conflicting update, retrying", "version", loaded.Version)
			}

			return fmt.Errorf("failed to update match: %w", err)
		}

		match = loaded

		return nil
	})
	if err != nil {
		return nil, err
	}

	return match, nil
}

// withRetry retries op while it fails with apperror.ErrStoreConflict.
func (that *MatchUseCase) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = that.retry.Interval

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, apperror.ErrStoreConflict) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, that.retry.MaxRetries), ctx))
}
