package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errRedisDown = errors.New("redis down")

	alice = entity.Participant{EndpointID: "conn-alice", PlayerID: "alice"}
	bob   = entity.Participant{EndpointID: "conn-bob", PlayerID: "bob"}

	testRetry = RetryPolicy{MaxRetries: 3}
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRepo is a versioned in-memory store with the same conflict rules as the real ones.
type memoryRepo struct {
	mu      sync.Mutex
	matches map[string]*entity.Match
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{matches: make(map[string]*entity.Match)}
}

func (that *memoryRepo) Create(_ context.Context, match *entity.Match) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.matches[match.ID]; ok {
		return apperror.ErrStoreConflict
	}

	that.matches[match.ID] = match.Clone()

	return nil
}

func (that *memoryRepo) GetByID(_ context.Context, id string) (*entity.Match, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	match, ok := that.matches[id]
	if !ok {
		return nil, apperror.ErrMatchNotFound
	}

	return match.Clone(), nil
}

func (that *memoryRepo) Update(_ context.Context, match *entity.Match) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	stored, ok := that.matches[match.ID]
	if !ok {
		return apperror.ErrMatchNotFound
	}

	if stored.Version != match.Version {
		return apperror.ErrStoreConflict
	}

	match.Version++
	that.matches[match.ID] = match.Clone()

	return nil
}

// barrierRepo holds the first two loads until both happened, forcing a stale read.
type barrierRepo struct {
	*memoryRepo
	loads   atomic.Int32
	release chan struct{}
}

func (that *barrierRepo) GetByID(ctx context.Context, id string) (*entity.Match, error) {
	match, err := that.memoryRepo.GetByID(ctx, id)

	switch that.loads.Add(1) {
	case 1:
		<-that.release
	case 2:
		close(that.release)
	}

	return match, err
}

type mockMatchRepo struct {
	mock.Mock
}

func (that *mockMatchRepo) Create(ctx context.Context, match *entity.Match) error {
	return that.Called(ctx, match).Error(0)
}

func (that *mockMatchRepo) GetByID(ctx context.Context, id string) (*entity.Match, error) {
	args := that.Called(ctx, id)

	match, _ := args.Get(0).(*entity.Match)
	if match != nil {
		match = match.Clone()
	}

	return match, args.Error(1)
}

func (that *mockMatchRepo) Update(ctx context.Context, match *entity.Match) error {
	return that.Called(ctx, match).Error(0)
}

func startedMatch(t *testing.T, repo *memoryRepo) *entity.Match {
	t.Helper()

	match := entity.NewMatch("match-1", alice)
	require.NoError(t, match.Join(bob))
	require.NoError(t, repo.Create(context.Background(), match))

	return match
}

func TestMatchUseCase_StartMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates an empty match with the creator as X", func(t *testing.T) {
		// Given: an empty store
		repo := newMemoryRepo()
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)

		// When: alice starts a match
		match, err := useCase.StartMatch(ctx, alice)

		// Then: the match is stored empty with X to move and no score
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(match.ID, "match-"))
		assert.Equal(t, [9]string{}, match.Board)
		assert.Equal(t, entity.MarkX, match.Turn)
		assert.Empty(t, match.Winner)
		assert.Zero(t, match.ScoreX)
		assert.Zero(t, match.ScoreO)
		assert.Equal(t, &alice, match.ParticipantX)
		assert.Nil(t, match.ParticipantO)

		stored, err := repo.GetByID(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, match, stored)
	})

	t.Run("Retries with a fresh id on collision", func(t *testing.T) {
		// Given: a store reporting the first id as taken
		repo := &mockMatchRepo{}
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)

		var ids []string
		repo.On("Create", mock.Anything, mock.AnythingOfType("*entity.Match")).
			Run(func(args mock.Arguments) { ids = append(ids, args.Get(1).(*entity.Match).ID) }).
			Return(apperror.ErrStoreConflict).Once()
		repo.On("Create", mock.Anything, mock.AnythingOfType("*entity.Match")).
			Run(func(args mock.Arguments) { ids = append(ids, args.Get(1).(*entity.Match).ID) }).
			Return(nil).Once()

		// When: a match is started
		match, err := useCase.StartMatch(ctx, alice)

		// Then: the second id is used
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEqual(t, ids[0], ids[1])
		assert.Equal(t, ids[1], match.ID)
		repo.AssertExpectations(t)
	})

	t.Run("Returns store errors", func(t *testing.T) {
		repo := &mockMatchRepo{}
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		repo.On("Create", mock.Anything, mock.Anything).Return(errRedisDown).Once()

		match, err := useCase.StartMatch(ctx, alice)

		require.ErrorIs(t, err, errRedisDown)
		assert.Nil(t, match)
		repo.AssertNumberOfCalls(t, "Create", 1)
	})
}

func TestMatchUseCase_JoinMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Binds the joiner as O", func(t *testing.T) {
		// Given: a match started by alice
		repo := newMemoryRepo()
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		created, err := useCase.StartMatch(ctx, alice)
		require.NoError(t, err)

		// When: bob joins
		match, err := useCase.JoinMatch(ctx, created.ID, bob)

		// Then: bob is persisted as O
		require.NoError(t, err)
		assert.Equal(t, &bob, match.ParticipantO)
		assert.Equal(t, int64(1), match.Version)

		stored, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, &bob, stored.ParticipantO)
	})

	t.Run("Engine failures are not persisted", func(t *testing.T) {
		tests := []struct {
			name     string
			joiner   entity.Participant
			expected error
		}{
			{"full match", entity.Participant{EndpointID: "conn-carol", PlayerID: "carol"}, apperror.ErrAlreadyFull},
			{"creator joins again", entity.Participant{EndpointID: "conn-2", PlayerID: alice.PlayerID}, apperror.ErrDuplicateParticipant},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Given: a store returning a full match
				full := entity.NewMatch("match-1", alice)
				if tt.expected == apperror.ErrAlreadyFull {
					require.NoError(t, full.Join(bob))
				}

				repo := &mockMatchRepo{}
				useCase := NewMatchUseCase(newLogger(), repo, testRetry)
				repo.On("GetByID", mock.Anything, "match-1").Return(full, nil).Once()

				// When: the join is attempted
				match, err := useCase.JoinMatch(ctx, "match-1", tt.joiner)

				// Then: the engine error comes back and nothing is written
				require.ErrorIs(t, err, tt.expected)
				assert.Nil(t, match)
				repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("Unknown match", func(t *testing.T) {
		useCase := NewMatchUseCase(newLogger(), newMemoryRepo(), testRetry)

		_, err := useCase.JoinMatch(ctx, "match-404", bob)

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})
}

func TestMatchUseCase_MakeMove(t *testing.T) {
	ctx := context.Background()

	t.Run("Top row win", func(t *testing.T) {
		// Given: a started match
		repo := newMemoryRepo()
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		startedMatch(t, repo)

		// When: X 0, O 4, X 1, O 5, X 2
		moves := []struct {
			mover    entity.Participant
			mark     string
			position int
		}{
			{alice, entity.MarkX, 0}, {bob, entity.MarkO, 4}, {alice, entity.MarkX, 1}, {bob, entity.MarkO, 5}, {alice, entity.MarkX, 2},
		}

		var (
			match *entity.Match
			err   error
		)
		for _, m := range moves {
			match, err = useCase.MakeMove(ctx, "match-1", m.mover, m.mark, m.position)
			require.NoError(t, err)
		}

		// Then: X wins and the score is persisted once
		assert.Equal(t, entity.MarkX, match.Winner)
		assert.Equal(t, 1, match.ScoreX)

		stored, err := repo.GetByID(ctx, "match-1")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.ScoreX)
		assert.Equal(t, int64(len(moves)), stored.Version)

		// And: further moves are rejected without a write
		_, err = useCase.MakeMove(ctx, "match-1", bob, entity.MarkO, 8)
		require.ErrorIs(t, err, apperror.ErrMatchFinished)

		after, err := repo.GetByID(ctx, "match-1")
		require.NoError(t, err)
		assert.Equal(t, stored, after)
	})

	t.Run("Draw leaves scores alone", func(t *testing.T) {
		repo := newMemoryRepo()
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		startedMatch(t, repo)

		var (
			match *entity.Match
			err   error
		)
		for i, position := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
			mover, mark := alice, entity.MarkX
			if i%2 == 1 {
				mover, mark = bob, entity.MarkO
			}

			match, err = useCase.MakeMove(ctx, "match-1", mover, mark, position)
			require.NoError(t, err)
		}

		assert.Equal(t, entity.Draw, match.Winner)
		assert.Zero(t, match.ScoreX)
		assert.Zero(t, match.ScoreO)
	})

	t.Run("Rebinds a mover acting from a new endpoint", func(t *testing.T) {
		// Given: a started match
		repo := newMemoryRepo()
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		startedMatch(t, repo)

		// When: alice moves after reconnecting
		match, err := useCase.MakeMove(ctx, "match-1", entity.Participant{EndpointID: "conn-alice-2", PlayerID: alice.PlayerID}, entity.MarkX, 0)

		// Then: her endpoint is updated with the move
		require.NoError(t, err)
		assert.Equal(t, "conn-alice-2", match.ParticipantX.EndpointID)
		assert.Equal(t, bob.EndpointID, match.ParticipantO.EndpointID)
	})

	t.Run("Retries conflicts and reapplies on a fresh read", func(t *testing.T) {
		// Given: a store that conflicts twice
		started := entity.NewMatch("match-1", alice)
		require.NoError(t, started.Join(bob))

		repo := &mockMatchRepo{}
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		repo.On("GetByID", mock.Anything, "match-1").Return(started, nil).Times(3)
		repo.On("Update", mock.Anything, mock.Anything).Return(apperror.ErrStoreConflict).Twice()
		repo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

		// When: X moves
		match, err := useCase.MakeMove(ctx, "match-1", alice, entity.MarkX, 4)

		// Then: the third attempt lands
		require.NoError(t, err)
		assert.Equal(t, entity.MarkX, match.Board[4])
		repo.AssertNumberOfCalls(t, "GetByID", 3)
		repo.AssertNumberOfCalls(t, "Update", 3)
	})

	t.Run("Surfaces a conflict after the retry budget", func(t *testing.T) {
		// Given: a store that always conflicts
		started := entity.NewMatch("match-1", alice)
		require.NoError(t, started.Join(bob))

		repo := &mockMatchRepo{}
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		repo.On("GetByID", mock.Anything, "match-1").Return(started, nil)
		repo.On("Update", mock.Anything, mock.Anything).Return(apperror.ErrStoreConflict)

		// When: X moves
		_, err := useCase.MakeMove(ctx, "match-1", alice, entity.MarkX, 4)

		// Then: StoreConflict after 1 + MaxRetries attempts
		require.ErrorIs(t, err, apperror.ErrStoreConflict)
		repo.AssertNumberOfCalls(t, "Update", int(testRetry.MaxRetries)+1)
	})

	t.Run("Does not retry store failures", func(t *testing.T) {
		repo := &mockMatchRepo{}
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		repo.On("GetByID", mock.Anything, "match-1").Return(nil, errRedisDown)

		_, err := useCase.MakeMove(ctx, "match-1", alice, entity.MarkX, 4)

		require.ErrorIs(t, err, errRedisDown)
		repo.AssertNumberOfCalls(t, "GetByID", 1)
	})

	t.Run("Concurrent moves for the same turn apply once", func(t *testing.T) {
		// Given: both submissions read the match before either writes
		memory := newMemoryRepo()
		startedMatch(t, memory)
		repo := &barrierRepo{memoryRepo: memory, release: make(chan struct{})}
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)

		// When: X submits two different moves at once
		var wg sync.WaitGroup
		errs := make([]error, 2)

		for i, position := range []int{0, 8} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = useCase.MakeMove(ctx, "match-1", alice, entity.MarkX, position)
			}()
		}

		wg.Wait()

		// Then: exactly one succeeds, the other sees the new turn
		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}

			assert.True(t, errors.Is(err, apperror.ErrNotYourTurn) || errors.Is(err, apperror.ErrStoreConflict), err)
		}

		assert.Equal(t, 1, succeeded)

		stored, err := memory.GetByID(ctx, "match-1")
		require.NoError(t, err)
		assert.Equal(t, entity.MarkO, stored.Turn)
		assert.Equal(t, int64(1), stored.Version)
		assert.NotEqual(t, stored.Board[0], stored.Board[8])
	})
}

func TestMatchUseCase_ResetMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Clears the round and keeps scores", func(t *testing.T) {
		// Given: a finished match won by X
		repo := newMemoryRepo()
		useCase := NewMatchUseCase(newLogger(), repo, testRetry)
		startedMatch(t, repo)

		for i, position := range []int{0, 4, 1, 5, 2} {
			mover, mark := alice, entity.MarkX
			if i%2 == 1 {
				mover, mark = bob, entity.MarkO
			}

			_, err := useCase.MakeMove(ctx, "match-1", mover, mark, position)
			require.NoError(t, err)
		}

		// When: bob resets
		match, err := useCase.ResetMatch(ctx, "match-1", bob)

		// Then: a fresh round with preserved score and players
		require.NoError(t, err)
		assert.Equal(t, [9]string{}, match.Board)
		assert.Equal(t, entity.MarkX, match.Turn)
		assert.Empty(t, match.Winner)
		assert.Equal(t, 1, match.ScoreX)
		assert.Equal(t, &alice, match.ParticipantX)
		assert.Equal(t, &bob, match.ParticipantO)
	})

	t.Run("Unknown match", func(t *testing.T) {
		useCase := NewMatchUseCase(newLogger(), newMemoryRepo(), testRetry)

		_, err := useCase.ResetMatch(ctx, "match-404", alice)

		require.ErrorIs(t, err, apperror.ErrMatchNotFound)
	})
}

func TestMatchUseCase_GetMatch(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	useCase := NewMatchUseCase(newLogger(), repo, testRetry)
	started := startedMatch(t, repo)

	match, err := useCase.GetMatch(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, started, match)

	_, err = useCase.GetMatch(ctx, "match-404")
	require.ErrorIs(t, err, apperror.ErrMatchNotFound)
}
