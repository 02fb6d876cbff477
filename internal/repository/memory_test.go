package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-clash-bot/internal/model"
)

func newTestPrediction(userID int64, createdAt time.Time) *model.Prediction {
	return &model.Prediction{
		ID:           model.PredictionID(userID, createdAt),
		UserID:       userID,
		ChatID:       -100,
		Asset:        model.AssetBitcoin,
		StartPrice:   decimal.NewFromInt(50000),
		RequiredMove: decimal.RequireFromString("1.0"),
		State:        model.StateOpen,
		CreatedAt:    createdAt,
	}
}

func TestMemoryPlayerGetOrCreate(t *testing.T) {
	repo := NewMemoryPlayerRepository()
	ctx := context.Background()

	p, err := repo.GetOrCreate(ctx, 42, "satoshi")
	require.NoError(t, err)
	assert.Equal(t, model.StartingTokens, p.Tokens)
	assert.Equal(t, model.StartingWhalePowerups, p.WhalePowerups)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, "satoshi", p.Username)

	// Second call returns the same player and refreshes the username.
	again, err := repo.GetOrCreate(ctx, 42, "finney")
	require.NoError(t, err)
	assert.Equal(t, p.UserID, again.UserID)
	assert.Equal(t, "finney", again.Username)
}

func TestMemoryPlayerUpdateIsCopyOnWrite(t *testing.T) {
	repo := NewMemoryPlayerRepository()
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, 1, "a")
	require.NoError(t, err)

	updated, err := repo.Update(ctx, 1, func(p *model.Player) error {
		p.Tokens += 300
		p.Achievements = append(p.Achievements, "first_win")
		return nil
	})
	require.NoError(t, err)

	// Mutating the returned copy must not leak into storage.
	updated.Tokens = 0
	updated.Achievements[0] = "mutated"

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StartingTokens+300, stored.Tokens)
	assert.Equal(t, []string{"first_win"}, stored.Achievements)
}

func TestMemoryPlayerUpdateRollsBackOnError(t *testing.T) {
	repo := NewMemoryPlayerRepository()
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, 1, "a")
	require.NoError(t, err)

	_, err = repo.Update(ctx, 1, func(p *model.Player) error {
		p.Tokens = 0
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StartingTokens, stored.Tokens)
}

func TestMemoryPlayerConcurrentUpdates(t *testing.T) {
	repo := NewMemoryPlayerRepository()
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, 1, "a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, 1, func(p *model.Player) error {
				p.Tokens += 10
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StartingTokens+500, stored.Tokens)
}

func TestMemoryGroupOGSlots(t *testing.T) {
	repo := NewMemoryGroupRepository()
	ctx := context.Background()

	g, err := repo.GetOrCreate(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultOGSlots, g.OGSlotsRemaining)

	_, err = repo.Update(ctx, -100, func(g *model.Group) error {
		g.OGSlotsRemaining--
		g.Leaderboard[7] = 3
		return nil
	})
	require.NoError(t, err)

	g, err = repo.GetOrCreate(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultOGSlots-1, g.OGSlotsRemaining)
	assert.Equal(t, 3, g.Leaderboard[7])
	assert.Equal(t, 1, g.TotalPlayers())
}

func TestMemoryPredictionCreateRejectsDuplicateID(t *testing.T) {
	repo := NewMemoryPredictionRepository()
	ctx := context.Background()

	p := newTestPrediction(1, time.Now())
	require.NoError(t, repo.Create(ctx, p))
	assert.ErrorIs(t, repo.Create(ctx, p), ErrDuplicateID)
}

func TestMemoryPredictionActiveAndDue(t *testing.T) {
	repo := NewMemoryPredictionRepository()
	ctx := context.Background()
	window := time.Minute
	now := time.Now()

	fresh := newTestPrediction(1, now.Add(-10*time.Second))
	stale := newTestPrediction(1, now.Add(-2*time.Minute))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, stale))

	active, err := repo.ActiveByOwner(ctx, 1, window, now)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, active.ID)

	due, err := repo.DueByOwner(ctx, 1, window, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stale.ID, due[0].ID)

	// Terminal predictions show up in neither query.
	_, err = repo.Update(ctx, stale.ID, func(p *model.Prediction) error {
		p.State = model.StateExpired
		p.Outcome = model.OutcomeExpired
		return nil
	})
	require.NoError(t, err)

	due, err = repo.DueByOwner(ctx, 1, window, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = repo.ActiveByOwner(ctx, 2, window, now)
	assert.ErrorIs(t, err, ErrPredictionNotFound)
}

func TestMemoryPredictionListByOwnerNewestFirst(t *testing.T) {
	repo := NewMemoryPredictionRepository()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Create(ctx, newTestPrediction(1, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Create(ctx, newTestPrediction(2, base)))

	list, err := repo.ListByOwner(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].CreatedAt.After(list[i].CreatedAt))
	}
}

func TestMemoryChallengeLifecycle(t *testing.T) {
	repo := NewMemoryChallengeRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	require.NoError(t, repo.Put(ctx, &model.DailyChallenge{
		UserID:  1,
		Type:    model.ChallengeWinStreak,
		Target:  3,
		Reward:  500,
		ResetAt: time.Now().Add(24 * time.Hour),
	}))

	updated, err := repo.Update(ctx, 1, func(c *model.DailyChallenge) error {
		c.Progress = 3
		c.Completed = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.Completed)

	stored, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Progress)
}
