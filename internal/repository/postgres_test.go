// Tests use testcontainers-go to spin up a PostgreSQL container and are
// skipped when Docker is unavailable.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"crypto-clash-bot/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container, runs migrations, and
// returns a connection pool. Skips the test if Docker is not available.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestPostgresStoreIntegration(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	t.Run("player round trip", func(t *testing.T) {
		p, err := store.Players.GetOrCreate(ctx, 42, "satoshi")
		require.NoError(t, err)
		assert.Equal(t, model.StartingTokens, p.Tokens)
		assert.Equal(t, 1, p.Level)

		airdropAt := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		updated, err := store.Players.Update(ctx, 42, func(p *model.Player) error {
			p.Tokens += 250
			p.Streak = 4
			p.Achievements = append(p.Achievements, "first_win")
			p.LastPlayedAt = time.Now()
			p.LastAirdropAt = airdropAt
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.StartingTokens+250, updated.Tokens)

		stored, err := store.Players.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, 4, stored.Streak)
		assert.Equal(t, []string{"first_win"}, stored.Achievements)
		assert.True(t, stored.LastAirdropAt.Equal(airdropAt))
	})

	t.Run("player update rolls back on error", func(t *testing.T) {
		_, err := store.Players.GetOrCreate(ctx, 43, "finney")
		require.NoError(t, err)

		_, err = store.Players.Update(ctx, 43, func(p *model.Player) error {
			p.Tokens = 0
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		stored, err := store.Players.Get(ctx, 43)
		require.NoError(t, err)
		assert.Equal(t, model.StartingTokens, stored.Tokens)
	})

	t.Run("group leaderboard round trip", func(t *testing.T) {
		g, err := store.Groups.GetOrCreate(ctx, -100)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultOGSlots, g.OGSlotsRemaining)

		_, err = store.Groups.Update(ctx, -100, func(g *model.Group) error {
			g.OGSlotsRemaining--
			g.Leaderboard[42] = 4
			g.Leaderboard[43] = 1
			return nil
		})
		require.NoError(t, err)

		g, err = store.Groups.GetOrCreate(ctx, -100)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultOGSlots-1, g.OGSlotsRemaining)
		assert.Equal(t, map[int64]int{42: 4, 43: 1}, g.Leaderboard)
	})

	t.Run("prediction round trip preserves decimals", func(t *testing.T) {
		created := time.Now().UTC().Truncate(time.Millisecond)
		p := &model.Prediction{
			ID:           model.PredictionID(42, created),
			UserID:       42,
			ChatID:       -100,
			Asset:        model.AssetEthereum,
			StartPrice:   decimal.RequireFromString("3512.0481"),
			RequiredMove: decimal.RequireFromString("1.1"),
			FUDActive:    true,
			State:        model.StateOpen,
			CreatedAt:    created,
		}
		require.NoError(t, store.Predictions.Create(ctx, p))
		assert.ErrorIs(t, store.Predictions.Create(ctx, p), ErrDuplicateID)

		got, err := store.Predictions.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, got.StartPrice.Equal(p.StartPrice), "got %s", got.StartPrice)
		assert.True(t, got.RequiredMove.Equal(p.RequiredMove))
		assert.True(t, got.FUDActive)

		_, err = store.Predictions.Update(ctx, p.ID, func(p *model.Prediction) error {
			p.Direction = model.DirectionUp
			p.State = model.StateLocked
			return nil
		})
		require.NoError(t, err)

		active, err := store.Predictions.ActiveByOwner(ctx, 42, time.Minute, time.Now())
		require.NoError(t, err)
		assert.Equal(t, model.StateLocked, active.State)
		assert.Equal(t, model.DirectionUp, active.Direction)
	})

	t.Run("due and history queries", func(t *testing.T) {
		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			p := &model.Prediction{
				ID:           model.PredictionID(77, base.Add(time.Duration(i)*time.Minute)),
				UserID:       77,
				ChatID:       -100,
				Asset:        model.AssetSolana,
				StartPrice:   decimal.NewFromInt(150),
				RequiredMove: decimal.RequireFromString("1.0"),
				State:        model.StateLocked,
				Direction:    model.DirectionDown,
				CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			}
			require.NoError(t, store.Predictions.Create(ctx, p))
		}

		due, err := store.Predictions.DueByOwner(ctx, 77, time.Minute, time.Now())
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.True(t, due[0].CreatedAt.Before(due[1].CreatedAt))

		list, err := store.Predictions.ListByOwner(ctx, 77, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	})

	t.Run("challenge round trip", func(t *testing.T) {
		c := &model.DailyChallenge{
			UserID:  42,
			Type:    model.ChallengePredictionsMade,
			Target:  5,
			Reward:  300,
			ResetAt: time.Now().UTC().Add(24 * time.Hour),
		}
		require.NoError(t, store.Challenges.Put(ctx, c))

		updated, err := store.Challenges.Update(ctx, 42, func(c *model.DailyChallenge) error {
			c.Progress = 5
			c.Completed = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.Completed)

		got, err := store.Challenges.Get(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Progress)
	})
}
