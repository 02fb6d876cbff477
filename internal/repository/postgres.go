package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crypto-clash-bot/internal/model"
)

// NewPostgresStore creates the durable storage backend on the given
// connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Players:     NewPostgresPlayerRepository(pool),
		Groups:      NewPostgresGroupRepository(pool),
		Predictions: NewPostgresPredictionRepository(pool),
		Challenges:  NewPostgresChallengeRepository(pool),
	}
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS players (
			user_id              BIGINT PRIMARY KEY,
			username             TEXT NOT NULL DEFAULT '',
			streak               INT NOT NULL DEFAULT 0,
			best_streak          INT NOT NULL DEFAULT 0,
			tokens               BIGINT NOT NULL DEFAULT 0,
			whale_powerups       INT NOT NULL DEFAULT 0,
			total_whale_uses     INT NOT NULL DEFAULT 0,
			og_status            BOOLEAN NOT NULL DEFAULT FALSE,
			total_predictions    INT NOT NULL DEFAULT 0,
			wins                 INT NOT NULL DEFAULT 0,
			level                INT NOT NULL DEFAULT 1,
			xp                   BIGINT NOT NULL DEFAULT 0,
			achievements         TEXT[] NOT NULL DEFAULT '{}',
			streak_shields       INT NOT NULL DEFAULT 0,
			double_xp_remaining  INT NOT NULL DEFAULT 0,
			lucky_charms         INT NOT NULL DEFAULT 0,
			challenges_completed INT NOT NULL DEFAULT 0,
			last_played_at       TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			last_airdrop_at      TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS groups (
			chat_id            BIGINT PRIMARY KEY,
			og_slots_remaining INT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS group_leaderboard (
			chat_id     BIGINT NOT NULL REFERENCES groups(chat_id),
			user_id     BIGINT NOT NULL,
			best_streak INT NOT NULL DEFAULT 0,
			PRIMARY KEY (chat_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS predictions (
			id                TEXT PRIMARY KEY,
			user_id           BIGINT NOT NULL,
			chat_id           BIGINT NOT NULL,
			asset             TEXT NOT NULL,
			start_price       NUMERIC NOT NULL,
			required_move     NUMERIC NOT NULL,
			fud_active        BOOLEAN NOT NULL DEFAULT FALSE,
			direction         TEXT NOT NULL DEFAULT '',
			multiplier_active BOOLEAN NOT NULL DEFAULT FALSE,
			state             TEXT NOT NULL,
			outcome           TEXT NOT NULL DEFAULT '',
			final_price       NUMERIC NOT NULL DEFAULT 0,
			percent_change    NUMERIC NOT NULL DEFAULT 0,
			tokens_awarded    BIGINT NOT NULL DEFAULT 0,
			xp_awarded        BIGINT NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL,
			resolved_at       TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
		);
		CREATE INDEX IF NOT EXISTS idx_predictions_user ON predictions(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS daily_challenges (
			user_id   BIGINT PRIMARY KEY,
			type      TEXT NOT NULL,
			progress  INT NOT NULL DEFAULT 0,
			target    INT NOT NULL,
			reward    BIGINT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			reset_at  TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, committing on nil error.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const playerColumns = `
	user_id, username, streak, best_streak, tokens, whale_powerups,
	total_whale_uses, og_status, total_predictions, wins, level, xp,
	achievements, streak_shields, double_xp_remaining, lucky_charms,
	challenges_completed, last_played_at, last_airdrop_at, created_at,
	updated_at
`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(
		&p.UserID, &p.Username, &p.Streak, &p.BestStreak, &p.Tokens,
		&p.WhalePowerups, &p.TotalWhaleUses, &p.OGStatus,
		&p.TotalPredictions, &p.Wins, &p.Level, &p.XP, &p.Achievements,
		&p.StreakShields, &p.DoubleXPRemaining, &p.LuckyCharms,
		&p.ChallengesCompleted, &p.LastPlayedAt, &p.LastAirdropAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PostgresPlayerRepository persists players in PostgreSQL.
type PostgresPlayerRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPlayerRepository(pool *pgxpool.Pool) *PostgresPlayerRepository {
	return &PostgresPlayerRepository{pool: pool}
}

func (r *PostgresPlayerRepository) Get(ctx context.Context, userID int64) (*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE user_id = $1`
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

func (r *PostgresPlayerRepository) GetOrCreate(ctx context.Context, userID int64, username string) (*model.Player, error) {
	query := `
		INSERT INTO players (user_id, username, tokens, whale_powerups)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE players.username END
		RETURNING ` + playerColumns
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, userID, username,
		model.StartingTokens, model.StartingWhalePowerups))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create player: %w", err)
	}
	return p, nil
}

func (r *PostgresPlayerRepository) Update(ctx context.Context, userID int64, fn func(*model.Player) error) (*model.Player, error) {
	var updated *model.Player
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + playerColumns + ` FROM players WHERE user_id = $1 FOR UPDATE`
		p, err := scanPlayer(tx.QueryRow(ctx, query, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPlayerNotFound
			}
			return fmt.Errorf("failed to lock player: %w", err)
		}

		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()

		const update = `
			UPDATE players
			SET username = $2, streak = $3, best_streak = $4, tokens = $5,
			    whale_powerups = $6, total_whale_uses = $7, og_status = $8,
			    total_predictions = $9, wins = $10, level = $11, xp = $12,
			    achievements = $13, streak_shields = $14,
			    double_xp_remaining = $15, lucky_charms = $16,
			    challenges_completed = $17, last_played_at = $18,
			    last_airdrop_at = $19, updated_at = $20
			WHERE user_id = $1
		`
		_, err = tx.Exec(ctx, update, p.UserID, p.Username, p.Streak,
			p.BestStreak, p.Tokens, p.WhalePowerups, p.TotalWhaleUses,
			p.OGStatus, p.TotalPredictions, p.Wins, p.Level, p.XP,
			p.Achievements, p.StreakShields, p.DoubleXPRemaining,
			p.LuckyCharms, p.ChallengesCompleted, p.LastPlayedAt,
			p.LastAirdropAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update player: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// PostgresGroupRepository persists groups in PostgreSQL.
type PostgresGroupRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresGroupRepository(pool *pgxpool.Pool) *PostgresGroupRepository {
	return &PostgresGroupRepository{pool: pool}
}

func (r *PostgresGroupRepository) GetOrCreate(ctx context.Context, chatID int64) (*model.Group, error) {
	var group *model.Group
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO groups (chat_id, og_slots_remaining)
			VALUES ($1, $2)
			ON CONFLICT (chat_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
			RETURNING chat_id, og_slots_remaining, created_at
		`
		g := &model.Group{Leaderboard: make(map[int64]int)}
		err := tx.QueryRow(ctx, insert, chatID, model.DefaultOGSlots).
			Scan(&g.ChatID, &g.OGSlotsRemaining, &g.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to get or create group: %w", err)
		}
		if err := loadLeaderboard(ctx, tx, g); err != nil {
			return err
		}
		group = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func loadLeaderboard(ctx context.Context, tx pgx.Tx, g *model.Group) error {
	const query = `SELECT user_id, best_streak FROM group_leaderboard WHERE chat_id = $1`
	rows, err := tx.Query(ctx, query, g.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var streak int
		if err := rows.Scan(&userID, &streak); err != nil {
			return fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		g.Leaderboard[userID] = streak
	}
	return rows.Err()
}

func (r *PostgresGroupRepository) Update(ctx context.Context, chatID int64, fn func(*model.Group) error) (*model.Group, error) {
	var updated *model.Group
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
			SELECT chat_id, og_slots_remaining, created_at
			FROM groups WHERE chat_id = $1 FOR UPDATE
		`
		g := &model.Group{Leaderboard: make(map[int64]int)}
		err := tx.QueryRow(ctx, query, chatID).
			Scan(&g.ChatID, &g.OGSlotsRemaining, &g.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrGroupNotFound
			}
			return fmt.Errorf("failed to lock group: %w", err)
		}
		if err := loadLeaderboard(ctx, tx, g); err != nil {
			return err
		}

		if err := fn(g); err != nil {
			return err
		}

		const update = `UPDATE groups SET og_slots_remaining = $2 WHERE chat_id = $1`
		if _, err := tx.Exec(ctx, update, g.ChatID, g.OGSlotsRemaining); err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		const upsertEntry = `
			INSERT INTO group_leaderboard (chat_id, user_id, best_streak)
			VALUES ($1, $2, $3)
			ON CONFLICT (chat_id, user_id) DO UPDATE SET best_streak = EXCLUDED.best_streak
		`
		for userID, streak := range g.Leaderboard {
			if _, err := tx.Exec(ctx, upsertEntry, g.ChatID, userID, streak); err != nil {
				return fmt.Errorf("failed to upsert leaderboard entry: %w", err)
			}
		}
		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

const predictionColumns = `
	id, user_id, chat_id, asset, start_price::text, required_move::text,
	fud_active, direction, multiplier_active, state, outcome,
	final_price::text, percent_change::text, tokens_awarded, xp_awarded,
	created_at, resolved_at
`

func scanPrediction(row pgx.Row) (*model.Prediction, error) {
	var p model.Prediction
	var startPrice, requiredMove, finalPrice, percentChange string
	err := row.Scan(
		&p.ID, &p.UserID, &p.ChatID, &p.Asset, &startPrice, &requiredMove,
		&p.FUDActive, &p.Direction, &p.MultiplierActive, &p.State,
		&p.Outcome, &finalPrice, &percentChange, &p.TokensAwarded,
		&p.XPAwarded, &p.CreatedAt, &p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.StartPrice, startPrice},
		{&p.RequiredMove, requiredMove},
		{&p.FinalPrice, finalPrice},
		{&p.PercentChange, percentChange},
	} {
		d, err := decimal.NewFromString(field.src)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric column value %q: %w", field.src, err)
		}
		*field.dst = d
	}
	return &p, nil
}

// PostgresPredictionRepository persists predictions in PostgreSQL.
type PostgresPredictionRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPredictionRepository(pool *pgxpool.Pool) *PostgresPredictionRepository {
	return &PostgresPredictionRepository{pool: pool}
}

func (r *PostgresPredictionRepository) Create(ctx context.Context, p *model.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, user_id, chat_id, asset, start_price, required_move,
			fud_active, direction, multiplier_active, state, outcome,
			final_price, percent_change, tokens_awarded, xp_awarded,
			created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, p.ID, p.UserID, p.ChatID, p.Asset,
		p.StartPrice.String(), p.RequiredMove.String(), p.FUDActive,
		p.Direction, p.MultiplierActive, p.State, p.Outcome,
		p.FinalPrice.String(), p.PercentChange.String(), p.TokensAwarded,
		p.XPAwarded, p.CreatedAt, p.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create prediction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (r *PostgresPredictionRepository) Get(ctx context.Context, id string) (*model.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1`
	p, err := scanPrediction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

func (r *PostgresPredictionRepository) Update(ctx context.Context, id string, fn func(*model.Prediction) error) (*model.Prediction, error) {
	var updated *model.Prediction
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1 FOR UPDATE`
		p, err := scanPrediction(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPredictionNotFound
			}
			return fmt.Errorf("failed to lock prediction: %w", err)
		}

		if err := fn(p); err != nil {
			return err
		}

		const update = `
			UPDATE predictions
			SET direction = $2, multiplier_active = $3, state = $4,
			    outcome = $5, final_price = $6, percent_change = $7,
			    tokens_awarded = $8, xp_awarded = $9, resolved_at = $10
			WHERE id = $1
		`
		_, err = tx.Exec(ctx, update, p.ID, p.Direction, p.MultiplierActive,
			p.State, p.Outcome, p.FinalPrice.String(),
			p.PercentChange.String(), p.TokensAwarded, p.XPAwarded, p.ResolvedAt)
		if err != nil {
			return fmt.Errorf("failed to update prediction: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

var terminalStates = []string{
	string(model.StateResolved),
	string(model.StateExpired),
	string(model.StateError),
}

func (r *PostgresPredictionRepository) ActiveByOwner(ctx context.Context, userID int64, window time.Duration, now time.Time) (*model.Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE user_id = $1 AND state <> ALL($2) AND created_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	p, err := scanPrediction(r.pool.QueryRow(ctx, query, userID, terminalStates, now.Add(-window)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, fmt.Errorf("failed to query active prediction: %w", err)
	}
	return p, nil
}

func (r *PostgresPredictionRepository) DueByOwner(ctx context.Context, userID int64, window time.Duration, now time.Time) ([]*model.Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE user_id = $1 AND state <> ALL($2) AND created_at <= $3
		ORDER BY created_at ASC
	`
	return r.queryPredictions(ctx, query, userID, terminalStates, now.Add(-window))
}

func (r *PostgresPredictionRepository) ListByOwner(ctx context.Context, userID int64, limit int) ([]*model.Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryPredictions(ctx, query, userID, limit)
}

func (r *PostgresPredictionRepository) queryPredictions(ctx context.Context, query string, args ...any) ([]*model.Prediction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []*model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PostgresChallengeRepository persists daily challenges in PostgreSQL.
type PostgresChallengeRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresChallengeRepository(pool *pgxpool.Pool) *PostgresChallengeRepository {
	return &PostgresChallengeRepository{pool: pool}
}

const challengeColumns = `user_id, type, progress, target, reward, completed, reset_at`

func scanChallenge(row pgx.Row) (*model.DailyChallenge, error) {
	var c model.DailyChallenge
	err := row.Scan(&c.UserID, &c.Type, &c.Progress, &c.Target, &c.Reward, &c.Completed, &c.ResetAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresChallengeRepository) Get(ctx context.Context, userID int64) (*model.DailyChallenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM daily_challenges WHERE user_id = $1`
	c, err := scanChallenge(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

func (r *PostgresChallengeRepository) Put(ctx context.Context, c *model.DailyChallenge) error {
	const query = `
		INSERT INTO daily_challenges (user_id, type, progress, target, reward, completed, reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET type = EXCLUDED.type, progress = EXCLUDED.progress,
		    target = EXCLUDED.target, reward = EXCLUDED.reward,
		    completed = EXCLUDED.completed, reset_at = EXCLUDED.reset_at
	`
	_, err := r.pool.Exec(ctx, query, c.UserID, c.Type, c.Progress, c.Target, c.Reward, c.Completed, c.ResetAt)
	if err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (r *PostgresChallengeRepository) Update(ctx context.Context, userID int64, fn func(*model.DailyChallenge) error) (*model.DailyChallenge, error) {
	var updated *model.DailyChallenge
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + challengeColumns + ` FROM daily_challenges WHERE user_id = $1 FOR UPDATE`
		c, err := scanChallenge(tx.QueryRow(ctx, query, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrChallengeNotFound
			}
			return fmt.Errorf("failed to lock challenge: %w", err)
		}

		if err := fn(c); err != nil {
			return err
		}

		const update = `
			UPDATE daily_challenges
			SET type = $2, progress = $3, target = $4, reward = $5,
			    completed = $6, reset_at = $7
			WHERE user_id = $1
		`
		_, err = tx.Exec(ctx, update, c.UserID, c.Type, c.Progress, c.Target, c.Reward, c.Completed, c.ResetAt)
		if err != nil {
			return fmt.Errorf("failed to update challenge: %w", err)
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
