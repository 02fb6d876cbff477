// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/progression"
	"crypto-clash-bot/internal/repository"
	"crypto-clash-bot/internal/shop"
)

// Common errors for player ledger operations.
var (
	ErrNoPowerups         = errors.New("no whale powerups available")
	ErrInsufficientTokens = errors.New("insufficient tokens")
)

// Daily airdrop bounds and the per-user claim interval.
const (
	AirdropMin      = 50
	AirdropMax      = 200
	AirdropInterval = 24 * time.Hour
)

// AirdropCooldownError reports the wait until the next airdrop claim.
type AirdropCooldownError struct {
	Remaining time.Duration
}

func (e *AirdropCooldownError) Error() string {
	return fmt.Sprintf("next airdrop available in %s", e.Remaining)
}

// Base token reward before multipliers.
const baseReward = 100

// Flat participation XP granted for a losing prediction.
const lossXP = 10

// WhaleMultiplier is the token multiplier of an active whale power-up.
const WhaleMultiplier = 3

var streakStep = decimal.RequireFromString("0.1")

// PlayerLedger owns per-user progression state. All mutations go
// through the repository's atomic Update, so concurrent resolutions for
// the same user never race on streak or token arithmetic.
type PlayerLedger struct {
	players repository.PlayerRepository
}

// NewPlayerLedger creates a new PlayerLedger instance.
func NewPlayerLedger(players repository.PlayerRepository) *PlayerLedger {
	return &PlayerLedger{players: players}
}

// GetOrCreate lazily initializes a player with default starting state.
func (l *PlayerLedger) GetOrCreate(ctx context.Context, userID int64, username string) (*model.Player, error) {
	p, err := l.players.GetOrCreate(ctx, userID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure player: %w", err)
	}
	return p, nil
}

// Snapshot returns the player's current state.
func (l *PlayerLedger) Snapshot(ctx context.Context, userID int64) (*model.Player, error) {
	return l.players.Get(ctx, userID)
}

// MarkPlayed stamps the cooldown clock when a prediction's outcome
// lands.
func (l *PlayerLedger) MarkPlayed(ctx context.Context, userID int64, now time.Time) error {
	_, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		p.LastPlayedAt = now
		return nil
	})
	return err
}

// WinResult reports what applying a winning outcome changed.
type WinResult struct {
	Player        *model.Player
	TokensAwarded int64
	XPAwarded     int64
	NewStreak     int
	DoubleXPUsed  bool
	LeveledUp     bool
	NewLevel      int
	Unlocked      []progression.Achievement
}

// TokenReward computes the winning payout: the decimal floor of
// baseReward * whale * (1 + 0.1*preStreak), with no float drift.
func TokenReward(preStreak int, whaleActive bool) int64 {
	whale := int64(1)
	if whaleActive {
		whale = WhaleMultiplier
	}
	streakMult := decimal.NewFromInt(1).
		Add(streakStep.Mul(decimal.NewFromInt(int64(preStreak))))
	return decimal.NewFromInt(baseReward).
		Mul(decimal.NewFromInt(whale)).
		Mul(streakMult).
		Floor().
		IntPart()
}

// ApplyWinOutcome credits a winning prediction: streak increment, token
// payout, XP (doubled if a double-XP charge is consumed), level
// recompute, and the idempotent achievement sweep.
func (l *PlayerLedger) ApplyWinOutcome(ctx context.Context, userID int64, whaleActive bool) (*WinResult, error) {
	result := &WinResult{}
	updated, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		preStreak := p.Streak
		p.Streak++
		if p.Streak > p.BestStreak {
			p.BestStreak = p.Streak
		}

		tokens := TokenReward(preStreak, whaleActive)
		xp := int64(50 + 5*p.Streak)
		if p.DoubleXPRemaining > 0 {
			p.DoubleXPRemaining--
			xp *= 2
			result.DoubleXPUsed = true
		}

		p.Tokens += tokens
		p.XP += xp
		p.Wins++
		p.TotalPredictions++

		prevLevel := p.Level
		p.Level = progression.LevelForXP(p.XP)

		result.TokensAwarded = tokens
		result.XPAwarded = xp
		result.NewStreak = p.Streak
		result.LeveledUp = p.Level > prevLevel
		result.NewLevel = p.Level
		result.Unlocked = progression.CheckUnlocks(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply win outcome: %w", err)
	}
	result.Player = updated

	log.Info().
		Int64("user_id", userID).
		Int64("tokens", result.TokensAwarded).
		Int64("xp", result.XPAwarded).
		Int("streak", result.NewStreak).
		Bool("leveled_up", result.LeveledUp).
		Msg("Win outcome applied")
	return result, nil
}

// LossResult reports what applying a losing outcome changed.
type LossResult struct {
	Player          *model.Player
	XPAwarded       int64
	StreakProtected bool
	Unlocked        []progression.Achievement
}

// ApplyLossOutcome records a losing prediction. A streak shield charge,
// if available, is consumed to preserve the streak; otherwise the
// streak resets to zero. Participation XP is granted either way.
func (l *PlayerLedger) ApplyLossOutcome(ctx context.Context, userID int64) (*LossResult, error) {
	result := &LossResult{}
	updated, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		if p.StreakShields > 0 {
			p.StreakShields--
			result.StreakProtected = true
		} else {
			p.Streak = 0
		}
		p.XP += lossXP
		p.TotalPredictions++
		p.Level = progression.LevelForXP(p.XP)
		result.XPAwarded = lossXP
		result.Unlocked = progression.CheckUnlocks(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply loss outcome: %w", err)
	}
	result.Player = updated

	log.Info().
		Int64("user_id", userID).
		Bool("streak_protected", result.StreakProtected).
		Msg("Loss outcome applied")
	return result, nil
}

// ConsumeWhalePowerup spends one whale power-up from the player's
// inventory. Returns ErrNoPowerups when none remain.
func (l *PlayerLedger) ConsumeWhalePowerup(ctx context.Context, userID int64) error {
	_, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		if p.WhalePowerups <= 0 {
			return ErrNoPowerups
		}
		p.WhalePowerups--
		p.TotalWhaleUses++
		return nil
	})
	return err
}

// RefundWhalePowerup returns a consumed whale power-up, used when the
// multiplier could not be attached after all.
func (l *PlayerLedger) RefundWhalePowerup(ctx context.Context, userID int64) error {
	_, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		p.WhalePowerups++
		if p.TotalWhaleUses > 0 {
			p.TotalWhaleUses--
		}
		return nil
	})
	return err
}

// PurchaseItem debits the item price and grants its charges. Returns
// ErrInsufficientTokens when the balance cannot cover the price.
func (l *PlayerLedger) PurchaseItem(ctx context.Context, userID int64, item shop.ItemType) (*model.Player, error) {
	updated, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		cfg, err := shop.Get(item)
		if err != nil {
			return err
		}
		if p.Tokens < cfg.Price {
			return ErrInsufficientTokens
		}
		p.Tokens -= cfg.Price
		return shop.Apply(p, item)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Str("item", string(item)).
		Int64("balance", updated.Tokens).
		Msg("Power-up purchased")
	return updated, nil
}

// ClaimAirdrop credits the daily airdrop, at most once per interval.
// The amount is the caller's roll within [AirdropMin, AirdropMax]; a
// claim inside the interval fails with AirdropCooldownError carrying
// the remaining wait.
func (l *PlayerLedger) ClaimAirdrop(ctx context.Context, userID, amount int64, now time.Time) (*model.Player, []progression.Achievement, error) {
	var unlocked []progression.Achievement
	updated, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		if elapsed := now.Sub(p.LastAirdropAt); elapsed < AirdropInterval {
			return &AirdropCooldownError{Remaining: AirdropInterval - elapsed}
		}
		p.Tokens += amount
		p.LastAirdropAt = now
		unlocked = progression.CheckUnlocks(p)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Int64("balance", updated.Tokens).
		Msg("Airdrop claimed")
	return updated, unlocked, nil
}

// CreditTokens adds tokens to the player's balance and re-runs the
// achievement sweep (a bonus can push the balance over a threshold).
func (l *PlayerLedger) CreditTokens(ctx context.Context, userID int64, amount int64) (*model.Player, []progression.Achievement, error) {
	var unlocked []progression.Achievement
	updated, err := l.players.Update(ctx, userID, func(p *model.Player) error {
		p.Tokens += amount
		unlocked = progression.CheckUnlocks(p)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, unlocked, nil
}
