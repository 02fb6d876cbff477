// Package model defines the data models for the Crypto Clash bot.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a CoinGecko coin identifier from the fixed tradable set.
type Asset string

const (
	AssetBitcoin     Asset = "bitcoin"
	AssetEthereum    Asset = "ethereum"
	AssetBinanceCoin Asset = "binancecoin"
	AssetCardano     Asset = "cardano"
	AssetSolana      Asset = "solana"
)

// Assets returns the tradable set in a stable order.
func Assets() []Asset {
	return []Asset{AssetBitcoin, AssetEthereum, AssetBinanceCoin, AssetCardano, AssetSolana}
}

// Display returns the ticker symbol shown to users.
func (a Asset) Display() string {
	switch a {
	case AssetBitcoin:
		return "BTC"
	case AssetEthereum:
		return "ETH"
	case AssetBinanceCoin:
		return "BNB"
	case AssetCardano:
		return "ADA"
	case AssetSolana:
		return "SOL"
	default:
		return string(a)
	}
}

// Direction is the side of a prediction.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// PredictionState is the lifecycle state of a prediction.
type PredictionState string

const (
	StateOpen     PredictionState = "open"
	StateLocked   PredictionState = "locked"
	StateResolved PredictionState = "resolved"
	StateExpired  PredictionState = "expired"
	StateError    PredictionState = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s PredictionState) Terminal() bool {
	return s == StateResolved || s == StateExpired || s == StateError
}

// Outcome is the final result of a resolved prediction.
type Outcome string

const (
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
	OutcomeExpired Outcome = "expired"
	OutcomeError   Outcome = "error"
)

// Prediction is a single timed up/down bet on an asset's price move.
type Prediction struct {
	ID               string          `db:"id"`
	UserID           int64           `db:"user_id"`
	ChatID           int64           `db:"chat_id"`
	Asset            Asset           `db:"asset"`
	StartPrice       decimal.Decimal `db:"start_price"`
	RequiredMove     decimal.Decimal `db:"required_move"` // percent, 1.0 or 1.1 under FUD
	FUDActive        bool            `db:"fud_active"`
	Direction        Direction       `db:"direction"` // empty until locked
	MultiplierActive bool            `db:"multiplier_active"`
	State            PredictionState `db:"state"`
	Outcome          Outcome         `db:"outcome"` // empty until terminal
	FinalPrice       decimal.Decimal `db:"final_price"`
	PercentChange    decimal.Decimal `db:"percent_change"`
	TokensAwarded    int64           `db:"tokens_awarded"`
	XPAwarded        int64           `db:"xp_awarded"`
	CreatedAt        time.Time       `db:"created_at"`
	ResolvedAt       time.Time       `db:"resolved_at"`
}

// PredictionID derives the opaque prediction id from owner and creation time.
func PredictionID(userID int64, createdAt time.Time) string {
	return fmt.Sprintf("%d_%d", userID, createdAt.Unix())
}

// ExpiresAt returns the end of the prediction window.
func (p *Prediction) ExpiresAt(window time.Duration) time.Time {
	return p.CreatedAt.Add(window)
}

// Active reports whether the prediction still has time remaining.
func (p *Prediction) Active(window time.Duration, now time.Time) bool {
	return !p.State.Terminal() && now.Before(p.ExpiresAt(window))
}

// Due reports whether the window has elapsed without the prediction
// reaching a terminal state.
func (p *Prediction) Due(window time.Duration, now time.Time) bool {
	return !p.State.Terminal() && !now.Before(p.ExpiresAt(window))
}

// Player holds a user's progression state.
type Player struct {
	UserID              int64     `db:"user_id"`
	Username            string    `db:"username"`
	Streak              int       `db:"streak"`
	BestStreak          int       `db:"best_streak"`
	Tokens              int64     `db:"tokens"`
	WhalePowerups       int       `db:"whale_powerups"`
	TotalWhaleUses      int       `db:"total_whale_uses"`
	OGStatus            bool      `db:"og_status"`
	TotalPredictions    int       `db:"total_predictions"`
	Wins                int       `db:"wins"`
	Level               int       `db:"level"`
	XP                  int64     `db:"xp"`
	Achievements        []string  `db:"achievements"`
	StreakShields       int       `db:"streak_shields"`
	DoubleXPRemaining   int       `db:"double_xp_remaining"`
	LuckyCharms         int       `db:"lucky_charms"`
	ChallengesCompleted int       `db:"challenges_completed"`
	LastPlayedAt        time.Time `db:"last_played_at"`
	LastAirdropAt       time.Time `db:"last_airdrop_at"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Starting values for new players.
const (
	StartingTokens        int64 = 1000
	StartingWhalePowerups       = 1
)

// NewPlayer returns a player with default starting state.
func NewPlayer(userID int64, now time.Time) *Player {
	return &Player{
		UserID:        userID,
		Tokens:        StartingTokens,
		WhalePowerups: StartingWhalePowerups,
		Level:         1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HasAchievement reports whether the achievement id has been unlocked.
func (p *Player) HasAchievement(id string) bool {
	for _, a := range p.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// Group holds per-chat aggregate state.
type Group struct {
	ChatID           int64           `db:"chat_id"`
	Leaderboard      map[int64]int   `db:"-"` // userID -> best streak
	OGSlotsRemaining int             `db:"og_slots_remaining"`
	CreatedAt        time.Time       `db:"created_at"`
}

// DefaultOGSlots is the number of OG badges available per chat.
const DefaultOGSlots = 10

// NewGroup returns a group with all OG slots available.
func NewGroup(chatID int64, now time.Time) *Group {
	return &Group{
		ChatID:           chatID,
		Leaderboard:      make(map[int64]int),
		OGSlotsRemaining: DefaultOGSlots,
		CreatedAt:        now,
	}
}

// TotalPlayers is the distinct-user count ever recorded on the leaderboard.
func (g *Group) TotalPlayers() int {
	return len(g.Leaderboard)
}

// ChallengeType enumerates the daily challenge goals.
type ChallengeType string

const (
	ChallengeWinStreak       ChallengeType = "win_streak"
	ChallengePredictionsMade ChallengeType = "predictions_made"
	ChallengeWhaleUses       ChallengeType = "whale_uses"
	ChallengePerfectDay      ChallengeType = "perfect_day"
)

// ChallengeTypes returns all challenge types in a stable order.
func ChallengeTypes() []ChallengeType {
	return []ChallengeType{ChallengeWinStreak, ChallengePredictionsMade, ChallengeWhaleUses, ChallengePerfectDay}
}

// DailyChallenge is a rotating per-user goal with a 24h window.
type DailyChallenge struct {
	UserID    int64         `db:"user_id"`
	Type      ChallengeType `db:"type"`
	Progress  int           `db:"progress"`
	Target    int           `db:"target"`
	Reward    int64         `db:"reward"`
	Completed bool          `db:"completed"`
	ResetAt   time.Time     `db:"reset_at"`
}

// Expired reports whether the 24h window has elapsed.
func (c *DailyChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ResetAt)
}
