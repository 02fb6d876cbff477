package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/repository"
)

// TestTokenRewardFormulaProperty verifies the payout against exact
// integer arithmetic: floor(100*whale*(1+0.1*s)) == 10*whale*(10+s).
func TestTokenRewardFormulaProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		preStreak := rapid.IntRange(0, 1000).Draw(t, "preStreak")
		whaleActive := rapid.Bool().Draw(t, "whaleActive")

		whale := int64(1)
		if whaleActive {
			whale = 3
		}
		want := 10 * whale * int64(10+preStreak)

		if got := TokenReward(preStreak, whaleActive); got != want {
			t.Fatalf("TokenReward(%d, %v) = %d, want %d", preStreak, whaleActive, got, want)
		}
	})
}

// TestWinOutcomeInvariantsProperty verifies that any sequence of win
// and loss outcomes preserves the ledger's structural invariants.
func TestWinOutcomeInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ledger := NewPlayerLedger(repository.NewMemoryPlayerRepository())
		ctx := context.Background()
		_, err := ledger.GetOrCreate(ctx, 1, "")
		require.NoError(t, err)

		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 30).Draw(t, "outcomes")
		var prevXP int64
		for _, won := range outcomes {
			var p *model.Player
			if won {
				result, err := ledger.ApplyWinOutcome(ctx, 1, false)
				require.NoError(t, err)
				p = result.Player
			} else {
				result, err := ledger.ApplyLossOutcome(ctx, 1)
				require.NoError(t, err)
				p = result.Player
			}

			if p.XP < prevXP {
				t.Fatalf("xp decreased: %d -> %d", prevXP, p.XP)
			}
			prevXP = p.XP
			if p.BestStreak < p.Streak {
				t.Fatalf("bestStreak %d < streak %d", p.BestStreak, p.Streak)
			}
			if p.Wins > p.TotalPredictions {
				t.Fatalf("wins %d > totalPredictions %d", p.Wins, p.TotalPredictions)
			}
			if p.Tokens < 0 {
				t.Fatalf("negative token balance %d", p.Tokens)
			}
		}
	})
}
