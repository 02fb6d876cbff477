// Package handler provides Telegram bot command handlers.
package handler

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"

	"crypto-clash-bot/internal/game/prediction"
	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/progression"
)

// Crypto slang response pools.
var winResponses = []string{
	"🚀 WAGMI! You just went to the moon!",
	"💎 Diamond hands paid off! Shard tokens incoming!",
	"🦍 Ape strong! Your streak is pumping!",
	"⚡ Lightning prediction! The market can't stop you!",
	"🔥 Absolutely based! You're built different!",
}

var loseResponses = []string{
	"😵 REKT! The market humbled you this time",
	"📉 Oof, that's a rug pull on your streak",
	"🤡 Paper hands move right there, anon",
	"💸 The market gods demand sacrifice",
	"⛔ Not your keys, not your gains... wait, wrong saying",
}

var fudEvents = []string{
	"📰 BREAKING: Elon tweets about your prediction!",
	"🏛️ Government FUD incoming! Difficulty +10%",
	"🐋 Whale movement detected! Market volatility high!",
	"📊 Technical analysis says you're wrong (probably)",
	"🌙 Lunar eclipse affecting crypto vibes!",
}

var milestoneTaunts = []string{
	"🚨 @%s just hit a %d streak! Who thinks they can beat this legend? 🏆",
	"⚡ @%s is absolutely dominating with %d wins! Step up or step aside! 💎",
	"🔥 @%s is on fire! %d predictions in a row! Anyone brave enough to challenge? 🎯",
	"👑 All hail @%s! %d streak achieved! The markets bow to your wisdom! 🧠",
}

// The global rand source is safe for concurrent use; flavor text does
// not need seedability.
func pick(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

// signedPercent renders a percent change with an explicit sign.
func signedPercent(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s + "%"
}

// formatPrice renders a price with the tier's display precision.
func formatPrice(d decimal.Decimal, digits int) string {
	return "$" + d.StringFixed(int32(digits))
}

func achievementLines(unlocked []progression.Achievement) string {
	var sb strings.Builder
	for _, a := range unlocked {
		fmt.Fprintf(&sb, "🏆 Achievement unlocked: %s (+%d tokens)\n", a.Title, a.Bonus)
	}
	return sb.String()
}

// renderResult turns a resolution into the chat message the player
// sees, covering all four terminal outcomes.
func renderResult(r *prediction.Result, digits int) string {
	p := r.Prediction
	var sb strings.Builder

	switch p.Outcome {
	case model.OutcomeWon:
		sb.WriteString(pick(winResponses))
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "✅ %s %s→%s (%s)\n",
			p.Asset.Display(),
			formatPrice(p.StartPrice, digits),
			formatPrice(p.FinalPrice, digits),
			signedPercent(p.PercentChange))
		if p.MultiplierActive {
			sb.WriteString("🐋 WHALE MODE 3x BONUS!\n")
		}
		if r.Win != nil {
			fmt.Fprintf(&sb, "🔥 Streak: %d\n", r.Win.NewStreak)
			fmt.Fprintf(&sb, "💎 +%d Shard Tokens (Total: %d)\n", r.Win.TokensAwarded, r.Win.Player.Tokens)
			if r.Win.DoubleXPUsed {
				fmt.Fprintf(&sb, "⚡ Double XP! +%d XP\n", r.Win.XPAwarded)
			} else {
				fmt.Fprintf(&sb, "✨ +%d XP\n", r.Win.XPAwarded)
			}
			if r.Win.LeveledUp {
				fmt.Fprintf(&sb, "🆙 LEVEL UP! You reached level %d!\n", r.Win.NewLevel)
			}
			sb.WriteString(achievementLines(r.Win.Unlocked))
		}

	case model.OutcomeLost:
		sb.WriteString(pick(loseResponses))
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "❌ %s %s→%s (%s)\n",
			p.Asset.Display(),
			formatPrice(p.StartPrice, digits),
			formatPrice(p.FinalPrice, digits),
			signedPercent(p.PercentChange))
		fmt.Fprintf(&sb, "Needed ±%s%% to win\n", p.RequiredMove.String())
		if r.Loss != nil {
			if r.Loss.StreakProtected {
				sb.WriteString("🛡️ Streak shield consumed! Your streak survives.\n")
			} else {
				sb.WriteString("💔 Streak reset to 0\n")
			}
			fmt.Fprintf(&sb, "✨ +%d XP\n", r.Loss.XPAwarded)
			sb.WriteString(achievementLines(r.Loss.Unlocked))
		}

	case model.OutcomeExpired:
		fmt.Fprintf(&sb, "⏰ TIME'S UP! Your %s prediction expired.\n", p.Asset.Display())
		sb.WriteString("No direction was picked, so nothing was lost. Use /predict to go again! 🎯\n")

	case model.OutcomeError:
		fmt.Fprintf(&sb, "🔧 The price oracle failed while settling your %s prediction.\n", p.Asset.Display())
		sb.WriteString("Your tokens and streak are safe! Use /predict to try again. 🙏\n")
	}

	if r.Completion != nil {
		fmt.Fprintf(&sb, "\n🎯 DAILY CHALLENGE COMPLETE! %s (+%d tokens)\n",
			challengeTitle(r.Completion.Challenge.Type), r.Completion.Reward)
		sb.WriteString(achievementLines(r.Completion.Unlocked))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// challengeTitle maps a challenge type to its display name.
func challengeTitle(t model.ChallengeType) string {
	switch t {
	case model.ChallengeWinStreak:
		return "Hot Streak 🔥"
	case model.ChallengePredictionsMade:
		return "Market Junkie 📊"
	case model.ChallengeWhaleUses:
		return "Whale Watcher 🐋"
	case model.ChallengePerfectDay:
		return "Perfect Day ☀️"
	default:
		return string(t)
	}
}

// challengeGoal describes what the challenge asks for, given its target.
func challengeGoal(c *model.DailyChallenge) string {
	switch c.Type {
	case model.ChallengeWinStreak:
		return fmt.Sprintf("Reach a %d win streak", c.Target)
	case model.ChallengePredictionsMade:
		return fmt.Sprintf("Make %d predictions today", c.Target)
	case model.ChallengeWhaleUses:
		return fmt.Sprintf("Use %d whale power-ups", c.Target)
	case model.ChallengePerfectDay:
		return fmt.Sprintf("Win %d predictions without a single loss", c.Target)
	default:
		return fmt.Sprintf("Reach %d", c.Target)
	}
}
