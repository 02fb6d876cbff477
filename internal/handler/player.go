package handler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"crypto-clash-bot/internal/config"
	"crypto-clash-bot/internal/game/prediction"
	"crypto-clash-bot/internal/model"
	"crypto-clash-bot/internal/progression"
	"crypto-clash-bot/internal/service"
)

// storedName is the name persisted for a sender: the handle when set,
// the first name otherwise.
func storedName(sender *tele.User) string {
	if sender.Username != "" {
		return sender.Username
	}
	return sender.FirstName
}

// PlayerHandler handles player-facing stats and progression commands.
type PlayerHandler struct {
	cfg        *config.Config
	players    *service.PlayerLedger
	groups     *service.GroupLedger
	challenges *service.ChallengeService
	engine     *prediction.Engine
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(
	cfg *config.Config,
	players *service.PlayerLedger,
	groups *service.GroupLedger,
	challenges *service.ChallengeService,
	engine *prediction.Engine,
) *PlayerHandler {
	return &PlayerHandler{
		cfg:        cfg,
		players:    players,
		groups:     groups,
		challenges: challenges,
		engine:     engine,
	}
}

// HandleStart handles /start: registers the player and, in group
// chats, hands out an OG badge while slots last.
func (h *PlayerHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	chat := c.Chat()
	if sender == nil || chat == nil {
		return nil
	}

	if _, err := h.players.GetOrCreate(ctx, sender.ID, storedName(sender)); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to register player")
		return c.Reply("❌ Something went wrong, try again later!")
	}

	var sb strings.Builder
	sb.WriteString("🚀 WELCOME TO CRYPTO CLASH! 🚀\n\n")
	sb.WriteString("Predict 60-second crypto price moves, stack streaks and earn Shard Tokens!\n\n")
	sb.WriteString("🎮 Commands:\n")
	sb.WriteString("/predict - Call the next move\n")
	sb.WriteString("/results - Your recent predictions\n")
	sb.WriteString("/stats - Your stats\n")
	sb.WriteString("/leaderboard - Group rankings\n")
	sb.WriteString("/challenge - Today's daily challenge\n")
	sb.WriteString("/airdrop - Claim your daily tokens\n")
	sb.WriteString("/shop - Spend your tokens\n")
	sb.WriteString("/bag - Your power-ups\n")
	sb.WriteString("/check - Settle overdue predictions\n\n")
	fmt.Fprintf(&sb, "💎 You start with %d Shard Tokens and %d whale power-up.\n",
		model.StartingTokens, model.StartingWhalePowerups)

	if chat.Type != tele.ChatPrivate {
		granted, err := h.groups.GrantOGIfEligible(ctx, chat.ID, sender.ID)
		if err != nil {
			log.Error().Err(err).Int64("chat_id", chat.ID).Msg("OG grant failed")
		} else if granted {
			sb.WriteString("\n👑 Congratulations! You're now an OG in this group!\n")
		}
	}

	sb.WriteString("\nWAGMI! 🚀")
	return c.Reply(sb.String())
}

// HandleStats handles /stats.
func (h *PlayerHandler) HandleStats(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	p, err := h.players.GetOrCreate(ctx, sender.ID, storedName(sender))
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load player")
		return c.Reply("❌ Something went wrong, try again later!")
	}

	username := storedName(sender)
	if username == "" {
		username = "anon"
	}

	winRate := 0.0
	if p.TotalPredictions > 0 {
		winRate = float64(p.Wins) / float64(p.TotalPredictions) * 100
	}
	og := ""
	if p.OGStatus {
		og = " 👑"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s's STATS%s 📊\n\n", username, og)
	sb.WriteString("🎯 Performance:\n")
	fmt.Fprintf(&sb, "• Total Predictions: %d\n", p.TotalPredictions)
	fmt.Fprintf(&sb, "• Wins: %d\n", p.Wins)
	fmt.Fprintf(&sb, "• Win Rate: %.1f%%\n", winRate)
	fmt.Fprintf(&sb, "• Current Streak: %d🔥\n", p.Streak)
	fmt.Fprintf(&sb, "• Best Streak: %d🏆\n\n", p.BestStreak)

	sb.WriteString("⭐ Progression:\n")
	fmt.Fprintf(&sb, "• Level: %d\n", p.Level)
	if next := progression.NextLevelXP(p.Level); next >= 0 {
		fmt.Fprintf(&sb, "• XP: %d (next level at %d)\n", p.XP, next)
	} else {
		fmt.Fprintf(&sb, "• XP: %d (max level!)\n", p.XP)
	}
	fmt.Fprintf(&sb, "• Achievements: %d/%d\n", len(p.Achievements), len(progression.Catalogue()))
	fmt.Fprintf(&sb, "• Challenges Completed: %d\n\n", p.ChallengesCompleted)

	sb.WriteString("💰 Assets:\n")
	fmt.Fprintf(&sb, "• Shard Tokens: %d💎\n", p.Tokens)
	fmt.Fprintf(&sb, "• Whale Power-ups: %d🐋\n", p.WhalePowerups)
	fmt.Fprintf(&sb, "• Streak Shields: %d🛡️\n", p.StreakShields)
	fmt.Fprintf(&sb, "• Double XP Charges: %d⚡\n", p.DoubleXPRemaining)
	fmt.Fprintf(&sb, "• Lucky Charms: %d🍀\n", p.LuckyCharms)
	sb.WriteString("\nKeep grinding anon! WAGMI! 🚀")

	return c.Reply(sb.String())
}

// HandleResults handles /results: the caller's last five predictions.
func (h *PlayerHandler) HandleResults(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	history, err := h.engine.History(ctx, sender.ID, 5)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load history")
		return c.Reply("❌ Something went wrong, try again later!")
	}
	if len(history) == 0 {
		return c.Reply("📊 No predictions yet! Use /predict to start the action! 🎯")
	}

	username := storedName(sender)
	if username == "" {
		username = "anon"
	}
	digits := h.cfg.PriceDigits()

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s's RECENT PREDICTIONS\n\n", username)
	for i, p := range history {
		fmt.Fprintf(&sb, "%d. %s %s", i+1, p.Asset.Display(), formatPrice(p.StartPrice, digits))
		switch {
		case p.State.Terminal():
			if !p.FinalPrice.IsZero() {
				fmt.Fprintf(&sb, "→%s (%s)", formatPrice(p.FinalPrice, digits), signedPercent(p.PercentChange))
			}
			sb.WriteString(" - ")
			switch p.Outcome {
			case model.OutcomeWon:
				fmt.Fprintf(&sb, "✅ WON (+%d tokens)", p.TokensAwarded)
			case model.OutcomeLost:
				sb.WriteString("❌ LOST")
			case model.OutcomeExpired:
				sb.WriteString("⏰ EXPIRED")
			case model.OutcomeError:
				sb.WriteString("🔧 ERROR")
			default:
				sb.WriteString("❓ UNKNOWN")
			}
		case p.Active(h.engine.Window(), time.Now()):
			remaining := int(time.Until(p.ExpiresAt(h.engine.Window())).Seconds())
			dir := "no direction yet"
			if p.Direction != "" {
				dir = string(p.Direction)
			}
			fmt.Fprintf(&sb, " - 🔄 ACTIVE (%s, %ds left)", dir, remaining)
		default:
			sb.WriteString(" - ⏰ PENDING RESULT (use /check)")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nUse /predict to make a new prediction! 🎯")
	return c.Reply(sb.String())
}

// HandleLeaderboard handles /leaderboard: top streaks in this chat.
func (h *PlayerHandler) HandleLeaderboard(c tele.Context) error {
	ctx := context.Background()
	chat := c.Chat()
	if chat == nil {
		return nil
	}

	entries, err := h.groups.Leaderboard(ctx, chat.ID, 10)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chat.ID).Msg("Failed to load leaderboard")
		return c.Reply("❌ Something went wrong, try again later!")
	}
	if len(entries) == 0 {
		return c.Reply("🏆 No one has played yet! Use /predict to start the action!")
	}

	total, err := h.groups.TotalPlayers(ctx, chat.ID)
	if err != nil {
		total = len(entries)
	}

	medals := []string{"🥇", "🥈", "🥉", "🏅", "🏅", "🏅", "🏅", "🏅", "🏅", "🏅"}

	var sb strings.Builder
	sb.WriteString("🏆 CRYPTO CLASH LEADERBOARD 🏆\n\n")
	for i, entry := range entries {
		name := fmt.Sprintf("Player%d", entry.UserID)
		tokens := int64(0)
		og := ""
		if p, err := h.players.Snapshot(ctx, entry.UserID); err == nil {
			if p.Username != "" {
				name = p.Username
			}
			tokens = p.Tokens
			if p.OGStatus {
				og = " 👑"
			}
		}
		fmt.Fprintf(&sb, "%s %s%s\n", medals[i], name, og)
		fmt.Fprintf(&sb, "   Best Streak: %d🔥 | Tokens: %d💎\n\n", entry.BestStreak, tokens)
	}
	fmt.Fprintf(&sb, "👥 Total Players: %d\n", total)
	sb.WriteString("🎯 Use /predict to climb the ranks!")
	return c.Reply(sb.String())
}

// HandleAirdrop handles /airdrop: a free token drop, once per day.
func (h *PlayerHandler) HandleAirdrop(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if _, err := h.players.GetOrCreate(ctx, sender.ID, storedName(sender)); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load player")
		return c.Reply("❌ Something went wrong, try again later!")
	}

	amount := airdropAmount()
	p, unlocked, err := h.players.ClaimAirdrop(ctx, sender.ID, amount, time.Now())
	var cooldownErr *service.AirdropCooldownError
	if errors.As(err, &cooldownErr) {
		hours := int(cooldownErr.Remaining.Hours())
		return c.Reply(fmt.Sprintf("🪂 Next airdrop in %dh! Share the bot for bonus tokens! 💎", hours))
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Airdrop claim failed")
		return c.Reply("❌ Something went wrong, try again later!")
	}

	var sb strings.Builder
	sb.WriteString("🪂 DAILY AIRDROP 🪂\n\n")
	fmt.Fprintf(&sb, "GM anon! You received %d Shard Tokens! 💎\n\n", amount)
	fmt.Fprintf(&sb, "💰 Total: %d tokens\n", p.Tokens)
	if lines := achievementLines(unlocked); lines != "" {
		sb.WriteString("\n")
		sb.WriteString(lines)
	}
	sb.WriteString("\n📢 Share this bot with friends for bonus airdrops!")
	return c.Reply(sb.String())
}

// airdropAmount rolls the size of the daily drop.
func airdropAmount() int64 {
	return int64(service.AirdropMin + rand.Intn(service.AirdropMax-service.AirdropMin+1))
}

// HandleChallenge handles /challenge: the caller's active daily goal.
func (h *PlayerHandler) HandleChallenge(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ch, err := h.challenges.EnsureActive(ctx, sender.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to load daily challenge")
		return c.Reply("❌ Something went wrong, try again later!")
	}

	var sb strings.Builder
	sb.WriteString("🎯 DAILY CHALLENGE 🎯\n\n")
	fmt.Fprintf(&sb, "%s\n%s\n\n", challengeTitle(ch.Type), challengeGoal(ch))
	fmt.Fprintf(&sb, "Progress: %s %d/%d\n", progressBar(ch.Progress, ch.Target), ch.Progress, ch.Target)
	fmt.Fprintf(&sb, "Reward: %d💎\n", ch.Reward)
	if ch.Completed {
		sb.WriteString("\n✅ Completed! Reward claimed. New challenge tomorrow!")
	} else {
		remaining := time.Until(ch.ResetAt)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(&sb, "Resets in: %dh %dm\n", int(remaining.Hours()), int(remaining.Minutes())%60)
		sb.WriteString("\nGet grinding, anon! 💪")
	}
	return c.Reply(sb.String())
}

// progressBar renders a ten-slot bar.
func progressBar(progress, target int) string {
	if target <= 0 {
		return ""
	}
	filled := progress * 10 / target
	if filled > 10 {
		filled = 10
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", 10-filled)
}
