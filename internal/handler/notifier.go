package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"crypto-clash-bot/internal/config"
	"crypto-clash-bot/internal/game/prediction"
	"crypto-clash-bot/internal/service"
)

// Notifier delivers engine-initiated messages to chats: results of
// scheduled resolutions and streak milestone taunts. It is created
// before the Telegram bot exists and bound to it afterwards, so the
// engine can hold it from the start.
type Notifier struct {
	cfg     *config.Config
	players *service.PlayerLedger

	mu  sync.RWMutex
	bot *tele.Bot
}

// NewNotifier creates an unbound Notifier. Announcements are dropped
// until Bind is called.
func NewNotifier(cfg *config.Config, players *service.PlayerLedger) *Notifier {
	return &Notifier{cfg: cfg, players: players}
}

// Bind attaches the Telegram bot used for outgoing messages.
func (n *Notifier) Bind(bot *tele.Bot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bot = bot
}

func (n *Notifier) send(chatID int64, text string) {
	n.mu.RLock()
	bot := n.bot
	n.mu.RUnlock()
	if bot == nil {
		log.Warn().Int64("chat_id", chatID).Msg("Dropping announcement, bot not bound")
		return
	}
	if _, err := bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send announcement")
	}
}

// AnnounceResult posts the outcome of a scheduler-driven resolution to
// the chat the prediction was made in.
func (n *Notifier) AnnounceResult(r *prediction.Result) {
	n.send(r.Prediction.ChatID, renderResult(r, n.cfg.PriceDigits()))
}

// AnnounceMilestone taunts the group when someone hits a streak
// multiple of five.
func (n *Notifier) AnnounceMilestone(chatID, userID int64, streak int) {
	username := "anon"
	if p, err := n.players.Snapshot(context.Background(), userID); err == nil && p.Username != "" {
		username = p.Username
	}
	n.send(chatID, fmt.Sprintf(pick(milestoneTaunts), username, streak))
	log.Info().Int64("user_id", userID).Int("streak", streak).Msg("Announced streak milestone")
}
